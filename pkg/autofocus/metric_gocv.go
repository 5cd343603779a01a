package autofocus

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// SharpnessSumLap2 scores sharpness as the mean fourth power of the image
// Laplacian. The fourth power weights strong edges heavily, which suits
// specimens where most of the field is featureless.
func SharpnessSumLap2(frame []byte) (float64, error) {
	img, err := decodeGray(frame)
	if err != nil {
		return 0, err
	}
	defer img.Close()

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(img, &lap, gocv.MatTypeCV64F, 3, 1, 0, gocv.BorderDefault)

	sq := gocv.NewMat()
	defer sq.Close()
	gocv.Multiply(lap, lap, &sq)

	quad := gocv.NewMat()
	defer quad.Close()
	gocv.Multiply(sq, sq, &quad)

	return quad.Mean().Val1, nil
}

// SharpnessEdge scores sharpness with a wide step-edge kernel applied in both
// orientations. It responds best to line features.
func SharpnessEdge(frame []byte) (float64, error) {
	img, err := decodeGray(frame)
	if err != nil {
		return 0, err
	}
	defer img.Close()

	const half = 20
	kernel := gocv.NewMatWithSize(1, 2*half, gocv.MatTypeCV64F)
	defer kernel.Close()
	for i := 0; i < half; i++ {
		kernel.SetDoubleAt(0, i, -1)
		kernel.SetDoubleAt(0, half+i, 1)
	}
	kernelT := kernel.T()
	defer kernelT.Close()

	total := 0.0
	for _, k := range []gocv.Mat{kernel, kernelT} {
		resp := gocv.NewMat()
		gocv.Filter2D(img, &resp, gocv.MatTypeCV64F, k, image.Pt(-1, -1), 0, gocv.BorderDefault)
		sq := gocv.NewMat()
		gocv.Multiply(resp, resp, &sq)
		total += sq.Sum().Val1
		sq.Close()
		resp.Close()
	}
	return total, nil
}

func decodeGray(frame []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(frame, gocv.IMReadGrayScale)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("autofocus: decode frame: %w", err)
	}
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, errors.New("autofocus: decoded frame is empty")
	}
	f := gocv.NewMat()
	img.ConvertTo(&f, gocv.MatTypeCV64F)
	img.Close()
	return f, nil
}
