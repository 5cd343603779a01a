package autofocus

// Metric scores the sharpness of one encoded still image; higher is sharper.
// Metrics decode the image, unlike the fast sweeps' frame-size proxy, so they
// are slower but work with any stream encoder.
type Metric func(frame []byte) (float64, error)
