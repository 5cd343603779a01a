// Package scan walks the stage through multi-point acquisition paths,
// tracking the focal plane from field to field so each move starts from a
// good z estimate.
package scan

// XY is a lateral stage coordinate.
type XY struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Style selects the visiting order of a scan grid.
type Style string

const (
	// StyleRaster visits every row left to right.
	StyleRaster Style = "raster"

	// StyleSnake reverses every odd row, so consecutive fields are always
	// adjacent. Keeps the focus seed from the nearest point accurate.
	StyleSnake Style = "snake"

	// StyleSpiral walks outward from the centre in square shells. The
	// X step count is the number of shells; the Y count is ignored.
	StyleSpiral Style = "spiral"
)

// Valid reports whether s names a known scan style.
func (s Style) Valid() bool {
	switch s {
	case StyleRaster, StyleSnake, StyleSpiral:
		return true
	}
	return false
}

// Grid builds the two-dimensional coordinate array for a scan: one inner
// slice per row (raster, snake) or per shell (spiral). Unknown styles fall
// back to raster ordering.
func Grid(initial, stride, steps XY, style Style) [][]XY {
	if style == StyleSpiral {
		return spiral(initial, stride, steps.X)
	}

	grid := make([][]XY, 0, steps.X)
	for i := 0; i < steps.X; i++ {
		row := make([]XY, 0, steps.Y)
		for j := 0; j < steps.Y; j++ {
			row = append(row, XY{
				X: initial.X + i*stride.X,
				Y: initial.Y + j*stride.Y,
			})
		}
		grid = append(grid, row)
	}

	if style == StyleSnake {
		for i, row := range grid {
			if i%2 != 0 {
				reverse(row)
			}
		}
	}
	return grid
}

// Path flattens Grid into the order the stage will visit.
func Path(initial, stride, steps XY, style Style) []XY {
	var path []XY
	for _, row := range Grid(initial, stride, steps, style) {
		path = append(path, row...)
	}
	return path
}

// spiral returns the centre point followed by shells-1 square rings walked
// clockwise from the top-left corner of each ring.
func spiral(initial, stride XY, shells int) [][]XY {
	grid := [][]XY{{initial}}

	coord := initial
	for i := 2; i <= shells; i++ {
		side := 2*i - 1
		ring := make([]XY, 0, 4*(side-1))

		// Corner of the new shell, one step out and diagonally from where
		// the previous shell finished. The corner itself is re-visited as
		// the final point of the ring walk.
		coord = XY{X: coord.X - stride.X, Y: coord.Y + stride.Y}
		for _, dir := range [4]XY{{1, 0}, {0, -1}, {-1, 0}, {0, 1}} {
			for n := 0; n < side-1; n++ {
				coord = XY{X: coord.X + dir.X*stride.X, Y: coord.Y + dir.Y*stride.Y}
				ring = append(ring, coord)
			}
		}
		grid = append(grid, ring)
	}
	return grid
}

func reverse(row []XY) {
	for i, j := 0, len(row)-1; i < j; i, j = i+1, j-1 {
		row[i], row[j] = row[j], row[i]
	}
}
