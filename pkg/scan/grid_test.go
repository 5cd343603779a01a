package scan

import (
	"reflect"
	"testing"
)

func TestGridRaster(t *testing.T) {
	got := Grid(XY{X: 10, Y: 20}, XY{X: 100, Y: 50}, XY{X: 2, Y: 3}, StyleRaster)
	want := [][]XY{
		{{10, 20}, {10, 70}, {10, 120}},
		{{110, 20}, {110, 70}, {110, 120}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("grid = %v, want %v", got, want)
	}
}

func TestGridSnakeReversesOddRows(t *testing.T) {
	got := Grid(XY{}, XY{X: 1, Y: 1}, XY{X: 3, Y: 3}, StyleSnake)
	want := [][]XY{
		{{0, 0}, {0, 1}, {0, 2}},
		{{1, 2}, {1, 1}, {1, 0}},
		{{2, 0}, {2, 1}, {2, 2}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("grid = %v, want %v", got, want)
	}
}

func TestGridSpiralShells(t *testing.T) {
	grid := Grid(XY{}, XY{X: 10, Y: 10}, XY{X: 3, Y: 99}, StyleSpiral)

	if len(grid) != 3 {
		t.Fatalf("got %d shells, want 3", len(grid))
	}
	if !reflect.DeepEqual(grid[0], []XY{{0, 0}}) {
		t.Errorf("centre shell = %v, want the initial point", grid[0])
	}
	if len(grid[1]) != 8 {
		t.Errorf("first ring has %d points, want 8", len(grid[1]))
	}
	if len(grid[2]) != 16 {
		t.Errorf("second ring has %d points, want 16", len(grid[2]))
	}

	// Every first-ring point sits exactly one stride out in Chebyshev
	// distance, and none repeats.
	seen := map[XY]bool{}
	for _, p := range grid[1] {
		if cheb(p, XY{}) != 10 {
			t.Errorf("ring point %v is not one stride from the centre", p)
		}
		if seen[p] {
			t.Errorf("ring point %v visited twice", p)
		}
		seen[p] = true
	}
}

func TestPathFlattens(t *testing.T) {
	path := Path(XY{}, XY{X: 1, Y: 1}, XY{X: 4, Y: 5}, StyleSnake)
	if len(path) != 20 {
		t.Errorf("path length = %d, want 20", len(path))
	}

	path = Path(XY{}, XY{X: 1, Y: 1}, XY{X: 3, Y: 0}, StyleSpiral)
	if len(path) != 1+8+16 {
		t.Errorf("spiral path length = %d, want 25", len(path))
	}
}

func TestStyleValid(t *testing.T) {
	for _, s := range []Style{StyleRaster, StyleSnake, StyleSpiral} {
		if !s.Valid() {
			t.Errorf("%q not valid", s)
		}
	}
	if Style("hilbert").Valid() {
		t.Error("unknown style reported valid")
	}
}

func cheb(a, b XY) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}
