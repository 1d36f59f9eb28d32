// Package grid maps voxel coordinate ranges onto the fixed cuboid grid.
//
// Everything here is pure and deterministic: the same request range and
// cuboid shape always decompose into the same cells, visited in the same
// order, and the same channel/resolution/cell always produce the same
// cube key. Cache correctness depends on this.
//
// The grid is unbounded. Extent validation against a dataset's declared
// size is a DataManager concern, not a grid concern.
package grid

import "fmt"

// Point is an integer voxel or grid-cell coordinate.
type Point struct {
	X, Y, Z int
}

// String renders the point in cube-key form, e.g. "x3_y0_z12".
func (p Point) String() string {
	return fmt.Sprintf("x%d_y%d_z%d", p.X, p.Y, p.Z)
}

// Shape is the fixed size of one cuboid, e.g. 512x512x16.
type Shape struct {
	X, Y, Z int
}

// Volume returns the number of voxels in one cuboid.
func (s Shape) Volume() int {
	return s.X * s.Y * s.Z
}

// Valid reports whether all dimensions are positive.
func (s Shape) Valid() bool {
	return s.X > 0 && s.Y > 0 && s.Z > 0
}

// Range is an axis-aligned voxel box, half-open on every axis:
// [Start.X, Stop.X) x [Start.Y, Stop.Y) x [Start.Z, Stop.Z).
type Range struct {
	Start, Stop Point
}

// Dx, Dy and Dz return the extent of the range along each axis.
func (r Range) Dx() int { return r.Stop.X - r.Start.X }
func (r Range) Dy() int { return r.Stop.Y - r.Start.Y }
func (r Range) Dz() int { return r.Stop.Z - r.Start.Z }

// Volume returns the number of voxels covered by the range.
// Empty or inverted ranges have volume zero.
func (r Range) Volume() int {
	if r.Empty() {
		return 0
	}
	return r.Dx() * r.Dy() * r.Dz()
}

// Empty reports whether the range covers no voxels.
func (r Range) Empty() bool {
	return r.Dx() <= 0 || r.Dy() <= 0 || r.Dz() <= 0
}

// Contains reports whether other lies fully inside r. An empty range is
// contained in anything.
func (r Range) Contains(other Range) bool {
	if other.Empty() {
		return true
	}
	return other.Start.X >= r.Start.X && other.Stop.X <= r.Stop.X &&
		other.Start.Y >= r.Start.Y && other.Stop.Y <= r.Stop.Y &&
		other.Start.Z >= r.Start.Z && other.Stop.Z <= r.Stop.Z
}

// CellRange returns the global voxel range covered by the grid cell at
// coord, i.e. [coord*shape, (coord+1)*shape).
func CellRange(coord Point, shape Shape) Range {
	start := Point{X: coord.X * shape.X, Y: coord.Y * shape.Y, Z: coord.Z * shape.Z}
	return Range{
		Start: start,
		Stop:  Point{X: start.X + shape.X, Y: start.Y + shape.Y, Z: start.Z + shape.Z},
	}
}

// Cell is one grid cell touched by a request, together with the sub-range
// of the cell's local coordinate space the request needs. Off/End are
// half-open local coordinates within [0, shape).
type Cell struct {
	Coord Point
	Off   Point
	End   Point
}

// Local returns the local sub-range as a Range.
func (c Cell) Local() Range {
	return Range{Start: c.Off, Stop: c.End}
}

// Cells decomposes the request range into every grid cell it overlaps.
// Cells are visited in raster order, z outermost, then y, then x, so
// iteration is reproducible. A zero-volume range yields nil.
//
// The union of the returned local extents, placed back at their global
// positions, reconstructs r exactly with no gaps or overlaps.
func Cells(r Range, shape Shape) []Cell {
	if r.Empty() || !shape.Valid() {
		return nil
	}

	first := Point{
		X: floorDiv(r.Start.X, shape.X),
		Y: floorDiv(r.Start.Y, shape.Y),
		Z: floorDiv(r.Start.Z, shape.Z),
	}
	// Stop is exclusive, so the last overlapped cell holds voxel Stop-1.
	last := Point{
		X: floorDiv(r.Stop.X-1, shape.X),
		Y: floorDiv(r.Stop.Y-1, shape.Y),
		Z: floorDiv(r.Stop.Z-1, shape.Z),
	}

	n := (last.X - first.X + 1) * (last.Y - first.Y + 1) * (last.Z - first.Z + 1)
	cells := make([]Cell, 0, n)

	for gz := first.Z; gz <= last.Z; gz++ {
		for gy := first.Y; gy <= last.Y; gy++ {
			for gx := first.X; gx <= last.X; gx++ {
				coord := Point{X: gx, Y: gy, Z: gz}
				cr := CellRange(coord, shape)
				cells = append(cells, Cell{
					Coord: coord,
					Off: Point{
						X: max(r.Start.X, cr.Start.X) - cr.Start.X,
						Y: max(r.Start.Y, cr.Start.Y) - cr.Start.Y,
						Z: max(r.Start.Z, cr.Start.Z) - cr.Start.Z,
					},
					End: Point{
						X: min(r.Stop.X, cr.Stop.X) - cr.Start.X,
						Y: min(r.Stop.Y, cr.Stop.Y) - cr.Start.Y,
						Z: min(r.Stop.Z, cr.Stop.Z) - cr.Start.Z,
					},
				})
			}
		}
	}

	return cells
}

// Key builds the canonical cube key for a channel, resolution and grid
// cell, e.g. "kasthuri11/image/0/x3_y0_z12". Two requests touching the
// same cell must always produce an identical key.
func Key(channel string, resolution uint8, coord Point) string {
	return fmt.Sprintf("%s/%d/%s", channel, resolution, coord)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
