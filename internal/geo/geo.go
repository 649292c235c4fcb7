// Package geo provides the planar geometry and grid-bucketed nearest-neighbour
// index shared by the zone index and the subscriber directory.
//
// Distances are Euclidean in degrees. At the tens-of-kilometres scale the
// engine works at, the error against great-circle distance is acceptable.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// KmPerDegree converts planar degree distances to kilometres.
const KmPerDegree = 111.0

// ErrInvalidBoundingBox is returned for boxes with inverted or out-of-range edges.
var ErrInvalidBoundingBox = errors.New("invalid bounding box")

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Distance returns the planar distance between a and b in degrees.
func Distance(a, b Point) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lon-b.Lon)
}

// DistanceKm returns Distance converted to kilometres.
func DistanceKm(a, b Point) float64 {
	return Distance(a, b) * KmPerDegree
}

// BoundingBox is an axis-aligned box, edges inclusive.
type BoundingBox struct {
	MinLat float64 `json:"min_latitude"`
	MinLon float64 `json:"min_longitude"`
	MaxLat float64 `json:"max_latitude"`
	MaxLon float64 `json:"max_longitude"`
}

// Around returns the box of half-width radius centred on p, clipped to valid
// coordinates.
func Around(p Point, radius float64) BoundingBox {
	return BoundingBox{
		MinLat: math.Max(p.Lat-radius, -90),
		MinLon: math.Max(p.Lon-radius, -180),
		MaxLat: math.Min(p.Lat+radius, 90),
		MaxLon: math.Min(p.Lon+radius, 180),
	}
}

// Validate checks edge ordering and coordinate ranges.
func (b BoundingBox) Validate() error {
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("%w: edges outside coordinate range", ErrInvalidBoundingBox)
	}
	if b.MinLat > b.MaxLat || b.MinLon > b.MaxLon {
		return fmt.Errorf("%w: min edge greater than max edge", ErrInvalidBoundingBox)
	}
	return nil
}

// Contains reports whether p lies inside the box.
func (b BoundingBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// CellKey identifies one grid cell.
type CellKey struct {
	X, Y int64
}

// Grid maps points to square cells of a fixed size in degrees.
type Grid struct {
	cellSize float64
}

// NewGrid returns a grid with the given cell size. Non-positive sizes panic;
// callers validate configuration first.
func NewGrid(cellSize float64) Grid {
	if !(cellSize > 0) {
		panic(fmt.Sprintf("geo: cell size must be positive, got %v", cellSize))
	}
	return Grid{cellSize: cellSize}
}

// CellSize returns the cell side in degrees.
func (g Grid) CellSize() float64 { return g.cellSize }

// Cell returns the cell containing p.
func (g Grid) Cell(p Point) CellKey {
	return CellKey{
		X: int64(math.Floor(p.Lon / g.cellSize)),
		Y: int64(math.Floor(p.Lat / g.cellSize)),
	}
}

// Rings returns how many rings of neighbouring cells must be scanned to find
// every point within radius of a point in the centre cell. It stays a float
// so radii far beyond the grid compare without integer overflow.
func (g Grid) Rings(radius float64) float64 {
	if radius <= g.cellSize {
		return 1
	}
	return math.Ceil(radius / g.cellSize)
}

// Neighborhood returns the centre cell and every cell within rings of it,
// row by row.
func (g Grid) Neighborhood(center CellKey, rings int) []CellKey {
	side := 2*rings + 1
	out := make([]CellKey, 0, side*side)
	for dy := -rings; dy <= rings; dy++ {
		for dx := -rings; dx <= rings; dx++ {
			out = append(out, CellKey{X: center.X + int64(dx), Y: center.Y + int64(dy)})
		}
	}
	return out
}

// CellCount returns how many cells the box spans.
func (g Grid) CellCount(b BoundingBox) int64 {
	lo, hi := g.Cell(Point{Lat: b.MinLat, Lon: b.MinLon}), g.Cell(Point{Lat: b.MaxLat, Lon: b.MaxLon})
	return (hi.X - lo.X + 1) * (hi.Y - lo.Y + 1)
}

// Cells returns every cell the box overlaps.
func (g Grid) Cells(b BoundingBox) []CellKey {
	lo, hi := g.Cell(Point{Lat: b.MinLat, Lon: b.MinLon}), g.Cell(Point{Lat: b.MaxLat, Lon: b.MaxLon})
	out := make([]CellKey, 0, (hi.X-lo.X+1)*(hi.Y-lo.Y+1))
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			out = append(out, CellKey{X: x, Y: y})
		}
	}
	return out
}
