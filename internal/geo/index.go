package geo

import (
	"cmp"
	"slices"
	"sync"
)

// Entry is one indexed value.
type Entry[T any] struct {
	ID    string
	Point Point
	Value T
}

// SpatialIndex is the nearest-within-tolerance capability shared by the zone
// index and the subscriber directory.
type SpatialIndex[T any] interface {
	Put(id string, p Point, v T)
	Get(id string) (Entry[T], bool)
	Delete(id string) bool
	Nearest(p Point, tolerance float64, tie func(a, b T) int) (Entry[T], bool)
	Within(p Point, radius float64) []Entry[T]
	InBox(b BoundingBox) []Entry[T]
	All() []Entry[T]
	Len() int
}

// Nearest picks the entry closest to p among candidates, considering only
// those at distance <= tolerance. Equal distances are ordered by tie (may be
// nil) and then by ID, so the choice never depends on iteration order.
func Nearest[T any](p Point, tolerance float64, candidates []Entry[T], tie func(a, b T) int) (Entry[T], bool) {
	var (
		best     Entry[T]
		bestDist float64
		found    bool
	)
	for _, c := range candidates {
		d := Distance(p, c.Point)
		if d > tolerance {
			continue
		}
		if !found || d < bestDist || (d == bestDist && breaksTie(c, best, tie)) {
			best, bestDist, found = c, d, true
		}
	}
	return best, found
}

func breaksTie[T any](c, best Entry[T], tie func(a, b T) int) bool {
	if tie != nil {
		if r := tie(c.Value, best.Value); r != 0 {
			return r < 0
		}
	}
	return c.ID < best.ID
}

// HashGrid is a SpatialIndex that buckets entries by grid cell. It is safe for
// concurrent use; values are returned by copy.
type HashGrid[T any] struct {
	grid Grid

	mu      sync.RWMutex
	cells   map[CellKey]map[string]struct{}
	entries map[string]Entry[T]
}

var _ SpatialIndex[int] = (*HashGrid[int])(nil)

// NewHashGrid creates an empty index with the given cell size in degrees.
func NewHashGrid[T any](cellSize float64) *HashGrid[T] {
	return &HashGrid[T]{
		grid:    NewGrid(cellSize),
		cells:   make(map[CellKey]map[string]struct{}),
		entries: make(map[string]Entry[T]),
	}
}

// Grid returns the cell layout used by the index.
func (h *HashGrid[T]) Grid() Grid { return h.grid }

// Put inserts or replaces the entry with the given id.
func (h *HashGrid[T]) Put(id string, p Point, v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.entries[id]; ok {
		h.unlinkLocked(id, h.grid.Cell(old.Point))
	}
	key := h.grid.Cell(p)
	cell, ok := h.cells[key]
	if !ok {
		cell = make(map[string]struct{}, 1)
		h.cells[key] = cell
	}
	cell[id] = struct{}{}
	h.entries[id] = Entry[T]{ID: id, Point: p, Value: v}
}

// Get returns the entry with the given id.
func (h *HashGrid[T]) Get(id string) (Entry[T], bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[id]
	return e, ok
}

// Delete removes an entry and reports whether it existed.
func (h *HashGrid[T]) Delete(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	old, ok := h.entries[id]
	if !ok {
		return false
	}
	h.unlinkLocked(id, h.grid.Cell(old.Point))
	delete(h.entries, id)
	return true
}

func (h *HashGrid[T]) unlinkLocked(id string, key CellKey) {
	cell := h.cells[key]
	delete(cell, id)
	if len(cell) == 0 {
		delete(h.cells, key)
	}
}

// Nearest returns the closest entry within tolerance of p.
func (h *HashGrid[T]) Nearest(p Point, tolerance float64, tie func(a, b T) int) (Entry[T], bool) {
	return Nearest(p, tolerance, h.Within(p, tolerance), tie)
}

// Within returns every entry at distance <= radius from p, ordered by
// distance and then ID.
func (h *HashGrid[T]) Within(p Point, radius float64) []Entry[T] {
	h.mu.RLock()
	var out []Entry[T]
	rings := h.grid.Rings(radius)
	// Past a full turn of the globe, or once the neighbourhood is at least as
	// large as the occupied cells, a linear scan is cheaper. NaN falls through
	// to the scan and matches nothing.
	if side := 2*rings + 1; radius > 360 || !(side*side < float64(len(h.cells))) {
		for _, e := range h.entries {
			if Distance(p, e.Point) <= radius {
				out = append(out, e)
			}
		}
	} else {
		for _, key := range h.grid.Neighborhood(h.grid.Cell(p), int(rings)) {
			for id := range h.cells[key] {
				if e := h.entries[id]; Distance(p, e.Point) <= radius {
					out = append(out, e)
				}
			}
		}
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry[T]) int {
		if c := cmp.Compare(Distance(p, a.Point), Distance(p, b.Point)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// InBox returns every entry inside b, ordered by ID.
func (h *HashGrid[T]) InBox(b BoundingBox) []Entry[T] {
	h.mu.RLock()
	var out []Entry[T]
	if h.grid.CellCount(b) > int64(len(h.cells)) {
		for _, e := range h.entries {
			if b.Contains(e.Point) {
				out = append(out, e)
			}
		}
	} else {
		for _, key := range h.grid.Cells(b) {
			for id := range h.cells[key] {
				if e := h.entries[id]; b.Contains(e.Point) {
					out = append(out, e)
				}
			}
		}
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry[T]) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// All returns every entry ordered by ID.
func (h *HashGrid[T]) All() []Entry[T] {
	h.mu.RLock()
	out := make([]Entry[T], 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, e)
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry[T]) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of entries.
func (h *HashGrid[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
