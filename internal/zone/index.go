// Package zone keeps the canonical set of risk zones and merges incoming
// observations into them.
//
// Zones are bucketed on a grid whose cell side equals the dedup tolerance, so
// every zone that can match an observation sits in the observation's cell or
// one of its eight neighbours. Upserts lock the stripes covering that 3x3
// neighbourhood, which serializes any two observations that could resolve to
// the same zone while leaving unrelated regions uncontended.
package zone

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/wildfire-risk-engine/internal/domain"
	"github.com/couchcryptid/wildfire-risk-engine/internal/geo"
	"github.com/couchcryptid/wildfire-risk-engine/internal/risk"
)

const (
	// DefaultTolerance is the dedup radius in degrees (about 1.1 km).
	DefaultTolerance = 0.01

	defaultStripes = 256

	DefaultListLimit = 100
	MaxListLimit     = 500
)

// Update is the result of one upsert.
type Update struct {
	Zone         domain.RiskZone
	Created      bool
	PreviousRisk float64
}

// RiskDelta is the absolute change in risk level caused by the update.
// Newly created zones report their full level.
func (u Update) RiskDelta() float64 {
	d := u.Zone.RiskLevel - u.PreviousRisk
	if d < 0 {
		return -d
	}
	return d
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	MinRisk  *float64
	MaxRisk  *float64
	Region   string
	Category domain.RiskCategory
	Offset   int
	Limit    int
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

func (f Filter) matches(z domain.RiskZone) bool {
	if f.MinRisk != nil && z.RiskLevel < *f.MinRisk {
		return false
	}
	if f.MaxRisk != nil && z.RiskLevel > *f.MaxRisk {
		return false
	}
	if f.Category != "" && z.RiskCategory != f.Category {
		return false
	}
	if f.Region != "" && !strings.Contains(strings.ToLower(z.RegionName), strings.ToLower(f.Region)) {
		return false
	}
	return true
}

// Option configures an Index.
type Option func(*Index)

// WithClock sets the time source used for observations without a timestamp.
func WithClock(c clockwork.Clock) Option {
	return func(ix *Index) { ix.clock = c }
}

// WithIDGenerator replaces the UUID generator for new zones.
func WithIDGenerator(fn func() string) Option {
	return func(ix *Index) { ix.newID = fn }
}

// WithStripes sets the number of bucket lock stripes.
func WithStripes(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.locks = make([]sync.Mutex, n)
		}
	}
}

// Index is the zone store. It is safe for concurrent use.
type Index struct {
	scorer    *risk.Scorer
	tolerance float64
	zones     *geo.HashGrid[domain.RiskZone]
	locks     []sync.Mutex
	clock     clockwork.Clock
	newID     func() string
}

// New returns an empty index deduplicating within tolerance degrees.
// A non-positive tolerance selects DefaultTolerance.
func New(scorer *risk.Scorer, tolerance float64, opts ...Option) *Index {
	if !(tolerance > 0) {
		tolerance = DefaultTolerance
	}
	ix := &Index{
		scorer:    scorer,
		tolerance: tolerance,
		zones:     geo.NewHashGrid[domain.RiskZone](tolerance),
		locks:     make([]sync.Mutex, defaultStripes),
		clock:     clockwork.NewRealClock(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Tolerance returns the dedup radius in degrees.
func (ix *Index) Tolerance() float64 { return ix.tolerance }

// Len returns the number of tracked zones.
func (ix *Index) Len() int { return ix.zones.Len() }

// Upsert merges obs into the nearest zone within tolerance, or creates a new
// zone if none matches. Non-nil measurements overwrite the zone's values,
// nil ones keep them, and the risk level is recomputed from the result.
func (ix *Index) Upsert(obs domain.Observation) (Update, error) {
	if err := domain.ValidateCoordinates(obs.Latitude, obs.Longitude); err != nil {
		return Update{}, err
	}
	p := geo.Point{Lat: obs.Latitude, Lon: obs.Longitude}

	unlock := ix.lockNeighborhood(p)
	defer unlock()

	var upd Update
	z, found := ix.nearest(p, ix.tolerance)
	if found {
		upd.PreviousRisk = z.RiskLevel
		z.ObservationCount++
	} else {
		z = domain.RiskZone{ID: ix.newID(), ObservationCount: 1}
		upd.Created = true
	}

	z.Absorb(obs)
	if z.RegionName == "" {
		z.RegionName = domain.DefaultRegionName(obs.Latitude, obs.Longitude)
	}
	z.RiskLevel = ix.scorer.Score(z.Conditions())
	z.RiskCategory = risk.CategoryFor(z.RiskLevel)

	ts := obs.Timestamp
	if ts.IsZero() {
		ts = ix.clock.Now().UTC()
	}
	if ts.After(z.LastUpdated) {
		z.LastUpdated = ts
	}

	ix.zones.Put(z.ID, p, z)
	upd.Zone = z.Clone()
	return upd, nil
}

// QueryByCoordinate returns the zone nearest to (lat, lon) within tolerance,
// using the same matching rule as Upsert. A non-positive tolerance selects the
// index's own.
func (ix *Index) QueryByCoordinate(lat, lon, tolerance float64) (domain.RiskZone, error) {
	if err := domain.ValidateCoordinates(lat, lon); err != nil {
		return domain.RiskZone{}, err
	}
	if !(tolerance > 0) {
		tolerance = ix.tolerance
	}
	z, ok := ix.nearest(geo.Point{Lat: lat, Lon: lon}, tolerance)
	if !ok {
		return domain.RiskZone{}, domain.ErrZoneNotFound
	}
	return z, nil
}

// QueryByBoundingBox returns every zone whose centroid lies inside b, ordered by id.
func (ix *Index) QueryByBoundingBox(b geo.BoundingBox) ([]domain.RiskZone, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return values(ix.zones.InBox(b)), nil
}

// Get returns the zone with the given id.
func (ix *Index) Get(id string) (domain.RiskZone, error) {
	e, ok := ix.zones.Get(id)
	if !ok {
		return domain.RiskZone{}, domain.ErrZoneNotFound
	}
	return e.Value.Clone(), nil
}

// List returns zones matching f, highest risk first, ties broken by id.
func (ix *Index) List(f Filter) []domain.RiskZone {
	var out []domain.RiskZone
	for _, e := range ix.zones.All() {
		if f.matches(e.Value) {
			out = append(out, e.Value)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.RiskZone) int {
		if c := cmp.Compare(b.RiskLevel, a.RiskLevel); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if f.Offset >= len(out) {
		return []domain.RiskZone{}
	}
	out = out[max(f.Offset, 0):]
	if n := f.limit(); len(out) > n {
		out = out[:n]
	}
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

// Restore loads previously persisted zones, replacing any with the same id.
// Risk levels are recomputed so stored values always match the current scorer.
func (ix *Index) Restore(zones []domain.RiskZone) {
	for _, z := range zones {
		z = z.Clone()
		z.RiskLevel = ix.scorer.Score(z.Conditions())
		z.RiskCategory = risk.CategoryFor(z.RiskLevel)
		p := geo.Point{Lat: z.Latitude, Lon: z.Longitude}
		unlock := ix.lockNeighborhood(p)
		ix.zones.Put(z.ID, p, z)
		unlock()
	}
}

func (ix *Index) nearest(p geo.Point, tolerance float64) (domain.RiskZone, bool) {
	e, ok := ix.zones.Nearest(p, tolerance, earliestUpdated)
	if !ok {
		return domain.RiskZone{}, false
	}
	return e.Value.Clone(), true
}

// earliestUpdated orders equally distant zones by last update, oldest first.
func earliestUpdated(a, b domain.RiskZone) int {
	return a.LastUpdated.Compare(b.LastUpdated)
}

// lockNeighborhood locks the stripes covering p's cell and its eight
// neighbours in ascending order and returns the matching unlock.
func (ix *Index) lockNeighborhood(p geo.Point) func() {
	grid := ix.zones.Grid()
	cells := grid.Neighborhood(grid.Cell(p), 1)

	stripes := make([]int, 0, len(cells))
	for _, c := range cells {
		stripes = append(stripes, ix.stripe(c))
	}
	slices.Sort(stripes)
	stripes = slices.Compact(stripes)

	for _, s := range stripes {
		ix.locks[s].Lock()
	}
	return func() {
		for i := len(stripes) - 1; i >= 0; i-- {
			ix.locks[stripes[i]].Unlock()
		}
	}
}

func (ix *Index) stripe(c geo.CellKey) int {
	h := uint64(c.X)*73856093 ^ uint64(c.Y)*19349663
	return int(h % uint64(len(ix.locks)))
}

func values(entries []geo.Entry[domain.RiskZone]) []domain.RiskZone {
	out := make([]domain.RiskZone, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Value.Clone())
	}
	return out
}
