// Package catalog defines the lookup contract the core consumes for static
// site data: station metadata, the target list, and a Vs30 grid. Actual
// loading of CSV/grid files is an external collaborator per spec.md 4.5;
// this package only defines the immutable, post-load contract and a simple
// in-memory implementation callers can populate however they load data.
package catalog

import (
	"sort"

	"github.com/e7canasta/ttsam-go/internal/errs"
	"github.com/e7canasta/ttsam-go/internal/geo"
	"github.com/e7canasta/ttsam-go/internal/types"
)

// Catalog is the immutable, post-startup view of static site data the core
// holds by reference for its entire lifetime.
type Catalog interface {
	StationMeta(stationID string) (types.StationMeta, error)
	TargetList() []types.Target
	Vs30At(lat, lon float64) float64
}

// Static is the in-memory Catalog implementation. Once built it is never
// mutated, so it is safe to share by reference across every component.
type Static struct {
	stations map[string]types.StationMeta
	targets  []types.Target
	vs30     *geo.Vs30Grid
}

// New builds a Static catalog from already-loaded records. Targets are kept
// in the order given, per the fixed-order invariant in spec.md section 3.
func New(stations []types.StationMeta, targets []types.Target, vs30Cells []geo.GridCell) *Static {
	idx := make(map[string]types.StationMeta, len(stations))
	for _, s := range stations {
		idx[s.StationID] = s
	}

	orderedTargets := make([]types.Target, len(targets))
	copy(orderedTargets, targets)

	return &Static{
		stations: idx,
		targets:  orderedTargets,
		vs30:     geo.NewVs30Grid(vs30Cells),
	}
}

// StationMeta returns the static record for a station, or ErrCatalogMissing
// if the station is unknown. This is non-fatal for a running service: the
// caller treats the station as absent.
func (c *Static) StationMeta(stationID string) (types.StationMeta, error) {
	meta, ok := c.stations[stationID]
	if !ok {
		return types.StationMeta{}, errs.ErrCatalogMissing
	}
	return meta, nil
}

// TargetList returns the fixed, ordered list of forecast targets.
func (c *Static) TargetList() []types.Target {
	return c.targets
}

// Vs30At returns the nearest-grid-cell Vs30 value at (lat, lon), or 0 if the
// grid has no cells loaded.
func (c *Static) Vs30At(lat, lon float64) float64 {
	v, ok := c.vs30.At(lat, lon)
	if !ok {
		return 0
	}
	return v
}

// KnownStationIDs returns every station_id in the catalog, sorted, mainly
// for diagnostics and tests.
func (c *Static) KnownStationIDs() []string {
	ids := make([]string, 0, len(c.stations))
	for id := range c.stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
