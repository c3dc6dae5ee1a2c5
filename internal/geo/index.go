package geo

import (
	"sync"

	"github.com/google/uuid"
	h3 "github.com/uber/h3-go/v4"
)

// indexResolution is the H3 grid resolution the Index buckets driver
// locations at; res 7 cells have an average edge length of ~1.22km,
// fine-grained enough that a k-ring disk is a tight over-approximation of
// the radii schedule in spec §6 (3..25km) without enumerating an
// excessive number of cells per query.
const indexResolution = 7

// approxEdgeKm is the average H3 edge length at indexResolution, used to
// convert a search radius in kilometers to a k-ring size.
const approxEdgeKm = 1.22

// Index is an H3-bucketed geospatial pre-filter over driver locations.
// It narrows a radius query to the small set of cells that could contain
// a match; callers still re-check exact haversine distance against the
// radius before accepting a candidate, since a k-ring disk is square-ish
// and always a superset of the true circle.
type Index struct {
	mu      sync.RWMutex
	cellOf  map[uuid.UUID]h3.Cell
	driversByCell map[h3.Cell]map[uuid.UUID]struct{}
}

// NewIndex builds an empty Index.
func NewIndex() *Index {
	return &Index{
		cellOf:        make(map[uuid.UUID]h3.Cell),
		driversByCell: make(map[h3.Cell]map[uuid.UUID]struct{}),
	}
}

// Upsert records or moves a driver's location in the index.
func (idx *Index) Upsert(driverID uuid.UUID, loc GeoPoint) {
	cell := cellFor(loc)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if prev, ok := idx.cellOf[driverID]; ok {
		if prev == cell {
			return
		}
		if set, ok := idx.driversByCell[prev]; ok {
			delete(set, driverID)
			if len(set) == 0 {
				delete(idx.driversByCell, prev)
			}
		}
	}

	idx.cellOf[driverID] = cell
	set, ok := idx.driversByCell[cell]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		idx.driversByCell[cell] = set
	}
	set[driverID] = struct{}{}
}

// Remove drops a driver from the index (disconnect, reassignment to busy).
func (idx *Index) Remove(driverID uuid.UUID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cell, ok := idx.cellOf[driverID]
	if !ok {
		return
	}
	delete(idx.cellOf, driverID)
	if set, ok := idx.driversByCell[cell]; ok {
		delete(set, driverID)
		if len(set) == 0 {
			delete(idx.driversByCell, cell)
		}
	}
}

// QueryRadius returns the driver ids whose bucketed cell falls within the
// k-ring disk covering radiusKm around center. The result is an
// over-approximation; the caller filters by exact haversine distance.
func (idx *Index) QueryRadius(center GeoPoint, radiusKm float64) []uuid.UUID {
	origin := cellFor(center)
	k := kRingForRadius(radiusKm)

	disk, err := h3.GridDisk(origin, k)
	if err != nil {
		disk = []h3.Cell{origin}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []uuid.UUID
	for _, cell := range disk {
		for driverID := range idx.driversByCell[cell] {
			out = append(out, driverID)
		}
	}
	return out
}

func cellFor(p GeoPoint) h3.Cell {
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lng}, indexResolution)
	if err != nil {
		return 0
	}
	return cell
}

// kRingForRadius converts a radius in kilometers to the smallest k such
// that a k-ring disk of indexResolution cells is guaranteed to cover it.
func kRingForRadius(radiusKm float64) int {
	if radiusKm <= 0 {
		return 0
	}
	k := int(radiusKm/approxEdgeKm) + 1
	if k < 1 {
		k = 1
	}
	return k
}

// GeoPoint mirrors models.GeoPoint's shape without importing pkg/models,
// keeping this package dependency-free for the pkg/models -> internal
// direction the rest of the core follows. Callers convert at the
// boundary (see internal/dispatch, which imports both).
type GeoPoint struct {
	Lng float64
	Lat float64
}
