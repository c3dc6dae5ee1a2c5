package geo

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ProximityCandidate is the minimal shape the Matcher needs to rank a
// driver against a pickup point (spec §4.1 step 3).
type ProximityCandidate struct {
	DriverID uuid.UUID
	Location GeoPoint
	Rating   float64
	LastSeen time.Time

	// DistanceKm is filled in by SortByProximity; callers should leave it
	// zero when constructing a candidate.
	DistanceKm float64
}

// SortByProximity computes each candidate's distance to center and sorts
// ascending by distance, breaking ties by descending rating and then by
// ascending lastSeen (earliest first) — the exact ordering spec §4.1 step
// 3 specifies. The slice is sorted and returned in place.
func SortByProximity(center GeoPoint, candidates []ProximityCandidate) []ProximityCandidate {
	for i := range candidates {
		candidates[i].DistanceKm = haversineDistance(center.Lat, center.Lng, candidates[i].Location.Lat, candidates[i].Location.Lng)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.LastSeen.Before(b.LastSeen)
	})

	return candidates
}

// WithinRadius filters candidates (already distance-annotated by
// SortByProximity) to those at or within radiusKm.
func WithinRadius(candidates []ProximityCandidate, radiusKm float64) []ProximityCandidate {
	out := candidates[:0:0]
	for _, c := range candidates {
		if c.DistanceKm <= radiusKm {
			out = append(out, c)
		}
	}
	return out
}

// Limit truncates candidates to at most n entries (spec §4.1 step 3: "At
// most N (default 20) candidates per round").
func Limit(candidates []ProximityCandidate, n int) []ProximityCandidate {
	if n <= 0 || len(candidates) <= n {
		return candidates
	}
	return candidates[:n]
}
