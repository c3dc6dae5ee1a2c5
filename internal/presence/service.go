package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/internal/geo"
	"github.com/ridecore/dispatch/pkg/models"
)

// ActiveRideDriverLister is the minimal view into the ride state machine
// the validate-and-repair pass needs: which drivers currently have a
// non-terminal ride assigned to them (spec §4.6). Defined here to avoid a
// presence<->rides import cycle.
type ActiveRideDriverLister interface {
	GetActiveRideDriverIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Service implements the Presence & Heartbeat Registry (spec §4.6).
type Service struct {
	repo    *Repository
	cache   *Cache
	index   *geo.Index
	rides   ActiveRideDriverLister
	logger  *zap.Logger
}

// NewService builds a Service. index tracks driver locations for the
// Matcher's radius pre-filter and is updated in lockstep with every
// location/heartbeat write.
func NewService(repo *Repository, cache *Cache, index *geo.Index, logger *zap.Logger) *Service {
	return &Service{repo: repo, cache: cache, index: index, logger: logger}
}

// SetActiveRideLister wires the rides lookup used by ValidateAndRepair.
func (s *Service) SetActiveRideLister(lister ActiveRideDriverLister) {
	s.rides = lister
}

// Connect handles driverConnect: records the new socketId and marks the
// driver online, refreshing both sources of truth (spec §4.6, §4.8
// "update the durable socketId").
func (s *Service) Connect(ctx context.Context, driverID uuid.UUID, socketID string, loc models.GeoPoint) error {
	if err := s.repo.SetOnline(ctx, driverID, true); err != nil {
		return err
	}
	if err := s.repo.SetSocketID(ctx, driverID, &socketID); err != nil {
		return err
	}
	now := time.Now()
	if err := s.repo.UpdateLocation(ctx, driverID, loc, now); err != nil {
		return err
	}
	s.index.Upsert(driverID, geo.GeoPoint{Lng: loc.Lng, Lat: loc.Lat})

	return s.cache.Put(ctx, models.PresenceSnapshot{
		DriverID: driverID,
		SocketID: socketID,
		IsOnline: true,
		IsActive: true,
		LastSeen: now,
		Lng:      loc.Lng,
		Lat:      loc.Lat,
	})
}

// Disconnect handles the explicit driverDisconnect event: a hard reset of
// the durable record and cache entry (spec §4.6).
func (s *Service) Disconnect(ctx context.Context, driverID uuid.UUID) error {
	if err := s.repo.SetOnline(ctx, driverID, false); err != nil {
		return err
	}
	s.index.Remove(driverID)
	return s.cache.Delete(ctx, driverID)
}

// Reconnect handles a driver reconnecting with a new socketId without an
// explicit prior disconnect: the old socketId is simply replaced, no
// forced teardown of whatever channel it used to point at (spec §4.6:
// "no forced disconnect of the old channel, since it may belong to
// another node in a sticky-session failure mode").
func (s *Service) Reconnect(ctx context.Context, driverID uuid.UUID, newSocketID string) error {
	if err := s.repo.SetSocketID(ctx, driverID, &newSocketID); err != nil {
		return err
	}
	return s.ValidateAndRepairOne(ctx, driverID)
}

// Heartbeat and LocationUpdate both refresh lastSeen/location in the
// durable record and hot cache (spec §4.6: "refreshed on each location
// update or heartbeat").
func (s *Service) Heartbeat(ctx context.Context, driverID uuid.UUID, loc models.GeoPoint) error {
	now := time.Now()
	if err := s.repo.UpdateLocation(ctx, driverID, loc, now); err != nil {
		return err
	}
	s.index.Upsert(driverID, geo.GeoPoint{Lng: loc.Lng, Lat: loc.Lat})

	snapshot, ok, err := s.cache.Get(ctx, driverID)
	if err != nil {
		s.logger.Warn("presence cache read failed on heartbeat", zap.String("driverId", driverID.String()), zap.Error(err))
	}
	if !ok {
		d, err := s.repo.GetByID(ctx, driverID)
		if err != nil {
			return err
		}
		socketID := ""
		if d.SocketID != nil {
			socketID = *d.SocketID
		}
		snapshot = models.PresenceSnapshot{
			DriverID: driverID,
			SocketID: socketID,
			IsOnline: d.IsOnline,
			IsActive: d.IsActive,
		}
	}
	snapshot.LastSeen = now
	snapshot.Lng = loc.Lng
	snapshot.Lat = loc.Lat

	return s.cache.Put(ctx, snapshot)
}

// SetBusy updates the driver's busy flag in the durable record and keeps
// the index consistent: a busy driver is removed from proximity queries
// so the Matcher never re-offers them a ride mid-trip.
func (s *Service) SetBusy(ctx context.Context, driverID uuid.UUID, busy bool) error {
	if err := s.repo.SetBusy(ctx, driverID, busy); err != nil {
		return err
	}
	if busy {
		s.index.Remove(driverID)
		return nil
	}
	d, err := s.repo.GetByID(ctx, driverID)
	if err != nil {
		return err
	}
	if d.IsOnline && d.IsActive {
		s.index.Upsert(driverID, geo.GeoPoint{Lng: d.Lng, Lat: d.Lat})
	}
	return nil
}

// SetActive updates the driver's on/off-duty flag (spec §6
// `driverToggleStatus`) and keeps the proximity index consistent: going
// off-duty removes them from candidate search without a full disconnect.
func (s *Service) SetActive(ctx context.Context, driverID uuid.UUID, active bool) error {
	if err := s.repo.SetActive(ctx, driverID, active); err != nil {
		return err
	}
	if !active {
		s.index.Remove(driverID)
		return nil
	}
	d, err := s.repo.GetByID(ctx, driverID)
	if err != nil {
		return err
	}
	if d.IsOnline && d.SocketID != nil && *d.SocketID != "" {
		s.index.Upsert(driverID, geo.GeoPoint{Lng: d.Lng, Lat: d.Lat})
	}
	return nil
}

// ValidateAndRepairOne clears a stale isBusy=true flag for one driver if
// no active ride actually references them (spec §4.6 validate-and-repair).
func (s *Service) ValidateAndRepairOne(ctx context.Context, driverID uuid.UUID) error {
	if s.rides == nil {
		return nil
	}
	active, err := s.rides.GetActiveRideDriverIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range active {
		if id == driverID {
			return nil
		}
	}
	d, err := s.repo.GetByID(ctx, driverID)
	if err != nil {
		return err
	}
	if d.IsBusy {
		return s.SetBusy(ctx, driverID, false)
	}
	return nil
}

// ValidateAndRepairAll sweeps every durable-busy driver and clears any
// whose busy flag is stale (spec §4.6: "Symmetric repair applied before
// each dispatch decision").
func (s *Service) ValidateAndRepairAll(ctx context.Context) (int, error) {
	if s.rides == nil {
		return 0, nil
	}
	active, err := s.rides.GetActiveRideDriverIDs(ctx)
	if err != nil {
		return 0, err
	}
	stale, err := s.repo.GetBusyDriversNotIn(ctx, active)
	if err != nil {
		return 0, err
	}
	for _, d := range stale {
		if err := s.SetBusy(ctx, d.ID, false); err != nil {
			s.logger.Warn("failed to repair stale busy driver", zap.String("driverId", d.ID.String()), zap.Error(err))
			continue
		}
	}
	return len(stale), nil
}

// EligibleCandidates returns the online/active/not-busy/socket-connected
// drivers within radiusKm of center, preferring the hot cache and falling
// back to the durable record on miss (spec §4.1 step 3, §4.6).
func (s *Service) EligibleCandidates(ctx context.Context, center models.GeoPoint, radiusKm float64) ([]geo.ProximityCandidate, error) {
	ids := s.index.QueryRadius(geo.GeoPoint{Lng: center.Lng, Lat: center.Lat}, radiusKm)

	candidates := make([]geo.ProximityCandidate, 0, len(ids))
	for _, id := range ids {
		snapshot, ok, err := s.cache.Get(ctx, id)
		if err == nil && ok {
			if !snapshot.IsOnline || !snapshot.IsActive || snapshot.SocketID == "" {
				continue
			}
			if geo.HaversineDistanceKm(center.Lat, center.Lng, snapshot.Lat, snapshot.Lng) > radiusKm {
				continue
			}
			d, err := s.repo.GetByID(ctx, id)
			if err != nil || d.IsBusy {
				continue
			}
			candidates = append(candidates, geo.ProximityCandidate{
				DriverID: id,
				Location: geo.GeoPoint{Lng: snapshot.Lng, Lat: snapshot.Lat},
				Rating:   d.Rating,
				LastSeen: snapshot.LastSeen,
			})
			continue
		}

		d, err := s.repo.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if !d.IsEligibleForDispatch() {
			continue
		}
		if geo.HaversineDistanceKm(center.Lat, center.Lng, d.Lat, d.Lng) > radiusKm {
			continue
		}
		candidates = append(candidates, geo.ProximityCandidate{
			DriverID: id,
			Location: geo.GeoPoint{Lng: d.Lng, Lat: d.Lat},
			Rating:   d.Rating,
			LastSeen: d.LastSeen,
		})
	}

	return candidates, nil
}
