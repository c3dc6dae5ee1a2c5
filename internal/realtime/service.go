// Package realtime is the connection-facing half of the Event Bus / Room
// Router (spec §4.8): it owns the gorilla websocket upgrade, the
// connection-bookkeeping wire events, and relaying cross-instance bus
// traffic into this node's local Hub rooms. The dispatch core and the
// acceptance arbiter never touch a Hub directly — they publish onto
// pkg/eventbus, and whichever realtime node holds the relevant socket
// delivers it (spec §2's deployment split between the dispatch core and
// the real-time gateway).
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/eventbus"
	"github.com/ridecore/dispatch/pkg/models"
	ws "github.com/ridecore/dispatch/pkg/websocket"
)

func decodeEventData(raw json.RawMessage, out *map[string]interface{}) error {
	return json.Unmarshal(raw, out)
}

// PresenceManager is the subset of internal/presence.Service the
// connection layer drives directly off wire events.
type PresenceManager interface {
	Connect(ctx context.Context, driverID uuid.UUID, socketID string, loc models.GeoPoint) error
	Disconnect(ctx context.Context, driverID uuid.UUID) error
	Heartbeat(ctx context.Context, driverID uuid.UUID, loc models.GeoPoint) error
	SetActive(ctx context.Context, driverID uuid.UUID, active bool) error
}

// ActiveRideLister is the subset of internal/rides.Service the
// reconnection bookkeeping needs: every non-terminal ride to auto-join
// (spec §4.8 "auto-join all active rides' rooms").
type ActiveRideLister interface {
	GetActiveRidesForParticipant(ctx context.Context, participantID uuid.UUID) ([]*models.Ride, error)
}

// RideReader backs the authorization check on any client event that names
// a rideId (spec §4.8 "Authorization of client events").
type RideReader interface {
	GetRide(ctx context.Context, rideID uuid.UUID) (*models.Ride, error)
}

func userRoom(id uuid.UUID) string   { return fmt.Sprintf("user_%s", id) }
func driverRoom(id uuid.UUID) string { return fmt.Sprintf("driver_%s", id) }
func rideRoom(id uuid.UUID) string   { return fmt.Sprintf("ride_%s", id) }

const adminRoom = "admin"

// Service owns the Hub, relays the cross-instance bus into it, and
// implements the connection-bookkeeping wire events.
type Service struct {
	hub      *ws.Hub
	bus      *eventbus.Bus
	presence PresenceManager
	rides    ActiveRideLister
	rideAuth RideReader
	logger   *zap.Logger
}

// NewService builds a Service and subscribes it to every bus subject the
// room router needs to relay.
func NewService(hub *ws.Hub, bus *eventbus.Bus, presence PresenceManager, rides ActiveRideLister, rideAuth RideReader, logger *zap.Logger) (*Service, error) {
	s := &Service{hub: hub, bus: bus, presence: presence, rides: rides, rideAuth: rideAuth, logger: logger}

	subjects := []string{
		eventbus.SubjectRideRequested,
		eventbus.SubjectNewRideRequest,
		eventbus.SubjectRideAccepted,
		eventbus.SubjectRideAssigned,
		eventbus.SubjectRideRoomJoin,
		eventbus.SubjectRideNoLongerAvailable,
		eventbus.SubjectRideArrived,
		eventbus.SubjectRideStarted,
		eventbus.SubjectRideCompleted,
		eventbus.SubjectRideCancelled,
		eventbus.SubjectNoDriverFound,
		eventbus.SubjectDriverEarningAdded,
		eventbus.SubjectDriverStatusUpdate,
	}
	for _, subject := range subjects {
		if err := bus.Subscribe(subject, s.relay); err != nil {
			return nil, fmt.Errorf("realtime: subscribe %s: %w", subject, err)
		}
	}
	return s, nil
}

// relay fans a replicated bus Event out to this node's local rooms and, as
// a direct-emission fallback, straight to the rider/driver's cached socket
// (spec §4.8: "when a cached socketId exists, emit both to the room and
// to the socket").
func (s *Service) relay(evt *eventbus.Event) {
	var data map[string]interface{}
	if len(evt.Data) > 0 {
		if err := decodeEventData(evt.Data, &data); err != nil {
			s.logger.Warn("realtime: malformed relayed event", zap.String("type", evt.Type), zap.Error(err))
			return
		}
	}

	if evt.Type == "rideRoomJoin" {
		s.relayRoomJoin(data)
		return
	}

	msg := &ws.Message{Type: evt.Type, Data: data}

	if room, ok := data["room"].(string); ok && room != "" {
		s.hub.SendToRide(room, msg)
	}

	rideIDStr, hasRideID := data["rideId"].(string)
	if !hasRideID || rideIDStr == "" {
		return
	}
	msg.RideID = rideIDStr
	s.hub.SendToRide("ride_"+rideIDStr, msg)

	rideID, err := uuid.Parse(rideIDStr)
	if err != nil || s.rideAuth == nil {
		return
	}
	ride, err := s.rideAuth.GetRide(context.Background(), rideID)
	if err != nil {
		return
	}
	if ride.UserSocketID != nil {
		s.hub.SendToUser(*ride.UserSocketID, msg)
	}
	if ride.DriverSocketID != nil {
		s.hub.SendToUser(*ride.DriverSocketID, msg)
	}
}

// relayRoomJoin handles the arbiter's post-acceptance room-join bookkeeping
// event: only the node that actually holds one of the named sockets has
// anything to do.
func (s *Service) relayRoomJoin(data map[string]interface{}) {
	rideIDStr, ok := data["rideId"].(string)
	if !ok {
		return
	}
	rideID, err := uuid.Parse(rideIDStr)
	if err != nil {
		return
	}
	socketIDs, _ := data["socketIds"].([]interface{})
	for _, raw := range socketIDs {
		socketID, ok := raw.(string)
		if !ok || socketID == "" {
			continue
		}
		if _, connected := s.hub.GetClient(socketID); connected {
			s.hub.AddClientToRide(socketID, rideRoom(rideID))
		}
	}
}

// OnConnect runs the reconnection bookkeeping for a freshly-registered
// socket: joining its identity room, admin room if applicable, and every
// active ride room it participates in (spec §4.8).
func (s *Service) OnConnect(ctx context.Context, socketID string, userID uuid.UUID, role models.Role) {
	if role == models.RoleDriver {
		s.hub.AddClientToRide(socketID, driverRoom(userID))
	} else {
		s.hub.AddClientToRide(socketID, userRoom(userID))
	}
	if role == models.RoleAdmin {
		s.hub.AddClientToRide(socketID, adminRoom)
	}

	active, err := s.rides.GetActiveRidesForParticipant(ctx, userID)
	if err != nil {
		s.logger.Warn("realtime: failed to list active rides on connect", zap.String("userId", userID.String()), zap.Error(err))
		return
	}
	for _, ride := range active {
		s.hub.AddClientToRide(socketID, rideRoom(ride.ID))
	}
}

// DriverConnect handles the inbound `driverConnect{driverId}` event: the
// durable record and presence cache flip online, tagged with this socket.
// The wire event carries no location; the driver's first
// driverLocationUpdate corrects it (spec §6).
func (s *Service) DriverConnect(ctx context.Context, driverID uuid.UUID, socketID string) error {
	return s.presence.Connect(ctx, driverID, socketID, models.GeoPoint{})
}

// DriverDisconnect handles the explicit `driverDisconnect{driverId}` event
// and the implicit cleanup run when a driver's socket drops without one
// (spec §4.8 "Disconnect triggers presence cleanup").
func (s *Service) DriverDisconnect(ctx context.Context, driverID uuid.UUID) error {
	return s.presence.Disconnect(ctx, driverID)
}

// DriverLocationUpdate handles `driverLocationUpdate{driverId, location}`.
func (s *Service) DriverLocationUpdate(ctx context.Context, driverID uuid.UUID, loc models.GeoPoint) error {
	return s.presence.Heartbeat(ctx, driverID, loc)
}

// DriverToggleStatus handles `driverToggleStatus{driverId, isActive}`.
func (s *Service) DriverToggleStatus(ctx context.Context, driverID uuid.UUID, active bool) error {
	if err := s.presence.SetActive(ctx, driverID, active); err != nil {
		return err
	}
	evt, err := eventbus.NewEvent("driverStatusUpdate", s.bus.InstanceID(), map[string]interface{}{
		"room":     driverRoom(driverID),
		"driverId": driverID,
		"isActive": active,
	})
	if err != nil {
		return err
	}
	return s.bus.Publish(eventbus.SubjectDriverStatusUpdate, evt)
}

// JoinRideRoom handles `joinRideRoom{rideId}`, authorizing the caller as
// the ride's rider or assigned driver before admitting them (spec §4.8
// "Authorization of client events").
func (s *Service) JoinRideRoom(ctx context.Context, socketID string, callerID uuid.UUID, rideID uuid.UUID) error {
	ride, err := s.rideAuth.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.RiderID != callerID && (ride.DriverID == nil || *ride.DriverID != callerID) {
		return fmt.Errorf("realtime: caller %s is not a participant of ride %s", callerID, rideID)
	}
	s.hub.AddClientToRide(socketID, rideRoom(rideID))
	return nil
}

// LeaveRideRoom handles `leaveRideRoom{rideId}`.
func (s *Service) LeaveRideRoom(socketID string, rideID uuid.UUID) {
	s.hub.RemoveClientFromRide(socketID, rideRoom(rideID))
}
