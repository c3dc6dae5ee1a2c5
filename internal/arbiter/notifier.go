package arbiter

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ridecore/dispatch/pkg/eventbus"
)

// EventBusNotifier implements Notifier over the cross-instance bus, the
// same way internal/dispatch.EventBusNotifier does: the arbiter has no
// local websocket Hub of its own, so every notification it sends is a
// published event that the realtime gateway nodes relay into their local
// rooms.
type EventBusNotifier struct {
	bus *eventbus.Bus
}

// NewEventBusNotifier builds an EventBusNotifier over bus.
func NewEventBusNotifier(bus *eventbus.Bus) *EventBusNotifier {
	return &EventBusNotifier{bus: bus}
}

// NotifyRideNoLongerAvailable publishes rideNoLongerAvailable scoped to
// driverID's room. Duplicates the Arbiter's own eventBus.Publish call for
// the same subject; kept distinct so a losing driver's room-targeted
// delivery (this) and the fleet-wide audit event (Arbiter.notifyLosers)
// can evolve independently.
func (n *EventBusNotifier) NotifyRideNoLongerAvailable(driverID, rideID uuid.UUID) error {
	evt, err := eventbus.NewEvent("rideNoLongerAvailable", n.bus.InstanceID(), map[string]interface{}{
		"room":     fmt.Sprintf("driver_%s", driverID),
		"driverId": driverID,
		"rideId":   rideID,
	})
	if err != nil {
		return fmt.Errorf("arbiter: build rideNoLongerAvailable event: %w", err)
	}
	return n.bus.Publish(eventbus.SubjectRideNoLongerAvailable, evt)
}

// JoinRideRoom publishes a room-join instruction for the given socket ids.
// Only the realtime node that actually holds one of those sockets acts on
// it; the rest find no matching local client and ignore it.
func (n *EventBusNotifier) JoinRideRoom(rideID uuid.UUID, socketIDs ...string) error {
	evt, err := eventbus.NewEvent("rideRoomJoin", n.bus.InstanceID(), map[string]interface{}{
		"rideId":    rideID,
		"room":      fmt.Sprintf("ride_%s", rideID),
		"socketIds": socketIDs,
	})
	if err != nil {
		return fmt.Errorf("arbiter: build rideRoomJoin event: %w", err)
	}
	return n.bus.Publish(eventbus.SubjectRideRoomJoin, evt)
}
