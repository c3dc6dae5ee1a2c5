package dispatch

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ridecore/dispatch/pkg/eventbus"
	"github.com/ridecore/dispatch/pkg/models"
)

// EventBusNotifier implements Notifier by publishing newRideRequest onto
// the cross-instance bus rather than reaching into a local websocket Hub
// directly — the dispatch core and the realtime gateway are separate
// deployables (spec §2), so the only thing they share is the bus. Whichever
// realtime node actually holds the target driver's socket delivers it; the
// rest silently have no one subscribed to that driver's room.
type EventBusNotifier struct {
	bus *eventbus.Bus
}

// NewEventBusNotifier builds an EventBusNotifier over bus.
func NewEventBusNotifier(bus *eventbus.Bus) *EventBusNotifier {
	return &EventBusNotifier{bus: bus}
}

// NotifyDriver publishes a newRideRequest event scoped to driverID's room.
func (n *EventBusNotifier) NotifyDriver(driverID uuid.UUID, ride *models.Ride) error {
	evt, err := eventbus.NewEvent("newRideRequest", n.bus.InstanceID(), map[string]interface{}{
		"room":     fmt.Sprintf("driver_%s", driverID),
		"driverId": driverID,
		"ride":     ride,
	})
	if err != nil {
		return fmt.Errorf("dispatch: build newRideRequest event: %w", err)
	}
	return n.bus.Publish(eventbus.SubjectNewRideRequest, evt)
}
