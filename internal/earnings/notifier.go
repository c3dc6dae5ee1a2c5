package earnings

import (
	"fmt"

	"github.com/ridecore/dispatch/pkg/eventbus"
	"github.com/ridecore/dispatch/pkg/models"
)

// Notifier emits the Finalizer's driver-facing event (spec §4.7 step 6).
type Notifier interface {
	NotifyDriverEarningAdded(e *models.AdminEarnings) error
}

// EventBusNotifier publishes onto the cross-instance bus rather than a
// local websocket Hub — the Finalizer runs inside the dispatch core, the
// Hub lives in the separate realtime gateway process, same split as
// internal/dispatch and internal/arbiter's own EventBusNotifier.
type EventBusNotifier struct {
	bus *eventbus.Bus
}

// NewEventBusNotifier builds an EventBusNotifier over bus.
func NewEventBusNotifier(bus *eventbus.Bus) *EventBusNotifier {
	return &EventBusNotifier{bus: bus}
}

// NotifyDriverEarningAdded publishes driverEarningAdded scoped to the
// driver's room.
func (n *EventBusNotifier) NotifyDriverEarningAdded(e *models.AdminEarnings) error {
	evt, err := eventbus.NewEvent("driverEarningAdded", n.bus.InstanceID(), map[string]interface{}{
		"room":          fmt.Sprintf("driver_%s", e.DriverID),
		"driverId":      e.DriverID,
		"rideId":        e.RideID,
		"grossFare":     e.GrossFare,
		"platformFee":   e.PlatformFee,
		"driverEarning": e.DriverEarning,
	})
	if err != nil {
		return fmt.Errorf("earnings: build driverEarningAdded event: %w", err)
	}
	return n.bus.Publish(eventbus.SubjectDriverEarningAdded, evt)
}
