// Package eventbus is the cross-instance pub/sub backplane under the
// Event Bus / Room Router (spec §4.8): it replicates a room emission made
// on one node so every other node's connected subscribers receive it
// too. It is deliberately NOT JetStream-backed — these are ephemeral
// real-time events, not a durable log, so core NATS pub/sub is the right
// fit and keeps delivery latency off a persistence round trip.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subject constants name the NATS subjects the dispatch core replicates
// room emissions on. One subject per logical event keeps subscribers
// narrow instead of fanning every node through a single firehose subject.
const (
	SubjectRideRequested         = "ride.requested"
	SubjectNewRideRequest        = "ride.new_request"
	SubjectRideAccepted          = "ride.accepted"
	SubjectRideAssigned          = "ride.assigned"
	SubjectRideRoomJoin          = "ride.room_join"
	SubjectRideNoLongerAvailable = "ride.no_longer_available"
	SubjectRideArrived           = "ride.arrived"
	SubjectRideStarted           = "ride.started"
	SubjectRideCompleted         = "ride.completed"
	SubjectRideCancelled         = "ride.cancelled"
	SubjectNoDriverFound         = "ride.no_driver_found"
	SubjectDriverEarningAdded    = "driver.earning_added"
	SubjectDriverStatusUpdate    = "driver.status_update"
)

// Event is the envelope replicated across instances: enough to route the
// payload back onto the receiving node's local room fan-out without a
// second round trip to the durable store.
type Event struct {
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	RideID    string          `json:"rideId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent builds an Event, marshalling data (which may be nil) into its
// raw payload.
func NewEvent(eventType, source string, data interface{}) (*Event, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("eventbus: encode event data: %w", err)
		}
		raw = encoded
	}
	return &Event{
		Type:      eventType,
		Source:    source,
		Data:      raw,
		Timestamp: timeNow(),
	}, nil
}

// timeNow is indirected so tests can stub determinism if ever needed;
// production always uses the wall clock.
var timeNow = time.Now

// Handler processes one replicated Event received from another instance.
type Handler func(evt *Event)

// Bus wraps a NATS connection with the publish/subscribe surface the
// realtime service's room router needs.
type Bus struct {
	conn   *nats.Conn
	source string
	logger *zap.Logger
	subs   []*nats.Subscription
}

// NewBus connects to a NATS server at url, tagging every event this
// instance publishes with instanceID so a receiving node can tell whether
// an event originated locally (and skip re-delivering to its own
// already-notified clients).
func NewBus(url, instanceID string, logger *zap.Logger) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.PingInterval(30*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("eventbus disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("eventbus reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}

	return &Bus{conn: conn, source: instanceID, logger: logger}, nil
}

// Publish marshals evt and publishes it to subject. Publish failures are
// transient-infrastructure errors (spec §7.3); callers on the dispatch
// hot path should not block a state transition on them.
func (b *Bus) Publish(subject string, evt *Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	if err := b.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for every Event published to subject,
// including this instance's own publications — callers that need to
// ignore self-originated events should compare evt.Source to the Bus's
// instance id.
func (b *Bus) Subscribe(subject string, handler Handler) error {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.logger.Warn("eventbus: malformed event payload", zap.String("subject", subject), zap.Error(err))
			return
		}
		handler(&evt)
	})
	if err != nil {
		return fmt.Errorf("eventbus: subscribe %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// InstanceID returns this Bus's source tag.
func (b *Bus) InstanceID() string {
	return b.source
}

// Close unsubscribes everything and closes the underlying connection.
func (b *Bus) Close() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.conn.Close()
}
