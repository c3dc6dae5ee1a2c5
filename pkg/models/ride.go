package models

import (
	"time"

	"github.com/google/uuid"
)

// RideStatus is the ride lifecycle state (spec §4.2).
type RideStatus string

const (
	RideStatusRequested  RideStatus = "requested"
	RideStatusAccepted   RideStatus = "accepted"
	RideStatusArrived    RideStatus = "arrived"
	RideStatusInProgress RideStatus = "in_progress"
	RideStatusCompleted  RideStatus = "completed"
	RideStatusCancelled  RideStatus = "cancelled"
)

// validRideTransitions enumerates the only legal (from, to) edges of the
// ride lifecycle graph; checked by Ride.CanTransitionTo.
var validRideTransitions = map[RideStatus][]RideStatus{
	RideStatusRequested:  {RideStatusAccepted, RideStatusCancelled},
	RideStatusAccepted:   {RideStatusArrived, RideStatusCancelled},
	RideStatusArrived:    {RideStatusInProgress, RideStatusCancelled},
	RideStatusInProgress: {RideStatusCompleted, RideStatusCancelled},
	RideStatusCompleted:  {},
	RideStatusCancelled:  {},
}

// CanTransitionTo reports whether newStatus is reachable from s directly.
func (s RideStatus) CanTransitionTo(newStatus RideStatus) bool {
	for _, candidate := range validRideTransitions[s] {
		if candidate == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is completed or cancelled.
func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// IsActiveForUser reports whether a Ride in this status counts against a
// user's at-most-one-active-ride invariant (U1).
func (s RideStatus) IsActiveForUser() bool {
	return s == RideStatusRequested || s == RideStatusAccepted || s == RideStatusInProgress
}

// IsActiveForDriver reports whether a Ride in this status counts against
// a driver's busy flag (D1).
func (s RideStatus) IsActiveForDriver() bool {
	return s == RideStatusAccepted || s == RideStatusArrived || s == RideStatusInProgress
}

// BookingType selects the fare/booking variant of a ride (spec §9 "Dynamic
// schemas" re-architecture: bookingMeta becomes a schema'd variant keyed
// by BookingType).
type BookingType string

const (
	BookingTypeInstant  BookingType = "INSTANT"
	BookingTypeFullDay  BookingType = "FULL_DAY"
	BookingTypeRental   BookingType = "RENTAL"
	BookingTypeDateWise BookingType = "DATE_WISE"
)

// PaymentMethod is the rider's chosen settlement channel for a ride.
type PaymentMethod string

const (
	PaymentMethodCash    PaymentMethod = "CASH"
	PaymentMethodGateway PaymentMethod = "GATEWAY"
	PaymentMethodWallet  PaymentMethod = "WALLET"
)

// RidePaymentStatus tracks settlement of the ride's fare, distinct from
// WalletTransactionStatus which tracks a single ledger entry.
type RidePaymentStatus string

const (
	RidePaymentPending   RidePaymentStatus = "pending"
	RidePaymentCompleted RidePaymentStatus = "completed"
	RidePaymentFailed    RidePaymentStatus = "failed"
	RidePaymentRefunded  RidePaymentStatus = "refunded"
	RidePaymentPartial   RidePaymentStatus = "partial"
)

// CancelledBy names the party who terminated a ride via cancellation.
type CancelledBy string

const (
	CancelledByRider  CancelledBy = "rider"
	CancelledByDriver CancelledBy = "driver"
	CancelledBySystem CancelledBy = "system"
)

// GeoPoint is a longitude/latitude pair. Field order (lng, lat) matches
// the GeoJSON convention the matcher and geo index use throughout.
type GeoPoint struct {
	Lng float64 `json:"lng" db:"lng"`
	Lat float64 `json:"lat" db:"lat"`
}

// Ride is the dispatched unit (spec §3).
type Ride struct {
	ID       uuid.UUID  `json:"id" db:"id"`
	RiderID  uuid.UUID  `json:"riderId" db:"rider_id"`
	DriverID *uuid.UUID `json:"driverId,omitempty" db:"driver_id"`

	Pickup  GeoPoint `json:"pickup" db:"-"`
	Dropoff GeoPoint `json:"dropoff" db:"-"`

	PickupLng  float64 `json:"-" db:"pickup_lng"`
	PickupLat  float64 `json:"-" db:"pickup_lat"`
	DropoffLng float64 `json:"-" db:"dropoff_lng"`
	DropoffLat float64 `json:"-" db:"dropoff_lat"`

	Status        RideStatus        `json:"status" db:"status"`
	BookingType   BookingType       `json:"bookingType" db:"booking_type"`
	PaymentMethod PaymentMethod     `json:"paymentMethod" db:"payment_method"`
	PaymentStatus RidePaymentStatus `json:"paymentStatus" db:"payment_status"`

	Fare       float64 `json:"fare" db:"fare"`
	DistanceKm float64 `json:"distanceKm" db:"distance_km"`

	// Fare input components the Earnings Finalizer recomputes the
	// authoritative fare from (spec §4.7 step 1); SurgeMultiplier is
	// nullable because most rides never have one applied.
	BaseFare        float64  `json:"baseFare" db:"base_fare"`
	DistanceFare    float64  `json:"distanceFare" db:"distance_fare"`
	TimeFare        float64  `json:"timeFare" db:"time_fare"`
	Discount        float64  `json:"discount" db:"discount"`
	MinimumFare     float64  `json:"minimumFare" db:"minimum_fare"`
	SurgeMultiplier *float64 `json:"surgeMultiplier,omitempty" db:"surge_multiplier"`

	// StartOtp and StopOtp are never serialized to JSON; they are handed
	// to callers explicitly by the OTP gate, never via the Ride payload
	// itself (invariant I5).
	StartOtp string `json:"-" db:"start_otp"`
	StopOtp  string `json:"-" db:"stop_otp"`

	DriverArrivedAt *time.Time `json:"driverArrivedAt,omitempty" db:"driver_arrived_at"`
	ActualStartTime *time.Time `json:"actualStartTime,omitempty" db:"actual_start_time"`
	ActualEndTime   *time.Time `json:"actualEndTime,omitempty" db:"actual_end_time"`

	NotifiedDrivers []uuid.UUID `json:"notifiedDrivers" db:"notified_drivers"`
	RejectedDrivers []uuid.UUID `json:"rejectedDrivers" db:"rejected_drivers"`

	CancelledBy        *CancelledBy `json:"cancelledBy,omitempty" db:"cancelled_by"`
	CancellationReason *string      `json:"cancellationReason,omitempty" db:"cancellation_reason"`

	WalletAmountUsed  float64 `json:"walletAmountUsed" db:"wallet_amount_used"`
	GatewayAmountPaid float64 `json:"gatewayAmountPaid" db:"gateway_amount_paid"`
	GatewayPaymentID  *string `json:"gatewayPaymentId,omitempty" db:"gateway_payment_id"`
	TransactionID     *string `json:"transactionId,omitempty" db:"transaction_id"`

	UserSocketID   *string `json:"-" db:"user_socket_id"`
	DriverSocketID *string `json:"-" db:"driver_socket_id"`

	// RiderPhone is snapshotted from the rider's profile at request time
	// for the SMS notification channel (auto-cancel, no-driver-found);
	// nil when the rider has no phone on file, in which case SMS delivery
	// is simply skipped in favor of the socket/room channels.
	RiderPhone *string `json:"-" db:"rider_phone"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// HasDriver reports whether driverId is set, required whenever Status is
// one of {accepted, arrived, in_progress, completed} (invariant I2).
func (r *Ride) HasDriver() bool {
	return r.DriverID != nil
}

// IsNotifiedDriver reports whether driverID already received a
// newRideRequest for this ride.
func (r *Ride) IsNotifiedDriver(driverID uuid.UUID) bool {
	for _, id := range r.NotifiedDrivers {
		if id == driverID {
			return true
		}
	}
	return false
}

// IsRejectedDriver reports whether driverID already rejected this ride.
func (r *Ride) IsRejectedDriver(driverID uuid.UUID) bool {
	for _, id := range r.RejectedDrivers {
		if id == driverID {
			return true
		}
	}
	return false
}

// AllNotifiedRejected implements the §4.4 cascade trigger condition:
// |rejectedDrivers| >= |notifiedDrivers|.
func (r *Ride) AllNotifiedRejected() bool {
	return len(r.NotifiedDrivers) > 0 && len(r.RejectedDrivers) >= len(r.NotifiedDrivers)
}

// RideRequest is the inbound payload for creating a ride (thin REST/socket
// surface over the Dispatch Pipeline).
type RideRequest struct {
	Pickup        GeoPoint      `json:"pickup" binding:"required"`
	Dropoff       GeoPoint      `json:"dropoff" binding:"required"`
	BookingType   BookingType   `json:"bookingType" binding:"required,oneof=INSTANT FULL_DAY RENTAL DATE_WISE"`
	PaymentMethod PaymentMethod `json:"paymentMethod" binding:"required,oneof=CASH GATEWAY WALLET"`
	RiderPhone    *string       `json:"riderPhone,omitempty" binding:"omitempty,e164"`
}

// CompleteRideRequest carries the driver-supplied stop OTP and optional
// truth inputs the Finalizer uses to recompute fare.
type CompleteRideRequest struct {
	Otp            string   `json:"otp" binding:"required,len=4"`
	ActualDistance *float64 `json:"actualDistance,omitempty"`
}
