// Package earnings is the Earnings Finalizer (spec §4.7): on every ride
// completion it recomputes the authoritative fare from the ride's stored
// fare inputs, reconciles any delta against the rider's chosen payment
// method, and writes the one-row-per-ride AdminEarnings ledger entry the
// payout pipeline consumes downstream. It is triggered off the Event Bus
// rather than called directly by internal/rides, so a completed ride
// never blocks on ledger bookkeeping (spec §4.7 step 7: "ledger writes
// never block the state machine").
package earnings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/eventbus"
	"github.com/ridecore/dispatch/pkg/models"
	"github.com/ridecore/dispatch/pkg/tracing"
)

// RideGateway is the subset of internal/rides.Service the Finalizer needs:
// reading the ride's stored fare inputs and persisting the recomputed
// fare / reconciled payment settlement.
type RideGateway interface {
	GetRide(ctx context.Context, rideID uuid.UUID) (*models.Ride, error)
	UpdateRideFare(ctx context.Context, rideID uuid.UUID, fare float64) error
	SettleRidePayment(ctx context.Context, rideID uuid.UUID, status models.RidePaymentStatus, walletAmountUsed, gatewayAmountPaid float64, gatewayPaymentID *string) error
}

// WalletLedger is the subset of internal/payments the Finalizer needs for
// WALLET-method fare-delta reconciliation (spec §4.7 step 2, invariants
// W1-W3). Declared locally to avoid earnings depending on payments'
// concrete Stripe/gateway wiring. HasHybridPayment backs invariant W3 (at
// most one RIDE_PAYMENT per ride with hybridPayment=true): a hybrid ride
// always refunds an overcharge to the wallet, whatever PaymentMethod it
// is tagged with (spec §8 Scenario 6).
type WalletLedger interface {
	ApplyRideFareDelta(ctx context.Context, userID, rideID uuid.UUID, delta float64) error
	HasHybridPayment(ctx context.Context, rideID uuid.UUID) (bool, error)
}

// GatewayReconciler is the subset of internal/payments the Finalizer needs
// for GATEWAY-method fare-delta reconciliation (spec §4.7 step 2).
type GatewayReconciler interface {
	ScheduleRefund(ctx context.Context, rideID uuid.UUID, amount float64) error
}

// SettingsGateway reads the process-wide pricing singleton.
type SettingsGateway interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
}

// EarningsRepository is the subset of Repository the Finalizer needs,
// declared as an interface so Service can be exercised against a mock in
// tests instead of a live Postgres connection.
type EarningsRepository interface {
	UpsertEarnings(ctx context.Context, e *models.AdminEarnings) error
}

// retryDelays implements spec §4.7 step 7's bounded backoff schedule.
var retryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second}

// Service runs the Finalizer algorithm.
type Service struct {
	rides    RideGateway
	wallet   WalletLedger
	gateway  GatewayReconciler
	settings SettingsGateway
	repo     EarningsRepository
	notifier Notifier
	logger   *zap.Logger
}

// NewService builds a Finalizer Service and, if bus is non-nil, subscribes
// it to rideCompleted so every completion triggers a finalize pass.
// wallet/gateway may be nil: a CASH ride never reaches step 2's
// reconciliation branch, so the dependency can be wired in later without
// blocking the rest of the Finalizer.
func NewService(rides RideGateway, wallet WalletLedger, gateway GatewayReconciler, settings SettingsGateway, repo EarningsRepository, notifier Notifier, bus *eventbus.Bus, logger *zap.Logger) (*Service, error) {
	s := &Service{
		rides:    rides,
		wallet:   wallet,
		gateway:  gateway,
		settings: settings,
		repo:     repo,
		notifier: notifier,
		logger:   logger,
	}
	if bus != nil {
		if err := bus.Subscribe(eventbus.SubjectRideCompleted, s.onRideCompleted); err != nil {
			return nil, fmt.Errorf("earnings: subscribe rideCompleted: %w", err)
		}
	}
	return s, nil
}

func (s *Service) onRideCompleted(evt *eventbus.Event) {
	var data map[string]interface{}
	if len(evt.Data) > 0 {
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			s.logger.Warn("earnings: malformed rideCompleted event", zap.Error(err))
			return
		}
	}
	rideIDStr, _ := data["rideId"].(string)
	rideID, err := uuid.Parse(rideIDStr)
	if err != nil {
		s.logger.Warn("earnings: rideCompleted event missing rideId", zap.Any("data", data))
		return
	}
	if err := s.FinalizeWithRetry(context.Background(), rideID); err != nil {
		s.logger.Error("earnings: finalize failed after retries",
			zap.String("rideId", rideID.String()), zap.Error(err))
	}
}

// FinalizeWithRetry runs Finalize, retrying transient failures up to 3
// times with the 1s/2s/3s backoff spec §4.7 step 7 names. A non-transient
// failure (bad invariant, malformed data) is logged and NOT retried — the
// ride remains completed either way; ledger writes never block the state
// machine.
func (s *Service) FinalizeWithRetry(ctx context.Context, rideID uuid.UUID) error {
	var lastErr error
	for attempt, delay := range append([]time.Duration{0}, retryDelays...) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := s.Finalize(ctx, rideID)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			s.logger.Error("earnings: finalize failed non-transiently",
				zap.String("rideId", rideID.String()), zap.Error(err))
			return err
		}
		s.logger.Warn("earnings: finalize attempt failed, retrying",
			zap.String("rideId", rideID.String()), zap.Int("attempt", attempt), zap.Error(err))
	}
	return lastErr
}

// transientError marks a Finalize failure as worth retrying (connection
// resets, timeouts) as opposed to a fatal invariant violation.
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

func isTransient(err error) bool {
	_, ok := err.(*transientError)
	return ok
}

// Finalize runs the §4.7 algorithm once, idempotently, for rideID.
func (s *Service) Finalize(ctx context.Context, rideID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "earnings", "finalize", rideID)
	defer span.End()

	ride, err := s.rides.GetRide(ctx, rideID)
	if err != nil {
		return &transientError{fmt.Errorf("earnings: load ride: %w", err)}
	}
	if ride.Status != models.RideStatusCompleted {
		return fmt.Errorf("earnings: ride %s is not completed (status=%s)", rideID, ride.Status)
	}
	if ride.DriverID == nil {
		return fmt.Errorf("earnings: completed ride %s has no driver", rideID)
	}

	// Step 1: recompute the authoritative fare and persist if different.
	newFare := ride.FareInputs().Recompute()
	oldFare := ride.Fare
	fareDelta := round2(newFare - oldFare)
	if fareDelta != 0 {
		if err := s.rides.UpdateRideFare(ctx, rideID, newFare); err != nil {
			return &transientError{fmt.Errorf("earnings: persist recomputed fare: %w", err)}
		}
	}

	// Step 2: reconcile the delta against the chosen payment method.
	if fareDelta != 0 && ride.PaymentMethod != models.PaymentMethodCash {
		if err := s.reconcile(ctx, ride, fareDelta); err != nil {
			return err
		}
	}

	// Step 3: load and validate Settings.
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return &transientError{fmt.Errorf("earnings: load settings: %w", err)}
	}
	if !settings.Valid() {
		return fmt.Errorf("earnings: settings out of bounds (platformFeePct=%.2f driverCommissionPct=%.2f)",
			settings.PlatformFeePct, settings.DriverCommissionPct)
	}

	// Step 4: split gross fare into platform fee + driver earning, with the
	// 0.01-tolerance remainder folded into driverEarning.
	platformFee := round2(newFare * settings.PlatformFeePct / 100)
	driverEarning := round2(newFare * settings.DriverCommissionPct / 100)
	remainder := round2(newFare - (platformFee + driverEarning))
	if remainder != 0 {
		driverEarning = round2(driverEarning + remainder)
	}

	rideDate := ride.CreatedAt
	if ride.ActualEndTime != nil {
		rideDate = *ride.ActualEndTime
	}

	// Step 5: upsert AdminEarnings keyed by rideId.
	entry := &models.AdminEarnings{
		ID:            uuid.New(),
		RideID:        rideID,
		DriverID:      *ride.DriverID,
		RiderID:       ride.RiderID,
		GrossFare:     newFare,
		PlatformFee:   platformFee,
		DriverEarning: driverEarning,
		RideDate:      rideDate,
		PaymentStatus: models.EarningsStatusPending,
	}
	if err := s.repo.UpsertEarnings(ctx, entry); err != nil {
		return &transientError{fmt.Errorf("earnings: upsert earnings row: %w", err)}
	}

	// Step 6: notify the driver.
	if s.notifier != nil {
		if err := s.notifier.NotifyDriverEarningAdded(entry); err != nil {
			s.logger.Warn("earnings: failed to publish driverEarningAdded",
				zap.String("rideId", rideID.String()), zap.Error(err))
		}
	}

	return nil
}

// reconcile applies step 2's WALLET/GATEWAY branches for a non-zero
// fareDelta. A positive delta means the recomputed fare is higher than
// what was charged (undercharge, additional collection needed); a
// negative delta means the rider was overcharged and is owed a refund.
func (s *Service) reconcile(ctx context.Context, ride *models.Ride, fareDelta float64) error {
	if fareDelta < 0 && s.wallet != nil {
		hybrid, err := s.wallet.HasHybridPayment(ctx, ride.ID)
		if err != nil {
			return &transientError{fmt.Errorf("earnings: check hybrid payment: %w", err)}
		}
		if hybrid {
			if err := s.wallet.ApplyRideFareDelta(ctx, ride.RiderID, ride.ID, fareDelta); err != nil {
				return &transientError{fmt.Errorf("earnings: apply hybrid wallet refund: %w", err)}
			}
			return nil
		}
	}

	switch ride.PaymentMethod {
	case models.PaymentMethodWallet:
		if s.wallet == nil {
			return fmt.Errorf("earnings: wallet reconciliation required but no WalletLedger wired")
		}
		if err := s.wallet.ApplyRideFareDelta(ctx, ride.RiderID, ride.ID, fareDelta); err != nil {
			return &transientError{fmt.Errorf("earnings: apply wallet fare delta: %w", err)}
		}
		return nil
	case models.PaymentMethodGateway:
		if fareDelta > 0 {
			if err := s.rides.SettleRidePayment(ctx, ride.ID, models.RidePaymentPartial,
				ride.WalletAmountUsed, ride.GatewayAmountPaid, ride.GatewayPaymentID); err != nil {
				return &transientError{fmt.Errorf("earnings: mark payment partial: %w", err)}
			}
			return nil
		}
		if s.gateway == nil {
			return fmt.Errorf("earnings: gateway refund required but no GatewayReconciler wired")
		}
		if err := s.gateway.ScheduleRefund(ctx, ride.ID, -fareDelta); err != nil {
			return &transientError{fmt.Errorf("earnings: schedule gateway refund: %w", err)}
		}
		return nil
	default:
		return nil
	}
}

func round2(v float64) float64 {
	if v < 0 {
		return -round2(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}
