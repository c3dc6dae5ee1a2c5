package payments

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/common"
	"github.com/ridecore/dispatch/pkg/models"
)

// WalletRepository is the subset of Repository Service depends on,
// declared as an interface so Service can be exercised against a mock.
type WalletRepository interface {
	GetOrCreateWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	HasHybridRidePayment(ctx context.Context, rideID uuid.UUID) (bool, error)
	ApplyTransaction(ctx context.Context, tx *models.WalletTransaction) error
	GetTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.WalletTransaction, error)
}

// RideFareReader is the subset of internal/rides.Service the webhook
// verification path needs: the ride's authoritative, currently-stored
// fare to tolerance-check an inbound gateway payment against (spec §8
// "Gateway amount tolerance: reject mismatches > 0.01"). Declared locally
// to avoid payments depending on rides' concrete wiring.
type RideFareReader interface {
	GetRide(ctx context.Context, rideID uuid.UUID) (*models.Ride, error)
}

// Service implements wallet reconciliation (internal/earnings'
// WalletLedger and GatewayReconciler seams) plus the rider-facing wallet
// operations (top-up, balance, history) over the opaque Gateway.
type Service struct {
	wallet  WalletRepository
	gateway Gateway
	rides   RideFareReader
	logger  *zap.Logger
}

// NewService builds a payments Service.
func NewService(wallet WalletRepository, gateway Gateway, logger *zap.Logger) *Service {
	return &Service{wallet: wallet, gateway: gateway, logger: logger}
}

// SetRideGateway wires the ride-fare lookup the webhook verification path
// uses to amount-check gateway-method ride payments. Optional: without it,
// VerifyRidePayment still verifies signature/capture but skips the fare
// tolerance check (e.g. wallet top-up payments carry no ride at all).
func (s *Service) SetRideGateway(rides RideFareReader) {
	s.rides = rides
}

// ApplyRideFareDelta satisfies internal/earnings.WalletLedger (spec §4.7
// step 2, WALLET branch): a positive delta debits a RIDE_PAYMENT of the
// shortfall, a negative delta credits a REFUND of the overcharge.
// Wallet.Balance must never go negative — ApplyTransaction enforces that
// atomically under the wallet row's lock rather than here, so a racing
// debit never slips through between a check and the write.
func (s *Service) ApplyRideFareDelta(ctx context.Context, userID, rideID uuid.UUID, delta float64) error {
	if delta == 0 {
		return nil
	}
	if _, err := s.wallet.GetOrCreateWallet(ctx, userID); err != nil {
		return fmt.Errorf("payments: ensure wallet: %w", err)
	}

	txType := models.WalletTxRidePayment
	amount := delta
	description := fmt.Sprintf("Fare recalculation adjustment for ride %s", rideID)
	if delta < 0 {
		txType = models.WalletTxRefund
		amount = -delta
		description = fmt.Sprintf("Fare recalculation refund for ride %s", rideID)
	}

	tx := &models.WalletTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		RideID:      &rideID,
		Description: description,
	}
	if err := s.wallet.ApplyTransaction(ctx, tx); err != nil {
		return fmt.Errorf("payments: apply ride fare delta: %w", err)
	}
	return nil
}

// HasHybridPayment satisfies internal/earnings.WalletLedger's hybrid
// check (invariant W3), delegating to the repository's RIDE_PAYMENT
// lookup.
func (s *Service) HasHybridPayment(ctx context.Context, rideID uuid.UUID) (bool, error) {
	return s.wallet.HasHybridRidePayment(ctx, rideID)
}

// ScheduleRefund satisfies internal/earnings.GatewayReconciler (spec
// §4.7 step 2, GATEWAY overcharge branch). "Schedule" here means issue
// immediately through the Gateway's refund operation — there is no
// separate deferred-refund queue in this system, so scheduling and
// executing are the same call.
func (s *Service) ScheduleRefund(ctx context.Context, rideID uuid.UUID, amount float64) error {
	// amount is in the Ride's fare currency unit; the Gateway contract
	// speaks minor units (cents).
	amountMinorUnits := int64(amount*100 + 0.5)
	// paymentID lookup is the caller's (internal/rides) Ride.gatewayPaymentId;
	// the Finalizer's GatewayReconciler seam only carries rideID/amount, so
	// the concrete minor-unit paymentID resolution happens one layer up in
	// cmd/dispatch's wiring, which is why this adapter is a thin pass-through
	// keyed by rideID's string form rather than a Stripe payment intent id.
	if err := s.gateway.Refund(ctx, rideID.String(), amountMinorUnits); err != nil {
		return fmt.Errorf("payments: schedule gateway refund: %w", err)
	}
	return nil
}

// TopUpWallet opens a Gateway order for amount and returns its opaque
// paymentId; the wallet is credited only once the Gateway later confirms
// capture (via ConfirmTopUp), never optimistically here.
func (s *Service) TopUpWallet(ctx context.Context, userID uuid.UUID, amount float64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("payments: top-up amount must be positive")
	}
	if _, err := s.wallet.GetOrCreateWallet(ctx, userID); err != nil {
		return "", fmt.Errorf("payments: ensure wallet: %w", err)
	}
	amountMinorUnits := int64(amount*100 + 0.5)
	paymentID, err := s.gateway.CreateOrder(ctx, amountMinorUnits, map[string]string{
		"userId": userID.String(),
		"type":   "wallet_topup",
	})
	if err != nil {
		return "", fmt.Errorf("payments: create top-up order: %w", err)
	}
	return paymentID, nil
}

// ConfirmTopUp credits the wallet once the Gateway reports paymentID as
// captured; callers drive this off a webhook or a manual poll.
func (s *Service) ConfirmTopUp(ctx context.Context, userID uuid.UUID, paymentID string) error {
	payment, err := s.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("payments: fetch top-up payment: %w", err)
	}
	if payment.Status != models.GatewayPaymentCaptured {
		return fmt.Errorf("payments: top-up payment %s not captured (status=%s)", paymentID, payment.Status)
	}

	amount := float64(payment.AmountMinorUnits) / 100
	tx := &models.WalletTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        models.WalletTxTopUp,
		Amount:      amount,
		Description: fmt.Sprintf("Wallet top-up via gateway payment %s", paymentID),
	}
	if err := s.wallet.ApplyTransaction(ctx, tx); err != nil {
		return fmt.Errorf("payments: credit top-up: %w", err)
	}
	return nil
}

// VerifyRidePayment validates an inbound Gateway webhook callback (spec
// §6 "verifyWebhookSignature(rawBody, sig, secret)") and, when the
// payment's metadata names a ride, checks the captured amount against
// that ride's authoritative fare within the §8 0.01 tolerance. rawBody
// and signature come verbatim off the wire; paymentID is the provider's
// payment identifier named in the webhook event body. Returns the
// payment on success, or an *common.AppError carrying one of the four
// PAYMENT_* wire codes spec §6 names on any failure.
func (s *Service) VerifyRidePayment(ctx context.Context, rawBody []byte, signature, webhookSecret, paymentID string) (*models.GatewayPayment, *common.AppError) {
	if err := s.gateway.VerifyWebhookSignature(rawBody, signature, webhookSecret); err != nil {
		return nil, common.NewErrorWithCode(http.StatusUnauthorized, common.ErrCodePaymentNotVerified, "payment webhook signature invalid")
	}

	payment, err := s.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		return nil, common.NewErrorWithCode(http.StatusBadGateway, common.ErrCodePaymentVerificationFailed, "unable to verify payment with gateway")
	}
	if payment.Status != models.GatewayPaymentCaptured {
		return nil, common.NewErrorWithCode(http.StatusPaymentRequired, common.ErrCodePaymentNotVerified, "payment not captured")
	}
	if payment.AmountMinorUnits <= 0 {
		return nil, common.NewErrorWithCode(http.StatusBadRequest, common.ErrCodePaymentAmountInvalid, "payment amount invalid")
	}

	rideIDStr := payment.Notes["rideId"]
	if rideIDStr == "" || s.rides == nil {
		return payment, nil
	}
	rideID, err := uuid.Parse(rideIDStr)
	if err != nil {
		return nil, common.NewErrorWithCode(http.StatusBadRequest, common.ErrCodePaymentAmountInvalid, "payment metadata carries an invalid rideId")
	}
	ride, err := s.rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, common.NewErrorWithCode(http.StatusNotFound, common.ErrCodePaymentVerificationFailed, "ride not found for payment verification")
	}
	paidAmount := float64(payment.AmountMinorUnits) / 100
	if diff := paidAmount - ride.Fare; diff > 0.01 || diff < -0.01 {
		return nil, common.NewErrorWithCode(http.StatusConflict, common.ErrCodePaymentAmountMismatch,
			fmt.Sprintf("gateway payment amount %.2f does not match ride fare %.2f", paidAmount, ride.Fare))
	}
	return payment, nil
}

// GetWallet returns a user's wallet, creating one on first access.
func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return s.wallet.GetOrCreateWallet(ctx, userID)
}

// GetWalletTransactions lists a user's ledger history.
func (s *Service) GetWalletTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.WalletTransaction, error) {
	return s.wallet.GetTransactions(ctx, userID, limit, offset)
}
