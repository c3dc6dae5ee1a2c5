// Package payments is the opaque payment Gateway contract (spec §6:
// "createOrder(amountMinorUnits, notes), fetchPayment(paymentId),
// verifyWebhookSignature(rawBody, sig, secret), refund(paymentId,
// amount)") and the wallet ledger that backs WALLET-method rides and
// fare-delta reconciliation (spec §3 User.walletBalance, invariants
// W1-W3). The dispatch core only ever calls these four Gateway
// operations and never inspects a provider-specific payload; Stripe is
// one concrete adapter behind that seam.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/models"
	"github.com/ridecore/dispatch/pkg/resilience"
)

// Gateway is the opaque payment-provider contract spec §6 names.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinorUnits int64, notes map[string]string) (string, error)
	FetchPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error)
	VerifyWebhookSignature(rawBody []byte, signature, secret string) error
	Refund(ctx context.Context, paymentID string, amountMinorUnits int64) error
}

// StripeGateway is the Gateway implementation behind Stripe. A
// resilience.CircuitBreaker wraps every outbound call — Stripe is one of
// the two external collaborators spec §1's Non-goals explicitly carve
// out of the core's own reliability guarantees, so a tripped breaker
// fails fast instead of hanging the Finalizer or the ride-request path
// on a degraded upstream.
type StripeGateway struct {
	breaker *resilience.CircuitBreaker
	logger  *zap.Logger
}

// NewStripeGateway builds a StripeGateway. apiKey is set process-wide on
// the stripe-go client via stripe.Key by the caller (cmd/dispatch's
// wiring), matching how the rest of this tree treats secrets as a
// startup-time concern rather than a per-call parameter.
func NewStripeGateway(logger *zap.Logger) *StripeGateway {
	breaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:    "stripe-gateway",
		Timeout: 30 * time.Second,
	}, resilience.GracefulDegradation("stripe-gateway"))
	return &StripeGateway{breaker: breaker, logger: logger}
}

// CreateOrder opens a Stripe PaymentIntent for amountMinorUnits and
// returns its id, the opaque paymentId the rest of the system persists
// on Ride.gatewayPaymentId.
func (g *StripeGateway) CreateOrder(ctx context.Context, amountMinorUnits int64, notes map[string]string) (string, error) {
	result, err := g.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		params := &stripe.PaymentIntentParams{
			Amount:   stripe.Int64(amountMinorUnits),
			Currency: stripe.String(string(stripe.CurrencyUSD)),
		}
		params.Context = ctx
		for k, v := range notes {
			params.AddMetadata(k, v)
		}
		return paymentintent.New(params)
	})
	if err != nil {
		return "", fmt.Errorf("payments: stripe create order: %w", err)
	}
	return result.(*stripe.PaymentIntent).ID, nil
}

// FetchPayment retrieves the current status of a previously created
// order, mapped onto the Gateway contract's status vocabulary.
func (g *StripeGateway) FetchPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error) {
	result, err := g.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		return paymentintent.Get(paymentID, params)
	})
	if err != nil {
		return nil, fmt.Errorf("payments: stripe fetch payment: %w", err)
	}
	pi := result.(*stripe.PaymentIntent)
	return &models.GatewayPayment{
		ID:               pi.ID,
		Status:           mapStripeStatus(pi.Status),
		AmountMinorUnits: pi.Amount,
		Notes:            pi.Metadata,
	}, nil
}

func mapStripeStatus(status stripe.PaymentIntentStatus) models.GatewayPaymentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return models.GatewayPaymentCaptured
	case stripe.PaymentIntentStatusRequiresCapture:
		return models.GatewayPaymentAuthorized
	case stripe.PaymentIntentStatusCanceled:
		return models.GatewayPaymentFailed
	default:
		return models.GatewayPaymentAuthorized
	}
}

// VerifyWebhookSignature validates a Stripe webhook's signature header
// against secret, never trusting an unsigned or mis-signed payload.
func (g *StripeGateway) VerifyWebhookSignature(rawBody []byte, signature, secret string) error {
	_, err := webhook.ConstructEvent(rawBody, signature, secret)
	if err != nil {
		return fmt.Errorf("payments: webhook signature verification failed: %w", err)
	}
	return nil
}

// Refund issues a Stripe refund of amountMinorUnits against paymentID.
func (g *StripeGateway) Refund(ctx context.Context, paymentID string, amountMinorUnits int64) error {
	_, err := g.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		params := &stripe.RefundParams{
			PaymentIntent: stripe.String(paymentID),
			Amount:        stripe.Int64(amountMinorUnits),
		}
		params.Context = ctx
		return refund.New(params)
	})
	if err != nil {
		return fmt.Errorf("payments: stripe refund: %w", err)
	}
	return nil
}
