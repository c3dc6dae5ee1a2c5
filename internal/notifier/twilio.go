package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/resilience"
)

// TwilioNotifier implements Notifier over the Twilio Programmable
// Messaging API, circuit-broken the same way internal/payments.StripeGateway
// guards Stripe — an SMS provider outage degrades gracefully into a
// skipped text rather than stalling the sweeper/pipeline caller.
type TwilioNotifier struct {
	client     *twilio.RestClient
	fromNumber string
	breaker    *resilience.CircuitBreaker
	logger     *zap.Logger
}

// NewTwilioNotifier builds a TwilioNotifier. accountSid/authToken are
// pulled from Vault-backed secrets at startup by the caller, matching how
// this tree treats every other third-party credential.
func NewTwilioNotifier(accountSid, authToken, fromNumber string, logger *zap.Logger) *TwilioNotifier {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	breaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:    "twilio-notifier",
		Timeout: 30 * time.Second,
	}, resilience.GracefulDegradation("twilio-notifier"))
	return &TwilioNotifier{client: client, fromNumber: fromNumber, breaker: breaker, logger: logger}
}

// NotifySMS sends body to toPhone via Twilio.
func (n *TwilioNotifier) NotifySMS(ctx context.Context, toPhone, body string) error {
	params := &openapi.CreateMessageParams{}
	params.SetTo(toPhone)
	params.SetFrom(n.fromNumber)
	params.SetBody(body)

	_, err := n.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return n.client.Api.CreateMessage(params)
	})
	if err != nil {
		return fmt.Errorf("notifier: send sms: %w", err)
	}
	return nil
}
