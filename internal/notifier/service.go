package notifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Service formats and sends the two rider-facing SMS notifications this
// system's core dispatch logic triggers: the Auto-Cancel Sweeper (spec
// §4.5 step 3) and the Dispatch Pipeline's no-candidates fallback (spec
// §4.1 step 4, §4.4 step 4). A nil phone is treated as "no SMS channel
// on file" and silently skipped — the socket/room channels still carry
// the event regardless.
type Service struct {
	notifier Notifier
	logger   *zap.Logger
}

// NewService builds a notifier Service.
func NewService(n Notifier, logger *zap.Logger) *Service {
	return &Service{notifier: n, logger: logger}
}

// NotifyAutoCancelled sends the rider an SMS explaining their ride was
// auto-cancelled for want of an accepting driver.
func (s *Service) NotifyAutoCancelled(ctx context.Context, phone *string, reason string) {
	s.send(ctx, phone, fmt.Sprintf("Your ride request was cancelled: %s. Please try requesting again.", reason))
}

// NotifyNoDriverFound sends the rider an SMS when a dispatch round (or
// the rejection cascade) exhausts its radius schedule without a driver.
func (s *Service) NotifyNoDriverFound(ctx context.Context, phone *string, reason string) {
	s.send(ctx, phone, fmt.Sprintf("No drivers available right now: %s.", reason))
}

func (s *Service) send(ctx context.Context, phone *string, body string) {
	if phone == nil || *phone == "" {
		return
	}
	if err := s.notifier.NotifySMS(ctx, *phone, body); err != nil {
		s.logger.Warn("notifier: failed to send sms, relying on socket channels", zap.Error(err))
	}
}
