// Package notifier is the opaque SMS notification contract used as a
// best-effort second channel alongside the socket/room events the
// Dispatch Pipeline and Auto-Cancel Sweeper already emit: a rider whose
// app is backgrounded or disconnected still gets a text when their ride
// is auto-cancelled or no driver can be found.
package notifier

import "context"

// Notifier delivers a single SMS body to a phone number. It never
// inspects or depends on a provider-specific payload.
type Notifier interface {
	NotifySMS(ctx context.Context, toPhone, body string) error
}
