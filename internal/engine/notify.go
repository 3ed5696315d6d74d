package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"mines-wager-bot/internal/metrics"
)

// Notifier renders engine events. Calls happen after the session's exclusive
// section is released and may block on network I/O.
type Notifier interface {
	SessionCreated(ctx context.Context, v MinesView) error
	BoardUpdated(ctx context.Context, v MinesView) error
	SessionSettled(ctx context.Context, s Settlement) error
	InvitationIssued(ctx context.Context, inv Invitation) error
	InvitationAccepted(ctx context.Context, v DuelView) error
	InvitationExpired(ctx context.Context, inv Invitation) error
	DuelUpdated(ctx context.Context, v DuelView) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) SessionCreated(context.Context, MinesView) error { return nil }
func (NopNotifier) BoardUpdated(context.Context, MinesView) error { return nil }
func (NopNotifier) SessionSettled(context.Context, Settlement) error { return nil }
func (NopNotifier) InvitationIssued(context.Context, Invitation) error { return nil }
func (NopNotifier) InvitationAccepted(context.Context, DuelView) error { return nil }
func (NopNotifier) InvitationExpired(context.Context, Invitation) error { return nil }
func (NopNotifier) DuelUpdated(context.Context, DuelView) error { return nil }

// notify runs one outbound call. Failures are logged and returned wrapped in
// ErrNotify; session state is never rolled back.
func (e *Engine) notify(event string, key Key, send func() error) error {
	if err := send(); err != nil {
		metrics.NotifyFailures.WithLabelValues(event).Inc()
		log.Warn().
			Err(err).
			Str("event", event).
			Int64("chat_id", key.ChatID).
			Int64("user_id", key.UserID).
			Msg("Notification failed")
		return fmt.Errorf("%w: %s: %w", ErrNotify, event, err)
	}
	return nil
}
