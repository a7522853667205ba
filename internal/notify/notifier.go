// Package notify delivers per-account notifications. Each notification is
// addressed to an account; senders that support direct delivery (Telegram)
// route it to that account's chat, broadcast senders (Discord webhooks)
// post it to the shared channel. Events can be filtered so accounts only
// receive the alerts that were configured.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SystemAccount addresses notifications at the operator rather than a
// specific account.
const SystemAccount = "system"

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification to the given chat. Senders without
	// per-chat routing may ignore chatID.
	Send(ctx context.Context, chatID, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a
// set of allowed event types; Notify only forwards messages whose event
// type is in the allowed set.
type Notifier struct {
	senders   []Sender
	events    map[string]bool
	opsChatID string
	logger    *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
// Only events whose type appears in the events slice are forwarded; if
// events is empty, all event types pass. Notifications addressed to
// SystemAccount are routed to opsChatID.
func NewNotifier(senders []Sender, events []string, opsChatID string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders:   senders,
		events:    allowed,
		opsChatID: opsChatID,
		logger:    logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification for an account if the event type is in the
// allowed list. If no events were configured, all events pass.
func (n *Notifier) Notify(ctx context.Context, accountID, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	chatID := accountID
	if accountID == "" || accountID == SystemAccount {
		chatID = n.opsChatID
	}
	return n.dispatch(ctx, chatID, title, message)
}

// NotifyOps sends a notification to the operator channel regardless of
// event type.
func (n *Notifier) NotifyOps(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, n.opsChatID, title, message)
}

// dispatch iterates over all senders. Errors from individual senders are
// collected and returned combined; one sender failing does not prevent
// delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, chatID, title, message string) error {
	if len(n.senders) == 0 || chatID == "" {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, chatID, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
