// Package notify pushes high-scoring signals to operators over Telegram and
// Discord. Each signal kind is an event type, and only configured events are
// forwarded.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polygraph/internal/config"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a notification out to every Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// FromConfig builds a Notifier with a sender for every configured channel.
// It returns nil when no channel is configured.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	var senders []Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return NewNotifier(senders, cfg.Events, logger)
}

// Notify delivers to every sender if event is allowed. A failing sender does
// not stop delivery to the others; all failures are joined in the result.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
