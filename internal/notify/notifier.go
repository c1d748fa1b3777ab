package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/outputs/telegram"
	"github.com/bakkerme/marketwatch/internal/retry"
)

// ErrSoftFailure wraps every delivery failure the loop should count and move past.
var ErrSoftFailure = errors.New("notification not delivered")

// DefaultFloodBackoff is the minimum pause after Telegram flood control kicks in.
const DefaultFloodBackoff = 35 * time.Second

type Options struct {
	// NoPhotos forces the text path even when the payload has media.
	NoPhotos bool
	// FloodBackoff is the minimum wait after a flood error; the server's retry_after wins when larger.
	FloodBackoff time.Duration
	// MaxFloodRetries bounds how many times a flooded send is retried.
	MaxFloodRetries int
	// Sleep is swapped out in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Notifier delivers payloads to Telegram and optionally mirrors them by email.
type Notifier struct {
	sender telegram.Sender
	opts   Options
	mirror *Mirror
}

func NewNotifier(sender telegram.Sender, opts Options) *Notifier {
	if opts.FloodBackoff <= 0 {
		opts.FloodBackoff = DefaultFloodBackoff
	}
	if opts.MaxFloodRetries < 0 {
		opts.MaxFloodRetries = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	return &Notifier{sender: sender, opts: opts}
}

// WithMirror attaches an email mirror; nil disables it.
func (n *Notifier) WithMirror(m *Mirror) *Notifier {
	n.mirror = m
	return n
}

// Send delivers one payload. Failures come back wrapped in ErrSoftFailure,
// except context cancellation which is returned as is.
func (n *Notifier) Send(ctx context.Context, payload core.Payload) error {
	logger := core.LoggerFromContext(ctx).With(slog.String("item_id", payload.ItemID))

	if n.mirror != nil {
		n.mirror.Send(ctx, payload)
	}

	method := n.route(payload)
	for attempt := 0; ; attempt++ {
		err := n.deliver(ctx, method, payload)
		if err == nil {
			logger.Debug("Notification sent", slog.String("method", method), slog.Int("attempt", attempt+1))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		flood, isFlood := telegram.AsFlood(err)
		if !isFlood {
			logger.Warn("Notification failed", slog.String("method", method), slog.String("error", err.Error()))
			return fmt.Errorf("%w: %s: %v", ErrSoftFailure, method, err)
		}
		if attempt >= n.opts.MaxFloodRetries {
			logger.Warn("Flood control persisted, giving up on item", slog.String("method", method), slog.Int("attempts", attempt+1))
			return fmt.Errorf("%w: %s: %v", ErrSoftFailure, method, err)
		}

		wait := n.opts.FloodBackoff
		if flood.RetryAfter > wait {
			wait = flood.RetryAfter
		}
		logger.Info("Flood control exceeded, backing off", slog.Duration("wait", wait))
		if err := n.opts.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (n *Notifier) route(payload core.Payload) string {
	switch {
	case n.opts.NoPhotos || !payload.HasMedia():
		return "sendMessage"
	case len(payload.Media) == 1:
		return "sendPhoto"
	default:
		return "sendMediaGroup"
	}
}

func (n *Notifier) deliver(ctx context.Context, method string, payload core.Payload) error {
	switch method {
	case "sendPhoto":
		return n.sender.SendPhoto(ctx, payload.Media[0], payload.Caption)
	case "sendMediaGroup":
		media := payload.Media
		if len(media) > core.MaxMedia {
			media = media[:core.MaxMedia]
		}
		return n.sender.SendMediaGroup(ctx, media, payload.Caption)
	default:
		return n.sender.SendMessage(ctx, payload.Caption)
	}
}
