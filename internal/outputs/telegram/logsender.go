package telegram

import (
	"context"
	"log/slog"
	"strings"
)

// LogSender logs instead of sending; used for dry runs.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s LogSender) SendMessage(ctx context.Context, text string) error {
	s.logger().InfoContext(ctx, "Dry run: sendMessage", slog.String("text", text))
	return nil
}

func (s LogSender) SendPhoto(ctx context.Context, photoURL, caption string) error {
	s.logger().InfoContext(ctx, "Dry run: sendPhoto", slog.String("photo", photoURL), slog.String("caption", caption))
	return nil
}

func (s LogSender) SendMediaGroup(ctx context.Context, photoURLs []string, caption string) error {
	s.logger().InfoContext(ctx, "Dry run: sendMediaGroup", slog.String("photos", strings.Join(photoURLs, ",")), slog.String("caption", caption))
	return nil
}
