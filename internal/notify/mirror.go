package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/outputs/email"
)

// Mirror copies every notification to an email inbox. Failures are logged and never surface.
type Mirror struct {
	sender  email.Sender
	from    string
	to      string
	subject string
}

func NewMirror(sender email.Sender, from, to, subject string) *Mirror {
	if strings.TrimSpace(subject) == "" {
		subject = "New listing"
	}
	return &Mirror{sender: sender, from: from, to: to, subject: subject}
}

func (m *Mirror) Send(ctx context.Context, payload core.Payload) {
	message := email.Message{
		From:    m.from,
		To:      m.to,
		Subject: fmt.Sprintf("%s #%s", m.subject, payload.ItemID),
		Body:    mirrorBody(payload),
	}
	if err := m.sender.Send(ctx, message); err != nil {
		core.LoggerFromContext(ctx).Warn("Email mirror failed", slog.String("item_id", payload.ItemID), slog.String("error", err.Error()))
	}
}

// The caption is already escaped HTML, so only newlines need translating.
func mirrorBody(payload core.Payload) string {
	var b strings.Builder
	b.WriteString("<p>")
	b.WriteString(strings.ReplaceAll(payload.Caption, "\n", "<br>\n"))
	b.WriteString("</p>\n")
	for _, u := range payload.Media {
		fmt.Fprintf(&b, "<img src=\"%s\" alt=\"\" style=\"max-width:320px\">\n", html.EscapeString(u))
	}
	return b.String()
}
