package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ParseModeHTML is the only parse mode captions are rendered for.
const ParseModeHTML = "HTML"

// Sender delivers messages to a single chat.
type Sender interface {
	SendMessage(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, photoURL, caption string) error
	// SendMediaGroup sends 2-10 photos as an album; caption is attached to the first one.
	SendMediaGroup(ctx context.Context, photoURLs []string, caption string) error
}

// FloodError means the Bot API asked us to slow down.
type FloodError struct {
	RetryAfter  time.Duration
	Description string
}

func (e *FloodError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram flood control: retry after %s: %s", e.RetryAfter, e.Description)
	}
	return fmt.Sprintf("telegram flood control: %s", e.Description)
}

// APIError is any other non-ok Bot API response.
type APIError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (status %d, code %d): %s", e.Method, e.StatusCode, e.ErrorCode, e.Description)
}

// AsFlood extracts a FloodError from err, if any.
func AsFlood(err error) (*FloodError, bool) {
	var flood *FloodError
	if errors.As(err, &flood) {
		return flood, true
	}
	return nil, false
}

// IsFloodDescription matches the wording Telegram and its proxies use for rate limiting.
func IsFloodDescription(description string) bool {
	lower := strings.ToLower(description)
	return strings.Contains(lower, "too many requests") || strings.Contains(lower, "floodwait") || strings.Contains(lower, "flood_wait")
}
