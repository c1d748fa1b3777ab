package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/observability/otelx"
	"github.com/bakkerme/marketwatch/internal/outputs/telegram"
)

const defaultAPIURL = "https://api.telegram.org"

// Config holds the bot credentials and target chat.
type Config struct {
	APIURL   string
	BotToken string
	ChatID   string
	Timeout  time.Duration

	// DisableLinkPreview suppresses the preview card for links in text messages.
	DisableLinkPreview bool
}

// Client talks to the Telegram Bot API over plain HTTPS.
type Client struct {
	httpClient *http.Client
	apiURL     string
	token      string
	chatID     string
	noPreview  bool
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     apiURL,
		token:      strings.TrimSpace(cfg.BotToken),
		chatID:     strings.TrimSpace(cfg.ChatID),
		noPreview:  cfg.DisableLinkPreview,
		logger:     logger,
	}, nil
}

type inputMediaPhoto struct {
	Type      string `json:"type"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, text string) error {
	return c.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":                  c.chatID,
		"text":                     text,
		"parse_mode":               telegram.ParseModeHTML,
		"disable_web_page_preview": c.noPreview,
	})
}

func (c *Client) SendPhoto(ctx context.Context, photoURL, caption string) error {
	return c.call(ctx, "sendPhoto", map[string]interface{}{
		"chat_id":    c.chatID,
		"photo":      photoURL,
		"caption":    caption,
		"parse_mode": telegram.ParseModeHTML,
	})
}

func (c *Client) SendMediaGroup(ctx context.Context, photoURLs []string, caption string) error {
	if len(photoURLs) < 2 {
		return fmt.Errorf("media group needs at least 2 photos, got %d", len(photoURLs))
	}
	media := make([]inputMediaPhoto, 0, len(photoURLs))
	for i, u := range photoURLs {
		item := inputMediaPhoto{Type: "photo", Media: u}
		if i == 0 {
			item.Caption = caption
			item.ParseMode = telegram.ParseModeHTML
		}
		media = append(media, item)
	}
	return c.call(ctx, "sendMediaGroup", map[string]interface{}{
		"chat_id": c.chatID,
		"media":   media,
	})
}

func (c *Client) call(ctx context.Context, method string, payload map[string]interface{}) (err error) {
	ctx, span := otelx.StartSpan(ctx, "telegram", "telegram."+method, attribute.String("telegram.method", method))
	defer func() { otelx.EndSpan(span, err) }()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	endpoint := c.apiURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, redactToken(err, c.token))
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, redactToken(err, c.token))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	c.logger.Debug("Telegram call finished",
		slog.String("cycle_id", core.CycleIDFromContext(ctx)),
		slog.String("method", method),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(started)),
	)
	return parseResponse(method, resp.StatusCode, raw)
}

// parseResponse turns a Bot API reply into nil, a FloodError or an APIError.
func parseResponse(method string, status int, raw []byte) error {
	parsed := gjson.ParseBytes(raw)
	if status >= 200 && status < 300 && parsed.Get("ok").Bool() {
		return nil
	}
	description := strings.TrimSpace(parsed.Get("description").String())
	if description == "" {
		description = strings.TrimSpace(string(raw))
		if len(description) > 200 {
			description = description[:200]
		}
	}
	if description == "" {
		description = http.StatusText(status)
	}
	retryAfter := time.Duration(parsed.Get("parameters.retry_after").Int()) * time.Second
	if status == http.StatusTooManyRequests || retryAfter > 0 || telegram.IsFloodDescription(description) {
		return &telegram.FloodError{RetryAfter: retryAfter, Description: description}
	}
	return &telegram.APIError{
		Method:      method,
		StatusCode:  status,
		ErrorCode:   int(parsed.Get("error_code").Int()),
		Description: description,
	}
}

// redactToken keeps the bot token out of transport errors, which embed the request URL.
func redactToken(err error, token string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	if token != "" && strings.Contains(err.Error(), token) {
		return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
	}
	return err
}
