package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/outputs/telegram"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, apiURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{APIURL: apiURL, BotToken: "123:secret", ChatID: "-100", Timeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestSendMediaGroupPutsCaptionOnFirstPhoto(t *testing.T) {
	t.Parallel()

	var gotPath string
	var got struct {
		ChatID string            `json:"chat_id"`
		Media  []inputMediaPhoto `json:"media"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true, "result": []}`))
	}))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	if err := client.SendMediaGroup(context.Background(), []string{"https://img/1", "https://img/2", "https://img/3"}, "<b>hi</b>"); err != nil {
		t.Fatalf("SendMediaGroup() error = %v", err)
	}
	if gotPath != "/bot123:secret/sendMediaGroup" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if got.ChatID != "-100" || len(got.Media) != 3 {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.Media[0].Caption != "<b>hi</b>" || got.Media[0].ParseMode != telegram.ParseModeHTML {
		t.Fatalf("expected caption on first photo, got %+v", got.Media[0])
	}
	for _, m := range got.Media[1:] {
		if m.Caption != "" {
			t.Fatalf("expected caption only on first photo, got %+v", m)
		}
	}
}

func TestSendMediaGroupRejectsSinglePhoto(t *testing.T) {
	client := newTestClient(t, "http://unused")
	if err := client.SendMediaGroup(context.Background(), []string{"https://img/1"}, "x"); err == nil {
		t.Fatalf("expected error for single-photo album")
	}
}

func TestSendMessageUsesHTMLParseMode(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "https://api.example")
	client.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		if !strings.Contains(string(body), `"parse_mode":"HTML"`) || !strings.Contains(string(body), `"text":"hello"`) {
			return &http.Response{StatusCode: http.StatusBadRequest, Body: io.NopCloser(strings.NewReader(`{"ok":false,"description":"bad"}`))}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"ok":true}`))}, nil
	})
	if err := client.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
}

func TestSendMessageLinkPreviewFlag(t *testing.T) {
	for _, disable := range []bool{false, true} {
		client, err := NewClient(Config{APIURL: "https://api.example", BotToken: "123:secret", ChatID: "-100", DisableLinkPreview: disable}, nil)
		if err != nil {
			t.Fatalf("NewClient() error = %v", err)
		}
		var got map[string]interface{}
		client.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
			_ = json.NewDecoder(req.Body).Decode(&got)
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"ok":true}`))}, nil
		})
		if err := client.SendMessage(context.Background(), "https://example.com/items/1"); err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
		if v, ok := got["disable_web_page_preview"].(bool); !ok || v != disable {
			t.Fatalf("disable_web_page_preview=%v (present=%v) want %v", got["disable_web_page_preview"], ok, disable)
		}
	}
}

func TestCallCarriesCycleIDOnSpanAndLog(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client, err := NewClient(Config{APIURL: "https://api.example", BotToken: "123:secret", ChatID: "-100"}, logger)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	client.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"ok":true}`))}, nil
	})

	ctx := core.WithCycleID(context.Background(), "cycle-42")
	if err := client.SendMessage(ctx, "hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	if !strings.Contains(logs.String(), "cycle_id=cycle-42") {
		t.Fatalf("expected cycle_id in log output, got %q", logs.String())
	}
	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Name() != "telegram.sendMessage" {
		t.Fatalf("expected one telegram.sendMessage span, got %d", len(ended))
	}
	found := false
	for _, kv := range ended[0].Attributes() {
		if kv.Key == "cycle.id" && kv.Value.AsString() == "cycle-42" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cycle.id attribute, got %v", ended[0].Attributes())
	}
}

func TestParseResponse(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		wantFlood  bool
		wantAfter  time.Duration
		wantAPIErr bool
	}{
		{name: "ok", status: 200, body: `{"ok":true}`},
		{name: "429 with retry_after", status: 429, body: `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 12","parameters":{"retry_after":12}}`, wantFlood: true, wantAfter: 12 * time.Second},
		{name: "flood wording on 400", status: 400, body: `{"ok":false,"description":"FLOOD_WAIT_X"}`, wantFlood: true},
		{name: "bad request", status: 400, body: `{"ok":false,"error_code":400,"description":"Bad Request: wrong file identifier"}`, wantAPIErr: true},
		{name: "non-json gateway error", status: 502, body: `<html>bad gateway</html>`, wantAPIErr: true},
		{name: "200 but not ok", status: 200, body: `{"ok":false,"description":"weird"}`, wantAPIErr: true},
	}
	for _, tc := range cases {
		err := parseResponse("sendPhoto", tc.status, []byte(tc.body))
		flood, isFlood := telegram.AsFlood(err)
		var apiErr *telegram.APIError
		isAPI := errors.As(err, &apiErr)
		switch {
		case tc.wantFlood:
			if !isFlood || flood.RetryAfter != tc.wantAfter {
				t.Fatalf("%s: expected flood error with retry %s, got %v", tc.name, tc.wantAfter, err)
			}
		case tc.wantAPIErr:
			if !isAPI {
				t.Fatalf("%s: expected api error, got %v", tc.name, err)
			}
		default:
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
		}
	}
}

func TestTransportErrorsDoNotLeakToken(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")
	client.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	err := client.SendMessage(context.Background(), "x")
	if err == nil {
		t.Fatalf("expected error")
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("token leaked in error: %v", err)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{ChatID: "1"}, nil); err == nil {
		t.Fatalf("expected missing token error")
	}
	if _, err := NewClient(Config{BotToken: "t"}, nil); err == nil {
		t.Fatalf("expected missing chat id error")
	}
}
