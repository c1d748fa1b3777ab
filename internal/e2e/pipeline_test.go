//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPollCycleE2E(t *testing.T) {
	if os.Getenv("MARKETWATCH_E2E") == "" {
		t.Skip("set MARKETWATCH_E2E=1 to enable e2e tests")
	}

	repoRoot, err := findRepoRoot()
	if err != nil {
		t.Fatalf("find repo root: %v", err)
	}

	composeFile := getenv("MAILPIT_COMPOSE_FILE", filepath.Join(repoRoot, "docker-compose.yml"))
	apiBase := strings.TrimRight(getenv("MAILPIT_API_BASE", "http://localhost:8025"), "/")

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := dockerCompose(ctx, repoRoot, composeFile, "up", "-d", "mailpit"); err != nil {
		t.Fatalf("docker compose up: %v", err)
	}
	if os.Getenv("MAILPIT_KEEP_RUNNING") == "" {
		t.Cleanup(func() {
			_ = dockerCompose(context.Background(), repoRoot, composeFile, "down")
		})
	}

	waitForHTTP200(t, ctx, apiBase+"/api/v1/messages")
	_ = httpDo(ctx, http.MethodDelete, apiBase+"/api/v1/messages", nil)

	runID := fmt.Sprintf("%d-%d", time.Now().Unix(), rand.IntN(1_000_000))

	marketplace := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			http.SetCookie(w, &http.Cookie{Name: "access_token_web", Value: "e2e", Path: "/"})
		case "/api/v2/catalog/items":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, strings.ReplaceAll(catalogFixtureJSON, "__RUN_ID__", runID))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(marketplace.Close)

	var mu sync.Mutex
	var telegramCalls []string
	telegram := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		telegramCalls = append(telegramCalls, path.Base(r.URL.Path))
		mu.Unlock()
		_, _ = io.WriteString(w, `{"ok": true, "result": {}}`)
	}))
	t.Cleanup(telegram.Close)

	dir := t.TempDir()
	queriesFile := filepath.Join(dir, "queries.txt")
	if err := os.WriteFile(queriesFile, []byte("# e2e\nnike dunk 42\n"), 0o600); err != nil {
		t.Fatalf("write queries file: %v", err)
	}

	env := append(os.Environ(),
		"TELEGRAM_BOT_TOKEN=123:e2e",
		"TELEGRAM_CHAT_ID=-1",
		"TELEGRAM_API_URL="+telegram.URL,
		"MARKETPLACE_BASE_URL="+marketplace.URL,
		"DEDUP_BACKEND=sqlite",
		"DEDUP_PATH="+filepath.Join(dir, "seen.db"),
		"SMTP_HOST=localhost",
		"SMTP_PORT=1025",
		"SMTP_TLS_MODE=disabled",
		"EMAIL_FROM=marketwatch@example.com",
		"EMAIL_TO=dev@example.com",
		"EMAIL_SUBJECT=Marketwatch E2E "+runID,
	)

	for i := 0; i < 2; i++ {
		cmd := exec.CommandContext(ctx, "go", "run", "./cmd/marketwatch", "--file", queriesFile, "--run-once", "--sleep", "0")
		cmd.Dir = repoRoot
		cmd.Env = env
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("marketwatch run %d failed: %v\n%s", i+1, err, out)
		}
	}

	mu.Lock()
	calls := append([]string(nil), telegramCalls...)
	mu.Unlock()
	// The second run must find both items in the seen store.
	if len(calls) != 2 || calls[0] != "sendMediaGroup" || calls[1] != "sendMessage" {
		t.Fatalf("unexpected telegram calls: %v", calls)
	}

	msgID := waitForMailpitMessageID(t, ctx, apiBase, runID)
	raw := mustHTTPGet(t, ctx, apiBase+"/api/v1/message/"+msgID)

	var msg mailpitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("parse message json: %v\n%s", err, raw)
	}
	body := firstNonEmpty(msg.HTML, msg.Text, msg.Body)
	if !strings.Contains(body, "Marketwatch E2E Dunk") {
		t.Fatalf("expected listing title in mirrored email, got %q", body)
	}
}

const catalogFixtureJSON = `{
  "items": [
    {
      "id": 910001,
      "title": "Marketwatch E2E Dunk __RUN_ID__",
      "price": {"amount": "45.0", "currency_code": "EUR"},
      "brand_title": "Nike",
      "size_title": "42",
      "photos": [{"url": "https://images.example/1.jpg"}, {"url": "https://images.example/2.jpg"}]
    },
    {
      "id": 910002,
      "title": "Marketwatch E2E Plain __RUN_ID__",
      "price": {"amount": "12.0", "currency_code": "EUR"}
    }
  ]
}`

type mailpitMessagesResponse struct {
	Messages []mailpitMessageSummary `json:"messages"`
}

type mailpitMessageSummary struct {
	ID      string `json:"ID"`
	Subject string `json:"Subject"`
}

type mailpitMessage struct {
	Subject string `json:"Subject"`
	HTML    string `json:"HTML"`
	Text    string `json:"Text"`
	Body    string `json:"Body"`
}

func waitForMailpitMessageID(t *testing.T, ctx context.Context, apiBase string, runID string) string {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		raw := mustHTTPGet(t, ctx, apiBase+"/api/v1/messages")
		var res mailpitMessagesResponse
		_ = json.Unmarshal(raw, &res)
		for _, m := range res.Messages {
			if strings.Contains(m.Subject, runID) && m.ID != "" {
				return m.ID
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for mailpit message with run id %q", runID)
	return ""
}

func dockerCompose(ctx context.Context, repoRoot string, composeFile string, args ...string) error {
	all := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", all...)
	cmd.Dir = repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%v: %w\n%s", cmd.Args, err, out)
	}
	return nil
}

func waitForHTTP200(t *testing.T, ctx context.Context, url string) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := http.DefaultClient.Do(req)
		if err == nil && resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", url)
}

func mustHTTPGet(t *testing.T, ctx context.Context, url string) []byte {
	t.Helper()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.Fatalf("GET %s: status=%d body=%s", url, resp.StatusCode, body)
	}
	return body
}

func httpDo(ctx context.Context, method string, url string, body []byte) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, _ := http.NewRequestWithContext(ctx, method, url, r)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status=%d", method, url, resp.StatusCode)
	}
	return nil
}

func findRepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		next := filepath.Dir(dir)
		if next == dir {
			break
		}
		dir = next
	}
	return "", errors.New("go.mod not found in parent directories")
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
