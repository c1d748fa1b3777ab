package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	QueriesFile string
	RunOnce     bool
	DryRun      bool
	LogLevel    string
	Telegram    TelegramEnvConfig
	Marketplace MarketplaceEnvConfig
	Dedup       DedupEnvConfig
	Poll        PollEnvConfig
	Filter      FilterEnvConfig
	Notify      NotifyEnvConfig
	SMTP        SMTPEnvConfig
	Email       EmailEnvConfig
	OTel        OTelEnvConfig
}

type TelegramEnvConfig struct {
	BotToken           string
	ChatID             string
	APIURL             string
	HTTPTimeout        time.Duration
	DisableLinkPreview bool
}

type MarketplaceEnvConfig struct {
	Domain      string
	BaseURL     string
	HTTPTimeout time.Duration
	UserAgent   string
	PageSize    int
}

type DedupEnvConfig struct {
	Backend       string
	Path          string
	Table         string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

type PollEnvConfig struct {
	QueryDelay  time.Duration
	CycleDelay  time.Duration
	CycleJitter time.Duration
	Schedule    string
	Timezone    string
}

type FilterEnvConfig struct {
	Policy string // "dedup", "window", "window+dedup"
	Window time.Duration
	Rule   string
}

type NotifyEnvConfig struct {
	NoPhotos        bool
	FloodBackoff    time.Duration
	FloodRetries    int
	CaptionTemplate string
}

type SMTPEnvConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	TLSMode            string
	InsecureSkipVerify bool
}

type EmailEnvConfig struct {
	From    string
	To      string
	Subject string
}

type OTelEnvConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string // "grpc" or "http/protobuf"
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

// ErrMissingSecrets is returned by Validate when required credentials are absent.
var ErrMissingSecrets = errors.New("missing required secrets")

func LoadEnv() EnvConfig {
	otlpEndpoint := strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""))

	// VINTED_DOMAIN predates MARKETPLACE_DOMAIN and is still honoured.
	domain := envString("MARKETPLACE_DOMAIN", envString("VINTED_DOMAIN", "fr"))

	return EnvConfig{
		QueriesFile: envString("QUERIES_FILE", "queries.txt"),
		RunOnce:     envBool("RUN_ONCE", false),
		DryRun:      envBool("DRY_RUN", false),
		LogLevel:    envString("LOG_LEVEL", "info"),
		Telegram: TelegramEnvConfig{
			BotToken:           envString("TELEGRAM_BOT_TOKEN", ""),
			ChatID:             envString("TELEGRAM_CHAT_ID", ""),
			APIURL:             envString("TELEGRAM_API_URL", "https://api.telegram.org"),
			HTTPTimeout:        envDuration("TELEGRAM_HTTP_TIMEOUT", 30*time.Second),
			DisableLinkPreview: envBool("TELEGRAM_DISABLE_LINK_PREVIEW", false),
		},
		Marketplace: MarketplaceEnvConfig{
			Domain:      strings.TrimPrefix(strings.ToLower(domain), "."),
			BaseURL:     envString("MARKETPLACE_BASE_URL", ""),
			HTTPTimeout: envDuration("MARKETPLACE_HTTP_TIMEOUT", 30*time.Second),
			UserAgent:   envString("MARKETPLACE_USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) marketwatch/0.1"),
			PageSize:    envInt("PAGE_SIZE", 20),
		},
		Dedup: DedupEnvConfig{
			Backend:       strings.ToLower(envString("DEDUP_BACKEND", "sqlite")),
			Path:          envString("DEDUP_PATH", "data/seen.db"),
			Table:         envString("DEDUP_TABLE", "sent_items"),
			TTL:           envDuration("DEDUP_TTL", 0),
			RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
			RedisPassword: envString("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			RedisPrefix:   envString("REDIS_PREFIX", "marketwatch:sent"),
		},
		Poll: PollEnvConfig{
			QueryDelay:  envDuration("QUERY_DELAY", 1200*time.Millisecond),
			CycleDelay:  envDuration("CYCLE_DELAY", 60*time.Second),
			CycleJitter: envDuration("CYCLE_JITTER", 0),
			Schedule:    envString("POLL_SCHEDULE", ""),
			Timezone:    envString("POLL_TIMEZONE", ""),
		},
		Filter: FilterEnvConfig{
			Policy: strings.ToLower(envString("FILTER_POLICY", "dedup")),
			Window: envDuration("FRESHNESS_WINDOW", 2*time.Minute),
			Rule:   envString("FILTER_RULE", ""),
		},
		Notify: NotifyEnvConfig{
			NoPhotos:        envBool("NO_PHOTOS", false),
			FloodBackoff:    envDuration("FLOOD_BACKOFF", 35*time.Second),
			FloodRetries:    envInt("FLOOD_RETRIES", 1),
			CaptionTemplate: envString("CAPTION_TEMPLATE", ""),
		},
		SMTP: SMTPEnvConfig{
			Host:               envString("SMTP_HOST", ""),
			Port:               envInt("SMTP_PORT", 587),
			User:               envString("SMTP_USER", ""),
			Password:           envString("SMTP_PASSWORD", ""),
			TLSMode:            envString("SMTP_TLS_MODE", ""),
			InsecureSkipVerify: envBool("SMTP_INSECURE_SKIP_VERIFY", false),
		},
		Email: EmailEnvConfig{
			From:    envString("EMAIL_FROM", ""),
			To:      envString("EMAIL_TO", ""),
			Subject: envString("EMAIL_SUBJECT", "New listing"),
		},
		OTel: OTelEnvConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			ServiceName: strings.TrimSpace(envString("OTEL_SERVICE_NAME", "marketwatch")),
			Endpoint:    otlpEndpoint,
			Protocol:    strings.ToLower(strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			Headers:     parseHeaders(envString("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", defaultInsecure(otlpEndpoint)),
			SampleRatio: clamp01(envFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0)),
		},
	}
}

// Validate checks the settings the process cannot start without.
// Missing Telegram credentials are reported as ErrMissingSecrets unless
// DryRun is set, in which case nothing is sent anyway.
func (c EnvConfig) Validate() error {
	var missing []string
	if !c.DryRun {
		if c.Telegram.BotToken == "" {
			missing = append(missing, "TELEGRAM_BOT_TOKEN")
		}
		if c.Telegram.ChatID == "" {
			missing = append(missing, "TELEGRAM_CHAT_ID")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSecrets, strings.Join(missing, ", "))
	}
	if c.QueriesFile == "" {
		return fmt.Errorf("queries file is required")
	}
	if c.Marketplace.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.Marketplace.PageSize)
	}
	if c.Notify.FloodRetries < 0 {
		return fmt.Errorf("flood retries must be >= 0, got %d", c.Notify.FloodRetries)
	}
	switch c.Filter.Policy {
	case "dedup", "window", "window+dedup":
	default:
		return fmt.Errorf("unsupported FILTER_POLICY %q (expected dedup, window or window+dedup)", c.Filter.Policy)
	}
	return nil
}

// EmailEnabled reports whether the SMTP mirror has enough configuration to run.
func (c EnvConfig) EmailEnabled() bool {
	return c.SMTP.Host != "" && c.Email.To != ""
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := parseDurationExtended(v)
	if err != nil {
		return fallback
	}
	return d
}

// ParseDuration exposes the extended duration syntax to command-line flags.
func ParseDuration(raw string) (time.Duration, error) {
	return parseDurationExtended(raw)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func defaultInsecure(endpoint string) bool {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return true
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return u.Scheme == "http"
	}
	return strings.HasPrefix(endpoint, "localhost:") ||
		strings.HasPrefix(endpoint, "127.0.0.1:") ||
		strings.HasPrefix(endpoint, "0.0.0.0:")
}
