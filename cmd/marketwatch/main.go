package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bakkerme/marketwatch/internal/config"
	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/dedupe"
	"github.com/bakkerme/marketwatch/internal/filter"
	"github.com/bakkerme/marketwatch/internal/notify"
	"github.com/bakkerme/marketwatch/internal/observability/otelx"
	"github.com/bakkerme/marketwatch/internal/outputs/email/smtp"
	"github.com/bakkerme/marketwatch/internal/outputs/telegram"
	telegramimpl "github.com/bakkerme/marketwatch/internal/outputs/telegram/impl"
	"github.com/bakkerme/marketwatch/internal/queries"
	"github.com/bakkerme/marketwatch/internal/runner"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace"
	marketplaceimpl "github.com/bakkerme/marketwatch/internal/sources/marketplace/impl"
	"github.com/bakkerme/marketwatch/internal/trigger"
)

// durationFlag accepts the same syntax as duration env vars, including bare seconds.
type durationFlag struct {
	d *time.Duration
}

func (f durationFlag) String() string {
	if f.d == nil {
		return ""
	}
	return f.d.String()
}

func (f durationFlag) Set(raw string) error {
	d, err := config.ParseDuration(raw)
	if err != nil {
		return err
	}
	*f.d = d
	return nil
}

func main() {
	// A missing .env is normal in production.
	_ = godotenv.Load()
	cfg := config.LoadEnv()

	flag.StringVar(&cfg.QueriesFile, "file", cfg.QueriesFile, "queries file (one per line, .csv/.tsv with a url column, or .yaml)")
	flag.StringVar(&cfg.Dedup.Path, "db", cfg.Dedup.Path, "sqlite database used to remember sent items")
	flag.IntVar(&cfg.Marketplace.PageSize, "per-page", cfg.Marketplace.PageSize, "max listings fetched per query")
	flag.Var(durationFlag{&cfg.Poll.QueryDelay}, "sleep", "pause between queries (seconds or duration)")
	flag.StringVar(&cfg.Marketplace.Domain, "domain", cfg.Marketplace.Domain, "marketplace domain suffix (fr, de, pl, ...)")
	flag.BoolVar(&cfg.Notify.NoPhotos, "no-photos", cfg.Notify.NoPhotos, "send text messages only")
	flag.BoolVar(&cfg.RunOnce, "run-once", cfg.RunOnce, "run a single cycle and exit")
	flag.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "log notifications instead of sending them and keep seen items in memory")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: core.ParseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingSecrets) {
			log.Fatalf("set TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID in the environment: %v", err)
		}
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otelx.Init(ctx, logger, cfg.OTel)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	if shutdownTracing != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(shutdownCtx)
		}()
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open seen store: %v", err)
	}
	defer store.Close()

	r, err := buildRunner(cfg, store, logger)
	if err != nil {
		log.Fatalf("failed to build runner: %v", err)
	}

	logger.Info("Starting marketwatch",
		slog.String("queries_file", cfg.QueriesFile),
		slog.String("domain", cfg.Marketplace.Domain),
		slog.String("dedup_backend", cfg.Dedup.Backend),
		slog.String("filter_policy", cfg.Filter.Policy),
		slog.Bool("run_once", cfg.RunOnce),
		slog.Bool("dry_run", cfg.DryRun),
	)

	if cfg.RunOnce {
		report, err := r.RunOnce(ctx)
		if err != nil {
			log.Fatalf("run failed: %v", err)
		}
		logger.Info("Done", slog.Int("sent", report.Sent), slog.Int("soft_failed", report.SoftFailed))
		return
	}

	if err := r.Run(ctx); err != nil {
		log.Fatalf("runner stopped: %v", err)
	}
	logger.Info("Shutting down")
}

func openStore(cfg config.EnvConfig) (dedupe.SeenStore, error) {
	if cfg.DryRun {
		return dedupe.NewMemoryStore(cfg.Dedup.TTL), nil
	}
	return dedupe.Open(dedupe.Config{
		Backend: cfg.Dedup.Backend,
		Path:    cfg.Dedup.Path,
		Table:   cfg.Dedup.Table,
		TTL:     cfg.Dedup.TTL,
		Redis: dedupe.RedisConfig{
			Addr:      cfg.Dedup.RedisAddr,
			Password:  cfg.Dedup.RedisPassword,
			DB:        cfg.Dedup.RedisDB,
			KeyPrefix: cfg.Dedup.RedisPrefix,
		},
	})
}

func buildRunner(cfg config.EnvConfig, store dedupe.SeenStore, logger *slog.Logger) (*runner.Runner, error) {
	searcher, err := marketplaceimpl.NewClient(marketplace.Config{
		Domain:    cfg.Marketplace.Domain,
		BaseURL:   cfg.Marketplace.BaseURL,
		Timeout:   cfg.Marketplace.HTTPTimeout,
		UserAgent: cfg.Marketplace.UserAgent,
	}, logger)
	if err != nil {
		return nil, err
	}

	policy, err := filter.FromName(cfg.Filter.Policy, store, cfg.Filter.Window)
	if err != nil {
		return nil, err
	}
	if cfg.Filter.Rule != "" {
		rule, err := filter.NewRulePolicy(cfg.Filter.Rule)
		if err != nil {
			return nil, err
		}
		policy = filter.Chain{rule, policy}
	}

	formatter, err := notify.NewFormatterFromFile(cfg.Notify.CaptionTemplate)
	if err != nil {
		return nil, err
	}

	var sender telegram.Sender = telegram.LogSender{Logger: logger}
	if !cfg.DryRun {
		sender, err = telegramimpl.NewClient(telegramimpl.Config{
			APIURL:             cfg.Telegram.APIURL,
			BotToken:           cfg.Telegram.BotToken,
			ChatID:             cfg.Telegram.ChatID,
			Timeout:            cfg.Telegram.HTTPTimeout,
			DisableLinkPreview: cfg.Telegram.DisableLinkPreview,
		}, logger)
		if err != nil {
			return nil, err
		}
	}
	notifier := notify.NewNotifier(sender, notify.Options{
		NoPhotos:        cfg.Notify.NoPhotos,
		FloodBackoff:    cfg.Notify.FloodBackoff,
		MaxFloodRetries: cfg.Notify.FloodRetries,
	})
	if cfg.EmailEnabled() {
		mailer, err := smtp.NewSender(smtp.Config{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.User,
			Password:           cfg.SMTP.Password,
			TLSMode:            cfg.SMTP.TLSMode,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		})
		if err != nil {
			return nil, err
		}
		notifier.WithMirror(notify.NewMirror(mailer, cfg.Email.From, cfg.Email.To, cfg.Email.Subject))
	}

	deps := runner.Deps{
		Queries:   queries.NewSource(cfg.QueriesFile, logger),
		Search:    marketplace.NewClient(searcher, cfg.Marketplace.PageSize, logger),
		Policy:    policy,
		Formatter: formatter,
		Notifier:  notifier,
		Store:     store,
	}
	if cfg.Poll.Schedule != "" && !cfg.RunOnce {
		cron, err := trigger.NewCron(cfg.Poll.Schedule, cfg.Poll.Timezone)
		if err != nil {
			return nil, err
		}
		deps.Trigger = cron
	}

	return runner.New(deps, runner.Config{
		QueryDelay:  cfg.Poll.QueryDelay,
		CycleDelay:  cfg.Poll.CycleDelay,
		CycleJitter: cfg.Poll.CycleJitter,
	}, logger)
}
