package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bakkerme/marketwatch/internal/core"
	"github.com/bakkerme/marketwatch/internal/dedupe"
	"github.com/bakkerme/marketwatch/internal/filter"
	"github.com/bakkerme/marketwatch/internal/notify"
	"github.com/bakkerme/marketwatch/internal/observability/otelx"
	"github.com/bakkerme/marketwatch/internal/retry"
	"github.com/bakkerme/marketwatch/internal/sources/marketplace"
)

// QuerySource yields the current list of saved searches.
type QuerySource interface {
	Queries(ctx context.Context) ([]core.Query, error)
}

// Notifier delivers one rendered payload.
type Notifier interface {
	Send(ctx context.Context, payload core.Payload) error
}

type Config struct {
	QueryDelay  time.Duration
	CycleDelay  time.Duration
	CycleJitter time.Duration
}

// Deps groups the collaborators of a Runner.
type Deps struct {
	Queries   QuerySource
	Search    *marketplace.Client
	Policy    filter.Policy
	Formatter *notify.Formatter
	Notifier  Notifier
	Store     dedupe.SeenStore
	// Trigger replaces the fixed cycle delay when set.
	Trigger core.Trigger
}

type Runner struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	rules  map[string]*filter.RulePolicy

	current *core.CycleReport
}

func New(deps Deps, cfg Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case deps.Queries == nil:
		return nil, fmt.Errorf("query source is required")
	case deps.Search == nil:
		return nil, fmt.Errorf("search client is required")
	case deps.Policy == nil:
		return nil, fmt.Errorf("filter policy is required")
	case deps.Formatter == nil:
		return nil, fmt.Errorf("formatter is required")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("notifier is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("seen store is required")
	}
	r := &Runner{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		sleep:  retry.Sleep,
		rules:  map[string]*filter.RulePolicy{},
	}
	deps.Search.OnFailure(func(ctx context.Context, query core.Query, err error) {
		r.current.AddError("search", query.Raw, "", err)
	})
	return r, nil
}

// RunOnce runs a single cycle and reports a failed cycle as an error.
func (r *Runner) RunOnce(ctx context.Context) (core.CycleReport, error) {
	report := r.RunCycle(ctx)
	if report.Status == core.CycleStatusFailed {
		msg := "cycle failed"
		if n := len(report.Errors); n > 0 {
			msg = report.Errors[n-1].Error
		}
		return report, errors.New(msg)
	}
	return report, nil
}

// Run polls until ctx is cancelled. Cycles follow the trigger when one is
// configured, otherwise they are separated by CycleDelay plus jitter.
func (r *Runner) Run(ctx context.Context) error {
	if r.deps.Trigger != nil {
		return r.runTriggered(ctx)
	}
	for {
		r.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := r.nextDelay()
		r.logger.Debug("Sleeping until next cycle", slog.Duration("wait", wait))
		if err := r.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

func (r *Runner) runTriggered(ctx context.Context) error {
	events, err := r.deps.Trigger.Start(ctx)
	if err != nil {
		return fmt.Errorf("start %s trigger: %w", r.deps.Trigger.Name(), err)
	}
	defer func() { _ = r.deps.Trigger.Stop() }()

	r.logger.Info("Waiting for trigger", slog.String("trigger", r.deps.Trigger.Name()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			r.logger.Debug("Trigger fired", slog.String("trigger", event.Source), slog.Time("time", event.Timestamp))
			r.RunCycle(ctx)
		}
	}
}

func (r *Runner) nextDelay() time.Duration {
	wait := r.cfg.CycleDelay
	if r.cfg.CycleJitter > 0 {
		wait += time.Duration(rand.Int63n(int64(r.cfg.CycleJitter)))
	}
	return wait
}

// RunCycle makes one pass over every query. It never panics; failures are
// recorded in the returned report.
func (r *Runner) RunCycle(ctx context.Context) (report core.CycleReport) {
	report = core.CycleReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    core.CycleStatusRunning,
	}
	r.current = &report
	defer func() { r.current = nil }()

	logger := r.logger.With(slog.String("cycle_id", report.ID))
	ctx = core.WithLogger(core.WithCycleID(ctx, report.ID), logger)

	ctx, span := otelx.StartSpan(ctx, "runner", "marketwatch.cycle")
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			report.AddError("cycle", "", "", err)
			report.Status = core.CycleStatusFailed
			logger.Error("Cycle aborted", slog.String("kind", "panic"), slog.String("error", err.Error()))
			span.SetStatus(codes.Error, err.Error())
		}
		completedAt := time.Now().UTC()
		report.CompletedAt = &completedAt
		span.SetAttributes(
			attribute.Int("cycle.queries", report.Queries),
			attribute.Int("cycle.fetched", report.Fetched),
			attribute.Int("cycle.sent", report.Sent),
			attribute.Int("cycle.soft_failed", report.SoftFailed),
		)
	}()

	queries, err := r.deps.Queries.Queries(ctx)
	if err != nil {
		report.AddError("queries", "", "", err)
		report.Status = core.CycleStatusFailed
		logger.Error("Loading queries failed", slog.String("kind", "queries"), slog.String("error", err.Error()))
		span.SetStatus(codes.Error, err.Error())
		return report
	}
	report.Queries = len(queries)
	if len(queries) == 0 {
		logger.Info("No queries to process")
		report.Status = core.CycleStatusCompleted
		return report
	}

	logger.Info("Cycle started", slog.Int("queries", len(queries)))
	for i, query := range queries {
		if ctx.Err() != nil {
			break
		}
		r.runQuery(ctx, query, &report)
		if i < len(queries)-1 {
			if err := r.sleep(ctx, r.cfg.QueryDelay); err != nil {
				break
			}
		}
	}

	report.Status = core.CycleStatusCompleted
	logger.Info("Cycle completed",
		slog.Int("queries", report.Queries),
		slog.Int("fetched", report.Fetched),
		slog.Int("sent", report.Sent),
		slog.Int("soft_failed", report.SoftFailed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("elapsed", time.Since(report.StartedAt)),
	)
	return report
}

func (r *Runner) runQuery(ctx context.Context, query core.Query, report *core.CycleReport) {
	logger := core.LoggerFromContext(ctx).With(slog.String("query", query.Raw))
	ctx = core.WithLogger(core.WithQuery(ctx, query.Raw), logger)

	ctx, span := otelx.StartSpan(ctx, "runner", "marketwatch.query", attribute.Bool("query.url", query.IsURL()))
	defer span.End()

	policy := r.deps.Policy
	if query.Rule != "" {
		rule, err := r.rule(query.Rule)
		if err != nil {
			report.AddError("filter", query.Raw, "", err)
			logger.Warn("Invalid query rule, skipping query", slog.String("error", err.Error()))
			return
		}
		policy = filter.Chain{rule, policy}
	}

	logger.Info("Searching")
	listings := r.deps.Search.Search(ctx, query)
	report.Fetched += len(listings)

	fresh := filter.Apply(ctx, policy, listings)
	report.Skipped += len(listings) - len(fresh)
	span.SetAttributes(attribute.Int("listings.fetched", len(listings)), attribute.Int("listings.new", len(fresh)))

	inBatch := make(map[string]struct{}, len(fresh))
	for _, listing := range fresh {
		if _, dup := inBatch[listing.ID]; dup {
			report.Skipped++
			continue
		}
		inBatch[listing.ID] = struct{}{}

		payload := r.deps.Formatter.Format(listing)
		err := r.deps.Notifier.Send(ctx, payload)
		switch {
		case err == nil:
			report.Sent++
		case errors.Is(err, notify.ErrSoftFailure):
			report.SoftFailed++
			report.AddError("notify", query.Raw, listing.ID, err)
		default:
			// Cancelled mid-send: leave the item unmarked so it is retried next run.
			report.AddError("notify", query.Raw, listing.ID, err)
			return
		}

		// Soft failures are marked as seen as well.
		if err := r.deps.Store.MarkSeen(ctx, listing.ID); err != nil {
			report.AddError("dedupe", query.Raw, listing.ID, err)
			logger.Error("Recording item as seen failed", slog.String("item_id", listing.ID), slog.String("error", err.Error()))
		}
	}
	if len(fresh) > 0 {
		logger.Info("Query processed", slog.Int("listings", len(listings)), slog.Int("new", len(fresh)))
	}
}

func (r *Runner) rule(source string) (*filter.RulePolicy, error) {
	if cached, ok := r.rules[source]; ok {
		return cached, nil
	}
	rule, err := filter.NewRulePolicy(source)
	if err != nil {
		return nil, err
	}
	r.rules[source] = rule
	return rule, nil
}
