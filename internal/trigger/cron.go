package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bakkerme/marketwatch/internal/core"
)

// Cron fires poll cycles on a cron schedule. Standard five-field specs
// and descriptors such as "@every 90s" are accepted.
type Cron struct {
	schedule string
	location *time.Location

	mu     sync.Mutex
	cron   *cron.Cron
	events chan core.TriggerEvent
}

func NewCron(schedule, timezone string) (*Cron, error) {
	if schedule == "" {
		return nil, fmt.Errorf("cron schedule is required")
	}
	location := time.UTC
	if timezone != "" {
		tz, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone: %w", err)
		}
		location = tz
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return &Cron{schedule: schedule, location: location}, nil
}

func (c *Cron) Name() string {
	return "cron"
}

func (c *Cron) Start(ctx context.Context) (<-chan core.TriggerEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil, fmt.Errorf("cron trigger already started")
	}

	events := make(chan core.TriggerEvent, 1)
	scheduler := cron.New(cron.WithLocation(c.location))
	_, err := scheduler.AddFunc(c.schedule, func() {
		// A cycle still running when the next tick lands absorbs that tick.
		select {
		case events <- core.TriggerEvent{Source: c.Name(), Timestamp: time.Now().UTC()}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	c.cron = scheduler
	c.events = events
	scheduler.Start()

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return events, nil
}

func (c *Cron) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron == nil {
		return nil
	}
	<-c.cron.Stop().Done()
	close(c.events)
	c.cron = nil
	return nil
}
