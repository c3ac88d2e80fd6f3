package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"pushguard/src/internal/client"
	"pushguard/src/internal/sanitize"
	"pushguard/src/internal/tasks"
)

type Lister interface {
	ListTasks(ctx context.Context) ([]tasks.Record, sanitize.Report, error)
}

// Refresher re-fetches the task listing on a cron schedule so the snapshot
// cache has something fresh even when no browser is polling.
type Refresher struct {
	lister Lister
	spec   string
	c      *cron.Cron
	logger *slog.Logger

	mu    sync.Mutex
	ticks int
}

func New(lister Lister, spec string, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		lister: lister,
		spec:   spec,
		c:      cron.New(cron.WithSeconds()),
		logger: logger.With("component", "refresher"),
	}
}

// Tick runs one refresh.
func (r *Refresher) Tick(ctx context.Context) error {
	records, report, err := r.lister.ListTasks(ctx)
	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()
	if err != nil {
		r.logger.Error("task listing refresh failed", "error", err)
		return err
	}
	r.logger.Debug("task listing refreshed", "records", len(records), "repairs", report.Len())
	return nil
}

func (r *Refresher) Ticks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

// Run schedules Tick until ctx is done. An empty spec disables the schedule.
// A 401 from the backend stops it and Run returns client.ErrUnauthorized.
func (r *Refresher) Run(ctx context.Context) error {
	if r.spec == "" {
		r.logger.Info("listing refresh disabled")
		<-ctx.Done()
		return nil
	}

	unauthorized := make(chan struct{})
	var once sync.Once
	_, err := r.c.AddFunc(r.spec, func() {
		if err := r.Tick(ctx); errors.Is(err, client.ErrUnauthorized) {
			once.Do(func() { close(unauthorized) })
		}
	})
	if err != nil {
		return fmt.Errorf("invalid refresh spec %q: %w", r.spec, err)
	}

	r.c.Start()
	defer func() { <-r.c.Stop().Done() }()
	r.logger.Info("listing refresh scheduled", "spec", r.spec)

	select {
	case <-ctx.Done():
		return nil
	case <-unauthorized:
		r.logger.Warn("listing refresh stopped, session expired")
		return client.ErrUnauthorized
	}
}
