package guard

import (
	"context"
	"log/slog"
	"time"

	"pushguard/src/internal/dom"
)

// Watcher re-arms the installer whenever nodes are added under the body.
type Watcher struct {
	doc   dom.Document
	inst  *Installer
	retry time.Duration
	log   *slog.Logger
}

func NewWatcher(doc dom.Document, inst *Installer, retry time.Duration, logger *slog.Logger) *Watcher {
	if retry <= 0 {
		retry = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{doc: doc, inst: inst, retry: retry, log: logger.With("component", "mutation_watcher")}
}

// Run waits for the body to exist, observes it until ctx is done and
// returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	body := w.doc.Body()
	for body == nil {
		w.log.Debug("document body not ready, retrying", "delay", w.retry)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.retry):
		}
		body = w.doc.Body()
	}

	stop := w.doc.Observe(body, func(ms []dom.Mutation) {
		for _, m := range ms {
			if m.AddedNodes > 0 {
				w.inst.Schedule()
				return
			}
		}
	})
	defer stop()
	defer w.inst.Stop()

	w.inst.Schedule()
	w.log.Info("watching document for new controls")

	<-ctx.Done()
	return ctx.Err()
}

// Start runs the watcher on its own goroutine.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("mutation watcher stopped", "error", err)
		}
	}()
}
