package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"pushguard/src/internal/client"
	"pushguard/src/internal/config"
	"pushguard/src/internal/guard"
	"pushguard/src/internal/intercept"
	"pushguard/src/internal/journal"
	"pushguard/src/internal/refresh"
	"pushguard/src/internal/sanitize"
	"pushguard/src/internal/storage"
)

// Gateway wires the interceptor, its snapshot cache and everything that
// consumes published listings.
type Gateway struct {
	Config    *config.Config
	Storage   *storage.Storage
	Transport *intercept.Transport
	Cache     *intercept.Cache
	Client    *client.Client
	Journal   *journal.Journal
	Refresher *refresh.Refresher

	restored storage.SavedSnapshot
}

func New(cfg *config.Config, st *storage.Storage) (*Gateway, error) {
	gw := &Gateway{
		Config:  cfg,
		Storage: st,
		Cache:   intercept.NewCache(),
		Transport: &intercept.Transport{
			Base:       http.DefaultTransport,
			MaxCapture: cfg.Intercept.MaxCaptureBytes,
		},
	}

	gw.Transport.Use(intercept.NewListingObserver(cfg.Intercept.ListingMarker, sanitize.New(nil), gw.Cache, nil))

	if saved, ok, err := st.LoadSnapshot(); err != nil {
		slog.Warn("failed to load saved task snapshot", "error", err)
	} else if ok {
		gw.restored = saved
	}
	gw.Cache.OnPublish(gw.persist)

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		gw.Journal = j
		gw.Cache.OnPublish(func(snap intercept.Snapshot) {
			j.RecordSnapshot(context.Background(), snap)
		})
	}

	gw.Client = client.New(client.Options{
		BaseURL:       cfg.Backend.BaseURL,
		Timeout:       cfg.Backend.Timeout,
		RatePerSecond: cfg.Client.RatePerSecond,
		Burst:         cfg.Client.Burst,
		Transport:     gw.Transport,
	}, st)
	gw.Refresher = refresh.New(gw.Client, cfg.Refresh.Spec, nil)

	return gw, nil
}

func (gw *Gateway) persist(snap intercept.Snapshot) {
	err := gw.Storage.SaveSnapshot(storage.SavedSnapshot{
		Version: snap.Version,
		URL:     snap.URL,
		At:      snap.At,
		Records: snap.Records,
		Repairs: snap.Report.Len(),
	})
	if err != nil {
		slog.Error("failed to persist task snapshot", "error", err)
	}
}

// Snapshot is the newest published listing, or the one saved by a previous
// run when nothing was published yet.
func (gw *Gateway) Snapshot() intercept.Snapshot {
	if last := gw.Cache.Last(); last.Version > 0 || len(gw.restored.Records) == 0 {
		return last
	}
	return intercept.Snapshot{
		Records: gw.restored.Records,
		URL:     gw.restored.URL,
		At:      gw.restored.At,
	}
}

// RecordBlock journals a blocked interaction reported by a guard.
func (gw *Gateway) RecordBlock(ctx context.Context, b guard.Block) {
	slog.Info("guard blocked interaction", "intent", b.Intent.String(), "id", b.ID)
	if gw.Journal != nil {
		gw.Journal.RecordBlock(ctx, b)
	}
}

func (gw *Gateway) HasToken() bool {
	return gw.Storage.Token() != ""
}

// Close waits for in-flight observers and releases the journal.
func (gw *Gateway) Close() error {
	gw.Transport.Wait()
	if gw.Journal != nil {
		return gw.Journal.Close()
	}
	return nil
}
