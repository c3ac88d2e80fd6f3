package intercept

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pushguard/src/internal/sanitize"
	"pushguard/src/internal/tasks"
)

// Snapshot is one sanitized task listing. Records are shared between all
// readers of the snapshot and must not be modified.
type Snapshot struct {
	Version uint64          `json:"version"`
	Records []tasks.Record  `json:"records"`
	Report  sanitize.Report `json:"report"`
	URL     string          `json:"url"`
	At      time.Time       `json:"at"`
}

// Tasks returns typed views of the snapshot's records.
func (s Snapshot) Tasks() []tasks.Task {
	out := make([]tasks.Task, len(s.Records))
	for i, r := range s.Records {
		out[i] = tasks.View(r)
	}
	return out
}

// Cache keeps the latest sanitized listing and fans it out to subscribers.
type Cache struct {
	mu      sync.RWMutex
	last    Snapshot
	changed chan struct{}
	subs    map[string]chan Snapshot
	hooks   []func(Snapshot)
}

func NewCache() *Cache {
	return &Cache{
		changed: make(chan struct{}),
		subs:    make(map[string]chan Snapshot),
	}
}

// OnPublish registers fn to run synchronously on every Publish.
func (c *Cache) OnPublish(fn func(Snapshot)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

func (c *Cache) Publish(snap Snapshot) {
	c.mu.Lock()
	snap.Version = c.last.Version + 1
	if snap.At.IsZero() {
		snap.At = time.Now()
	}
	c.last = snap
	close(c.changed)
	c.changed = make(chan struct{})
	for _, ch := range c.subs {
		// keep only the newest snapshot for slow subscribers
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	hooks := append([]func(Snapshot){}, c.hooks...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(snap)
	}
}

// Last returns the newest snapshot; Version is 0 when nothing was published.
func (c *Cache) Last() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Await blocks until a snapshot newer than after is available.
func (c *Cache) Await(ctx context.Context, after uint64) (Snapshot, error) {
	for {
		c.mu.RLock()
		last, changed := c.last, c.changed
		c.mu.RUnlock()
		if last.Version > after {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-changed:
		}
	}
}

// Subscribe returns a channel that always holds the newest snapshot not yet
// received.
func (c *Cache) Subscribe() (string, <-chan Snapshot) {
	id := uuid.New().String()
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	c.subs[id] = ch
	c.mu.Unlock()
	return id, ch
}

func (c *Cache) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[id]; ok {
		delete(c.subs, id)
		close(ch)
	}
}
