package intercept

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxCapture bounds how much of a response body is copied for
// observers. Larger bodies are still delivered to the caller in full.
const DefaultMaxCapture = 8 << 20

// Exchange is the observer's copy of one completed request/response pair.
type Exchange struct {
	Method string
	URL    *url.URL
	Status int
	Header http.Header
	Body   []byte
	At     time.Time
}

// Observer receives copies of responses whose request it matches. Observe
// runs on its own goroutine once the caller has read the body to EOF or
// closed it.
type Observer interface {
	Match(req *http.Request) bool
	Observe(ctx context.Context, ex Exchange)
}

type registration struct {
	id  string
	obs Observer
}

// Transport is an http.RoundTripper that hands copies of matching responses
// to registered observers. The response returned to the caller is the base
// transport's response; only its Body is wrapped and it yields the same
// bytes and errors.
type Transport struct {
	Base       http.RoundTripper
	MaxCapture int64
	Logger     *slog.Logger

	mu        sync.RWMutex
	observers []registration
	inflight  sync.WaitGroup
}

// Wrap returns rt when it already is a *Transport, so wrapping twice never
// stacks two interception layers.
func Wrap(rt http.RoundTripper) *Transport {
	if t, ok := rt.(*Transport); ok {
		return t
	}
	return &Transport{Base: rt}
}

// Use registers an observer and returns its registration id.
func (t *Transport) Use(obs Observer) string {
	id := uuid.New().String()
	t.mu.Lock()
	t.observers = append(t.observers, registration{id: id, obs: obs})
	t.mu.Unlock()
	return id
}

// Remove drops a registration. Unknown ids are ignored.
func (t *Transport) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.observers {
		if r.id == id {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len reports the number of registered observers.
func (t *Transport) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.observers)
}

// Wait blocks until every dispatched observation has finished.
func (t *Transport) Wait() {
	t.inflight.Wait()
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func (t *Transport) matching(req *http.Request) []Observer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Observer
	for _, r := range t.observers {
		if r.obs.Match(req) {
			out = append(out, r.obs)
		}
	}
	return out
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base().RoundTrip(req)
	if err != nil || resp == nil || resp.Body == nil {
		return resp, err
	}

	obs := t.matching(req)
	if len(obs) == 0 {
		return resp, err
	}

	max := t.MaxCapture
	if max <= 0 {
		max = DefaultMaxCapture
	}
	ex := Exchange{
		Method: req.Method,
		URL:    req.URL,
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
	}
	ctx := context.WithoutCancel(req.Context())
	resp.Body = &teeBody{
		rc:  resp.Body,
		max: max,
		done: func(body []byte) {
			ex.Body = body
			ex.At = time.Now()
			t.dispatch(ctx, obs, ex)
		},
		dropped: func(reason string) {
			t.logger().Debug("response observation dropped", "url", req.URL.String(), "reason", reason)
		},
	}
	return resp, err
}

func (t *Transport) dispatch(ctx context.Context, obs []Observer, ex Exchange) {
	for _, o := range obs {
		t.inflight.Add(1)
		go func(o Observer) {
			defer t.inflight.Done()
			defer func() {
				if p := recover(); p != nil {
					t.logger().Error("response observer panicked", "url", ex.URL.String(), "error", fmt.Sprint(p))
				}
			}()
			o.Observe(ctx, ex)
		}(o)
	}
}

// teeBody copies what the caller reads. The copy is handed off at EOF, or
// at Close after draining whatever the caller left unread. Read errors and
// oversized bodies drop it.
type teeBody struct {
	rc      io.ReadCloser
	buf     bytes.Buffer
	max     int64
	reason  string
	once    sync.Once
	done    func([]byte)
	dropped func(string)
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 && b.reason == "" {
		b.capture(p[:n])
	}
	switch {
	case err == io.EOF:
		b.finish()
	case err != nil && b.reason == "":
		b.reason = "read error: " + err.Error()
	}
	return n, err
}

func (b *teeBody) capture(p []byte) {
	if int64(b.buf.Len()+len(p)) > b.max {
		b.reason = "body exceeds capture limit"
		b.buf = bytes.Buffer{}
		return
	}
	b.buf.Write(p)
}

// Close drains at most the capture limit before closing the base body,
// so callers that stop reading once they have decoded a value still
// produce an observation.
func (b *teeBody) Close() error {
	if b.reason == "" {
		b.drain()
	}
	b.finish()
	return b.rc.Close()
}

func (b *teeBody) drain() {
	var rest bytes.Buffer
	_, err := io.Copy(&rest, io.LimitReader(b.rc, b.max-int64(b.buf.Len())+1))
	if err != nil {
		b.reason = "drain error: " + err.Error()
		return
	}
	if rest.Len() > 0 {
		b.capture(rest.Bytes())
	}
}

func (b *teeBody) finish() {
	b.once.Do(func() {
		if b.reason != "" {
			b.dropped(b.reason)
			return
		}
		body := make([]byte, b.buf.Len())
		copy(body, b.buf.Bytes())
		b.done(body)
	})
}
