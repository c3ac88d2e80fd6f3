package intercept

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"pushguard/src/internal/sanitize"
	"pushguard/src/internal/tasks"
)

// DefaultListingMarker identifies the push task listing endpoint.
const DefaultListingMarker = "/api/push_task"

// MatchListing reports whether rawURL addresses the listing itself: it
// contains marker but none of the per-task paths below it.
func MatchListing(rawURL, marker string) bool {
	return strings.Contains(rawURL, marker) && !strings.Contains(rawURL, marker+"/")
}

// maxDecoded bounds a decompressed listing.
const maxDecoded = 8 * DefaultMaxCapture

// decodeBody undoes the Content-Encoding a proxied response still carries.
// Responses Go's transport already decompressed have the header removed.
func decodeBody(ex Exchange) ([]byte, error) {
	enc := strings.ToLower(strings.TrimSpace(ex.Header.Get("Content-Encoding")))
	switch enc {
	case "", "identity":
		return ex.Body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(ex.Body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		data, err := io.ReadAll(io.LimitReader(zr, maxDecoded+1))
		if err != nil {
			return nil, err
		}
		if len(data) > maxDecoded {
			return nil, fmt.Errorf("decoded listing exceeds %d bytes", maxDecoded)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", enc)
}

// Sink receives sanitized listings.
type Sink interface {
	Publish(snap Snapshot)
}

// ListingObserver parses task listing responses, sanitizes the records and
// publishes them to Sink.
type ListingObserver struct {
	Marker    string
	Sanitizer *sanitize.Sanitizer
	Sink      Sink
	Logger    *slog.Logger
}

func NewListingObserver(marker string, s *sanitize.Sanitizer, sink Sink, logger *slog.Logger) *ListingObserver {
	if marker == "" {
		marker = DefaultListingMarker
	}
	if s == nil {
		s = sanitize.New(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ListingObserver{
		Marker:    marker,
		Sanitizer: s,
		Sink:      sink,
		Logger:    logger.With("component", "listing_observer"),
	}
}

func (o *ListingObserver) Match(req *http.Request) bool {
	return MatchListing(req.URL.String(), o.Marker)
}

func (o *ListingObserver) Observe(ctx context.Context, ex Exchange) {
	body, err := decodeBody(ex)
	if err != nil {
		o.Logger.Error("failed to decode task listing", "url", ex.URL.String(), "encoding", ex.Header.Get("Content-Encoding"), "error", err)
		return
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		o.Logger.Error("failed to parse task listing", "url", ex.URL.String(), "status", ex.Status, "error", err)
		return
	}

	records, ok := tasks.ExtractRecords(payload)
	if !ok {
		o.Logger.Debug("ignoring listing with unexpected shape", "url", ex.URL.String(), "status", ex.Status)
		return
	}
	o.Logger.Debug("intercepted task listing", "url", ex.URL.String(), "records", len(records))

	rep := o.Sanitizer.Records(records)
	if o.Sink != nil {
		o.Sink.Publish(Snapshot{
			Records: records,
			Report:  rep,
			URL:     ex.URL.String(),
			At:      ex.At,
		})
	}
}
