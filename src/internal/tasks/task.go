package tasks

import (
	"math"
	"strconv"
	"strings"
)

// Field names of a push task record as served by /api/push_task.
const (
	FieldID              = "id"
	FieldName            = "name"
	FieldTimeRange       = "time_range"
	FieldInitialSendTime = "initial_send_time"
	FieldEnabled         = "enabled"
	FieldBoundWebhooks   = "bound_webhooks"
	FieldQueries         = "queries"
)

const (
	DefaultTimeRange       = "30m"
	DefaultInitialSendTime = "08:00"
)

// Record is a task as decoded from the wire. Fields the client does not know
// about are kept as they arrived.
type Record map[string]any

// Task is a typed read-only view over a sanitized Record.
type Task struct {
	ID              *int64 `json:"id"`
	Name            string `json:"name"`
	TimeRange       string `json:"time_range"`
	InitialSendTime string `json:"initial_send_time"`
	Enabled         bool   `json:"enabled"`
	Webhooks        int    `json:"webhooks"`
	Queries         int    `json:"queries"`
}

// View builds a Task from r. Values that do not fit the typed view are left
// zero; View never mutates r.
func View(r Record) Task {
	t := Task{
		Name:            str(r[FieldName]),
		TimeRange:       str(r[FieldTimeRange]),
		InitialSendTime: str(r[FieldInitialSendTime]),
	}
	if id, ok := Int(r[FieldID]); ok {
		t.ID = &id
	}
	if b, ok := r[FieldEnabled].(bool); ok {
		t.Enabled = b
	}
	if s, ok := r[FieldBoundWebhooks].([]any); ok {
		t.Webhooks = len(s)
	}
	if s, ok := r[FieldQueries].([]any); ok {
		t.Queries = len(s)
	}
	return t
}

// IDString renders the id the way it appears in data-id attributes and URL
// paths. Null ids render as the empty string.
func (t Task) IDString() string {
	if t.ID == nil {
		return ""
	}
	return strconv.FormatInt(*t.ID, 10)
}

// ExtractRecords accepts the two listing shapes the backend has served over
// time: a bare array, or an object with the array under "data".
func ExtractRecords(payload any) ([]Record, bool) {
	switch v := payload.(type) {
	case []any:
		return toRecords(v), true
	case map[string]any:
		if data, ok := v["data"].([]any); ok {
			return toRecords(data), true
		}
	}
	return nil, false
}

// toRecords keeps the element maps themselves so that sanitizing a Record
// also mutates the decoded payload.
func toRecords(items []any) []Record {
	out := make([]Record, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out
}

// Truthy reports whether v would pass a boolean test in the loosely typed
// payloads the records come from.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case float32:
		return x != 0 && !math.IsNaN(float64(x))
	case int:
		return x != 0
	case int64:
		return x != 0
	case int32:
		return x != 0
	case uint:
		return x != 0
	case uint64:
		return x != 0
	case interface{ String() string }:
		// json.Number
		f, err := strconv.ParseFloat(x.String(), 64)
		return err != nil || (f != 0 && !math.IsNaN(f))
	}
	return true
}

// Number coerces v to a float for ordering comparisons. Strings are parsed
// after trimming; anything else that is not numeric reports ok=false.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case interface{ String() string }:
		f, err := strconv.ParseFloat(x.String(), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Int returns v as an integer id when it is a whole number.
func Int(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	if _, isBool := v.(bool); isBool {
		return 0, false
	}
	f, ok := Number(v)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return 0, false
	}
	return int64(f), true
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
