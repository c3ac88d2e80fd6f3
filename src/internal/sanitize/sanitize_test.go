package sanitize

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"reflect"
	"testing"

	"pushguard/src/internal/tasks"
)

func decode(t *testing.T, body string) []tasks.Record {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatal(err)
	}
	recs, ok := tasks.ExtractRecords(v)
	if !ok {
		t.Fatalf("unexpected payload shape: %s", body)
	}
	return recs
}

func TestRecordsListingExample(t *testing.T) {
	recs := decode(t, `{"data":[{"id":-5,"enabled":"yes","name":"keep me"}]}`)
	rep := Records(recs)

	want := tasks.Record{
		"id":                nil,
		"enabled":           true,
		"time_range":        "30m",
		"initial_send_time": "08:00",
		"bound_webhooks":    []any{},
		"queries":           []any{},
		"name":              "keep me",
	}
	if !reflect.DeepEqual(recs[0], want) {
		t.Errorf("sanitized record = %#v, want %#v", recs[0], want)
	}
	if rep.Len() != 6 {
		t.Errorf("repairs = %d, want 6", rep.Len())
	}
	if !rep.Touched(0) {
		t.Error("record 0 should be reported as touched")
	}
}

func TestRecordsID(t *testing.T) {
	cases := []struct {
		name string
		rec  tasks.Record
		want any
	}{
		{"negative", tasks.Record{"id": float64(-1)}, nil},
		{"negative string", tasks.Record{"id": "-3"}, nil},
		{"zero", tasks.Record{"id": float64(0)}, nil},
		{"missing", tasks.Record{}, nil},
		{"empty string", tasks.Record{"id": ""}, nil},
		{"positive", tasks.Record{"id": float64(42)}, float64(42)},
		{"positive string", tasks.Record{"id": "42"}, "42"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			Records([]tasks.Record{c.rec})
			got, present := c.rec["id"]
			if !present {
				t.Fatal("id key should always be present after sanitization")
			}
			if got != c.want {
				t.Errorf("id = %#v, want %#v", got, c.want)
			}
		})
	}
}

func TestRecordsEnabledTruthiness(t *testing.T) {
	cases := []struct {
		in   any
		want bool
	}{
		{"true", true},
		{"false", true},
		{float64(0), false},
		{float64(1), true},
		{nil, false},
		{"", false},
		{true, true},
		{false, false},
	}
	for _, c := range cases {
		rec := tasks.Record{"id": float64(1), "enabled": c.in}
		Records([]tasks.Record{rec})
		got, ok := rec["enabled"].(bool)
		if !ok {
			t.Fatalf("enabled(%#v) is %T, want bool", c.in, rec["enabled"])
		}
		if got != c.want {
			t.Errorf("enabled(%#v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestRecordsTokens(t *testing.T) {
	recs := []tasks.Record{
		{"time_range": "undefined", "initial_send_time": ""},
		{"time_range": "1h", "initial_send_time": "09:15"},
		{"time_range": nil, "initial_send_time": float64(8)},
	}
	Records(recs)

	if recs[0]["time_range"] != "30m" || recs[0]["initial_send_time"] != "08:00" {
		t.Errorf("record 0 = %v", recs[0])
	}
	if recs[1]["time_range"] != "1h" || recs[1]["initial_send_time"] != "09:15" {
		t.Errorf("valid tokens should be kept, got %v", recs[1])
	}
	if recs[2]["time_range"] != "30m" || recs[2]["initial_send_time"] != "08:00" {
		t.Errorf("record 2 = %v", recs[2])
	}
}

func TestRecordsSequences(t *testing.T) {
	existing := []any{map[string]any{"id": float64(3)}}
	recs := []tasks.Record{
		{"bound_webhooks": "1,2", "queries": map[string]any{"q": "up"}},
		{"bound_webhooks": existing, "queries": []any(nil)},
	}
	Records(recs)

	for i, r := range recs {
		for _, f := range []string{"bound_webhooks", "queries"} {
			if s, ok := r[f].([]any); !ok || s == nil {
				t.Errorf("record %d %s = %#v, want a sequence", i, f, r[f])
			}
		}
	}
	if got := recs[1]["bound_webhooks"].([]any); len(got) != 1 {
		t.Errorf("existing webhooks should be preserved, got %v", got)
	}
}

func TestRecordsFieldIndependence(t *testing.T) {
	s := New(nil)
	s.rules = append([]Rule{{
		Field: "id",
		Fix:   func(any, bool) (any, bool) { panic("boom") },
	}}, s.rules[1:]...)

	recs := []tasks.Record{{"id": float64(-1)}, {"enabled": "x"}}
	rep := s.Records(recs)

	if recs[0]["id"] != float64(-1) {
		t.Errorf("failing rule must leave the field untouched, got %v", recs[0]["id"])
	}
	if recs[0]["time_range"] != "30m" {
		t.Error("other fields of the same record should still be sanitized")
	}
	if recs[1]["enabled"] != true {
		t.Error("other records should still be sanitized")
	}
	if rep.Fields()["id"] != 0 {
		t.Error("failed rule must not be reported as a repair")
	}
}

func TestRecordsEmpty(t *testing.T) {
	if rep := Records(nil); rep.Len() != 0 || rep.Records != 0 {
		t.Errorf("Records(nil) = %+v", rep)
	}
	if rep := Records([]tasks.Record{nil}); rep.Len() != 0 {
		t.Errorf("nil record should be skipped, got %+v", rep)
	}
}

func TestRuleFor(t *testing.T) {
	r, ok := RuleFor("enabled")
	if !ok {
		t.Fatal("enabled rule missing")
	}
	if v, changed := r.Fix("yes", true); !changed || v != true {
		t.Errorf("enabled rule = %v,%v", v, changed)
	}
	if _, ok := RuleFor("nope"); ok {
		t.Error("unknown field should have no rule")
	}
}

func TestWithLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	New(logger).Records(decode(t, `[{"id":-1}]`))
	if !strings.Contains(buf.String(), "level=WARN msg=\"repaired task field\"") {
		t.Errorf("default sanitizer should warn on repairs, log:\n%s", buf.String())
	}

	buf.Reset()
	quiet := New(logger).WithLevel(slog.LevelDebug)
	rep := quiet.Records(decode(t, `[{"id":-1}]`))
	if rep.Len() == 0 {
		t.Fatal("quiet sanitizer must still repair")
	}
	if buf.Len() != 0 {
		t.Errorf("debug-level sanitizer logged at info:\n%s", buf.String())
	}
}
