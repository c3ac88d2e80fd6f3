package sanitize

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"pushguard/src/internal/tasks"
)

// Repair describes one corrected field.
type Repair struct {
	Index int    `json:"index"`
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

// Report lists every repair made by one Records call.
type Report struct {
	Records int      `json:"records"`
	Repairs []Repair `json:"repairs"`
}

func (r Report) Len() int { return len(r.Repairs) }

// Fields counts repairs per field name.
func (r Report) Fields() map[string]int {
	out := make(map[string]int)
	for _, rp := range r.Repairs {
		out[rp.Field]++
	}
	return out
}

// Touched reports whether the record at index had any field repaired.
func (r Report) Touched(index int) bool {
	for _, rp := range r.Repairs {
		if rp.Index == index {
			return true
		}
	}
	return false
}

// Rule corrects one field of a record. It returns the replacement value and
// true when the current value violates the field's invariant.
type Rule struct {
	Field string
	Fix   func(v any, present bool) (any, bool)
}

var defaultRules = []Rule{
	{Field: tasks.FieldID, Fix: fixID},
	{Field: tasks.FieldTimeRange, Fix: fixToken(tasks.DefaultTimeRange)},
	{Field: tasks.FieldInitialSendTime, Fix: fixToken(tasks.DefaultInitialSendTime)},
	{Field: tasks.FieldEnabled, Fix: fixEnabled},
	{Field: tasks.FieldBoundWebhooks, Fix: fixSequence},
	{Field: tasks.FieldQueries, Fix: fixSequence},
}

// Rules returns a copy of the default rule table.
func Rules() []Rule {
	return append([]Rule(nil), defaultRules...)
}

// RuleFor looks up the default rule for a field.
func RuleFor(field string) (Rule, bool) {
	for _, r := range defaultRules {
		if r.Field == field {
			return r, true
		}
	}
	return Rule{}, false
}

type Sanitizer struct {
	rules  []Rule
	logger *slog.Logger
	level  slog.Level
}

func New(logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{rules: Rules(), logger: logger.With("component", "sanitizer"), level: slog.LevelWarn}
}

// WithLevel returns a copy that logs repairs at level. Summaries drop to
// Debug as well when level is below Info.
func (s *Sanitizer) WithLevel(level slog.Level) *Sanitizer {
	c := *s
	c.level = level
	return &c
}

// Records corrects every record in place. A rule that fails on one field is
// logged and skipped; the remaining fields and records are still processed.
func (s *Sanitizer) Records(records []tasks.Record) Report {
	rep := Report{Records: len(records)}
	for i, rec := range records {
		if rec == nil {
			continue
		}
		for _, rule := range s.rules {
			if rp, ok := s.apply(i, rec, rule); ok {
				rep.Repairs = append(rep.Repairs, rp)
			}
		}
	}
	if rep.Len() > 0 {
		fields := rep.Fields()
		names := make([]string, 0, len(fields))
		for f := range fields {
			names = append(names, f)
		}
		sort.Strings(names)
		summary := slog.LevelInfo
		if s.level < slog.LevelInfo {
			summary = s.level
		}
		s.logger.Log(context.Background(), summary, "task records repaired", "records", rep.Records, "repairs", rep.Len(), "fields", names)
	}
	return rep
}

func (s *Sanitizer) apply(index int, rec tasks.Record, rule Rule) (rp Repair, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("sanitize rule failed", "field", rule.Field, "index", index, "error", fmt.Sprint(p))
			ok = false
		}
	}()
	cur, present := rec[rule.Field]
	next, changed := rule.Fix(cur, present)
	if !changed {
		return Repair{}, false
	}
	rec[rule.Field] = next
	s.logger.Log(context.Background(), s.level, "repaired task field", "field", rule.Field, "index", index, "from", cur)
	return Repair{Index: index, Field: rule.Field, From: cur, To: next}, true
}

// Records sanitizes with a default Sanitizer.
func Records(records []tasks.Record) Report {
	return New(nil).Records(records)
}

func fixID(v any, present bool) (any, bool) {
	if !tasks.Truthy(v) {
		// a present null is already canonical
		return nil, !(present && v == nil)
	}
	if n, ok := tasks.Number(v); ok && n < 0 {
		return nil, true
	}
	return v, false
}

func fixToken(def string) func(any, bool) (any, bool) {
	return func(v any, _ bool) (any, bool) {
		s, ok := v.(string)
		if !ok || s == "" || s == "undefined" {
			return def, true
		}
		return v, false
	}
}

func fixEnabled(v any, _ bool) (any, bool) {
	if _, ok := v.(bool); ok {
		return v, false
	}
	return tasks.Truthy(v), true
}

func fixSequence(v any, _ bool) (any, bool) {
	if s, ok := v.([]any); ok && s != nil {
		return v, false
	}
	return []any{}, true
}
