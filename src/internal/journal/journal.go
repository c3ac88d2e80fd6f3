package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pushguard/src/internal/guard"
	"pushguard/src/internal/intercept"
)

type Kind string

const (
	KindRepair  Kind = "repair"
	KindBlocked Kind = "blocked"
)

// Event is one journal row. Repair events carry Field, From and To; blocked
// events carry Intent and the raw TaskID that was refused.
type Event struct {
	ID     int64     `json:"id"`
	Kind   Kind      `json:"kind"`
	At     time.Time `json:"at"`
	TaskID string    `json:"task_id,omitempty"`
	Intent string    `json:"intent,omitempty"`
	Field  string    `json:"field,omitempty"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal tables: %w", err)
	}
	return &Journal{db: db, logger: logger.With("component", "journal")}, nil
}

func createTables(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS events (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        kind TEXT NOT NULL,
        at INTEGER NOT NULL,
        task_id TEXT,
        intent TEXT,
        field TEXT,
        from_value TEXT,
        to_value TEXT,
        detail TEXT
    );
    CREATE INDEX IF NOT EXISTS events_at ON events(at);
    `
	_, err := db.Exec(schema)
	return err
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Record(ctx context.Context, ev Event) (int64, error) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO events (kind, at, task_id, intent, field, from_value, to_value, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.At.UnixNano(), ev.TaskID, ev.Intent, ev.Field, ev.From, ev.To, ev.Detail,
	)
	if err != nil {
		return 0, fmt.Errorf("record %s event: %w", ev.Kind, err)
	}
	return res.LastInsertId()
}

// List returns up to limit events, newest first. A limit <= 0 returns all.
func (j *Journal) List(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, kind, at, task_id, intent, field, from_value, to_value, detail
		FROM events ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev   Event
			kind string
			at   int64
		)
		if err := rows.Scan(&ev.ID, &kind, &at, &ev.TaskID, &ev.Intent, &ev.Field, &ev.From, &ev.To, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = Kind(kind)
		ev.At = time.Unix(0, at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes events older than before and reports how many went.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM events WHERE at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// RecordSnapshot journals every repair in a published listing.
func (j *Journal) RecordSnapshot(ctx context.Context, snap intercept.Snapshot) {
	for _, r := range snap.Report.Repairs {
		ev := Event{
			Kind:   KindRepair,
			At:     snap.At,
			Field:  r.Field,
			From:   encode(r.From),
			To:     encode(r.To),
			Detail: fmt.Sprintf("record %d of %s", r.Index, snap.URL),
		}
		if r.Index < len(snap.Records) {
			ev.TaskID = encode(snap.Records[r.Index]["id"])
		}
		if _, err := j.Record(ctx, ev); err != nil {
			j.logger.Error("failed to journal repair", "field", r.Field, "error", err)
		}
	}
}

// RecordBlock journals an interaction the guard cancelled.
func (j *Journal) RecordBlock(ctx context.Context, b guard.Block) {
	ev := Event{Kind: KindBlocked, At: b.At, TaskID: b.ID, Intent: b.Intent.String()}
	if b.Err != nil {
		ev.Detail = b.Err.Error()
	}
	if _, err := j.Record(ctx, ev); err != nil {
		j.logger.Error("failed to journal blocked action", "intent", ev.Intent, "error", err)
	}
}

func encode(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
