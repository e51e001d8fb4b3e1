// Package queue implements the durable submission queue backed by SQLite.
//
// Captures that cannot be delivered immediately are persisted as rows and
// retried with exponential backoff until a submission succeeds or the
// payload turns out to be permanently undeliverable (oversized). Rows
// survive process restarts.
//
// Schema (created automatically by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS submission_queue (
//	    id         TEXT PRIMARY KEY,
//	    payload    BLOB NOT NULL,
//	    tab_id     TEXT NOT NULL DEFAULT '',
//	    attempts   INTEGER NOT NULL DEFAULT 0,
//	    created_at INTEGER NOT NULL,              -- milliseconds since epoch
//	    next_retry INTEGER NOT NULL DEFAULT 0,    -- milliseconds since epoch
//	    last_error TEXT NOT NULL DEFAULT ''
//	);
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ewjdev/anyclick/payload"
	"github.com/ewjdev/anyclick/store"
)

// Item is a queued capture awaiting delivery.
type Item struct {
	ID        string
	TabID     string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
	NextRetry time.Time
	LastError string
}

// SubmitFunc delivers one queued payload using the current settings.
// Return nil to remove the item, non-nil to schedule a retry.
type SubmitFunc func(ctx context.Context, item *Item, s store.Settings) error

// RefreshFunc optionally replaces the stored screenshot data with a fresh
// capture just before delivery. It receives the payload as stored and
// returns the payload to submit. Errors are best-effort: the stale payload
// is submitted as-is.
type RefreshFunc func(ctx context.Context, item *Item) (json.RawMessage, error)

// SettingsFunc supplies the delivery gate. When it reports disabled or an
// empty endpoint, due items are left untouched for a later drain.
type SettingsFunc func(ctx context.Context) (store.Settings, error)

// Options configures queue behaviour.
type Options struct {
	// BaseDelay is the backoff unit: a failed item with N prior attempts
	// is retried after BaseDelay * 2^N. Default: 1s.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff. Default: 5m.
	MaxDelay time.Duration
	// Tick is the periodic drain interval in the Run loop. Default: 5s.
	Tick time.Duration
	// MaxBytes is the serialized payload ceiling. Items over it are removed
	// permanently — retrying cannot shrink them. Default: 1 MiB.
	MaxBytes int
	// Settings gates delivery. Nil means always enabled with no endpoint
	// check (the submit func is trusted to know where to send).
	Settings SettingsFunc
	// Refresh, when set, re-captures screenshot data before each delivery.
	Refresh RefreshFunc
	// Logger overrides the default slog logger.
	Logger *slog.Logger

	now func() time.Time // test hook
}

func (o *Options) defaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 5 * time.Minute
	}
	if o.Tick <= 0 {
		o.Tick = 5 * time.Second
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = 1 << 20
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
}

// Q is the queue handle.
type Q struct {
	db     *sql.DB
	submit SubmitFunc
	opts   Options

	draining atomic.Bool
	kick     chan struct{}
}

// New creates a queue handle. Call EnsureTable once at startup, then Add
// from capture paths and Run from a background goroutine.
func New(db *sql.DB, submit SubmitFunc, opts Options) *Q {
	opts.defaults()
	return &Q{
		db:     db,
		submit: submit,
		opts:   opts,
		kick:   make(chan struct{}, 1),
	}
}

// EnsureTable creates the submission_queue table and index if they don't
// exist.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS submission_queue (
			id         TEXT PRIMARY KEY,
			payload    BLOB NOT NULL,
			tab_id     TEXT NOT NULL DEFAULT '',
			attempts   INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			next_retry INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_submission_retry ON submission_queue (next_retry);
	`)
	if err != nil {
		return fmt.Errorf("queue: ensure table: %w", err)
	}
	return nil
}

// Add persists a serialized capture payload due immediately and nudges the
// drain loop. It returns the generated item ID.
func (q *Q) Add(ctx context.Context, payloadJSON []byte, tabID string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("queue: id: %w", err)
	}
	now := q.opts.now().UnixMilli()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO submission_queue (id, payload, tab_id, created_at, next_retry)
		VALUES (?,?,?,?,?)`,
		id.String(), payloadJSON, tabID, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("queue: add: %w", err)
	}
	q.Kick()
	return id.String(), nil
}

// Kick requests an ad-hoc drain. Non-blocking; collapsed if one is already
// pending.
func (q *Q) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Due returns items whose retry time has arrived, oldest retry first.
func (q *Q) Due(ctx context.Context) ([]*Item, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, payload, tab_id, attempts, created_at, next_retry, last_error
		FROM submission_queue
		WHERE next_retry <= ?
		ORDER BY next_retry ASC`,
		q.opts.now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("queue: due: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: due: %w", err)
	}
	return items, nil
}

// Get returns a single item by ID, or nil if absent.
func (q *Q) Get(ctx context.Context, id string) (*Item, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, payload, tab_id, attempts, created_at, next_retry, last_error
		FROM submission_queue WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

// Len returns the number of queued items.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submission_queue`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: len: %w", err)
	}
	return n, nil
}

// Remove deletes an item. Called after confirmed delivery or permanent
// rejection only.
func (q *Q) Remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM submission_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("queue: remove: %w", err)
	}
	return nil
}

// markFailure records a failed attempt: attempts+1, last_error, and the
// next retry pushed out by BaseDelay * 2^attempts (pre-increment), capped
// at MaxDelay.
func (q *Q) markFailure(ctx context.Context, it *Item, cause error) error {
	delay := q.backoff(it.Attempts)
	next := q.opts.now().Add(delay).UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		UPDATE submission_queue
		SET attempts = attempts + 1, next_retry = ?, last_error = ?
		WHERE id = ?`,
		next, cause.Error(), it.ID,
	)
	if err != nil {
		return fmt.Errorf("queue: mark failure: %w", err)
	}
	return nil
}

func (q *Q) backoff(attempts int) time.Duration {
	d := q.opts.BaseDelay
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= q.opts.MaxDelay {
			return q.opts.MaxDelay
		}
	}
	return d
}

// ProcessQueue drains every due item sequentially. Concurrent calls
// collapse: if a drain is already running the call returns immediately
// without touching any item. The guard is released on every return path.
func (q *Q) ProcessQueue(ctx context.Context) error {
	if !q.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer q.draining.Store(false)

	log := q.opts.Logger

	var settings store.Settings
	if q.opts.Settings != nil {
		s, err := q.opts.Settings(ctx)
		if err != nil {
			return fmt.Errorf("queue: settings: %w", err)
		}
		if !s.Enabled || s.Endpoint == "" {
			// Delivery gated off. Items stay due: no attempts burned.
			return nil
		}
		settings = s
	}

	items, err := q.Due(ctx)
	if err != nil {
		return err
	}

	for _, it := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := q.processItem(ctx, it, settings); err != nil {
			log.Warn("queue: item failed, scheduled retry",
				"id", it.ID, "attempts", it.Attempts+1, "error", err)
		}
	}
	return nil
}

func (q *Q) processItem(ctx context.Context, it *Item, settings store.Settings) error {
	log := q.opts.Logger

	if q.opts.Refresh != nil {
		fresh, err := q.opts.Refresh(ctx, it)
		if err != nil {
			log.Debug("queue: screenshot refresh failed, submitting stored payload",
				"id", it.ID, "error", err)
		} else if len(fresh) > 0 {
			it.Payload = fresh
		}
	}

	// Oversized payloads can never succeed; drop instead of retrying.
	if err := payload.ValidateRaw(it.Payload, q.opts.MaxBytes); err != nil {
		if errors.Is(err, payload.ErrPayloadTooLarge) {
			log.Warn("queue: payload over size ceiling, dropping",
				"id", it.ID, "bytes", len(it.Payload), "max", q.opts.MaxBytes)
			_ = store.RecordCapture(ctx, q.db, q.opts.now(), "dropped")
			return q.Remove(ctx, it.ID)
		}
		if ferr := q.markFailure(ctx, it, err); ferr != nil {
			return ferr
		}
		return err
	}

	if err := q.submit(ctx, it, settings); err != nil {
		_ = store.RecordCapture(ctx, q.db, q.opts.now(), "failed")
		if ferr := q.markFailure(ctx, it, err); ferr != nil {
			return ferr
		}
		return err
	}

	_ = store.RecordCapture(ctx, q.db, q.opts.now(), "ok")
	return q.Remove(ctx, it.ID)
}

// Run drains on startup, then on every tick and every Kick, until ctx is
// cancelled.
func (q *Q) Run(ctx context.Context) {
	log := q.opts.Logger
	log.Info("queue: drain loop started", "tick", q.opts.Tick, "base_delay", q.opts.BaseDelay)

	ticker := time.NewTicker(q.opts.Tick)
	defer ticker.Stop()

	q.drain(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("queue: drain loop stopped")
			return
		case <-ticker.C:
			q.drain(ctx, log)
		case <-q.kick:
			q.drain(ctx, log)
		}
	}
}

func (q *Q) drain(ctx context.Context, log *slog.Logger) {
	if err := q.ProcessQueue(ctx); err != nil && ctx.Err() == nil {
		log.Warn("queue: drain failed", "error", err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*Item, error) {
	var (
		it           Item
		creAt, nextR int64
	)
	err := row.Scan(&it.ID, (*[]byte)(&it.Payload), &it.TabID, &it.Attempts, &creAt, &nextR, &it.LastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("queue: scan: %w", err)
	}
	it.CreatedAt = time.UnixMilli(creAt)
	it.NextRetry = time.UnixMilli(nextR)
	return &it, nil
}
