// Package extraction drives the backlog of add-ons whose versions still need
// to be committed to git.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Sumatoshi-tech/addongit/internal/sqlitepool"
)

// QueueSchema creates the queue table. The expression index makes NULL a
// distinct value so an add-on has at most one entry per state.
const QueueSchema = `
CREATE TABLE IF NOT EXISTS git_extraction_entries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	addon_id    INTEGER NOT NULL,
	in_progress INTEGER,
	created     INTEGER NOT NULL,
	modified    INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS git_extraction_entries_addon_state
	ON git_extraction_entries (addon_id, coalesce(in_progress, -1));

CREATE INDEX IF NOT EXISTS git_extraction_entries_created
	ON git_extraction_entries (created, id);
`

const entryColumns = `id, addon_id, in_progress, created, modified`

// Queue errors.
var (
	ErrEntryNotFound     = errors.New("extraction: queue entry not found")
	ErrAlreadyInProgress = errors.New("extraction: add-on already in progress")
)

// State is the lifecycle state of a queue entry.
type State int

// Entry states. Pending is stored as NULL.
const (
	StatePending State = iota
	StateContinuation
	StateInProgress
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateContinuation:
		return "continuation"
	case StateInProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Entry is one row of the queue.
type Entry struct {
	ID       int64     `json:"id"       yaml:"id"`
	AddonID  int64     `json:"addon_id" yaml:"addon_id"`
	State    State     `json:"-"        yaml:"-"`
	Created  time.Time `json:"created"  yaml:"created"`
	Modified time.Time `json:"modified" yaml:"modified"`
}

// StateName is the printable state, used by list output.
func (e Entry) StateName() string {
	return e.State.String()
}

// Queue is the durable extraction backlog.
type Queue struct {
	pool *sqlitepool.Pool
	now  func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueClock overrides the clock used for entry timestamps.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates a Queue on a pool opened with QueueSchema.
func NewQueue(pool *sqlitepool.Pool, opts ...QueueOption) *Queue {
	q := &Queue{pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue records that addonID needs extraction. An existing pending or
// continuation entry is reused.
func (q *Queue) Enqueue(ctx context.Context, addonID int64) (_ Entry, err error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return Entry{}, err
	}
	defer q.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return Entry{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer endTransaction(&err)

	existing, err := selectEntries(conn, `
		SELECT `+entryColumns+` FROM git_extraction_entries
		WHERE addon_id = ? AND in_progress IS NOT 1
		ORDER BY created, id LIMIT 1`, addonID)
	if err != nil {
		return Entry{}, fmt.Errorf("enqueue %d: %w", addonID, err)
	}

	if len(existing) > 0 {
		return existing[0], nil
	}

	now := q.now()

	err = sqlitex.Execute(conn, `
		INSERT INTO git_extraction_entries (addon_id, in_progress, created, modified)
		VALUES (?, NULL, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{addonID, now.UnixNano(), now.UnixNano()}})
	if err != nil {
		return Entry{}, fmt.Errorf("enqueue %d: %w", addonID, err)
	}

	return Entry{ID: conn.LastInsertRowID(), AddonID: addonID, State: StatePending, Created: now, Modified: now}, nil
}

// Next returns up to limit entries that are not in progress, oldest first.
func (q *Queue) Next(ctx context.Context, limit int) ([]Entry, error) {
	return q.query(ctx, `
		SELECT `+entryColumns+` FROM git_extraction_entries
		WHERE in_progress IS NOT 1
		ORDER BY created, id LIMIT ?`, limit)
}

// List returns every entry, or only those of addonID when it is positive.
func (q *Queue) List(ctx context.Context, addonID int64) ([]Entry, error) {
	if addonID > 0 {
		return q.query(ctx, `SELECT `+entryColumns+` FROM git_extraction_entries
			WHERE addon_id = ? ORDER BY created, id`, addonID)
	}

	return q.query(ctx, `SELECT `+entryColumns+` FROM git_extraction_entries ORDER BY created, id`)
}

// HasInProgress reports whether addonID has an entry being worked on.
func (q *Queue) HasInProgress(ctx context.Context, addonID int64) (bool, error) {
	entries, err := q.query(ctx, `SELECT `+entryColumns+` FROM git_extraction_entries
		WHERE addon_id = ? AND in_progress = 1`, addonID)
	if err != nil {
		return false, err
	}

	return len(entries) > 0, nil
}

// MarkInProgress moves an entry to the in-progress state.
func (q *Queue) MarkInProgress(ctx context.Context, entryID int64) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer q.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE git_extraction_entries SET in_progress = 1, modified = ?
		WHERE id = ? AND in_progress IS NOT 1`,
		&sqlitex.ExecOptions{Args: []any{q.now().UnixNano(), entryID}})
	if sqlitepool.IsUniqueViolation(err) {
		return fmt.Errorf("%w: entry %d", ErrAlreadyInProgress, entryID)
	}

	if err != nil {
		return fmt.Errorf("mark entry %d: %w", entryID, err)
	}

	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %d", ErrEntryNotFound, entryID)
	}

	return nil
}

// Continue moves the in-progress entry of addonID back to the continuation
// state so the next drain picks it up again. When a continuation entry
// already exists the in-progress one is dropped instead.
func (q *Queue) Continue(ctx context.Context, addonID int64) (err error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer q.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer endTransaction(&err)

	continuation, err := selectEntries(conn, `SELECT `+entryColumns+` FROM git_extraction_entries
		WHERE addon_id = ? AND in_progress = 0`, addonID)
	if err != nil {
		return fmt.Errorf("continue %d: %w", addonID, err)
	}

	if len(continuation) > 0 {
		return deleteInProgress(conn, addonID)
	}

	err = sqlitex.Execute(conn, `
		UPDATE git_extraction_entries SET in_progress = 0, modified = ?
		WHERE addon_id = ? AND in_progress = 1`,
		&sqlitex.ExecOptions{Args: []any{q.now().UnixNano(), addonID}})
	if err != nil {
		return fmt.Errorf("continue %d: %w", addonID, err)
	}

	return nil
}

// Finish deletes the in-progress entry of addonID and returns how many rows went away.
func (q *Queue) Finish(ctx context.Context, addonID int64) (int, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer q.pool.Put(conn)

	if err := deleteInProgress(conn, addonID); err != nil {
		return 0, err
	}

	return conn.Changes(), nil
}

// Delete removes a single entry.
func (q *Queue) Delete(ctx context.Context, entryID int64) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer q.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM git_extraction_entries WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{entryID}})
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", entryID, err)
	}

	return nil
}

// Requeue atomically replaces the in-progress entry of addonID with a fresh
// pending one.
func (q *Queue) Requeue(ctx context.Context, addonID int64) (err error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer q.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer endTransaction(&err)

	return q.requeue(conn, addonID)
}

// ResetStale requeues entries that have been in progress for longer than
// age, typically after a worker died mid-extraction. It returns the number
// of add-ons reset.
func (q *Queue) ResetStale(ctx context.Context, age time.Duration) (_ int, err error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer q.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer endTransaction(&err)

	cutoff := q.now().Add(-age).UnixNano()

	stale, err := selectEntries(conn, `SELECT `+entryColumns+` FROM git_extraction_entries
		WHERE in_progress = 1 AND modified < ? ORDER BY id`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale entries: %w", err)
	}

	for _, entry := range stale {
		if err := q.requeue(conn, entry.AddonID); err != nil {
			return 0, err
		}
	}

	return len(stale), nil
}

func (q *Queue) requeue(conn *sqlite.Conn, addonID int64) error {
	if err := deleteInProgress(conn, addonID); err != nil {
		return err
	}

	now := q.now().UnixNano()

	err := sqlitex.Execute(conn, `
		INSERT OR IGNORE INTO git_extraction_entries (addon_id, in_progress, created, modified)
		VALUES (?, NULL, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{addonID, now, now}})
	if err != nil {
		return fmt.Errorf("requeue %d: %w", addonID, err)
	}

	return nil
}

func (q *Queue) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer q.pool.Put(conn)

	entries, err := selectEntries(conn, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}

	return entries, nil
}

func deleteInProgress(conn *sqlite.Conn, addonID int64) error {
	err := sqlitex.Execute(conn, `DELETE FROM git_extraction_entries WHERE addon_id = ? AND in_progress = 1`,
		&sqlitex.ExecOptions{Args: []any{addonID}})
	if err != nil {
		return fmt.Errorf("delete in-progress entry of %d: %w", addonID, err)
	}

	return nil
}

func selectEntries(conn *sqlite.Conn, query string, args ...any) ([]Entry, error) {
	var entries []Entry

	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry := Entry{
				ID:       stmt.ColumnInt64(0),
				AddonID:  stmt.ColumnInt64(1),
				State:    StatePending,
				Created:  time.Unix(0, stmt.ColumnInt64(3)),
				Modified: time.Unix(0, stmt.ColumnInt64(4)),
			}

			if !stmt.ColumnIsNull(2) {
				entry.State = StateContinuation
				if stmt.ColumnInt64(2) == 1 {
					entry.State = StateInProgress
				}
			}

			entries = append(entries, entry)

			return nil
		},
	})

	return entries, err
}
