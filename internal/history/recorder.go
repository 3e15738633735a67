// Package history keeps an audit trail of completed submissions in Postgres.
//
// Recording is asynchronous. Record only enqueues; a single worker started
// with Start performs the inserts, so a slow or unavailable database never
// delays a Submit. When the queue is full the submission is dropped and
// counted rather than blocking.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/filestage/internal/staging"
)

// Defaults for the write queue.
const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 5 * time.Second
)

// ErrClosed is returned by Close when the recorder was already closed.
var ErrClosed = errors.New("history recorder closed")

// DB is the subset of *pgxpool.Pool the recorder uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Record is one stored submission.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	FileCount   int       `json:"fileCount"`
	FileNames   []string  `json:"fileNames"`
	SubmittedAt time.Time `json:"submittedAt"`
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS submissions (
	id           UUID PRIMARY KEY,
	session_id   TEXT NOT NULL,
	file_count   INTEGER NOT NULL,
	file_names   TEXT[] NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS submissions_submitted_at_idx ON submissions (submitted_at DESC);
`

const insertSQL = `
INSERT INTO submissions (id, session_id, file_count, file_names, submitted_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`

const recentSQL = `
SELECT id::text, session_id, file_count, file_names, submitted_at
FROM submissions
ORDER BY submitted_at DESC
LIMIT $1`

// Recorder writes submissions to the database in the background.
type Recorder struct {
	db           DB
	writeTimeout time.Duration
	logger       *slog.Logger

	queue   chan staging.Submission
	done    chan struct{}
	started atomic.Bool
	dropped atomic.Int64
	written atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithQueueSize sets how many submissions may wait for the worker.
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan staging.Submission, n)
		}
	}
}

// WithWriteTimeout bounds each insert.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithLogger sets the recorder's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRecorder creates a recorder writing to db. Call Start to begin writing.
func NewRecorder(db DB, opts ...Option) *Recorder {
	r := &Recorder{
		db:           db,
		writeTimeout: DefaultWriteTimeout,
		logger:       slog.Default(),
		queue:        make(chan staging.Submission, DefaultQueueSize),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureSchema creates the submissions table if it does not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create submissions table: %w", err)
	}
	return nil
}

// Record enqueues sub for writing. It never blocks.
func (r *Recorder) Record(sub staging.Submission) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.queue <- sub:
	default:
		r.dropped.Add(1)
		r.logger.Warn("history queue full, submission not recorded",
			"submission_id", sub.ID,
			"session_id", sub.SessionID,
		)
	}
}

// Start launches the worker that writes queued submissions until Close is
// called or ctx is cancelled. Submissions still queued at Close are written
// before the worker exits. Calling Start again has no effect.
func (r *Recorder) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.run(ctx)
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)

	r.logger.Info("history recorder started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("history recorder stopped", "pending", len(r.queue))
			return
		case sub, ok := <-r.queue:
			if !ok {
				r.logger.Info("history recorder drained",
					"written", r.written.Load(),
					"dropped", r.dropped.Load(),
				)
				return
			}
			r.write(ctx, sub)
		}
	}
}

// Close stops accepting submissions and waits for the worker to write the
// ones already queued, or for ctx to expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	if !r.started.Load() {
		// No worker: whatever was queued is never written.
		r.dropped.Add(int64(len(r.queue)))
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain history queue: %w", ctx.Err())
	}
}

// Recent returns up to limit submissions, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx, recentSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var count int32
		if err := rows.Scan(&rec.ID, &rec.SessionID, &count, &rec.FileNames, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		rec.FileCount = int(count)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read submissions: %w", err)
	}
	return out, nil
}

// Stats reports how many submissions were written and dropped.
func (r *Recorder) Stats() (written, dropped int64) {
	return r.written.Load(), r.dropped.Load()
}

func (r *Recorder) write(ctx context.Context, sub staging.Submission) {
	names := make([]string, len(sub.Files))
	for i, f := range sub.Files {
		names[i] = f.Name
	}

	// Detached from ctx so a shutdown in progress still flushes the queue.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	start := time.Now()
	_, err := r.db.Exec(writeCtx, insertSQL, sub.ID, sub.SessionID, int32(sub.Count), names, sub.SubmittedAt)
	if err != nil {
		r.logger.Error("record submission failed",
			"submission_id", sub.ID,
			"error", err,
		)
		return
	}

	r.written.Add(1)
	r.logger.Debug("submission recorded",
		"submission_id", sub.ID,
		"count", sub.Count,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
