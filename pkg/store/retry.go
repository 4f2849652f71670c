// retry.go absorbs transient SQLite contention.
//
// Import jobs append to the log while reduction backfills page it from the
// same database. In WAL mode that contention surfaces as transient errors —
// SQLITE_BUSY, SQLITE_LOCKED, IOERR_SHORT_READ — which the busy_timeout
// pragma only partially absorbs. Store operations wrap themselves in retryOp
// so a contended moment costs a backoff instead of a failed batch. Reads and
// writes carry different budgets: a read is side-effect free and resumable
// from its cursor, while an abandoned append throws away a prepared import
// chunk.
package store

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// retryConfig controls the backoff schedule for one class of operation.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Reads give up early; the pager cursor is untouched by a failed read, so
// the caller can resume at leisure.
var readRetry = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// Writes ride out WAL checkpoints triggered by concurrent backfills.
var writeRetry = retryConfig{
	maxRetries: 5,
	baseDelay:  100 * time.Millisecond,
	maxDelay:   2 * time.Second,
}

// isTransientSQLiteErr reports whether the error is worth retrying:
//   - SQLITE_BUSY — another connection holds a lock
//   - SQLITE_LOCKED — table-level lock conflict
//   - SQLITE_IOERR_SHORT_READ — a WAL read racing a checkpoint
//
// Constraint violations and genuine I/O failures fail immediately.
func isTransientSQLiteErr(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR_SHORT_READ:
			return true
		}
		// Extended result codes carry the primary code in the low byte.
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	// database/sql occasionally flattens driver errors into plain strings.
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// retryOp executes fn, retrying transient errors with exponential backoff
// and jitter. Non-transient errors return immediately.
func retryOp(cfg retryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransientSQLiteErr(lastErr) {
			return lastErr
		}
		if attempt < cfg.maxRetries {
			time.Sleep(backoffDelay(cfg, attempt))
		}
	}
	return lastErr
}

// backoffDelay doubles the base delay per attempt, capped at maxDelay, plus
// up to half the delay again as jitter so contending writers fan out.
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(delay/2)+1))
}
