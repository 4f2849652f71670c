// Package hlc implements a hybrid logical clock.
//
// A hybrid logical clock (Kulkarni et al., 2014) combines physical time with
// a logical counter so that timestamps are close to wall-clock time but
// still strictly ordered under concurrency and clock skew:
//
//	if physical time advanced since the last id: take it, counter resets;
//	if it stalled or moved backward: reuse the last id + 1, which bumps
//	the counter (and, on counter overflow, borrows a millisecond).
//
// The resulting 64-bit id packs 47 bits of milliseconds above 16 bits of
// counter, with the top bit clear so ids survive an int64 column. The packed
// id is both a timestamp and a uniqueness guarantee: no two calls ever
// return the same value, and every id is greater than every id returned by
// a call that completed before it started.
//
// Unlike a Lamport clock there is no receive rule: importers never exchange
// ids at generation time. A clock recovering after a crash is instead seeded
// from the highest id already in the log (WithLast), the same role the
// database plays for cross-process coordination in the rest of the system.
package hlc

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/daviddao/taxalog/pkg/model"
)

const (
	counterBits = 16
	counterMask = 1<<counterBits - 1
	maxWallMS   = 1<<47 - 1
)

// Epoch is the zero point of the physical-time component. Ids are offsets
// from here, which keeps 47 bits of milliseconds good for well over four
// thousand years.
var Epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrClockFault is returned when the physical time source yields a moment
// the id layout cannot represent. Skew and backward jumps are absorbed by
// the counter and never produce this error.
var ErrClockFault = errors.New("hlc: time source outside representable range")

// Clock issues strictly increasing OperationIDs. Safe for concurrent use;
// id generation is serialized by an atomic compare-and-swap loop.
type Clock struct {
	last atomic.Uint64
	now  func() time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithSource replaces the physical time source. Tests use this to simulate
// stalled or backward-jumping wall clocks.
func WithSource(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// WithLast seeds the clock with the highest id already issued, typically
// the maximum operation id found in the log after a restart. Every id the
// clock returns will be greater than last.
func WithLast(last model.OperationID) Option {
	return func(c *Clock) { c.last.Store(uint64(last)) }
}

// New returns a Clock reading time.Now unless overridden.
func New(opts ...Option) *Clock {
	c := &Clock{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Next returns the next operation id. It fails only on an unrecoverable
// time-source fault; concurrent callers, stalled time, and backward jumps
// all produce valid, strictly increasing ids.
func (c *Clock) Next() (model.OperationID, error) {
	for {
		last := c.last.Load()
		wall, err := c.wallMS()
		if err != nil {
			return 0, err
		}
		next := wall << counterBits
		if next <= last {
			// Time stalled or went backward: advance the counter. On
			// counter overflow the increment carries into the wall field,
			// which still preserves strict ordering.
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return model.OperationID(next), nil
		}
	}
}

// Last returns the most recently issued id, or zero if none.
func (c *Clock) Last() model.OperationID { return model.OperationID(c.last.Load()) }

func (c *Clock) wallMS() (uint64, error) {
	t := c.now()
	ms := t.Sub(Epoch).Milliseconds()
	if ms < 0 || ms > maxWallMS {
		return 0, fmt.Errorf("%w: %v", ErrClockFault, t)
	}
	return uint64(ms), nil
}

// WallTime returns the physical-time component of an id.
func WallTime(id model.OperationID) time.Time {
	return Epoch.Add(time.Duration(uint64(id)>>counterBits) * time.Millisecond)
}

// Counter returns the logical-counter component of an id.
func Counter(id model.OperationID) uint16 {
	return uint16(uint64(id) & counterMask)
}
