// Package reduce folds an entity's ordered operation history into its
// materialized record.
//
// The fold is driven by a pluggable merge policy: given a field's current
// winning write and an incoming one, the policy picks the write to retain.
// The shipped policy is last-write-wins by operation id. Because the
// causality resolver hands the reducer a strictly ascending sequence, LWW
// degenerates to "last write overwrites the slot" — no backtracking — while
// keeping the CmRDT properties: reduction commutes over how two logs were
// interleaved at append time, and replaying the same operations yields the
// same record.
//
// The package also carries the batch machinery: a Runner that drives a
// pager through the resolver and reducer for many entities concurrently,
// upserting each reduced record and isolating per-entity failures, and a
// distinct-changes filter that keeps re-imports from bloating the log with
// no-op writes.
package reduce

import "github.com/daviddao/taxalog/pkg/model"

// FieldState is one field's winning write: the value and the operation
// that produced it. The operation id is what makes every field of every
// record traceable to the import that wrote it.
type FieldState struct {
	OperationID model.OperationID
	Value       model.Value
}

// Policy decides which write a field retains. current is nil when the
// field has never been written. Implementations must be deterministic and
// side-effect free; the reducer may call them from many goroutines for
// different entities.
type Policy interface {
	Merge(current *FieldState, incoming FieldState) FieldState
}

// LWW is the last-write-wins policy: the write with the greatest operation
// id wins, regardless of which dataset or branch produced it. Ties (a
// replayed operation) keep the incoming write, which makes replay
// idempotent.
type LWW struct{}

// Merge implements Policy.
func (LWW) Merge(current *FieldState, incoming FieldState) FieldState {
	if current == nil || incoming.OperationID >= current.OperationID {
		return incoming
	}
	return *current
}
