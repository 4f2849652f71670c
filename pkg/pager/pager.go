// Package pager defines the paged-read contract against the operation log.
//
// A pager streams operations in non-decreasing id order, in bounded chunks,
// resumable from any previously returned cursor. Reads are side-effect free,
// so a crashed batch restarts from its last cursor with no repair step.
//
// The package also ships a slice-backed pager with identical contract
// semantics, used in tests and for reducing freshly imported operation sets
// that have not reached the store yet. The production pager lives in
// pkg/store.
package pager

import (
	"context"

	"github.com/daviddao/taxalog/pkg/model"
)

// DefaultLimit is used when a caller passes a non-positive page size.
const DefaultLimit = 100

// Cursor is a resumable position in the log: the id of the last operation
// already consumed. The zero Cursor reads from the beginning.
type Cursor struct {
	LastOperationID model.OperationID `json:"last_operation_id"`
}

// RowWarning reports a log row that was skipped because its payload could
// not be parsed. Skips are signaled, never silent: the reducer's caller
// decides whether a skipped row should fail the entity.
type RowWarning struct {
	OperationID model.OperationID
	EntityID    model.EntityID
	Err         error
}

// Page is one bounded chunk of the log.
type Page struct {
	Operations []model.Operation
	NextCursor Cursor
	Exhausted  bool
	Skipped    []RowWarning
}

// Pager streams operations from the log in non-decreasing operation id
// order. A non-empty scope restricts the stream to those entities. The
// guarantees hold within and across pages, so per-entity order is preserved
// even when one entity's operations span many pages.
type Pager interface {
	NextPage(ctx context.Context, cur Cursor, limit int, scope []model.EntityID) (Page, error)
}
