// iface.go defines the StoreInterface for dependency injection and testing.
//
// The concrete *Store type satisfies this interface, plus the two
// capability contracts the engine consumes: pager.Pager for paged log
// reads and reduce.ReducedStore for reduced-record upserts. Code that
// drives reductions can accept the narrow contracts instead of *Store,
// enabling mock injection in tests.
package store

import (
	"context"
	"time"

	"github.com/daviddao/taxalog/pkg/model"
	"github.com/daviddao/taxalog/pkg/pager"
	"github.com/daviddao/taxalog/pkg/reduce"
)

// StoreInterface defines the full set of store operations.
// The concrete *Store type implements this interface.
type StoreInterface interface {
	// Close closes the database connection.
	Close() error

	// --- Dataset versions ---

	// RegisterDatasetVersion records one import of one dataset. Idempotent.
	RegisterDatasetVersion(dataset, version string, createdAt time.Time) (*model.DatasetVersion, error)

	// GetDatasetVersion retrieves a dataset version by id.
	GetDatasetVersion(id string) (*model.DatasetVersion, error)

	// --- Operation log ---

	// AppendOperations appends a batch of operations in one transaction.
	AppendOperations(ops []model.Operation) error

	// MaxOperationID returns the highest operation id, or zero if empty.
	MaxOperationID() model.OperationID

	// CountOperations returns the total number of operations in the log.
	CountOperations() int64

	// OperationsForEntities returns all operations for the given entities.
	OperationsForEntities(ids []model.EntityID) ([]model.Operation, error)

	// NextPage returns the next ordered chunk of the log after cur.
	NextPage(ctx context.Context, cur pager.Cursor, limit int, scope []model.EntityID) (pager.Page, error)

	// --- Reduced records ---

	// UpsertReduced overwrites an entity's reduced record.
	UpsertReduced(ctx context.Context, rec model.ReducedRecord) error

	// GetReduced retrieves the reduced record for an entity.
	GetReduced(id model.EntityID) (*model.ReducedRecord, error)

	// CountReduced returns the number of reduced records.
	CountReduced() int64
}

// Compile-time checks that *Store implements the full interface and the
// capability contracts consumed by the engine.
var (
	_ StoreInterface      = (*Store)(nil)
	_ pager.Pager         = (*Store)(nil)
	_ reduce.ReducedStore = (*Store)(nil)
)
