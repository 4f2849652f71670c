// Package model defines the core domain types for taxalog.
//
// Taxalog gives a biodiversity data aggregator full provenance by treating
// every record as a CmRDT: an append-only log of causally linked operations
// that is folded into a point-in-time snapshot on demand. Two ideas carry
// the design:
//
//   - Hybrid logical clocks: every operation is stamped with a 64-bit id
//     combining physical time and a logical counter. Ids are strictly
//     increasing no matter how many importers run concurrently, which gives
//     every replica the same total order with no coordination.
//
//   - Operation-based CRDTs: an operation carries its causal parent and a
//     field-level payload (the "atom"). Reducing the log in id order with a
//     last-write-wins policy converges to the same record regardless of
//     arrival order, so independently imported datasets merge by simply
//     appending their logs together.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// OperationID is a hybrid-logical-clock timestamp. The high bits hold
// physical milliseconds, the low bits a logical counter; see pkg/hlc for the
// exact layout. Its natural uint64 ordering is the total order over all
// operations. The zero value means "no operation" and is used as the parent
// of a root Create.
type OperationID uint64

// IsZero reports whether the id is the absent-parent sentinel.
func (id OperationID) IsZero() bool { return id == 0 }

func (id OperationID) String() string { return fmt.Sprintf("%d", uint64(id)) }

// EntityID identifies the causal history a chain of operations belongs to.
// It is derived from an immutable natural key of the underlying record and
// is opaque to the engine beyond equality and hashing.
type EntityID string

// entityIDSep keeps "a"+"bc" and "ab"+"c" from hashing identically.
const entityIDSep = "\x1f"

// NewEntityID derives a stable entity id by hashing the parts of the
// record's natural key — for a taxonomic name, the scientific name plus its
// authorship. The same parts always produce the same id.
func NewEntityID(parts ...string) EntityID {
	return EntityID(fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(parts, entityIDSep))))
}

// Action enumerates the kind of causal step an operation performs.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether the action is one of the known three.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Operation is a single entry in the append-only operation log: one causal
// step against one entity. Operations are immutable once appended; the log
// never rewrites or deletes rows.
type Operation struct {
	ID             OperationID `json:"operation_id"`
	EntityID       EntityID    `json:"entity_id"`
	Parent         OperationID `json:"parent_op_id,omitempty"`
	DatasetVersion string      `json:"dataset_version"`
	Action         Action      `json:"action"`
	Atom           Atom        `json:"atom,omitempty"`
}

// IsRoot reports whether the operation is the Create at the root of an
// entity's causal history.
func (o Operation) IsRoot() bool { return o.Action == ActionCreate && o.Parent.IsZero() }

// ReducedRecord is the materialized "latest known state" of an entity,
// recomputed from the operation log and overwritten via upsert. It is a
// cache, never a source of truth.
type ReducedRecord struct {
	EntityID        EntityID         `json:"entity_id"`
	Fields          map[string]Value `json:"fields"`
	Deleted         bool             `json:"deleted,omitempty"`
	LastOperationID OperationID      `json:"last_operation_id"`
}

// DatasetVersion identifies one import of one source dataset. Operations
// reference it for attribution; it plays no part in ordering.
type DatasetVersion struct {
	ID         string    `json:"id"`
	Dataset    string    `json:"dataset"`
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	ImportedAt time.Time `json:"imported_at"`
}
