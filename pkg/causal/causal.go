// Package causal validates and orders the operation history of one entity.
//
// An entity's operations form a causal tree: a single rooted Create, every
// later operation pointing at its parent by id. Independent imports that
// extended a common ancestor produce branch points — the signature of a
// network split being reunified. Divergence is not an error; it is recorded
// and preserved, and the branches are interleaved into a single total order
// by operation id. That flattening is what lets a pure last-write-wins fold
// over the ordered sequence behave correctly without any per-branch merge
// step.
//
// Structural problems — a missing or doubled Create, a dangling parent
// reference, a duplicate id — abort resolution for that entity only; each
// entity's history stands or falls on its own.
package causal

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/daviddao/taxalog/pkg/model"
)

// ViolationKind classifies a structural problem in an entity's history.
type ViolationKind string

const (
	MissingCreate        ViolationKind = "missing_create"
	DuplicateCreate      ViolationKind = "duplicate_create"
	CreateWithParent     ViolationKind = "create_with_parent"
	MissingParent        ViolationKind = "missing_parent"
	DanglingParent       ViolationKind = "dangling_parent"
	ParentNotBefore      ViolationKind = "parent_not_before"
	DuplicateOperationID ViolationKind = "duplicate_operation_id"
	WrongEntity          ViolationKind = "wrong_entity"
	InvalidAction        ViolationKind = "invalid_action"
)

// StructuralViolation reports a history that cannot be safely reduced.
// OperationID is the offending operation, or zero for entity-level problems
// such as a missing Create.
type StructuralViolation struct {
	EntityID    model.EntityID
	Kind        ViolationKind
	OperationID model.OperationID
	Detail      string
}

func (e *StructuralViolation) Error() string {
	if e.OperationID.IsZero() {
		return fmt.Sprintf("structural violation in entity %s: %s: %s", e.EntityID, e.Kind, e.Detail)
	}
	return fmt.Sprintf("structural violation in entity %s at operation %s: %s: %s",
		e.EntityID, e.OperationID, e.Kind, e.Detail)
}

// Divergence marks a branch point: two or more operations extending the
// same parent. Branches are listed in ascending id order.
type Divergence struct {
	Parent   model.OperationID
	Branches []model.OperationID
}

// History is a validated, totally ordered operation sequence for one
// entity, ready for reduction.
type History struct {
	EntityID    model.EntityID
	Operations  []model.Operation // ascending by operation id
	Divergences []Divergence
	Heads       []model.OperationID // leaf operations: the live branch tips
}

// Resolve validates ops as the complete history of entityID and returns it
// in total order. The input order does not matter. On failure the error is
// a *StructuralViolation.
func Resolve(entityID model.EntityID, ops []model.Operation) (History, error) {
	if len(ops) == 0 {
		return History{}, &StructuralViolation{
			EntityID: entityID,
			Kind:     MissingCreate,
			Detail:   "entity has no operations",
		}
	}

	sorted := make([]model.Operation, len(ops))
	copy(sorted, ops)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	ids := mapset.NewThreadUnsafeSet[model.OperationID]()
	for _, op := range sorted {
		if op.EntityID != entityID {
			return History{}, &StructuralViolation{
				EntityID:    entityID,
				Kind:        WrongEntity,
				OperationID: op.ID,
				Detail:      fmt.Sprintf("operation belongs to entity %s", op.EntityID),
			}
		}
		if !op.Action.Valid() {
			return History{}, &StructuralViolation{
				EntityID:    entityID,
				Kind:        InvalidAction,
				OperationID: op.ID,
				Detail:      fmt.Sprintf("unknown action %q", op.Action),
			}
		}
		if !ids.Add(op.ID) {
			return History{}, &StructuralViolation{
				EntityID:    entityID,
				Kind:        DuplicateOperationID,
				OperationID: op.ID,
				Detail:      "operation id appears more than once",
			}
		}
	}

	var createSeen bool
	children := make(map[model.OperationID][]model.OperationID)
	referenced := mapset.NewThreadUnsafeSet[model.OperationID]()
	for _, op := range sorted {
		if op.Action == model.ActionCreate {
			if createSeen {
				return History{}, &StructuralViolation{
					EntityID:    entityID,
					Kind:        DuplicateCreate,
					OperationID: op.ID,
					Detail:      "entity has more than one create operation",
				}
			}
			createSeen = true
			if !op.Parent.IsZero() {
				return History{}, &StructuralViolation{
					EntityID:    entityID,
					Kind:        CreateWithParent,
					OperationID: op.ID,
					Detail:      fmt.Sprintf("create operation references parent %s", op.Parent),
				}
			}
			continue
		}

		if op.Parent.IsZero() {
			return History{}, &StructuralViolation{
				EntityID:    entityID,
				Kind:        MissingParent,
				OperationID: op.ID,
				Detail:      "non-create operation has no parent reference",
			}
		}
		if !ids.Contains(op.Parent) {
			return History{}, &StructuralViolation{
				EntityID:    entityID,
				Kind:        DanglingParent,
				OperationID: op.ID,
				Detail:      fmt.Sprintf("parent %s not present in history", op.Parent),
			}
		}
		if op.Parent >= op.ID {
			return History{}, &StructuralViolation{
				EntityID:    entityID,
				Kind:        ParentNotBefore,
				OperationID: op.ID,
				Detail:      fmt.Sprintf("parent %s does not precede child", op.Parent),
			}
		}
		children[op.Parent] = append(children[op.Parent], op.ID)
		referenced.Add(op.Parent)
	}
	if !createSeen {
		return History{}, &StructuralViolation{
			EntityID: entityID,
			Kind:     MissingCreate,
			Detail:   "entity has no create operation",
		}
	}

	var divergences []Divergence
	for parent, kids := range children {
		if len(kids) > 1 {
			sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
			divergences = append(divergences, Divergence{Parent: parent, Branches: kids})
		}
	}
	sort.Slice(divergences, func(i, j int) bool { return divergences[i].Parent < divergences[j].Parent })

	// The heads are the frontier of the causal tree: operations no later
	// operation extends. One head means a linear history; more than one
	// means a split has not (yet) been extended past its reunification.
	heads := ids.Difference(referenced).ToSlice()
	sort.Slice(heads, func(i, j int) bool { return heads[i] < heads[j] })

	return History{
		EntityID:    entityID,
		Operations:  sorted,
		Divergences: divergences,
		Heads:       heads,
	}, nil
}

// GroupByEntity buckets a mixed operation stream by entity, preserving the
// relative order of each entity's operations. Appending page after page of
// a pager's non-decreasing output therefore keeps every bucket ascending.
func GroupByEntity(ops []model.Operation) map[model.EntityID][]model.Operation {
	grouped := make(map[model.EntityID][]model.Operation)
	for _, op := range ops {
		grouped[op.EntityID] = append(grouped[op.EntityID], op)
	}
	return grouped
}
