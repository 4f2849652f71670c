package reduce

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/daviddao/taxalog/pkg/causal"
	"github.com/daviddao/taxalog/pkg/model"
)

// DistinctChanges filters a new import's operations down to the ones that
// actually change an entity's reduced state, given the operations already
// in the log for the touched entities. Re-importing an unchanged dataset
// therefore appends nothing: every write that would only restate a field's
// current winning value is dropped before it reaches the log.
//
// Existing operations are never dropped — the log is append-only. When a
// dropped incoming operation was the parent of a kept one, the kept
// operation is re-parented to the nearest surviving ancestor so the causal
// chain stays intact. A re-import that regenerates an entity's Create is
// demoted to an update of the existing record: the entity already has a
// root, so the operation is kept only if its fields change something, and
// either way it is parented into the surviving history rather than appended
// as a second root. A nil policy means last-write-wins.
func DistinctChanges(existing, incoming []model.Operation, p Policy) []model.Operation {
	if p == nil {
		p = LWW{}
	}

	incomingIDs := mapset.NewThreadUnsafeSet[model.OperationID]()
	for _, op := range incoming {
		incomingIDs.Add(op.ID)
	}

	all := make([]model.Operation, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)

	var kept []model.Operation
	// Maps a dropped operation to its parent so surviving descendants can
	// be re-parented across the gap.
	dropped := make(map[model.OperationID]model.OperationID)

	for _, ops := range causal.GroupByEntity(all) {
		sort.Slice(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })

		fields := make(map[string]FieldState)
		deleted := false
		createSeen := false
		// Most recent operation surviving into the final log; the re-parent
		// target for a regenerated Create, whose own parent is zero.
		var anchor model.OperationID

		for _, op := range ops {
			changes := false
			regenCreate := false
			switch op.Action {
			case model.ActionCreate:
				if createSeen {
					regenCreate = true
					if deleted {
						changes = true
					}
					deleted = false
				} else {
					createSeen = true
					changes = true
				}
				if applyDetect(fields, p, op) {
					changes = true
				}
			case model.ActionUpdate:
				if deleted {
					changes = true
				}
				deleted = false
				if applyDetect(fields, p, op) {
					changes = true
				}
			case model.ActionDelete:
				if !deleted {
					changes = true
				}
				deleted = true
			}

			if !incomingIDs.Contains(op.ID) {
				anchor = op.ID
				continue
			}
			if changes {
				if regenCreate {
					op.Action = model.ActionUpdate
					op.Parent = anchor
				}
				kept = append(kept, op)
				anchor = op.ID
			} else {
				parent := op.Parent
				if regenCreate {
					parent = anchor
				}
				dropped[op.ID] = parent
			}
		}
	}

	for i := range kept {
		for {
			parent, ok := dropped[kept[i].Parent]
			if !ok {
				break
			}
			kept[i].Parent = parent
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })
	return kept
}

// applyDetect folds one operation's atom into the field map and reports
// whether any field's winning value changed.
func applyDetect(fields map[string]FieldState, p Policy, op model.Operation) bool {
	changed := false
	for _, f := range op.Atom {
		incoming := FieldState{OperationID: op.ID, Value: f.Value}
		current, ok := fields[f.Name]
		var next FieldState
		if ok {
			next = p.Merge(&current, incoming)
		} else {
			next = p.Merge(nil, incoming)
		}
		if !ok || !next.Value.Equal(current.Value) {
			changed = true
		}
		fields[f.Name] = next
	}
	return changed
}
