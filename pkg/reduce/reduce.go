package reduce

import (
	"github.com/daviddao/taxalog/pkg/causal"
	"github.com/daviddao/taxalog/pkg/model"
)

// Result is the outcome of reducing one entity. Rejected lists operations
// whose payloads failed shape validation; they contribute nothing to the
// record but their rejection is reported, never silent.
type Result struct {
	Record   model.ReducedRecord
	Rejected []*model.MalformedAtomError
}

// Reduce folds a resolved history into a reduced record. A nil policy
// means last-write-wins.
//
// Action semantics:
//
//   - Create initializes the record, applying any fields its atom carries.
//   - Update applies each field write through the policy.
//   - Delete tombstones the record. Field state survives under the
//     tombstone, and a later Update resurrects the record: history
//     preservation wins over lifecycle terminality.
//
// A malformed payload (an Update carrying no writes, or an unnamed field)
// rejects that whole operation and the fold continues; partially applying a
// bad payload would make the record depend on how much of it parsed.
func Reduce(h causal.History, p Policy) (Result, error) {
	if p == nil {
		p = LWW{}
	}

	fields := make(map[string]FieldState)
	res := Result{}
	deleted := false
	var last model.OperationID

	for _, op := range h.Operations {
		if err := checkAtom(op); err != nil {
			res.Rejected = append(res.Rejected, err)
			continue
		}
		switch op.Action {
		case model.ActionCreate:
			applyAtom(fields, p, op)
		case model.ActionUpdate:
			applyAtom(fields, p, op)
			deleted = false
		case model.ActionDelete:
			deleted = true
		}
		last = op.ID
	}

	rec := model.ReducedRecord{
		EntityID:        h.EntityID,
		Fields:          make(map[string]model.Value, len(fields)),
		Deleted:         deleted,
		LastOperationID: last,
	}
	for name, st := range fields {
		rec.Fields[name] = st.Value
	}
	res.Record = rec
	return res, nil
}

func applyAtom(fields map[string]FieldState, p Policy, op model.Operation) {
	for _, f := range op.Atom {
		incoming := FieldState{OperationID: op.ID, Value: f.Value}
		if current, ok := fields[f.Name]; ok {
			fields[f.Name] = p.Merge(&current, incoming)
		} else {
			fields[f.Name] = p.Merge(nil, incoming)
		}
	}
}

func checkAtom(op model.Operation) *model.MalformedAtomError {
	if op.Action == model.ActionUpdate && op.Atom.IsEmpty() {
		return &model.MalformedAtomError{
			OperationID: op.ID,
			EntityID:    op.EntityID,
			Reason:      "update carries no field writes",
		}
	}
	for _, f := range op.Atom {
		if f.Name == "" {
			return &model.MalformedAtomError{
				OperationID: op.ID,
				EntityID:    op.EntityID,
				Reason:      "atom field with empty name",
			}
		}
	}
	return nil
}
