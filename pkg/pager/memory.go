package pager

import (
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/daviddao/taxalog/pkg/model"
)

// Memory is a slice-backed Pager over an in-memory operation set. It keeps
// its operations sorted by id, so pages come out in the same order the
// store-backed pager would yield them.
type Memory struct {
	ops []model.Operation
}

// NewMemory returns a Memory pager over ops. The input is copied and may
// arrive in any order.
func NewMemory(ops ...model.Operation) *Memory {
	m := &Memory{}
	m.Append(ops...)
	return m
}

// Append adds operations to the set, keeping id order. Appending between
// pages is allowed; a cursor remains valid because already-consumed ids
// never change position relative to it.
func (m *Memory) Append(ops ...model.Operation) {
	m.ops = append(m.ops, ops...)
	sort.Slice(m.ops, func(i, j int) bool { return m.ops[i].ID < m.ops[j].ID })
}

// Len returns the number of operations held.
func (m *Memory) Len() int { return len(m.ops) }

// NextPage implements Pager.
func (m *Memory) NextPage(ctx context.Context, cur Cursor, limit int, scope []model.EntityID) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	var scoped mapset.Set[model.EntityID]
	if len(scope) > 0 {
		scoped = mapset.NewThreadUnsafeSet(scope...)
	}

	page := Page{NextCursor: cur, Exhausted: true}
	for _, op := range m.ops {
		if op.ID <= cur.LastOperationID {
			continue
		}
		if scoped != nil && !scoped.Contains(op.EntityID) {
			continue
		}
		if len(page.Operations) == limit {
			page.Exhausted = false
			break
		}
		page.Operations = append(page.Operations, op)
		page.NextCursor = Cursor{LastOperationID: op.ID}
	}
	return page, nil
}

var _ Pager = (*Memory)(nil)
