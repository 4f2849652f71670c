package reduce

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/daviddao/taxalog/pkg/causal"
	"github.com/daviddao/taxalog/pkg/model"
	"github.com/daviddao/taxalog/pkg/pager"
)

// ReducedStore is the upsert target for reduced records. Upserts are
// idempotent and keyed by entity id; the store overwrites prior state
// unconditionally with the newly computed record. The SQLite store in
// pkg/store implements it; callers may substitute their own.
type ReducedStore interface {
	UpsertReduced(ctx context.Context, rec model.ReducedRecord) error
}

// EntityError is a per-entity failure collected during a batch run: a
// structural violation from resolution, or an upsert failure. It never
// aborts the batch.
type EntityError struct {
	EntityID model.EntityID
	Err      error
}

func (e EntityError) Error() string {
	return fmt.Sprintf("entity %s: %v", e.EntityID, e.Err)
}

func (e EntityError) Unwrap() error { return e.Err }

// Report summarizes a batch run: how many entities reduced and upserted
// cleanly, which failed and why, which log rows the pager skipped, and
// which operations were rejected for malformed payloads.
type Report struct {
	Succeeded   int
	Failed      int
	Errors      []EntityError
	SkippedRows []pager.RowWarning
	RejectedOps []*model.MalformedAtomError
}

const (
	defaultPageSize = 1000
	defaultWorkers  = 4
)

// Runner drives the full reduction pipeline: page the log, group by
// entity, resolve causality, fold, upsert. Entities are independent, so
// they are reduced concurrently; within one entity the fold is strictly
// sequential and runs to completion or not at all.
type Runner struct {
	Pager  pager.Pager
	Store  ReducedStore
	Policy Policy // nil means last-write-wins

	// Scope restricts the run to these entities; empty means the whole log.
	Scope []model.EntityID

	PageSize int // operations per page; defaults to 1000
	Workers  int // concurrent entity folds; defaults to 4
}

// Run executes the batch. Per-entity failures are collected in the report
// and never abort the run; pager I/O errors do, since they affect every
// entity behind the cursor. Cancellation is honored between entity folds,
// never mid-fold, so no partially applied record is ever upserted.
//
// The report is valid even when an error is returned: it covers everything
// processed up to the failure.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var report Report

	grouped, skipped, err := r.collect(ctx)
	report.SkippedRows = skipped
	if err != nil {
		return report, err
	}

	entities := make([]model.EntityID, 0, len(grouped))
	for id := range grouped {
		entities = append(entities, id)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i] < entities[j] })

	workers := r.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	type outcome struct {
		entity   model.EntityID
		rejected []*model.MalformedAtomError
		err      error
	}

	jobs := make(chan model.EntityID)
	results := make(chan outcome)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				// Cancellation is checked between entities only; an entity
				// that started folding runs to completion.
				if ctx.Err() != nil {
					continue
				}
				rejected, err := r.reduceEntity(ctx, id, grouped[id])
				results <- outcome{entity: id, rejected: rejected, err: err}
			}
		}()
	}

	// feed jobs; stop feeding once the context is canceled
	go func() {
		defer close(jobs)
		for _, id := range entities {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		report.RejectedOps = append(report.RejectedOps, res.rejected...)
		if res.err != nil {
			report.Failed++
			report.Errors = append(report.Errors, EntityError{EntityID: res.entity, Err: res.err})
		} else {
			report.Succeeded++
		}
	}

	sort.Slice(report.Errors, func(i, j int) bool { return report.Errors[i].EntityID < report.Errors[j].EntityID })
	return report, ctx.Err()
}

// collect pages the whole scoped log into per-entity buckets. Pages arrive
// in non-decreasing id order, so appending keeps every bucket ascending
// even when an entity spans many pages.
func (r *Runner) collect(ctx context.Context) (map[model.EntityID][]model.Operation, []pager.RowWarning, error) {
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	grouped := make(map[model.EntityID][]model.Operation)
	var skipped []pager.RowWarning
	cur := pager.Cursor{}
	for {
		page, err := r.Pager.NextPage(ctx, cur, pageSize, r.Scope)
		if err != nil {
			return grouped, skipped, fmt.Errorf("page operations after %s: %w", cur.LastOperationID, err)
		}
		for _, op := range page.Operations {
			grouped[op.EntityID] = append(grouped[op.EntityID], op)
		}
		skipped = append(skipped, page.Skipped...)
		cur = page.NextCursor
		if page.Exhausted {
			return grouped, skipped, nil
		}
	}
}

// reduceEntity resolves, folds, and upserts one entity.
func (r *Runner) reduceEntity(ctx context.Context, id model.EntityID, ops []model.Operation) ([]*model.MalformedAtomError, error) {
	h, err := causal.Resolve(id, ops)
	if err != nil {
		return nil, err
	}
	res, err := Reduce(h, r.Policy)
	if err != nil {
		return res.Rejected, err
	}
	if r.Store != nil {
		if err := r.Store.UpsertReduced(ctx, res.Record); err != nil {
			return res.Rejected, fmt.Errorf("upsert reduced record: %w", err)
		}
	}
	return res.Rejected, nil
}
