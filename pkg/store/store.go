// Package store manages SQLite persistence for the operation log.
//
// SQLite in WAL mode holds three tables: the append-only operation log
// (rows are inserted once and never rewritten), the reduced-record cache
// (overwritten freely via upsert — it is recomputable from the log), and
// the dataset-version registry that operations reference for attribution.
// The log's primary key is the HLC operation id, which doubles as the sort
// key for paged reads and the uniqueness guarantee for appends.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/daviddao/taxalog/pkg/model"
	"github.com/daviddao/taxalog/pkg/pager"
)

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryRead and retryWrite wrap retryOp from retry.go with the budget for
// the operation class.
func retryRead(fn func() error) error  { return retryOp(readRetry, fn) }
func retryWrite(fn func() error) error { return retryOp(writeRetry, fn) }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dataset_versions (
		id          TEXT PRIMARY KEY,
		dataset     TEXT NOT NULL,
		version     TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		imported_at TEXT NOT NULL,
		UNIQUE (dataset, version)
	);

	CREATE TABLE IF NOT EXISTS operations (
		operation_id    INTEGER PRIMARY KEY,
		entity_id       TEXT NOT NULL,
		parent_op_id    INTEGER,
		dataset_version TEXT NOT NULL REFERENCES dataset_versions(id),
		action          TEXT NOT NULL,
		atom            TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_operations_entity ON operations(entity_id, operation_id);

	CREATE TABLE IF NOT EXISTS reduced_records (
		entity_id         TEXT PRIMARY KEY,
		fields            TEXT NOT NULL,
		deleted           INTEGER NOT NULL DEFAULT 0,
		last_operation_id INTEGER NOT NULL,
		reduced_at        TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Dataset versions
// ---------------------------------------------------------------------------

// RegisterDatasetVersion records one import of one source dataset,
// generating a fresh id. Idempotent: re-registering the same
// (dataset, version) pair returns the existing row.
func (s *Store) RegisterDatasetVersion(dataset, version string, createdAt time.Time) (*model.DatasetVersion, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := retryWrite(func() error {
		_, err := s.db.Exec(
			`INSERT INTO dataset_versions (id, dataset, version, created_at, imported_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(dataset, version) DO NOTHING`,
			uuid.NewString(), dataset, version, createdAt.UTC().Format(time.RFC3339Nano), now,
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRow(
		`SELECT id, dataset, version, created_at, imported_at
		 FROM dataset_versions WHERE dataset = ? AND version = ?`, dataset, version,
	)
	return scanDatasetVersion(row)
}

// GetDatasetVersion retrieves a dataset version by id.
func (s *Store) GetDatasetVersion(id string) (*model.DatasetVersion, error) {
	row := s.db.QueryRow(
		`SELECT id, dataset, version, created_at, imported_at
		 FROM dataset_versions WHERE id = ?`, id,
	)
	return scanDatasetVersion(row)
}

func scanDatasetVersion(row *sql.Row) (*model.DatasetVersion, error) {
	var dv model.DatasetVersion
	var createdStr, importedStr string
	if err := row.Scan(&dv.ID, &dv.Dataset, &dv.Version, &createdStr, &importedStr); err != nil {
		return nil, err
	}
	var parseErr error
	dv.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdStr)
	if parseErr != nil {
		return nil, fmt.Errorf("parse created_at for dataset version %s: %w", dv.ID, parseErr)
	}
	dv.ImportedAt, parseErr = time.Parse(time.RFC3339Nano, importedStr)
	if parseErr != nil {
		return nil, fmt.Errorf("parse imported_at for dataset version %s: %w", dv.ID, parseErr)
	}
	return &dv, nil
}

// ---------------------------------------------------------------------------
// Operation log
// ---------------------------------------------------------------------------

// AppendOperations appends a batch of operations to the log in one
// transaction. The operation id is the primary key, so appending an id that
// already exists fails the whole batch — the log never rewrites a row.
func (s *Store) AppendOperations(ops []model.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	return retryWrite(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		stmt, err := tx.Prepare(
			`INSERT INTO operations (operation_id, entity_id, parent_op_id, dataset_version, action, atom)
			 VALUES (?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, op := range ops {
			atom, err := json.Marshal(op.Atom)
			if err != nil {
				return fmt.Errorf("marshal atom for operation %s: %w", op.ID, err)
			}
			var parent sql.NullInt64
			if !op.Parent.IsZero() {
				parent = sql.NullInt64{Int64: int64(op.Parent), Valid: true}
			}
			if _, err := stmt.Exec(
				int64(op.ID), string(op.EntityID), parent,
				op.DatasetVersion, string(op.Action), string(atom),
			); err != nil {
				return fmt.Errorf("append operation %s: %w", op.ID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit append: %w", err)
		}
		return nil
	})
}

// MaxOperationID returns the highest operation id in the log, or zero if
// the log is empty. Used to seed the clock after a restart.
func (s *Store) MaxOperationID() model.OperationID {
	var id int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(operation_id), 0) FROM operations`).Scan(&id); err != nil {
		return 0
	}
	return model.OperationID(id)
}

// CountOperations returns the total number of operations in the log.
func (s *Store) CountOperations() int64 {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM operations`).Scan(&count); err != nil {
		return 0
	}
	return count
}

// OperationsForEntities returns all operations for the given entities in
// ascending id order. Import jobs use this to load the existing log for the
// entities a new chunk touches before distinct-changes filtering.
func (s *Store) OperationsForEntities(ids []model.EntityID) ([]model.Operation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}

	var ops []model.Operation
	err := retryRead(func() error {
		rows, err := s.db.Query(
			`SELECT operation_id, entity_id, parent_op_id, dataset_version, action, atom
			 FROM operations WHERE entity_id IN (`+placeholders+`)
			 ORDER BY operation_id ASC`, args...,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		ops = ops[:0]
		for rows.Next() {
			op, err := scanOperation(rows)
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// NextPage implements the pager contract: the next chunk of the log after
// cur, in ascending operation id order, optionally scoped to a set of
// entities. Rows whose atom payload does not parse are skipped with a
// recorded warning; the cursor still advances past them. Reads have no side
// effects, so any previously returned cursor stays valid.
func (s *Store) NextPage(ctx context.Context, cur pager.Cursor, limit int, scope []model.EntityID) (pager.Page, error) {
	if limit <= 0 {
		limit = pager.DefaultLimit
	}

	query := `SELECT operation_id, entity_id, parent_op_id, dataset_version, action, atom
	          FROM operations WHERE operation_id > ?`
	args := []any{int64(cur.LastOperationID)}
	if len(scope) > 0 {
		query += ` AND entity_id IN (` + strings.Repeat("?,", len(scope)-1) + `?)`
		for _, id := range scope {
			args = append(args, string(id))
		}
	}
	// One extra row tells us whether the log continues past this page.
	query += ` ORDER BY operation_id ASC LIMIT ?`
	args = append(args, limit+1)

	page := pager.Page{NextCursor: cur, Exhausted: true}
	err := retryRead(func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		page = pager.Page{NextCursor: cur, Exhausted: true}
		seen := 0
		for rows.Next() {
			if seen == limit {
				page.Exhausted = false
				break
			}
			seen++
			op, err := scanOperation(rows)
			if err != nil {
				if malformed, ok := errAsMalformed(err); ok {
					page.Skipped = append(page.Skipped, pager.RowWarning{
						OperationID: malformed.OperationID,
						EntityID:    malformed.EntityID,
						Err:         malformed,
					})
					page.NextCursor = pager.Cursor{LastOperationID: malformed.OperationID}
					continue
				}
				return err
			}
			page.Operations = append(page.Operations, op)
			page.NextCursor = pager.Cursor{LastOperationID: op.ID}
		}
		return rows.Err()
	})
	if err != nil {
		return pager.Page{NextCursor: cur, Exhausted: false}, fmt.Errorf("page operations: %w", err)
	}
	return page, nil
}

// scanOperation decodes one log row. A row whose atom does not parse is
// returned as a *model.MalformedAtomError carrying the row's ids, so the
// pager can skip it with a warning instead of aborting the read.
func scanOperation(rows *sql.Rows) (model.Operation, error) {
	var op model.Operation
	var opID int64
	var entity, action, atomJSON string
	var parent sql.NullInt64
	if err := rows.Scan(&opID, &entity, &parent, &op.DatasetVersion, &action, &atomJSON); err != nil {
		return model.Operation{}, err
	}
	op.ID = model.OperationID(opID)
	op.EntityID = model.EntityID(entity)
	op.Action = model.Action(action)
	if parent.Valid {
		op.Parent = model.OperationID(parent.Int64)
	}
	if err := json.Unmarshal([]byte(atomJSON), &op.Atom); err != nil {
		return model.Operation{}, &model.MalformedAtomError{
			OperationID: op.ID,
			EntityID:    op.EntityID,
			Reason:      "unparsable atom payload",
			Err:         err,
		}
	}
	return op, nil
}

func errAsMalformed(err error) (*model.MalformedAtomError, bool) {
	malformed, ok := err.(*model.MalformedAtomError)
	return malformed, ok
}

// ---------------------------------------------------------------------------
// Reduced records
// ---------------------------------------------------------------------------

// UpsertReduced overwrites the reduced record for an entity with a newly
// computed one. Idempotent and unconditional: the record is a cache of the
// log, never a source of truth.
func (s *Store) UpsertReduced(ctx context.Context, rec model.ReducedRecord) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields for entity %s: %w", rec.EntityID, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return retryWrite(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO reduced_records (entity_id, fields, deleted, last_operation_id, reduced_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(entity_id) DO UPDATE SET
			   fields = excluded.fields,
			   deleted = excluded.deleted,
			   last_operation_id = excluded.last_operation_id,
			   reduced_at = excluded.reduced_at`,
			string(rec.EntityID), string(fields), boolToInt(rec.Deleted), int64(rec.LastOperationID), now,
		)
		return err
	})
}

// GetReduced retrieves the reduced record for an entity.
func (s *Store) GetReduced(id model.EntityID) (*model.ReducedRecord, error) {
	var rec model.ReducedRecord
	var fieldsJSON string
	var deleted int
	var lastID int64
	err := s.db.QueryRow(
		`SELECT entity_id, fields, deleted, last_operation_id
		 FROM reduced_records WHERE entity_id = ?`, string(id),
	).Scan(&rec.EntityID, &fieldsJSON, &deleted, &lastID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, fmt.Errorf("parse fields for entity %s: %w", id, err)
	}
	rec.Deleted = deleted != 0
	rec.LastOperationID = model.OperationID(lastID)
	return &rec, nil
}

// CountReduced returns the number of reduced records.
func (s *Store) CountReduced() int64 {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM reduced_records`).Scan(&count); err != nil {
		return 0
	}
	return count
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
