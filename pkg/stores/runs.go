package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/result"
)

const runColumns = `id, operation, environment, resource, document, document_kind, status, state, started_at, completed_at, error`

// CreateRun records an accepted run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *engine.Run) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs (`+runColumns+`, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Operation, run.Environment, run.Resource, run.Document, run.DocumentKind,
			run.Status, run.State, run.StartedAt, run.CompletedAt, run.Error, now, now)
		if err != nil {
			return fmt.Errorf("insert run %s: %w", run.ID, err)
		}

		return s.audit(ctx, tx, AuditRunCreated, run.ID, map[string]any{
			"operation":   run.Operation,
			"environment": run.Environment,
			"resource":    run.Resource,
			"document":    run.Document,
		})
	})
}

// CompleteRun records the terminal status of a run and replaces its
// result tree with tree.
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *engine.Run, tree result.Snapshot) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE runs SET status = ?, state = ?, completed_at = ?, error = ?, updated_at = ? WHERE id = ?`,
			run.Status, run.State, run.CompletedAt, run.Error, time.Now().UTC(), run.ID)
		if err != nil {
			return fmt.Errorf("update run %s: %w", run.ID, err)
		}
		if err := mustAffect(res, "run "+run.ID); err != nil {
			return err
		}

		nodes, err := replaceTree(ctx, tx, run.ID, tree)
		if err != nil {
			return err
		}

		details := map[string]any{
			"status":   run.Status,
			"state":    run.State,
			"nodes":    nodes,
			"duration": run.Duration().String(),
		}
		if run.Error != "" {
			details["error"] = run.Error
		}
		return s.audit(ctx, tx, AuditRunCompleted, run.ID, details)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*engine.Run, error) {
	var (
		run       engine.Run
		completed sql.NullTime
	)
	err := row.Scan(&run.ID, &run.Operation, &run.Environment, &run.Resource, &run.Document,
		&run.DocumentKind, &run.Status, &run.State, &run.StartedAt, &completed, &run.Error)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return &run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns lists runs matching filter, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		conds, args = append(conds, "status = ?"), append(args, filter.Status)
	}
	if filter.Resource != "" {
		conds, args = append(conds, "resource = ?"), append(args, filter.Resource)
	}

	var q strings.Builder
	q.WriteString(`SELECT ` + runColumns + ` FROM runs`)
	if len(conds) > 0 {
		q.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	q.WriteString(" ORDER BY started_at DESC, id LIMIT ? OFFSET ?")
	args = append(args, limitOrAll(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun deletes a run. Its result tree goes with it through the
// foreign key cascade.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete run %s: %w", id, err)
		}
		if err := mustAffect(res, "run "+id); err != nil {
			return err
		}
		return s.audit(ctx, tx, AuditRunDeleted, id, nil)
	})
}
