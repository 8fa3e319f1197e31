package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/athrane/pineapple-sub012/pkg/result"
)

// Result trees are stored one row per node. Depth and position order the
// rows so that a parent is always read before its children.

// replaceTree swaps the stored tree of a run for tree and returns the
// number of nodes written.
func replaceTree(ctx context.Context, tx *sql.Tx, runID string, tree result.Snapshot) (int, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM result_nodes WHERE run_id = ?`, runID); err != nil {
		return 0, fmt.Errorf("clear result tree of %s: %w", runID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO result_nodes
		(id, run_id, parent_id, position, depth, description, state, start_time, duration_ns, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	w := treeWriter{ctx: ctx, stmt: stmt, runID: runID}
	if err := w.write(nil, 0, 0, tree); err != nil {
		return 0, err
	}
	return w.count, nil
}

type treeWriter struct {
	ctx   context.Context
	stmt  *sql.Stmt
	runID string
	count int
}

func (w *treeWriter) write(parent *string, position, depth int, n result.Snapshot) error {
	msgs := []byte("[]")
	if n.Messages != nil {
		var err error
		if msgs, err = json.Marshal(n.Messages); err != nil {
			return fmt.Errorf("encode messages of %s: %w", n.ID, err)
		}
	}

	_, err := w.stmt.ExecContext(w.ctx, n.ID, w.runID, parent, position, depth,
		n.Description, n.State, n.StartTime, int64(n.Duration), string(msgs))
	if err != nil {
		return fmt.Errorf("insert result %s: %w", n.ID, err)
	}
	w.count++

	for i, c := range n.Children {
		if err := w.write(&n.ID, i, depth+1, c); err != nil {
			return err
		}
	}
	return nil
}

// GetResultTree rebuilds the result tree recorded for a run.
func (s *SQLiteStore) GetResultTree(ctx context.Context, runID string) (*result.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, description, state, start_time, duration_ns, messages
		FROM result_nodes WHERE run_id = ? ORDER BY depth, position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query result tree of %s: %w", runID, err)
	}
	defer rows.Close()

	var (
		rootID   string
		nodes    = map[string]*result.Snapshot{}
		children = map[string][]string{}
	)
	for rows.Next() {
		var (
			n        result.Snapshot
			parent   sql.NullString
			duration int64
			msgs     string
		)
		if err := rows.Scan(&n.ID, &parent, &n.Description, &n.State, &n.StartTime, &duration, &msgs); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		n.Duration = time.Duration(duration)
		if err := json.Unmarshal([]byte(msgs), &n.Messages); err != nil {
			return nil, fmt.Errorf("decode messages of %s: %w", n.ID, err)
		}
		if len(n.Messages) == 0 {
			n.Messages = nil
		}
		nodes[n.ID] = &n

		if !parent.Valid {
			rootID = n.ID
			continue
		}
		if _, ok := nodes[parent.String]; !ok {
			return nil, fmt.Errorf("result %s references unknown parent %s", n.ID, parent.String)
		}
		children[parent.String] = append(children[parent.String], n.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read result tree of %s: %w", runID, err)
	}
	if rootID == "" {
		return nil, fmt.Errorf("result tree of run %s: %w", runID, ErrNotFound)
	}

	tree := assemble(rootID, nodes, children)
	return &tree, nil
}

func assemble(id string, nodes map[string]*result.Snapshot, children map[string][]string) result.Snapshot {
	n := *nodes[id]
	for _, c := range children[id] {
		n.Children = append(n.Children, assemble(c, nodes, children))
	}
	return n
}
