package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// audit appends an entry by the store's own actor.
func (s *SQLiteStore) audit(ctx context.Context, db execer, action, targetID string, details map[string]any) error {
	entry := &AuditEntry{Action: action, Actor: s.cfg.Actor, TargetID: &targetID}
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		text := string(data)
		entry.Details = &text
	}
	return insertAudit(ctx, db, entry)
}

func insertAudit(ctx context.Context, db execer, e *AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO audit (action, actor, target_id, details, ip_address, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Action, e.Actor, e.TargetID, e.Details, e.IPAddress, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit entry %s: %w", e.Action, err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// CreateAuditEntry appends entry and sets its ID.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if s.db == nil {
		return errNotInitialized
	}
	return insertAudit(ctx, s.db, entry)
}

// ListAuditEntries lists audit entries matching filter in insertion order.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	var (
		conds []string
		args  []any
	)
	for col, v := range map[string]*string{
		"action":    filter.Action,
		"actor":     filter.Actor,
		"target_id": filter.TargetID,
	} {
		if v != nil {
			conds, args = append(conds, col+" = ?"), append(args, *v)
		}
	}

	q := `SELECT id, action, actor, target_id, details, ip_address, timestamp FROM audit`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limitOrAll(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &e.TargetID, &e.Details, &e.IPAddress, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
