package database

import (
	"context"
	"time"
)

// Audit entity types.
const (
	AuditEntityBox     = "box"
	AuditEntityBooking = "booking"
)

// AuditEntry is one row of the mutation trail.
type AuditEntry struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordAudit appends a mutation record. Callers treat failures as
// non-fatal: the mutation itself already happened.
func (db *DB) RecordAudit(ctx context.Context, entityType, entityID, action, actor, detail string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, action, actor, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entityType, entityID, action, actor, detail, time.Now().UTC(),
	)
	return err
}

// ListAuditEntries returns the newest entries for an entity type, most
// recent first. An empty entityType returns entries of every type.
func (db *DB) ListAuditEntries(ctx context.Context, entityType string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, entity_type, entity_id, action, actor, detail, created_at
		FROM audit_log`
	args := []interface{}{}
	if entityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.Actor, &e.Detail, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
