package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// AuditRepository owns the append-only audit_log table. There is no
// update or delete path on purpose.
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates an audit repository.
func NewAuditRepository(db *DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts one audit entry. log_id and created_at are assigned by
// the database.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditLog) error {
	query := `
		INSERT INTO audit_log (
			admin_id, admin_email, action_type, entity_type, entity_id,
			old_value, new_value, ip_address, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING log_id, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		entry.AdminID, entry.AdminEmail, entry.ActionType, entry.EntityType,
		entry.EntityID, entry.OldValue, entry.NewValue, entry.IPAddress,
		entry.UserAgent,
	).Scan(&entry.LogID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List returns a page of audit entries, newest first, with the total
// row count for pagination.
func (r *AuditRepository) List(ctx context.Context, limit, offset int) ([]*AuditLog, int64, error) {
	var total int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	query := `
		SELECT log_id, admin_id, admin_email, action_type, entity_type,
		       entity_id, old_value, new_value, ip_address, user_agent, created_at
		FROM audit_log
		ORDER BY created_at DESC, log_id DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool().Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []*AuditLog
	for rows.Next() {
		var e AuditLog
		err := rows.Scan(
			&e.LogID, &e.AdminID, &e.AdminEmail, &e.ActionType, &e.EntityType,
			&e.EntityID, &e.OldValue, &e.NewValue, &e.IPAddress, &e.UserAgent,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit rows: %w", err)
	}
	return out, total, nil
}
