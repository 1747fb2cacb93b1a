package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authgate/internal/dbx"
	"github.com/dmitrijs2005/authgate/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, e *models.AuditEvent) error {
	query :=
		`INSERT INTO audit_events (user_id, action, ip_address, user_agent, path, details)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at
		 `

	var userID sql.NullString
	if e.UserID != "" {
		userID = sql.NullString{String: e.UserID, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		userID, string(e.Action), e.IPAddress, e.UserAgent, e.Path, e.Details,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.AuditEvent, error) {
	query :=
		`SELECT id, user_id, action, ip_address, user_agent, path, details, created_at
		 FROM audit_events
		 WHERE created_at < $1
		 ORDER BY id
		 LIMIT $2
		 `

	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	events := make([]models.AuditEvent, 0)
	for rows.Next() {
		var (
			e      models.AuditEvent
			userID sql.NullString
			action string
		)
		if err := rows.Scan(&e.ID, &userID, &action, &e.IPAddress, &e.UserAgent, &e.Path, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		e.UserID = userID.String
		e.Action = models.AuditAction(action)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return events, nil
}

func (r *PostgresRepository) DeleteUpTo(ctx context.Context, maxID int64, cutoff time.Time) (int64, error) {
	query :=
		`DELETE FROM audit_events
		 WHERE id <= $1 AND created_at < $2
		 `

	res, err := r.db.ExecContext(ctx, query, maxID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
