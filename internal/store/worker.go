package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"agendamento-api/internal/apperr"
)

// Worker rows are owned by the profile service; this core only reads
// them to validate booking targets.
type Worker struct {
	ID       string
	TenantID string
	Name     string
}

func (s *Store) GetWorker(ctx context.Context, tenantID, id string) (*Worker, error) {
	w := &Worker{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name FROM workers WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&w.ID, &w.TenantID, &w.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("worker not found")
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}
