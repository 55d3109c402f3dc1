package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"agendamento-api/internal/apperr"
	"agendamento-api/internal/model"
)

// GetApplication resolves a candidatura to its candidate. The rows are
// written by the enrollment side; this core treats them as read-only.
func (s *Store) GetApplication(ctx context.Context, tenantID, id string) (*model.Application, error) {
	a := &model.Application{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, candidate_id FROM applications WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&a.ID, &a.TenantID, &a.CandidateID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("application not found")
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}
