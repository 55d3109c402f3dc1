package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"agendamento-api/internal/model"
)

// GetWorkingHours loads a worker's recurring windows plus granularity
// and lead time. Returns (nil, nil) when the worker has no config yet;
// the caller decides whether that means "no availability".
func (s *Store) GetWorkingHours(ctx context.Context, tenantID, workerID string) (*model.WorkingHoursConfig, error) {
	cfg := &model.WorkingHoursConfig{WorkerID: workerID, TenantID: tenantID}
	err := s.pool.QueryRow(ctx,
		`SELECT slot_minutes, lead_time_minutes, updated_at
		 FROM working_hours_config WHERE tenant_id = $1 AND worker_id = $2`,
		tenantID, workerID,
	).Scan(&cfg.SlotMinutes, &cfg.LeadTimeMinutes, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT weekday, start_time, end_time
		 FROM working_hours_windows
		 WHERE tenant_id = $1 AND worker_id = $2
		 ORDER BY weekday, start_time`,
		tenantID, workerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var w model.WeeklyWindow
		var wd int
		if err := rows.Scan(&wd, &w.StartTime, &w.EndTime); err != nil {
			return nil, err
		}
		w.Weekday = time.Weekday(wd)
		cfg.Windows = append(cfg.Windows, w)
	}
	return cfg, rows.Err()
}

// PutWorkingHours replaces the worker's config and windows atomically.
func (s *Store) PutWorkingHours(ctx context.Context, cfg *model.WorkingHoursConfig) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO working_hours_config (tenant_id, worker_id, slot_minutes, lead_time_minutes, updated_at)
		 VALUES ($1,$2,$3,$4,NOW())
		 ON CONFLICT (tenant_id, worker_id)
		 DO UPDATE SET slot_minutes = EXCLUDED.slot_minutes,
		               lead_time_minutes = EXCLUDED.lead_time_minutes,
		               updated_at = NOW()`,
		cfg.TenantID, cfg.WorkerID, cfg.SlotMinutes, cfg.LeadTimeMinutes,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM working_hours_windows WHERE tenant_id = $1 AND worker_id = $2`,
		cfg.TenantID, cfg.WorkerID,
	)
	if err != nil {
		return err
	}
	for _, w := range cfg.Windows {
		_, err = tx.Exec(ctx,
			`INSERT INTO working_hours_windows (tenant_id, worker_id, weekday, start_time, end_time)
			 VALUES ($1,$2,$3,$4,$5)`,
			cfg.TenantID, cfg.WorkerID, int(w.Weekday), w.StartTime, w.EndTime,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
