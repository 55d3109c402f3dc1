package store

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"agendamento-api/internal/apperr"
	"agendamento-api/internal/model"
)

const appointmentCols = `id, tenant_id, worker_id, application_id, start_time,
	duration_minutes, status, created_by, created_at, updated_at`

// lockKey maps a (tenant, worker) pair onto the advisory lock space so
// bookings for one worker serialize while other workers stay parallel.
func lockKey(tenantID, workerID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(workerID))
	return int64(h.Sum64())
}

// CreateAppointment commits a booking. The transaction takes a per-worker
// advisory lock and re-checks overlap and the one-open-per-application
// rule before inserting, so a slot that "looked free" when availability
// was computed is re-validated at commit time. The exclusion constraint
// on (worker_id, time range) is the backstop for anything that slips by.
func (s *Store) CreateAppointment(ctx context.Context, a *model.Appointment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(a.TenantID, a.WorkerID)); err != nil {
		return err
	}

	if dup, err := hasOverlapTx(ctx, tx, a.TenantID, a.WorkerID, a.StartTime, a.EndTime(), ""); err != nil {
		return err
	} else if dup {
		return apperr.Conflict("time range is no longer free")
	}

	if open, err := hasOpenTx(ctx, tx, a.TenantID, a.ApplicationID, ""); err != nil {
		return err
	} else if open {
		return apperr.Conflict("application already has an open appointment")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO appointments (id, tenant_id, worker_id, application_id, start_time, duration_minutes, status, created_by)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.TenantID, a.WorkerID, a.ApplicationID, a.StartTime, a.DurationMinutes, a.Status, a.CreatedBy,
	)
	if err != nil {
		return mapConflict(err)
	}
	return tx.Commit(ctx)
}

// RescheduleAppointment moves a scheduled appointment to a new time under
// the same per-worker lock, excluding the appointment's own interval from
// the overlap check.
func (s *Store) RescheduleAppointment(ctx context.Context, a *model.Appointment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(a.TenantID, a.WorkerID)); err != nil {
		return err
	}

	if dup, err := hasOverlapTx(ctx, tx, a.TenantID, a.WorkerID, a.StartTime, a.EndTime(), a.ID); err != nil {
		return err
	} else if dup {
		return apperr.Conflict("time range is no longer free")
	}

	tag, err := tx.Exec(ctx,
		`UPDATE appointments
		 SET start_time=$1, duration_minutes=$2, updated_at=NOW()
		 WHERE id=$3 AND tenant_id=$4 AND status=$5`,
		a.StartTime, a.DurationMinutes, a.ID, a.TenantID, model.StatusScheduled,
	)
	if err != nil {
		return mapConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidState("appointment is not scheduled")
	}
	return tx.Commit(ctx)
}

// TransitionStatus atomically moves an appointment from one status to
// another, failing with InvalidState when the row is not in `from`.
func (s *Store) TransitionStatus(ctx context.Context, tenantID, id string, from, to model.AppointmentStatus) (*model.Appointment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	a := &model.Appointment{}
	err = tx.QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointments WHERE id=$1 AND tenant_id=$2 FOR UPDATE`,
		id, tenantID,
	).Scan(&a.ID, &a.TenantID, &a.WorkerID, &a.ApplicationID, &a.StartTime,
		&a.DurationMinutes, &a.Status, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return nil, err
	}
	if a.Status != from {
		return nil, apperr.InvalidState("appointment is %s, not %s", a.Status, from)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE appointments SET status=$1, updated_at=NOW() WHERE id=$2`, to, a.ID,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	a.Status = to
	return a, nil
}

func (s *Store) GetAppointment(ctx context.Context, tenantID, id string) (*model.Appointment, error) {
	a := &model.Appointment{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointments WHERE id=$1 AND tenant_id=$2`,
		id, tenantID,
	).Scan(&a.ID, &a.TenantID, &a.WorkerID, &a.ApplicationID, &a.StartTime,
		&a.DurationMinutes, &a.Status, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

type ListFilter struct {
	From   time.Time
	To     time.Time
	Status model.AppointmentStatus
	// Desc orders by start_time descending (historical views).
	Desc bool
}

func (s *Store) ListForWorker(ctx context.Context, tenantID, workerID string, f ListFilter) ([]model.Appointment, error) {
	q := `SELECT ` + appointmentCols + ` FROM appointments WHERE tenant_id=$1 AND worker_id=$2`
	args := []any{tenantID, workerID}
	q, args = applyFilter(q, args, "", f)
	return s.queryAppointments(ctx, q, args)
}

func (s *Store) ListForCandidate(ctx context.Context, tenantID, candidateID string, f ListFilter) ([]model.Appointment, error) {
	q := `SELECT a.id, a.tenant_id, a.worker_id, a.application_id, a.start_time,
	      a.duration_minutes, a.status, a.created_by, a.created_at, a.updated_at
	      FROM appointments a
	      JOIN applications ap ON ap.id = a.application_id AND ap.tenant_id = a.tenant_id
	      WHERE a.tenant_id=$1 AND ap.candidate_id=$2`
	args := []any{tenantID, candidateID}
	q, args = applyFilter(q, args, "a.", f)
	return s.queryAppointments(ctx, q, args)
}

// BusyIntervals returns the scheduled intervals for a worker overlapping
// [from, to), sorted by start. Feeds the availability calculation.
func (s *Store) BusyIntervals(ctx context.Context, tenantID, workerID string, from, to time.Time) ([]model.Slot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT start_time, start_time + duration_minutes * interval '1 minute'
		 FROM appointments
		 WHERE tenant_id=$1 AND worker_id=$2 AND status=$3
		   AND start_time < $5
		   AND start_time + duration_minutes * interval '1 minute' > $4
		 ORDER BY start_time`,
		tenantID, workerID, model.StatusScheduled, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Slot
	for rows.Next() {
		var sl model.Slot
		if err := rows.Scan(&sl.Start, &sl.End); err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

// applyFilter appends the optional range/status predicates and ordering.
// prefix is the table alias for joined queries ("a." or "").
func applyFilter(q string, args []any, prefix string, f ListFilter) (string, []any) {
	col := prefix + "start_time"
	statusCol := prefix + "status"
	if !f.From.IsZero() {
		args = append(args, f.From)
		q += ` AND ` + col + ` >= $` + strconv.Itoa(len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		q += ` AND ` + col + ` < $` + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		q += ` AND ` + statusCol + ` = $` + strconv.Itoa(len(args))
	}
	if f.Desc {
		q += ` ORDER BY ` + col + ` DESC`
	} else {
		q += ` ORDER BY ` + col + ` ASC`
	}
	return q, args
}

func (s *Store) queryAppointments(ctx context.Context, q string, args []any) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(&a.ID, &a.TenantID, &a.WorkerID, &a.ApplicationID, &a.StartTime,
			&a.DurationMinutes, &a.Status, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func hasOverlapTx(ctx context.Context, tx pgx.Tx, tenantID, workerID string, start, end time.Time, excludeID string) (bool, error) {
	q := `SELECT EXISTS(
		SELECT 1 FROM appointments
		WHERE tenant_id = $1
		  AND worker_id = $2
		  AND status = $3
		  AND start_time < $5
		  AND start_time + duration_minutes * interval '1 minute' > $4`
	args := []any{tenantID, workerID, model.StatusScheduled, start, end}
	if excludeID != "" {
		args = append(args, excludeID)
		q += ` AND id != $6`
	}
	q += `)`

	var exists bool
	err := tx.QueryRow(ctx, q, args...).Scan(&exists)
	return exists, err
}

func hasOpenTx(ctx context.Context, tx pgx.Tx, tenantID, applicationID, excludeID string) (bool, error) {
	q := `SELECT EXISTS(
		SELECT 1 FROM appointments
		WHERE tenant_id = $1 AND application_id = $2 AND status = $3`
	args := []any{tenantID, applicationID, model.StatusScheduled}
	if excludeID != "" {
		args = append(args, excludeID)
		q += ` AND id != $4`
	}
	q += `)`

	var exists bool
	err := tx.QueryRow(ctx, q, args...).Scan(&exists)
	return exists, err
}

// mapConflict translates an exclusion/unique violation from the database
// into the domain conflict error.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505") {
		return apperr.Conflict("time range is no longer free")
	}
	return err
}
