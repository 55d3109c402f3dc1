package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"agendamento-api/internal/auth"
	"agendamento-api/internal/handler"
	"agendamento-api/internal/middleware"
	"agendamento-api/internal/model"
	"agendamento-api/internal/service"
	"agendamento-api/internal/store"
)

type fx struct {
	api    http.Handler
	pool   *pgxpool.Pool
	secret string

	tenant  string
	worker  model.Principal
	worker2 model.Principal
	cand    model.Principal
	admin   model.Principal
	appID   string
}

func setup(t *testing.T) *fx {
	t.Helper()
	_ = godotenv.Load("../../.env")
	dbURL := os.Getenv("DATABASE_URL")
	secret := os.Getenv("JWT_SECRET")
	if dbURL == "" || secret == "" {
		t.Skip("DATABASE_URL or JWT_SECRET not set")
	}
	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(pool.Close)

	migration, err := os.ReadFile("../../db/migrations/001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := pool.Exec(context.Background(), string(migration)); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	st := store.New(pool)
	svc := service.New(st, nil, nil, zap.NewNop(), service.Options{})
	h := handler.New(svc, zap.NewNop())

	f := &fx{
		api:    middleware.Auth(secret)(h.Routes()),
		pool:   pool,
		secret: secret,
		tenant: uuid.NewString(),
	}
	f.worker = model.Principal{UserID: uuid.NewString(), Role: model.RoleSocialWorker, TenantID: f.tenant}
	f.worker2 = model.Principal{UserID: uuid.NewString(), Role: model.RoleSocialWorker, TenantID: f.tenant}
	f.cand = model.Principal{UserID: uuid.NewString(), Role: model.RoleCandidate, TenantID: f.tenant}
	f.admin = model.Principal{UserID: uuid.NewString(), Role: model.RoleAdmin, TenantID: f.tenant}

	ctx := context.Background()
	for _, w := range []model.Principal{f.worker, f.worker2} {
		if _, err := pool.Exec(ctx,
			`INSERT INTO workers (id, tenant_id, name) VALUES ($1, $2, $3)`,
			w.UserID, f.tenant, "Assistente "+w.UserID[:8]); err != nil {
			t.Fatalf("seed worker: %v", err)
		}
	}
	f.appID = uuid.NewString()
	if _, err := pool.Exec(ctx,
		`INSERT INTO applications (id, tenant_id, candidate_id) VALUES ($1, $2, $3)`,
		f.appID, f.tenant, f.cand.UserID); err != nil {
		t.Fatalf("seed application: %v", err)
	}

	// every weekday wide open so "48 hours from now" is always bookable
	cfg := &model.WorkingHoursConfig{WorkerID: f.worker.UserID, TenantID: f.tenant, SlotMinutes: 30}
	for d := time.Sunday; d <= time.Saturday; d++ {
		cfg.Windows = append(cfg.Windows, model.WeeklyWindow{Weekday: d, StartTime: "00:00", EndTime: "23:30"})
	}
	if err := st.PutWorkingHours(ctx, cfg); err != nil {
		t.Fatalf("seed working hours: %v", err)
	}
	return f
}

func (f *fx) token(t *testing.T, p model.Principal) string {
	t.Helper()
	tok, err := auth.MakeToken(p, f.secret)
	if err != nil {
		t.Fatalf("make token: %v", err)
	}
	return tok
}

func (f *fx) do(t *testing.T, p model.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token(t, p))
	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	return rec
}

// nextSlot returns an aligned half-hour boundary comfortably in the
// future.
func nextSlot() time.Time {
	return time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
}

type apptBody struct {
	ID              string    `json:"id"`
	WorkerID        string    `json:"worker_id"`
	ApplicationID   string    `json:"application_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
}

func decodeAppt(t *testing.T, rec *httptest.ResponseRecorder) apptBody {
	t.Helper()
	var a apptBody
	if err := json.NewDecoder(rec.Body).Decode(&a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return a
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var b struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return b.Error.Code
}

func (f *fx) create(t *testing.T, start time.Time) apptBody {
	t.Helper()
	rec := f.do(t, f.worker, "POST", "/agendamentos", map[string]any{
		"worker_id":        f.worker.UserID,
		"application_id":   f.appID,
		"start_time":       start,
		"duration_minutes": 30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeAppt(t, rec)
}

// ----- auth -----

func TestUnauthenticated(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest("GET", "/agendamentos", nil)
	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/agendamentos", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec = httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: expected 401, got %d", rec.Code)
	}
}

// ----- create / get -----

func TestCreateAndGet(t *testing.T) {
	f := setup(t)

	a := f.create(t, nextSlot())
	if a.ID == "" {
		t.Fatal("empty id")
	}
	if a.Status != "scheduled" {
		t.Errorf("status: got %s", a.Status)
	}

	rec := f.do(t, f.worker, "GET", "/agendamentos/"+a.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeAppt(t, rec)
	if got.WorkerID != f.worker.UserID || got.ApplicationID != f.appID {
		t.Errorf("get returned wrong appointment: %+v", got)
	}
}

func TestCreateValidation(t *testing.T) {
	f := setup(t)
	start := nextSlot()

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing worker", map[string]any{
			"application_id": f.appID, "start_time": start, "duration_minutes": 30,
		}, http.StatusBadRequest},
		{"zero duration", map[string]any{
			"worker_id": f.worker.UserID, "application_id": f.appID,
			"start_time": start, "duration_minutes": 0,
		}, http.StatusBadRequest},
		{"off-grid duration", map[string]any{
			"worker_id": f.worker.UserID, "application_id": f.appID,
			"start_time": start, "duration_minutes": 45,
		}, http.StatusBadRequest},
		{"past booking", map[string]any{
			"worker_id": f.worker.UserID, "application_id": f.appID,
			"start_time": time.Now().UTC().Add(-2 * time.Hour), "duration_minutes": 30,
		}, http.StatusBadRequest},
		{"unknown application", map[string]any{
			"worker_id": f.worker.UserID, "application_id": uuid.NewString(),
			"start_time": start, "duration_minutes": 30,
		}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, f.worker, "POST", "/agendamentos", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateForbiddenForCandidate(t *testing.T) {
	f := setup(t)
	rec := f.do(t, f.cand, "POST", "/agendamentos", map[string]any{
		"worker_id":        f.worker.UserID,
		"application_id":   f.appID,
		"start_time":       nextSlot(),
		"duration_minutes": 30,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if code := errCode(t, rec); code != "forbidden" {
		t.Errorf("expected code forbidden, got %s", code)
	}
}

func TestCreateConflict(t *testing.T) {
	f := setup(t)
	start := nextSlot()
	f.create(t, start)

	app2 := uuid.NewString()
	if _, err := f.pool.Exec(context.Background(),
		`INSERT INTO applications (id, tenant_id, candidate_id) VALUES ($1, $2, $3)`,
		app2, f.tenant, uuid.NewString()); err != nil {
		t.Fatalf("seed application: %v", err)
	}

	rec := f.do(t, f.worker, "POST", "/agendamentos", map[string]any{
		"worker_id":        f.worker.UserID,
		"application_id":   app2,
		"start_time":       start,
		"duration_minutes": 30,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if code := errCode(t, rec); code != "conflict" {
		t.Errorf("expected code conflict, got %s", code)
	}
}

// ----- concurrent booking -----

func TestConcurrentBookingHTTP(t *testing.T) {
	f := setup(t)
	start := nextSlot()

	const n = 10
	appIDs := make([]string, n)
	for i := range appIDs {
		appIDs[i] = uuid.NewString()
		if _, err := f.pool.Exec(context.Background(),
			`INSERT INTO applications (id, tenant_id, candidate_id) VALUES ($1, $2, $3)`,
			appIDs[i], f.tenant, uuid.NewString()); err != nil {
			t.Fatalf("seed application: %v", err)
		}
	}

	var wg sync.WaitGroup
	codes := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(appID string) {
			defer wg.Done()
			rec := f.do(t, f.worker, "POST", "/agendamentos", map[string]any{
				"worker_id":        f.worker.UserID,
				"application_id":   appID,
				"start_time":       start,
				"duration_minutes": 30,
			})
			codes <- rec.Code
		}(appIDs[i])
	}
	wg.Wait()
	close(codes)

	created, conflicts := 0, 0
	for c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		default:
			t.Errorf("unexpected status %d", c)
		}
	}
	if created != 1 {
		t.Errorf("expected exactly 1 created, got %d", created)
	}
	if conflicts != n-1 {
		t.Errorf("expected %d conflicts, got %d", n-1, conflicts)
	}
	t.Logf("concurrent: %d created, %d conflicts", created, conflicts)
}

// ----- lifecycle -----

func TestCancelFlow(t *testing.T) {
	f := setup(t)
	a := f.create(t, nextSlot())

	rec := f.do(t, f.worker, "DELETE", "/agendamentos/"+a.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeAppt(t, rec); got.Status != "cancelled" {
		t.Errorf("status after cancel: %s", got.Status)
	}

	rec = f.do(t, f.worker, "DELETE", "/agendamentos/"+a.ID, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("double cancel: expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if code := errCode(t, rec); code != "invalid_state" {
		t.Errorf("expected code invalid_state, got %s", code)
	}
}

func TestCompleteBeforeStart(t *testing.T) {
	f := setup(t)
	a := f.create(t, nextSlot())

	rec := f.do(t, f.worker, "POST", "/agendamentos/"+a.ID+"/realizado", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateReschedule(t *testing.T) {
	f := setup(t)
	start := nextSlot()
	a := f.create(t, start)

	rec := f.do(t, f.worker, "PUT", "/agendamentos/"+a.ID, map[string]any{
		"start_time": start.Add(time.Hour),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeAppt(t, rec); !got.StartTime.Equal(start.Add(time.Hour)) {
		t.Errorf("start not moved: %v", got.StartTime)
	}

	rec = f.do(t, f.worker, "PUT", "/agendamentos/"+a.ID, map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty update: expected 400, got %d", rec.Code)
	}
}

// ----- visibility -----

func TestOwnershipHidden(t *testing.T) {
	f := setup(t)
	a := f.create(t, nextSlot())

	rec := f.do(t, f.worker2, "GET", "/agendamentos/"+a.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("other worker: expected 404, got %d", rec.Code)
	}

	rec = f.do(t, f.admin, "GET", "/agendamentos/"+a.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("admin: expected 200, got %d", rec.Code)
	}

	rec = f.do(t, f.cand, "GET", "/agendamentos/"+a.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("own candidate: expected 200, got %d", rec.Code)
	}
}

func TestListEndpoints(t *testing.T) {
	f := setup(t)
	a := f.create(t, nextSlot())

	rec := f.do(t, f.worker, "GET", "/agendamentos", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("worker list: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var lst struct {
		Appointments []apptBody `json:"appointments"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&lst); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(lst.Appointments) != 1 || lst.Appointments[0].ID != a.ID {
		t.Errorf("worker list: %+v", lst.Appointments)
	}

	rec = f.do(t, f.cand, "GET", "/agendamentos/candidato", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("candidate list: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	lst.Appointments = nil
	if err := json.NewDecoder(rec.Body).Decode(&lst); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(lst.Appointments) != 1 || lst.Appointments[0].ID != a.ID {
		t.Errorf("candidate list: %+v", lst.Appointments)
	}

	rec = f.do(t, f.worker, "GET", "/agendamentos?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter: expected 400, got %d", rec.Code)
	}
}

// ----- free slots -----

func TestFreeSlotsEndpoint(t *testing.T) {
	f := setup(t)
	start := nextSlot()
	day := start.Truncate(24 * time.Hour)

	path := fmt.Sprintf("/agendamentos/horarios-disponiveis?assistente_id=%s&inicio=%s&fim=%s",
		f.worker.UserID,
		day.Format(time.RFC3339),
		day.AddDate(0, 0, 1).Format(time.RFC3339))

	rec := f.do(t, f.cand, "GET", path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("slots: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Slots []model.Slot `json:"slots"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	if len(out.Slots) == 0 {
		t.Fatal("expected open slots")
	}
	contains := func(slots []model.Slot, at time.Time) bool {
		for _, s := range slots {
			if s.Start.Equal(at) {
				return true
			}
		}
		return false
	}
	if !contains(out.Slots, start) {
		t.Fatalf("slot %v missing before booking", start)
	}

	f.create(t, start)

	rec = f.do(t, f.cand, "GET", path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("slots after booking: expected 200, got %d", rec.Code)
	}
	out.Slots = nil
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	if contains(out.Slots, start) {
		t.Error("booked slot still offered")
	}

	rec = f.do(t, f.cand, "GET", "/agendamentos/horarios-disponiveis?inicio="+day.Format(time.RFC3339), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing assistente_id: expected 400, got %d", rec.Code)
	}
}

// ----- working hours -----

func TestWorkingHoursEndpoints(t *testing.T) {
	f := setup(t)

	body := map[string]any{
		"slot_minutes":      20,
		"lead_time_minutes": 120,
		"windows": []map[string]any{
			{"weekday": 2, "start_time": "14:00", "end_time": "17:00"},
		},
	}
	rec := f.do(t, f.worker, "PUT", "/assistentes/"+f.worker.UserID+"/horarios", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("put hours: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, f.worker, "GET", "/assistentes/"+f.worker.UserID+"/horarios", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get hours: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		SlotMinutes int `json:"slot_minutes"`
		Windows     []struct {
			Weekday int `json:"weekday"`
		} `json:"windows"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode hours: %v", err)
	}
	if got.SlotMinutes != 20 || len(got.Windows) != 1 || got.Windows[0].Weekday != 2 {
		t.Errorf("hours round trip: %+v", got)
	}

	rec = f.do(t, f.cand, "PUT", "/assistentes/"+f.worker.UserID+"/horarios", body)
	if rec.Code != http.StatusForbidden {
		t.Errorf("candidate put hours: expected 403, got %d", rec.Code)
	}

	rec = f.do(t, f.worker2, "PUT", "/assistentes/"+f.worker.UserID+"/horarios", body)
	if rec.Code != http.StatusForbidden {
		t.Errorf("other worker put hours: expected 403, got %d", rec.Code)
	}

	body["windows"] = []map[string]any{{"weekday": 1, "start_time": "17:00", "end_time": "09:00"}}
	rec = f.do(t, f.worker, "PUT", "/assistentes/"+f.worker.UserID+"/horarios", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted window: expected 400, got %d", rec.Code)
	}
}
