package model

import "time"

type Role string

const (
	RoleCandidate    Role = "candidate"
	RoleSocialWorker Role = "social_worker"
	RoleAdmin        Role = "admin"
)

// Principal is the authenticated identity making a request, resolved
// upstream by the auth middleware from a bearer token.
type Principal struct {
	UserID   string
	Role     Role
	TenantID string
}

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

type Appointment struct {
	ID              string
	TenantID        string
	WorkerID        string
	ApplicationID   string
	StartTime       time.Time
	DurationMinutes int
	Status          AppointmentStatus
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// WeeklyWindow is one recurring working-hours block, times as "HH:MM" 24h.
type WeeklyWindow struct {
	Weekday   time.Weekday
	StartTime string
	EndTime   string
}

type WorkingHoursConfig struct {
	WorkerID        string
	TenantID        string
	Windows         []WeeklyWindow
	SlotMinutes     int
	LeadTimeMinutes int
	UpdatedAt       time.Time
}

// Slot is a transient bookable unit of time; never persisted.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type NotificationKind string

const (
	NotifyAppointmentCreated   NotificationKind = "appointment_created"
	NotifyAppointmentCancelled NotificationKind = "appointment_cancelled"
	NotifyAppointmentCompleted NotificationKind = "appointment_completed"
)

// NotificationEvent is written once to the recipient's inbox and never
// mutated by this core after dispatch.
type NotificationEvent struct {
	ID          string
	RecipientID string
	Kind        NotificationKind
	Title       string
	Message     string
	Link        string
	CreatedAt   time.Time
}

// Application (candidatura) is a read-only projection supplied by the
// enrollment side; this core only needs the candidate mapping.
type Application struct {
	ID          string
	TenantID    string
	CandidateID string
}
