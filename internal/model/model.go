package model

import "time"

// Layouts used for slot dates and times on the wire and in SQLite.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	CreatedAt    time.Time
}

// Slot is a bookable interval. StartTime and EndTime are wall-clock "HH:MM"
// values on Date.
type Slot struct {
	ID          string
	Date        time.Time
	StartTime   string
	EndTime     string
	IsAvailable bool
	CreatedAt   time.Time
}

// Appointment binds one user to one slot. Date, StartTime and EndTime are
// copied from the slot when the appointment is read back.
type Appointment struct {
	ID        string
	UserID    string
	SlotID    string
	Notes     string
	CreatedAt time.Time

	Date      time.Time
	StartTime string
	EndTime   string
}

type RefreshToken struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	Revoked    bool
	ReplacedBy *string
	CreatedAt  time.Time
}

// DateOf truncates t to its calendar date in t's location, returned as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
