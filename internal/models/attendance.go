package models

import (
	"strings"
	"time"
)

// AttendanceKind distinguishes arrivals from departures.
type AttendanceKind string

const (
	AttendanceEntry AttendanceKind = "entry"
	AttendanceExit  AttendanceKind = "exit"
)

// ParseAttendanceKind normalises raw input into a kind.
func ParseAttendanceKind(raw string) (AttendanceKind, bool) {
	kind := AttendanceKind(strings.ToLower(strings.TrimSpace(raw)))
	return kind, kind.Valid()
}

// Valid returns true when the kind is a supported value.
func (k AttendanceKind) Valid() bool {
	return k == AttendanceEntry || k == AttendanceExit
}

// Opposite returns the alternate kind.
func (k AttendanceKind) Opposite() AttendanceKind {
	if k == AttendanceEntry {
		return AttendanceExit
	}
	return AttendanceEntry
}

// Label is the Spanish label used in notifications and exports.
func (k AttendanceKind) Label() string {
	switch k {
	case AttendanceEntry:
		return "entrada"
	case AttendanceExit:
		return "salida"
	default:
		return string(k)
	}
}

// AttendanceEvent is an append-only entry/exit record.
type AttendanceEvent struct {
	ID         string         `db:"id" json:"id"`
	StudentID  string         `db:"student_id" json:"student_id"`
	Kind       AttendanceKind `db:"kind" json:"kind"`
	RecordedAt time.Time      `db:"recorded_at" json:"recorded_at"`
	RecordedBy string         `db:"recorded_by" json:"recorded_by"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// AttendanceRecord is an event carrying its student.
type AttendanceRecord struct {
	AttendanceEvent
	Student Student `db:"student" json:"student"`
}

// AttendanceRange bounds list queries; zero values are open-ended.
type AttendanceRange struct {
	From      time.Time
	To        time.Time
	StudentID string
	Limit     int
}
