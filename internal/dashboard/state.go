// Package dashboard keeps the live attendance overview: today's roster and events
// with the derived presence statistics.
package dashboard

import (
	"time"

	"github.com/noah-isme/qr-attendance-api/internal/models"
)

// Stats are the figures shown on the dashboard.
type Stats struct {
	TotalStudents        int     `json:"total_students"`
	Present              int     `json:"present"`
	Absent               int     `json:"absent"`
	AttendancePercentage float64 `json:"attendance_percentage"`
	GradeCount           int     `json:"grade_count"`
	Entries              int     `json:"entries"`
	Exits                int     `json:"exits"`
}

// State is the dashboard application state for one school day.
type State struct {
	Day         time.Time                 `json:"day"`
	Students    []models.Student          `json:"students"`
	TodayEvents []models.AttendanceRecord `json:"today_events"`
	Stats       Stats                     `json:"stats"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Action is a state transition understood by Reduce.
type Action interface {
	action()
}

// StudentsLoaded replaces the roster.
type StudentsLoaded struct {
	Students []models.Student
	At       time.Time
}

// EventsLoaded replaces the events of Day. Loads for another day are discarded.
type EventsLoaded struct {
	Day    time.Time
	Events []models.AttendanceRecord
	At     time.Time
}

// DayChanged starts a new day with no events.
type DayChanged struct {
	Day time.Time
	At  time.Time
}

func (StudentsLoaded) action() {}
func (EventsLoaded) action()   {}
func (DayChanged) action()     {}

// Reduce applies a to s and recomputes the statistics. It never mutates s.
func Reduce(s State, a Action) State {
	next := s
	switch act := a.(type) {
	case StudentsLoaded:
		next.Students = append([]models.Student(nil), act.Students...)
		next.UpdatedAt = act.At
	case EventsLoaded:
		if !next.Day.IsZero() && !act.Day.Equal(next.Day) {
			return s
		}
		next.Day = act.Day
		next.TodayEvents = append([]models.AttendanceRecord(nil), act.Events...)
		next.UpdatedAt = act.At
	case DayChanged:
		if act.Day.Equal(next.Day) {
			return s
		}
		next.Day = act.Day
		next.TodayEvents = nil
		next.UpdatedAt = act.At
	default:
		return s
	}
	next.Stats = ComputeStats(next.Students, next.TodayEvents)
	return next
}

// ComputeStats derives the dashboard figures. Present counts roster students with at
// least one entry; events of students no longer on the roster only count as entries or exits.
func ComputeStats(students []models.Student, events []models.AttendanceRecord) Stats {
	stats := Stats{TotalStudents: len(students)}

	roster := make(map[string]struct{}, len(students))
	grades := make(map[int]struct{})
	for _, s := range students {
		roster[s.ID] = struct{}{}
		grades[s.Grade] = struct{}{}
	}
	stats.GradeCount = len(grades)

	present := make(map[string]struct{})
	for _, e := range events {
		switch e.Kind {
		case models.AttendanceEntry:
			stats.Entries++
			if _, ok := roster[e.StudentID]; ok {
				present[e.StudentID] = struct{}{}
			}
		case models.AttendanceExit:
			stats.Exits++
		}
	}
	stats.Present = len(present)
	stats.Absent = stats.TotalStudents - stats.Present
	if stats.TotalStudents > 0 {
		stats.AttendancePercentage = float64(stats.Present) / float64(stats.TotalStudents) * 100
	}
	return stats
}

func (s State) clone() State {
	out := s
	out.Students = append([]models.Student(nil), s.Students...)
	out.TodayEvents = append([]models.AttendanceRecord(nil), s.TodayEvents...)
	return out
}
