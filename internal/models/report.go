package models

import "time"

// ReportFilter narrows attendance records for a report. Nil/zero fields are ignored.
type ReportFilter struct {
	From    *time.Time      `json:"from,omitempty"`
	To      *time.Time      `json:"to,omitempty"`
	Grade   *int            `json:"grade,omitempty"`
	Section string          `json:"section,omitempty"`
	Kind    *AttendanceKind `json:"kind,omitempty"`
}

// GradeBreakdown reports coverage for one grade.
type GradeBreakdown struct {
	Grade      int     `json:"grade"`
	RosterSize int     `json:"roster_size"`
	WithEvents int     `json:"with_events"`
	Records    int     `json:"records"`
	Percentage float64 `json:"percentage"`
}

// DateBreakdown counts events for one calendar day.
type DateBreakdown struct {
	Date     string `json:"date"`
	Entries  int    `json:"entries"`
	Exits    int    `json:"exits"`
	Students int    `json:"students"`
}

// StudentFrequency ranks students by number of events.
type StudentFrequency struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Course    string `json:"course"`
	Count     int    `json:"count"`
}

// ReportSummary is the aggregate over a filtered record set.
type ReportSummary struct {
	TotalRecords     int                `json:"total_records"`
	DistinctStudents int                `json:"distinct_students"`
	Entries          int                `json:"entries"`
	Exits            int                `json:"exits"`
	ByGrade          []GradeBreakdown   `json:"by_grade"`
	ByDate           []DateBreakdown    `json:"by_date"`
	TopStudents      []StudentFrequency `json:"top_students"`
}
