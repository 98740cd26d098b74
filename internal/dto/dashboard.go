package dto

import "time"

// DashboardStats mirrors the figures computed for a school day.
type DashboardStats struct {
	TotalStudents        int     `json:"total_students"`
	Present              int     `json:"present"`
	Absent               int     `json:"absent"`
	AttendancePercentage float64 `json:"attendance_percentage"`
	GradeCount           int     `json:"grade_count"`
	Entries              int     `json:"entries"`
	Exits                int     `json:"exits"`
}

// DashboardEvent is one registration of the day as listed on the dashboard.
type DashboardEvent struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	Course      string    `json:"course"`
	Kind        string    `json:"kind"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// DashboardResponse is the payload of GET /dashboard.
type DashboardResponse struct {
	Date      string           `json:"date"`
	Stats     DashboardStats   `json:"stats"`
	Events    []DashboardEvent `json:"events"`
	UpdatedAt time.Time        `json:"updated_at"`
}
