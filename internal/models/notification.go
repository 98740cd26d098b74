package models

import "time"

// Tables emitting change notifications.
const (
	TableStudents         = "students"
	TableAttendanceEvents = "attendance_events"
)

// ChangeOp is the kind of row mutation.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// ChangeNotification announces a mutation on a backend table.
type ChangeNotification struct {
	Table    string    `json:"table"`
	Op       ChangeOp  `json:"op"`
	RecordID string    `json:"record_id"`
	Origin   string    `json:"origin,omitempty"`
	At       time.Time `json:"at"`
}
