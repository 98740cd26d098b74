package models

import (
	"strconv"
	"strings"
	"time"
)

// Student represents a learner registered in the institution.
type Student struct {
	ID              string    `db:"id" json:"id"`
	NationalID      string    `db:"national_id" json:"national_id"`
	FirstName       string    `db:"first_name" json:"first_name"`
	LastName        string    `db:"last_name" json:"last_name"`
	Grade           int       `db:"grade" json:"grade"`
	Section         string    `db:"section" json:"section"`
	GuardianName    string    `db:"guardian_name" json:"guardian_name"`
	GuardianContact string    `db:"guardian_contact" json:"guardian_contact"`
	QRCode          string    `db:"qr_code" json:"qr_code"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// FullName joins given and family names for display.
func (s Student) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(s.FirstName) + " " + strings.TrimSpace(s.LastName))
}

// Course renders grade and section as shown on rosters, e.g. "5°A".
func (s Student) Course() string {
	if s.Section == "" {
		return strconv.Itoa(s.Grade) + "°"
	}
	return strconv.Itoa(s.Grade) + "°" + s.Section
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Grade     *int
	Section   string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
