// Package report filters and summarises attendance records. Everything here is
// pure: the same input always yields the same output.
package report

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/qr-attendance-api/internal/models"
)

// DefaultTopN is used when the caller does not ask for a ranking size.
const DefaultTopN = 10

// Apply returns the records matching f ordered by time, then id.
// From is inclusive and To exclusive.
func Apply(records []models.AttendanceRecord, f models.ReportFilter) []models.AttendanceRecord {
	out := make([]models.AttendanceRecord, 0, len(records))
	for _, r := range records {
		if matches(r, f) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func matches(r models.AttendanceRecord, f models.ReportFilter) bool {
	if f.From != nil && r.RecordedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !r.RecordedAt.Before(*f.To) {
		return false
	}
	if f.Kind != nil && r.Kind != *f.Kind {
		return false
	}
	return matchesStudent(r.Student, f)
}

func matchesStudent(s models.Student, f models.ReportFilter) bool {
	if f.Grade != nil && s.Grade != *f.Grade {
		return false
	}
	if f.Section != "" && !strings.EqualFold(strings.TrimSpace(s.Section), strings.TrimSpace(f.Section)) {
		return false
	}
	return true
}

// Aggregate filters records with f and summarises them. Grade percentages are
// distinct students with at least one event over the grade's roster size
// (roster narrowed by the same grade/section filter). Dates are bucketed in loc.
func Aggregate(records []models.AttendanceRecord, roster []models.Student, f models.ReportFilter, topN int, loc *time.Location) models.ReportSummary {
	if loc == nil {
		loc = time.UTC
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	filtered := Apply(records, f)

	summary := models.ReportSummary{
		TotalRecords: len(filtered),
		ByGrade:      []models.GradeBreakdown{},
		ByDate:       []models.DateBreakdown{},
		TopStudents:  []models.StudentFrequency{},
	}

	rosterByGrade := make(map[int]int)
	for _, s := range roster {
		if matchesStudent(s, f) {
			rosterByGrade[s.Grade]++
		}
	}

	type gradeAcc struct {
		students map[string]struct{}
		records  int
	}
	type dateAcc struct {
		entries, exits int
		students       map[string]struct{}
	}
	grades := make(map[int]*gradeAcc)
	dates := make(map[string]*dateAcc)
	students := make(map[string]*models.StudentFrequency)

	for _, r := range filtered {
		switch r.Kind {
		case models.AttendanceEntry:
			summary.Entries++
		case models.AttendanceExit:
			summary.Exits++
		}

		g := grades[r.Student.Grade]
		if g == nil {
			g = &gradeAcc{students: make(map[string]struct{})}
			grades[r.Student.Grade] = g
		}
		g.students[r.StudentID] = struct{}{}
		g.records++

		key := r.RecordedAt.In(loc).Format("2006-01-02")
		d := dates[key]
		if d == nil {
			d = &dateAcc{students: make(map[string]struct{})}
			dates[key] = d
		}
		if r.Kind == models.AttendanceEntry {
			d.entries++
		} else {
			d.exits++
		}
		d.students[r.StudentID] = struct{}{}

		freq := students[r.StudentID]
		if freq == nil {
			freq = &models.StudentFrequency{StudentID: r.StudentID, Name: r.Student.FullName(), Course: r.Student.Course()}
			students[r.StudentID] = freq
		}
		freq.Count++
	}
	summary.DistinctStudents = len(students)

	gradeKeys := make([]int, 0, len(rosterByGrade)+len(grades))
	seen := make(map[int]struct{})
	for grade := range rosterByGrade {
		gradeKeys = append(gradeKeys, grade)
		seen[grade] = struct{}{}
	}
	for grade := range grades {
		if _, ok := seen[grade]; !ok {
			gradeKeys = append(gradeKeys, grade)
		}
	}
	sort.Ints(gradeKeys)
	for _, grade := range gradeKeys {
		row := models.GradeBreakdown{Grade: grade, RosterSize: rosterByGrade[grade]}
		if acc := grades[grade]; acc != nil {
			row.WithEvents = len(acc.students)
			row.Records = acc.records
		}
		row.Percentage = Percentage(row.WithEvents, row.RosterSize)
		summary.ByGrade = append(summary.ByGrade, row)
	}

	dateKeys := make([]string, 0, len(dates))
	for key := range dates {
		dateKeys = append(dateKeys, key)
	}
	sort.Strings(dateKeys)
	for _, key := range dateKeys {
		d := dates[key]
		summary.ByDate = append(summary.ByDate, models.DateBreakdown{Date: key, Entries: d.entries, Exits: d.exits, Students: len(d.students)})
	}

	ranking := make([]models.StudentFrequency, 0, len(students))
	for _, freq := range students {
		ranking = append(ranking, *freq)
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Count != ranking[j].Count {
			return ranking[i].Count > ranking[j].Count
		}
		if ranking[i].Name != ranking[j].Name {
			return ranking[i].Name < ranking[j].Name
		}
		return ranking[i].StudentID < ranking[j].StudentID
	})
	if len(ranking) > topN {
		ranking = ranking[:topN]
	}
	summary.TopStudents = ranking
	return summary
}

// Percentage returns part/total*100 rounded to two decimals; 0 when total is 0.
func Percentage(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}
