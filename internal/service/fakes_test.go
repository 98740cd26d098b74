package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"

	"github.com/noah-isme/qr-attendance-api/internal/models"
)

type fakeStudentRepo struct {
	mu       sync.Mutex
	students map[string]models.Student
	events   *fakeAttendanceRepo
	err      error
}

func newFakeStudentRepo(students ...models.Student) *fakeStudentRepo {
	repo := &fakeStudentRepo{students: make(map[string]models.Student)}
	for _, s := range students {
		repo.students[s.ID] = s
	}
	return repo
}

func (f *fakeStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	all, err := f.ListAll(ctx)
	return all, len(all), err
}

func (f *fakeStudentRepo) ListAll(ctx context.Context) ([]models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Student, 0, len(f.students))
	for _, s := range f.students {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (f *fakeStudentRepo) FindByQRCode(ctx context.Context, code string) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.students {
		if s.QRCode == code {
			found := s
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStudentRepo) ExistsByNationalID(ctx context.Context, nationalID string, excludeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.students {
		if s.NationalID == nationalID && s.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStudentRepo) ExistsByQRCode(ctx context.Context, code string, excludeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.students {
		if s.QRCode == code && s.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStudentRepo) Create(ctx context.Context, student *models.Student) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if student.ID == "" {
		student.ID = "stu-" + strings.ToLower(student.NationalID)
	}
	f.students[student.ID] = *student
	return nil
}

func (f *fakeStudentRepo) Update(ctx context.Context, student *models.Student) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.students[student.ID] = *student
	return nil
}

func (f *fakeStudentRepo) DeleteWithAttendance(ctx context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.students[id]; !ok {
		return 0, sql.ErrNoRows
	}
	delete(f.students, id)
	var removed int64
	if f.events != nil {
		removed = f.events.removeStudent(id)
	}
	return removed, nil
}

type fakeAttendanceRepo struct {
	mu        sync.Mutex
	events    []models.AttendanceEvent
	students  *fakeStudentRepo
	insertErr error
	lastRange models.AttendanceRange
}

func (f *fakeAttendanceRepo) InsertChecked(ctx context.Context, event *models.AttendanceEvent, check func(last *models.AttendanceEvent) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if check != nil {
		if err := check(f.lastLocked(event.StudentID)); err != nil {
			return err
		}
	}
	if f.insertErr != nil {
		return f.insertErr
	}
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeAttendanceRepo) LastForStudent(ctx context.Context, studentID string) (*models.AttendanceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastLocked(studentID), nil
}

func (f *fakeAttendanceRepo) lastLocked(studentID string) *models.AttendanceEvent {
	var last *models.AttendanceEvent
	for i := range f.events {
		e := f.events[i]
		if e.StudentID != studentID {
			continue
		}
		if last == nil || !e.RecordedAt.Before(last.RecordedAt) {
			last = &e
		}
	}
	return last
}

func (f *fakeAttendanceRepo) Recent(ctx context.Context, limit int) ([]models.AttendanceRecord, error) {
	records := f.records(models.AttendanceRange{})
	sort.SliceStable(records, func(i, j int) bool { return records[i].RecordedAt.After(records[j].RecordedAt) })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (f *fakeAttendanceRepo) ListBetween(ctx context.Context, rng models.AttendanceRange) ([]models.AttendanceRecord, error) {
	f.mu.Lock()
	f.lastRange = rng
	f.mu.Unlock()
	return f.records(rng), nil
}

func (f *fakeAttendanceRepo) records(rng models.AttendanceRange) []models.AttendanceRecord {
	f.mu.Lock()
	events := append([]models.AttendanceEvent(nil), f.events...)
	f.mu.Unlock()

	out := make([]models.AttendanceRecord, 0, len(events))
	for _, e := range events {
		if !rng.From.IsZero() && e.RecordedAt.Before(rng.From) {
			continue
		}
		if !rng.To.IsZero() && !e.RecordedAt.Before(rng.To) {
			continue
		}
		if rng.StudentID != "" && e.StudentID != rng.StudentID {
			continue
		}
		record := models.AttendanceRecord{AttendanceEvent: e}
		if f.students != nil {
			if s, err := f.students.FindByID(context.Background(), e.StudentID); err == nil {
				record.Student = *s
			}
		}
		out = append(out, record)
	}
	return out
}

func (f *fakeAttendanceRepo) removeStudent(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.events[:0]
	var removed int64
	for _, e := range f.events {
		if e.StudentID == id {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	f.events = kept
	return removed
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []models.ChangeNotification
}

func (p *recordingPublisher) Publish(ctx context.Context, n models.ChangeNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

func (p *recordingPublisher) all() []models.ChangeNotification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ChangeNotification(nil), p.sent...)
}
