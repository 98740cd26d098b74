package scanner

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/internal/service"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
)

var ana = models.Student{ID: "stu-1", FirstName: "Ana", LastName: "Rojas", Grade: 5, Section: "A", QRCode: "QR-ANA"}

type cameraRecorder struct {
	mu        sync.Mutex
	calls     []string
	startErr  error
	startGate chan struct{}
	starting  int
}

func (c *cameraRecorder) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *cameraRecorder) Start(ctx context.Context, deviceID string, cfg models.ScannerConfig) error {
	c.mu.Lock()
	err := c.startErr
	gate := c.startGate
	if gate != nil {
		c.starting++
	}
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	c.record("start:" + deviceID)
	return nil
}

func (c *cameraRecorder) Pause(deviceID string) error {
	c.record("pause:" + deviceID)
	return nil
}

func (c *cameraRecorder) Resume(deviceID string) error {
	c.record("resume:" + deviceID)
	return nil
}

func (c *cameraRecorder) Stop(deviceID string) error {
	c.record("stop:" + deviceID)
	return nil
}

func (c *cameraRecorder) Starting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starting
}

func (c *cameraRecorder) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// memStore backs both the student lookup and the attendance repository.
type memStore struct {
	mu        sync.Mutex
	students  map[string]models.Student
	events    []models.AttendanceEvent
	insertErr error
	gate      chan struct{}
	waiting   bool
}

func newMemStore(students ...models.Student) *memStore {
	store := &memStore{students: make(map[string]models.Student)}
	for _, s := range students {
		store.students[s.ID] = s
	}
	return store
}

func (m *memStore) GetByQRCode(ctx context.Context, code string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.QRCode == code {
			student := s
			return &student, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrQRNotFound, "no student matches this qr code")
}

func (m *memStore) FindByID(ctx context.Context, id string) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (m *memStore) InsertChecked(ctx context.Context, event *models.AttendanceEvent, check func(last *models.AttendanceEvent) error) error {
	m.mu.Lock()
	gate := m.gate
	m.waiting = gate != nil
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting = false
	if check != nil {
		if err := check(m.lastLocked(event.StudentID)); err != nil {
			return err
		}
	}
	if m.insertErr != nil {
		return m.insertErr
	}
	m.events = append(m.events, *event)
	return nil
}

func (m *memStore) LastForStudent(ctx context.Context, studentID string) (*models.AttendanceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLocked(studentID), nil
}

func (m *memStore) lastLocked(studentID string) *models.AttendanceEvent {
	var last *models.AttendanceEvent
	for i := range m.events {
		if m.events[i].StudentID != studentID {
			continue
		}
		if last == nil || m.events[i].RecordedAt.After(last.RecordedAt) {
			e := m.events[i]
			last = &e
		}
	}
	return last
}

func (m *memStore) Recent(ctx context.Context, limit int) ([]models.AttendanceRecord, error) {
	records, _ := m.ListBetween(ctx, models.AttendanceRange{})
	sort.SliceStable(records, func(i, j int) bool { return records[i].RecordedAt.After(records[j].RecordedAt) })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *memStore) ListBetween(ctx context.Context, rng models.AttendanceRange) ([]models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AttendanceRecord, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, models.AttendanceRecord{AttendanceEvent: e, Student: m.students[e.StudentID]})
	}
	return out, nil
}

func (m *memStore) Events() []models.AttendanceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AttendanceEvent(nil), m.events...)
}

func (m *memStore) Waiting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiting
}

type emitted struct {
	Event   string
	Payload any
}

type emitterRecorder struct {
	mu     sync.Mutex
	events []emitted
}

func (e *emitterRecorder) Emit(deviceID, event string, payload any) error {
	e.mu.Lock()
	e.events = append(e.events, emitted{Event: event, Payload: payload})
	e.mu.Unlock()
	return nil
}

func (e *emitterRecorder) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		names = append(names, ev.Event)
	}
	return names
}

type feedbackRecorder struct {
	mu    sync.Mutex
	tones []Tone
}

func (f *feedbackRecorder) Play(deviceID string, tone Tone) bool {
	f.mu.Lock()
	f.tones = append(f.tones, tone)
	f.mu.Unlock()
	return true
}

func (f *feedbackRecorder) Tones() []Tone {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Tone(nil), f.tones...)
}

type linkStub struct{}

func (linkStub) GuardianLink(student models.Student, event models.AttendanceEvent) string {
	return fmt.Sprintf("https://wa.me/569?text=%s-%s", student.ID, event.Kind)
}

type fixture struct {
	clock    *clock.Mock
	camera   *cameraRecorder
	store    *memStore
	emitter  *emitterRecorder
	feedback *feedbackRecorder
	deps     Deps
}

func testConfig() models.ScannerConfig {
	return models.ScannerConfig{
		FPS:                 10,
		QRBox:               250,
		Debounce:            2 * time.Second,
		AutoConfirmDelay:    3 * time.Second,
		DuplicateWindow:     5 * time.Minute,
		SuggestionThreshold: 5 * time.Minute,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC))
	store := newMemStore(ana)
	attendance := service.NewAttendanceService(store, store, nil, nil, nil, nil, nil, clk, service.AttendanceConfig{
		DuplicateWindow:     5 * time.Minute,
		SuggestionThreshold: 5 * time.Minute,
	})
	f := &fixture{
		clock:    clk,
		camera:   &cameraRecorder{},
		store:    store,
		emitter:  &emitterRecorder{},
		feedback: &feedbackRecorder{},
	}
	f.deps = Deps{
		Camera:     f.camera,
		Students:   store,
		Attendance: attendance,
		Feedback:   f.feedback,
		Emitter:    f.emitter,
		Links:      linkStub{},
		Clock:      clk,
	}
	return f
}

func (f *fixture) started(t *testing.T, cfg models.ScannerConfig) *Machine {
	t.Helper()
	m := NewMachine("sess-1", "kiosk-1", "staff-1", cfg, f.deps)
	require.NoError(t, m.Start(context.Background()))
	return m
}
