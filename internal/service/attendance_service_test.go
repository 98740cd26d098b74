package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
)

var ana = models.Student{ID: "s1", NationalID: "11111111-1", FirstName: "Ana", LastName: "Rojas", Grade: 5, Section: "A", QRCode: "STU-1"}

func newAttendanceFixture(t *testing.T) (*AttendanceService, *fakeAttendanceRepo, *recordingPublisher, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC))
	students := newFakeStudentRepo(ana)
	repo := &fakeAttendanceRepo{students: students}
	pub := &recordingPublisher{}
	svc := NewAttendanceService(repo, students, pub, nil, NewMetricsService(), nil, zap.NewNop(), clk, AttendanceConfig{
		DuplicateWindow:     5 * time.Minute,
		SuggestionThreshold: 5 * time.Minute,
	})
	return svc, repo, pub, clk
}

func TestRegisterRequiresActor(t *testing.T) {
	svc, repo, _, _ := newAttendanceFixture(t)

	_, err := svc.Register(context.Background(), RegisterAttendanceRequest{StudentID: "s1", Kind: models.AttendanceEntry})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
	assert.Empty(t, repo.events)
}

func TestRegisterValidatesKindAndStudent(t *testing.T) {
	svc, _, _, _ := newAttendanceFixture(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterAttendanceRequest{StudentID: "s1", Kind: "lunch", ActorID: "u1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Register(ctx, RegisterAttendanceRequest{StudentID: "ghost", Kind: models.AttendanceEntry, ActorID: "u1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestRegisterAcceptsUpperCaseKind(t *testing.T) {
	svc, repo, _, _ := newAttendanceFixture(t)

	event, err := svc.Register(context.Background(), RegisterAttendanceRequest{StudentID: "s1", Kind: "ENTRY", ActorID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceEntry, event.Kind)
	assert.Len(t, repo.events, 1)
}

func TestRegisterDuplicateWindow(t *testing.T) {
	svc, repo, pub, clk := newAttendanceFixture(t)
	ctx := context.Background()
	req := RegisterAttendanceRequest{StudentID: "s1", Kind: models.AttendanceEntry, ActorID: "u1"}

	first, err := svc.Register(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), first.RecordedAt)
	assert.Equal(t, "u1", first.RecordedBy)

	clk.Add(2 * time.Minute)
	_, err = svc.Register(ctx, req)
	require.Error(t, err)
	var rejection *RejectionError
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, 2, rejection.MinutesAgo)
	assert.Equal(t, "Ana Rojas already registered entry 2 minutes ago", rejection.Reason)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateAttendance))
	assert.Equal(t, rejection.Reason, appErrors.FromError(err).Message)
	assert.Len(t, repo.events, 1)

	clk.Add(3 * time.Minute)
	_, err = svc.Register(ctx, req)
	require.NoError(t, err)
	assert.Len(t, repo.events, 2)

	sent := pub.all()
	require.Len(t, sent, 2)
	assert.Equal(t, models.TableAttendanceEvents, sent[0].Table)
	assert.Equal(t, models.ChangeInsert, sent[0].Op)
}

func TestRegisterConcurrentSameKindWritesOnce(t *testing.T) {
	svc, repo, _, _ := newAttendanceFixture(t)
	const kiosks = 8

	start := make(chan struct{})
	errs := make(chan error, kiosks)
	var wg sync.WaitGroup
	for i := 0; i < kiosks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Register(context.Background(), RegisterAttendanceRequest{StudentID: "s1", Kind: models.AttendanceEntry, ActorID: "u1"})
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var accepted, rejected int
	for err := range errs {
		var rejection *RejectionError
		switch {
		case err == nil:
			accepted++
		case errors.As(err, &rejection):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, kiosks-1, rejected)
	assert.Len(t, repo.events, 1)
}

func TestRegisterOppositeKindInsideWindow(t *testing.T) {
	svc, repo, _, clk := newAttendanceFixture(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterAttendanceRequest{StudentID: "s1", Kind: models.AttendanceEntry, ActorID: "u1"})
	require.NoError(t, err)
	clk.Add(time.Minute)
	_, err = svc.Register(ctx, RegisterAttendanceRequest{StudentID: "s1", Kind: models.AttendanceExit, ActorID: "u1"})
	require.NoError(t, err)
	assert.Len(t, repo.events, 2)
}

func TestRegisterWindowOverride(t *testing.T) {
	svc, _, _, clk := newAttendanceFixture(t)
	ctx := context.Background()
	req := RegisterAttendanceRequest{StudentID: "s1", Kind: models.AttendanceEntry, ActorID: "u1", Window: 30 * time.Minute}

	_, err := svc.Register(ctx, req)
	require.NoError(t, err)
	clk.Add(10 * time.Minute)
	_, err = svc.Register(ctx, req)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateAttendance))
}

func TestRegisterWriteFailure(t *testing.T) {
	svc, repo, pub, _ := newAttendanceFixture(t)
	repo.insertErr = errors.New("connection reset")

	_, err := svc.Register(context.Background(), RegisterAttendanceRequest{StudentID: "s1", Kind: models.AttendanceEntry, ActorID: "u1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
	assert.Empty(t, pub.all())
}

func TestSuggestThreshold(t *testing.T) {
	svc, repo, _, clk := newAttendanceFixture(t)
	ctx := context.Background()

	result, err := svc.Suggest(ctx, ana, 0)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceEntry, result.SuggestedKind)
	assert.False(t, result.VeryRecent)
	assert.Nil(t, result.Last)

	repo.events = append(repo.events, models.AttendanceEvent{ID: "e1", StudentID: "s1", Kind: models.AttendanceEntry, RecordedAt: clk.Now()})

	clk.Add(4 * time.Minute)
	result, err = svc.Suggest(ctx, ana, 0)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceEntry, result.SuggestedKind)
	assert.True(t, result.VeryRecent)
	require.NotNil(t, result.Last)
	assert.Equal(t, 4, result.Last.MinutesAgo)

	clk.Add(6 * time.Minute)
	result, err = svc.Suggest(ctx, ana, 0)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceExit, result.SuggestedKind)
	assert.False(t, result.VeryRecent)
	assert.Equal(t, 10, result.Last.MinutesAgo)
}

func TestAttendanceServiceSuggestAcrossMidnight(t *testing.T) {
	svc, repo, _, clk := newAttendanceFixture(t)
	ctx := context.Background()

	clk.Set(time.Date(2024, 3, 4, 23, 58, 0, 0, time.UTC))
	repo.events = append(repo.events, models.AttendanceEvent{ID: "e1", StudentID: "s1", Kind: models.AttendanceEntry, RecordedAt: clk.Now()})

	clk.Add(3 * time.Minute)
	result, err := svc.Suggest(ctx, ana, 0)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceEntry, result.SuggestedKind)
	assert.True(t, result.VeryRecent)

	repo.events = append(repo.events, models.AttendanceEvent{ID: "e2", StudentID: "s1", Kind: models.AttendanceExit, RecordedAt: clk.Now()})
	clk.Set(time.Date(2024, 3, 5, 7, 30, 0, 0, time.UTC))
	result, err = svc.Suggest(ctx, ana, 0)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceEntry, result.SuggestedKind)
	assert.False(t, result.VeryRecent)
}

func TestListByDateUsesSchoolDay(t *testing.T) {
	svc, repo, _, _ := newAttendanceFixture(t)
	loc := time.FixedZone("CLT", -3*3600)
	svc.config.Location = loc

	_, err := svc.ListByDate(context.Background(), time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, loc), repo.lastRange.From)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, loc), repo.lastRange.To)
}

func TestHistoryValidatesRange(t *testing.T) {
	svc, _, _, clk := newAttendanceFixture(t)

	_, err := svc.History(context.Background(), "s1", clk.Now(), clk.Now().Add(-time.Hour))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	records, err := svc.History(context.Background(), "s1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, records)
}
