package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
)

type attendanceRepository interface {
	InsertChecked(ctx context.Context, event *models.AttendanceEvent, check func(last *models.AttendanceEvent) error) error
	LastForStudent(ctx context.Context, studentID string) (*models.AttendanceEvent, error)
	Recent(ctx context.Context, limit int) ([]models.AttendanceRecord, error)
	ListBetween(ctx context.Context, rng models.AttendanceRange) ([]models.AttendanceRecord, error)
}

type attendanceStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// AttendanceConfig tunes registration rules.
type AttendanceConfig struct {
	DuplicateWindow     time.Duration
	SuggestionThreshold time.Duration
	Location            *time.Location
}

// RegisterAttendanceRequest records one entry or exit for a student.
type RegisterAttendanceRequest struct {
	StudentID string                `json:"student_id" validate:"required"`
	Kind      models.AttendanceKind `json:"kind" validate:"required,oneof=entry exit"`
	ActorID   string                `json:"-"`
	// Window overrides the configured duplicate window when positive.
	Window time.Duration `json:"-"`
}

// RejectionError reports a registration refused by the duplicate window.
type RejectionError struct {
	Reason     string
	Student    models.Student
	Last       models.AttendanceEvent
	MinutesAgo int
}

func (e *RejectionError) Error() string {
	return e.Reason
}

// Unwrap exposes the rejection as ErrDuplicateAttendance carrying the reason.
func (e *RejectionError) Unwrap() error {
	return appErrors.Clone(appErrors.ErrDuplicateAttendance, e.Reason)
}

// AttendanceService writes and reads entry/exit events.
type AttendanceService struct {
	repo      attendanceRepository
	students  attendanceStudentReader
	publisher ChangePublisher
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	clock     clock.Clock
	config    AttendanceConfig
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(repo attendanceRepository, students attendanceStudentReader, publisher ChangePublisher, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, clk clock.Clock, cfg AttendanceConfig) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &AttendanceService{
		repo:      repo,
		students:  students,
		publisher: publisher,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		clock:     clk,
		config:    cfg,
	}
}

// Register writes one attendance event unless the same kind was recorded inside the duplicate window.
func (s *AttendanceService) Register(ctx context.Context, req RegisterAttendanceRequest) (*models.AttendanceEvent, error) {
	if req.ActorID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "an authenticated staff member is required")
	}
	if kind, ok := models.ParseAttendanceKind(string(req.Kind)); ok {
		req.Kind = kind
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	now := s.clock.Now()
	window := s.config.DuplicateWindow
	if req.Window > 0 {
		window = req.Window
	}
	event := &models.AttendanceEvent{
		ID:         uuid.NewString(),
		StudentID:  student.ID,
		Kind:       req.Kind,
		RecordedAt: now,
		RecordedBy: req.ActorID,
	}
	err = s.repo.InsertChecked(ctx, event, func(last *models.AttendanceEvent) error {
		if last == nil || last.Kind != req.Kind {
			return nil
		}
		elapsed := now.Sub(last.RecordedAt)
		if elapsed >= window {
			return nil
		}
		minutes := int(elapsed.Minutes())
		return &RejectionError{
			Reason:     fmt.Sprintf("%s already registered %s %d minutes ago", student.FullName(), req.Kind, minutes),
			Student:    *student,
			Last:       *last,
			MinutesAgo: minutes,
		}
	})
	if err != nil {
		var rejection *RejectionError
		switch {
		case errors.As(err, &rejection):
			s.metrics.RecordRejection()
			return nil, rejection
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register attendance")
	}

	s.metrics.RecordRegistration(event.Kind)
	s.cache.InvalidateAttendance(ctx)
	if err := s.publisher.Publish(ctx, models.ChangeNotification{
		Table:    models.TableAttendanceEvents,
		Op:       models.ChangeInsert,
		RecordID: event.ID,
		At:       now,
	}); err != nil {
		s.logger.Warn("failed to publish attendance change", zap.String("event_id", event.ID), zap.Error(err))
	}
	s.logger.Info("attendance registered",
		zap.String("student_id", student.ID),
		zap.String("kind", string(event.Kind)),
		zap.String("actor", req.ActorID),
	)
	return event, nil
}

// Suggest infers the kind to register for a freshly scanned student.
// With no history the suggestion is an entry. Past the threshold the kind alternates;
// within it the last kind is repeated and flagged as very recent.
func (s *AttendanceService) Suggest(ctx context.Context, student models.Student, threshold time.Duration) (*models.ScanResult, error) {
	if threshold <= 0 {
		threshold = s.config.SuggestionThreshold
	}
	last, err := s.repo.LastForStudent(ctx, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load last registration")
	}

	now := s.clock.Now()
	result := &models.ScanResult{Student: student, SuggestedKind: models.AttendanceEntry, ScannedAt: now}
	if last == nil {
		return result, nil
	}

	elapsed := now.Sub(last.RecordedAt)
	result.Last = &models.LastRegistration{
		Kind:       last.Kind,
		RecordedAt: last.RecordedAt,
		MinutesAgo: int(elapsed.Minutes()),
	}
	if elapsed > threshold {
		result.SuggestedKind = last.Kind.Opposite()
		return result, nil
	}
	result.SuggestedKind = last.Kind
	result.VeryRecent = true
	return result, nil
}

// SuggestForStudent loads the student and applies the configured threshold.
func (s *AttendanceService) SuggestForStudent(ctx context.Context, studentID string) (*models.ScanResult, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return s.Suggest(ctx, *student, s.config.SuggestionThreshold)
}

// Recent returns the latest registrations, newest first.
func (s *AttendanceService) Recent(ctx context.Context, limit int) ([]models.AttendanceRecord, error) {
	records, err := s.repo.Recent(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recent registrations")
	}
	return records, nil
}

// Today returns the events recorded since local midnight in the school timezone.
func (s *AttendanceService) Today(ctx context.Context) ([]models.AttendanceRecord, error) {
	return s.ListByDate(ctx, s.clock.Now())
}

// ListByDate returns every event of the calendar day containing date, in school time.
func (s *AttendanceService) ListByDate(ctx context.Context, date time.Time) ([]models.AttendanceRecord, error) {
	from, to := DayBounds(date, s.config.Location)
	records, err := s.repo.ListBetween(ctx, models.AttendanceRange{From: from, To: to})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return records, nil
}

// History returns a student's events between from and to; zero bounds are open.
func (s *AttendanceService) History(ctx context.Context, studentID string, from, to time.Time) ([]models.AttendanceRecord, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	records, err := s.repo.ListBetween(ctx, models.AttendanceRange{From: from, To: to, StudentID: studentID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance history")
	}
	return records, nil
}

// Range returns all events between from and to, used by exports.
func (s *AttendanceService) Range(ctx context.Context, from, to time.Time) ([]models.AttendanceRecord, error) {
	records, err := s.repo.ListBetween(ctx, models.AttendanceRange{From: from, To: to})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return records, nil
}

// DayBounds returns [midnight, next midnight) of t's day in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
