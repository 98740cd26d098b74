package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	appErrors "github.com/noah-isme/qr-attendance-api/pkg/errors"
	"github.com/noah-isme/qr-attendance-api/pkg/qrcode"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	ListAll(ctx context.Context) ([]models.Student, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByQRCode(ctx context.Context, code string) (*models.Student, error)
	ExistsByNationalID(ctx context.Context, nationalID string, excludeID string) (bool, error)
	ExistsByQRCode(ctx context.Context, code string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	DeleteWithAttendance(ctx context.Context, id string) (int64, error)
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	NationalID      string `json:"national_id" validate:"required,max=32"`
	FirstName       string `json:"first_name" validate:"required,max=120"`
	LastName        string `json:"last_name" validate:"required,max=120"`
	Grade           int    `json:"grade" validate:"required,min=1,max=12"`
	Section         string `json:"section" validate:"max=8"`
	GuardianName    string `json:"guardian_name" validate:"max=120"`
	GuardianContact string `json:"guardian_contact" validate:"max=32"`
	QRCode          string `json:"qr_code" validate:"max=128"`
}

// UpdateStudentRequest holds payload for updating students. An empty QR code keeps the current one.
type UpdateStudentRequest struct {
	NationalID      string `json:"national_id" validate:"required,max=32"`
	FirstName       string `json:"first_name" validate:"required,max=120"`
	LastName        string `json:"last_name" validate:"required,max=120"`
	Grade           int    `json:"grade" validate:"required,min=1,max=12"`
	Section         string `json:"section" validate:"max=8"`
	GuardianName    string `json:"guardian_name" validate:"max=120"`
	GuardianContact string `json:"guardian_contact" validate:"max=32"`
	QRCode          string `json:"qr_code" validate:"max=128"`
}

// StudentService handles roster use-cases.
type StudentService struct {
	repo      studentRepository
	publisher ChangePublisher
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, publisher ChangePublisher, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &StudentService{repo: repo, publisher: publisher, cache: cache, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// All returns the whole roster.
func (s *StudentService) All(ctx context.Context) ([]models.Student, error) {
	students, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return students, nil
}

// Get returns a student by id.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// GetByQRCode resolves a decoded payload. Unknown payloads yield ErrQRNotFound.
func (s *StudentService) GetByQRCode(ctx context.Context, code string) (*models.Student, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrQRNotFound, "empty qr payload")
	}
	student, err := s.repo.FindByQRCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrQRNotFound, "no student matches this qr code")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve qr code")
	}
	return student, nil
}

// Create registers a new student, generating a QR payload when none is given.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student := &models.Student{
		NationalID:      normalizeNationalID(req.NationalID),
		FirstName:       strings.TrimSpace(req.FirstName),
		LastName:        strings.TrimSpace(req.LastName),
		Grade:           req.Grade,
		Section:         strings.ToUpper(strings.TrimSpace(req.Section)),
		GuardianName:    strings.TrimSpace(req.GuardianName),
		GuardianContact: strings.TrimSpace(req.GuardianContact),
		QRCode:          strings.TrimSpace(req.QRCode),
	}
	if student.QRCode == "" {
		student.QRCode = GenerateQRPayload(student.NationalID)
	}
	if err := s.ensureUnique(ctx, student, ""); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	s.changed(ctx, models.ChangeInsert, student.ID)
	return student, nil
}

// Update replaces the editable fields of a student.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	student.NationalID = normalizeNationalID(req.NationalID)
	student.FirstName = strings.TrimSpace(req.FirstName)
	student.LastName = strings.TrimSpace(req.LastName)
	student.Grade = req.Grade
	student.Section = strings.ToUpper(strings.TrimSpace(req.Section))
	student.GuardianName = strings.TrimSpace(req.GuardianName)
	student.GuardianContact = strings.TrimSpace(req.GuardianContact)
	if code := strings.TrimSpace(req.QRCode); code != "" {
		student.QRCode = code
	}
	if err := s.ensureUnique(ctx, student, id); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	s.changed(ctx, models.ChangeUpdate, student.ID)
	return student, nil
}

// Delete removes a student together with its attendance events.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	removed, err := s.repo.DeleteWithAttendance(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	s.logger.Info("student deleted", zap.String("student_id", id), zap.Int64("attendance_removed", removed))
	s.changed(ctx, models.ChangeDelete, id)
	if removed > 0 {
		s.publish(ctx, models.ChangeNotification{Table: models.TableAttendanceEvents, Op: models.ChangeDelete, RecordID: id, At: time.Now().UTC()})
	}
	return nil
}

// QRCode renders the student's QR payload as a PNG.
func (s *StudentService) QRCode(ctx context.Context, id string, size int) ([]byte, *models.Student, error) {
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	png, err := qrcode.PNG(student.QRCode, size)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render qr code")
	}
	return png, student, nil
}

// GenerateQRPayload builds a unique-looking payload for a new student.
func GenerateQRPayload(nationalID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("STU-%s-%s", nationalID, suffix)
}

func (s *StudentService) ensureUnique(ctx context.Context, student *models.Student, excludeID string) error {
	exists, err := s.repo.ExistsByNationalID(ctx, student.NationalID, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate national id")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "national id already registered")
	}
	exists, err = s.repo.ExistsByQRCode(ctx, student.QRCode, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate qr code")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "qr code already assigned to another student")
	}
	return nil
}

func (s *StudentService) changed(ctx context.Context, op models.ChangeOp, id string) {
	s.cache.InvalidateStudents(ctx)
	s.publish(ctx, models.ChangeNotification{Table: models.TableStudents, Op: op, RecordID: id, At: time.Now().UTC()})
}

func (s *StudentService) publish(ctx context.Context, n models.ChangeNotification) {
	if err := s.publisher.Publish(ctx, n); err != nil {
		s.logger.Warn("failed to publish student change", zap.String("table", n.Table), zap.String("record_id", n.RecordID), zap.Error(err))
	}
}

func normalizeNationalID(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
