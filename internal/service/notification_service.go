package service

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/pkg/messaging"
)

// NotificationConfig configures guardian deep-links.
type NotificationConfig struct {
	Enabled    bool
	Host       string
	SchoolName string
	Rules      messaging.PhoneRules
	Location   *time.Location
}

// NotificationService composes the guardian message sent after a registration.
// Delivery is left to the device opening the link; nothing is awaited.
type NotificationService struct {
	cfg    NotificationConfig
	logger *zap.Logger
}

// NewNotificationService constructs the service.
func NewNotificationService(cfg NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Rules == (messaging.PhoneRules{}) {
		cfg.Rules = messaging.DefaultPhoneRules
	}
	return &NotificationService{cfg: cfg, logger: logger}
}

// GuardianMessage renders the notification text for an event.
func (s *NotificationService) GuardianMessage(student models.Student, event models.AttendanceEvent) string {
	guardian := strings.TrimSpace(student.GuardianName)
	if guardian == "" {
		guardian = "apoderado/a"
	}
	at := event.RecordedAt.In(s.cfg.Location)
	msg := fmt.Sprintf("Estimado/a %s, le informamos que %s registró su %s", guardian, student.FullName(), event.Kind.Label())
	if s.cfg.SchoolName != "" {
		msg += " en " + s.cfg.SchoolName
	}
	return msg + fmt.Sprintf(" el %s a las %s.", at.Format("02/01/2006"), at.Format("15:04"))
}

// GuardianLink returns the messaging deep-link for an event, or "" when
// messaging is disabled or the guardian contact carries no digits.
func (s *NotificationService) GuardianLink(student models.Student, event models.AttendanceEvent) string {
	if s == nil || !s.cfg.Enabled {
		return ""
	}
	phone := messaging.NormalizePhone(student.GuardianContact, s.cfg.Rules)
	if phone == "" {
		s.logger.Debug("guardian contact has no phone digits", zap.String("student_id", student.ID))
		return ""
	}
	return messaging.BuildLink(s.cfg.Host, phone, s.GuardianMessage(student, event))
}
