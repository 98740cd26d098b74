package service

import (
	"context"

	"github.com/noah-isme/qr-attendance-api/internal/models"
)

// ChangePublisher announces table mutations to subscribers.
type ChangePublisher interface {
	Publish(ctx context.Context, n models.ChangeNotification) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.ChangeNotification) error { return nil }
