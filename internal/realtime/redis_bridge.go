package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/qr-attendance-api/internal/models"
)

// DefaultChannel is the Redis channel carrying change notifications.
const DefaultChannel = "qr-attendance:changes"

// RedisBridge keeps brokers of several API instances in sync through Redis pub/sub.
type RedisBridge struct {
	client  *redis.Client
	channel string
	origin  string
	local   *Broker
	logger  *zap.Logger
}

// NewRedisBridge builds a bridge publishing into channel and relaying into local.
func NewRedisBridge(client *redis.Client, channel string, local *Broker, logger *zap.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		logger:  logger,
	}
}

// Origin identifies this instance in relayed notifications.
func (r *RedisBridge) Origin() string {
	return r.origin
}

// Publish delivers n locally, then forwards it to the other instances.
func (r *RedisBridge) Publish(ctx context.Context, n models.ChangeNotification) error {
	n.Origin = r.origin
	r.local.Deliver(n)

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal change notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change notification: %w", err)
	}
	return nil
}

// Run relays notifications of other instances into the local broker until ctx is done.
func (r *RedisBridge) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close() //nolint:errcheck

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("change relay subscribed", zap.String("channel", r.channel), zap.String("origin", r.origin))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.relay(msg.Payload)
		}
	}
}

func (r *RedisBridge) relay(payload string) {
	var n models.ChangeNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		r.logger.Warn("malformed change notification", zap.Error(err))
		return
	}
	if n.Origin == r.origin {
		return
	}
	r.local.Deliver(n)
}
