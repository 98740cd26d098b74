// Package realtime fans backend change notifications out to in-process
// subscribers, other API instances and connected kiosk/dashboard clients.
package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/qr-attendance-api/internal/models"
)

// AllTables subscribes to every table.
const AllTables = "*"

const defaultBuffer = 32

// Broker is an in-process pub/sub keyed by table name.
// Delivery never blocks: a subscriber whose buffer is full misses the notification.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan models.ChangeNotification
	next   uint64
	buffer int
	logger *zap.Logger
}

// NewBroker builds a broker whose subscriber channels hold buffer notifications.
func NewBroker(buffer int, logger *zap.Logger) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subs:   make(map[string]map[uint64]chan models.ChangeNotification),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a channel receiving notifications for table and a cancel
// func that unsubscribes and closes the channel. Cancel is idempotent.
func (b *Broker) Subscribe(table string) (<-chan models.ChangeNotification, func()) {
	ch := make(chan models.ChangeNotification, b.buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	if b.subs[table] == nil {
		b.subs[table] = make(map[uint64]chan models.ChangeNotification)
	}
	b.subs[table][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[table], id)
			if len(b.subs[table]) == 0 {
				delete(b.subs, table)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers n to local subscribers.
func (b *Broker) Publish(ctx context.Context, n models.ChangeNotification) error {
	b.Deliver(n)
	return nil
}

// Deliver fans n out to subscribers of its table and of AllTables and reports how many received it.
func (b *Broker) Deliver(n models.ChangeNotification) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, key := range []string{n.Table, AllTables} {
		for id, ch := range b.subs[key] {
			select {
			case ch <- n:
				delivered++
			default:
				b.logger.Warn("change notification dropped",
					zap.String("table", n.Table),
					zap.Uint64("subscriber", id),
				)
			}
		}
	}
	return delivered
}

// Subscribers reports the number of active subscriptions for table.
func (b *Broker) Subscribers(table string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[table])
}
