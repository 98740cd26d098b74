package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/noah-isme/qr-attendance-api/internal/models"
	"github.com/noah-isme/qr-attendance-api/internal/service"
	"github.com/noah-isme/qr-attendance-api/pkg/jobs"
)

// RolloverSpec fires at midnight in the scheduler's location.
const RolloverSpec = "0 0 * * *"

type rosterLoader interface {
	All(ctx context.Context) ([]models.Student, error)
}

type eventLoader interface {
	ListByDate(ctx context.Context, date time.Time) ([]models.AttendanceRecord, error)
}

type changeSubscriber interface {
	Subscribe(table string) (<-chan models.ChangeNotification, func())
}

type rolloverScheduler interface {
	Add(spec, name string, timeout time.Duration, fn func(context.Context)) (jobs.EntryID, error)
}

// Config tunes the provider.
type Config struct {
	Location *time.Location
	CacheTTL time.Duration
}

// Provider owns today's dashboard state and keeps it in sync with change notifications.
type Provider struct {
	students rosterLoader
	events   eventLoader
	changes  changeSubscriber
	cache    *service.CacheService
	metrics  *service.MetricsService
	clock    clock.Clock
	logger   *zap.Logger
	cfg      Config

	mu    sync.RWMutex
	state State
}

// NewProvider builds a provider; call Start to load and subscribe.
func NewProvider(students rosterLoader, events eventLoader, changes changeSubscriber, cache *service.CacheService, metrics *service.MetricsService, clk clock.Clock, logger *zap.Logger, cfg Config) *Provider {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Provider{
		students: students,
		events:   events,
		changes:  changes,
		cache:    cache,
		metrics:  metrics,
		clock:    clk,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start subscribes to roster and attendance changes, then loads both lists.
// The subscription lives until ctx is done even when the initial load fails.
func (p *Provider) Start(ctx context.Context) error {
	if p.changes != nil {
		studentsCh, cancelStudents := p.changes.Subscribe(models.TableStudents)
		eventsCh, cancelEvents := p.changes.Subscribe(models.TableAttendanceEvents)
		go p.listen(ctx, studentsCh, eventsCh, func() {
			cancelStudents()
			cancelEvents()
		})
	}
	return errors.Join(p.RefreshStudents(ctx), p.RefreshEvents(ctx))
}

func (p *Provider) listen(ctx context.Context, studentsCh, eventsCh <-chan models.ChangeNotification, cancel func()) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-studentsCh:
			if !ok {
				return
			}
			p.logger.Debug("roster changed", zap.String("op", string(n.Op)), zap.String("record_id", n.RecordID))
			if err := p.RefreshStudents(ctx); err != nil {
				p.logger.Warn("dashboard roster refresh failed", zap.Error(err))
			}
		case n, ok := <-eventsCh:
			if !ok {
				return
			}
			p.logger.Debug("attendance changed", zap.String("op", string(n.Op)), zap.String("record_id", n.RecordID))
			if err := p.RefreshEvents(ctx); err != nil {
				p.logger.Warn("dashboard events refresh failed", zap.Error(err))
			}
		}
	}
}

// RefreshStudents reloads the roster.
func (p *Provider) RefreshStudents(ctx context.Context) error {
	students, err := p.students.All(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	p.dispatch(StudentsLoaded{Students: students, At: p.clock.Now()})
	return nil
}

// RefreshEvents reloads today's events, rolling the day over first when it changed.
func (p *Provider) RefreshEvents(ctx context.Context) error {
	now := p.clock.Now()
	day := p.dayOf(now)
	if current := p.Snapshot().Day; !current.IsZero() && !current.Equal(day) {
		p.dispatch(DayChanged{Day: day, At: now})
	}
	events, err := p.events.ListByDate(ctx, now)
	if err != nil {
		return fmt.Errorf("load today's events: %w", err)
	}
	p.dispatch(EventsLoaded{Day: day, Events: events, At: p.clock.Now()})
	return nil
}

// Rollover starts the new day and fetches its events.
func (p *Provider) Rollover(ctx context.Context) {
	now := p.clock.Now()
	p.dispatch(DayChanged{Day: p.dayOf(now), At: now})
	if err := p.RefreshEvents(ctx); err != nil {
		p.logger.Warn("dashboard rollover refresh failed", zap.Error(err))
	}
	p.logger.Info("dashboard day rolled over", zap.Time("day", p.dayOf(now)))
}

// ScheduleRollover registers the midnight rollover.
func (p *Provider) ScheduleRollover(scheduler rolloverScheduler) (jobs.EntryID, error) {
	return scheduler.Add(RolloverSpec, "dashboard-rollover", time.Minute, p.Rollover)
}

// Snapshot returns a copy of the current state.
func (p *Provider) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.clone()
}

// ForDate returns the state of an arbitrary day. Today is served from memory;
// other days are computed from storage and cached.
func (p *Provider) ForDate(ctx context.Context, date time.Time) (State, error) {
	day := p.dayOf(date)
	if day.Equal(p.dayOf(p.clock.Now())) {
		return p.Snapshot(), nil
	}

	key := service.CachePrefixDashboard + "day:" + day.Format("2006-01-02")
	var cached State
	if hit, err := p.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	students, err := p.students.All(ctx)
	if err != nil {
		return State{}, fmt.Errorf("load roster: %w", err)
	}
	events, err := p.events.ListByDate(ctx, day)
	if err != nil {
		return State{}, fmt.Errorf("load events: %w", err)
	}
	now := p.clock.Now()
	state := Reduce(State{}, StudentsLoaded{Students: students, At: now})
	state = Reduce(state, EventsLoaded{Day: day, Events: events, At: now})
	_ = p.cache.Set(ctx, key, state, p.cfg.CacheTTL)
	return state, nil
}

func (p *Provider) dispatch(a Action) {
	p.mu.Lock()
	p.state = Reduce(p.state, a)
	stats := p.state.Stats
	p.mu.Unlock()
	p.metrics.SetAttendanceGauges(stats.Present, stats.Absent)
}

func (p *Provider) dayOf(t time.Time) time.Time {
	start, _ := service.DayBounds(t, p.cfg.Location)
	return start
}
