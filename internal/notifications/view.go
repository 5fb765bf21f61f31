package notifications

import (
	"context"
	"sync"
	"time"

	"crm-notifications/internal/common/logger"
	"crm-notifications/internal/common/metrics"
)

// Options configures a Service.
type Options struct {
	Policy   SnoozePolicy
	Years    YearProvider
	Clock    Clock
	Observer ViewObserver
}

// ViewObserver receives the size of every view served.
type ViewObserver interface {
	RecordGroupsServed(ctx context.Context, groups int)
}

// Service is the read path and mutation entry point of the bell.
type Service struct {
	store       Store
	aggregator  *Aggregator
	cache       Cache
	coordinator *Coordinator
	policy      SnoozePolicy
	clock       Clock
	observer    ViewObserver
	logger      logger.Logger
}

func NewService(store Store, cache Cache, toaster Toaster, opts Options, log logger.Logger) *Service {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	log = log.WithFields(map[string]interface{}{"service": "notifications"})
	return &Service{
		store:       store,
		aggregator:  NewAggregator(store, opts.Years, opts.Clock, log),
		cache:       cache,
		coordinator: NewCoordinator(cache, toaster, log),
		policy:      opts.Policy,
		clock:       opts.Clock,
		observer:    opts.Observer,
		logger:      log,
	}
}

// Cache exposes the view cache to the realtime subscriber.
func (s *Service) Cache() Cache { return s.cache }

// GetNotificationView returns the actor's bell: aggregate, filter, group,
// sort. Source failures degrade to empty input; the call only fails for a
// missing actor.
func (s *Service) GetNotificationView(ctx context.Context, actorID string) ([]Group, error) {
	if actorID == "" {
		return nil, ErrNoActor
	}
	start := time.Now()

	var (
		wg      sync.WaitGroup
		ns      []Notification
		hit     bool
		snoozes []Snooze
		overdue []string
	)
	now := s.clock()

	wg.Add(3)
	go func() {
		defer wg.Done()
		ns, hit = s.cachedAggregate(ctx, actorID)
	}()
	go func() {
		defer wg.Done()
		snoozes = s.activeSnoozes(ctx, now)
	}()
	go func() {
		defer wg.Done()
		ids, err := s.store.OverdueTaskIDs(ctx, actorID, now)
		if err != nil {
			s.degrade(SourceOverdue, actorID, err)
			return
		}
		overdue = ids
	}()
	wg.Wait()

	groups := BuildView(ns, actorID, snoozes, overdue, now, s.policy)

	cacheLabel := "miss"
	if hit {
		cacheLabel = "hit"
	}
	metrics.ViewBuilds.WithLabelValues(cacheLabel).Inc()
	metrics.ViewDuration.WithLabelValues(cacheLabel).Observe(time.Since(start).Seconds())
	if s.observer != nil {
		s.observer.RecordGroupsServed(ctx, len(groups))
	}

	return groups, nil
}

// UnreadCount is the badge number for the actor.
func (s *Service) UnreadCount(ctx context.Context, actorID string) (int, error) {
	groups, err := s.GetNotificationView(ctx, actorID)
	if err != nil {
		return 0, err
	}
	return UnreadTotal(groups), nil
}

// BuildView is the pure part of the read path. The same input always gives
// the same output.
func BuildView(ns []Notification, actorID string, snoozes []Snooze, overdueTaskIDs []string, now time.Time, policy SnoozePolicy) []Group {
	visible := Filter(ns, actorID, snoozes, overdueTaskIDs, now, policy)
	groups := GroupByType(visible, snoozes, now, policy)
	SortGroups(groups)
	if groups == nil {
		groups = []Group{}
	}
	return groups
}

func (s *Service) aggregate(ctx context.Context, actorID string) []Notification {
	ns, _ := s.cachedAggregate(ctx, actorID)
	return ns
}

// cachedAggregate returns the cached aggregate or builds and caches a fresh
// one. Cache errors fall through to a fresh build.
func (s *Service) cachedAggregate(ctx context.Context, actorID string) ([]Notification, bool) {
	ns, ok, err := s.cache.GetAggregate(ctx, actorID)
	if err != nil {
		s.logger.Warn("aggregate cache read failed", map[string]interface{}{"actorId": actorID, "error": err})
	}
	if ok {
		return ns, true
	}

	ns = s.aggregator.Aggregate(ctx, actorID)
	if err := s.cache.SetAggregate(ctx, actorID, ns); err != nil {
		s.logger.Warn("aggregate cache write failed", map[string]interface{}{"actorId": actorID, "error": err})
	}
	return ns, false
}

// activeSnoozes returns the cached snooze list, refetching on a miss. A
// failed fetch yields no snoozes so nothing is hidden.
func (s *Service) activeSnoozes(ctx context.Context, now time.Time) []Snooze {
	ss, ok, err := s.cache.GetSnoozes(ctx)
	if err != nil {
		s.logger.Warn("snooze cache read failed", map[string]interface{}{"error": err})
	}
	if ok {
		return ss
	}

	ss, err = s.store.ActiveSnoozes(ctx, now)
	if err != nil {
		s.degrade(SourceSnoozes, "", err)
		return nil
	}
	if err := s.cache.SetSnoozes(ctx, ss); err != nil {
		s.logger.Warn("snooze cache write failed", map[string]interface{}{"error": err})
	}
	return ss
}

func (s *Service) degrade(source, actorID string, err error) {
	metrics.SourceFailures.WithLabelValues(source).Inc()
	s.logger.Warn("notification input degraded to empty", map[string]interface{}{
		"source":  source,
		"actorId": actorID,
		"error":   err,
	})
}
