package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/hupe1980/swarmmesh/logging"
)

var (
	// ErrNotStarted is returned when publishing against a bus that has not
	// been started (or was stopped).
	ErrNotStarted = errors.New("event bus not started")
	// ErrBarrierGuarantee is returned when a barrier-sync event is passed to
	// Publish instead of PublishBarrierSync.
	ErrBarrierGuarantee = errors.New("barrier-sync events must be published via PublishBarrierSync")
	// ErrMissingBarrierConfig is returned when a barrier-sync event carries no
	// barrier config.
	ErrMissingBarrierConfig = errors.New("barrier-sync event requires a barrier config")
	// ErrBarrierExists is returned when a barrier is already pending for the
	// same event id.
	ErrBarrierExists = errors.New("barrier already pending for event")
	// ErrBusStopped is the rejection reason applied to barriers still pending
	// when the bus stops.
	ErrBusStopped = errors.New("event bus stopped")
)

// Handler processes a delivered event. Returning a non-nil error marks the
// delivery as failed for this subscription (and triggers retries under
// reliable delivery).
type Handler func(ctx context.Context, ev Event) error

// SubscribeOptions tunes delivery for a single subscription.
type SubscribeOptions struct {
	// Filter, when set, must return true for the event to be delivered.
	Filter func(ev Event) bool
	// MaxRetries is the number of additional attempts after a failed handler
	// call under reliable delivery.
	MaxRetries int
}

type subscription struct {
	id       string
	patterns []string
	handler  Handler
	opts     SubscribeOptions
}

func (s *subscription) matches(ev Event) bool {
	for _, p := range s.patterns {
		if MatchPattern(ev.Type, p) {
			if s.opts.Filter != nil && !s.opts.Filter(ev) {
				return false
			}
			return true
		}
	}
	return false
}

// Metrics is a point-in-time snapshot of bus counters.
type Metrics struct {
	EventsPublished       int64 `json:"events_published"`
	EventsDelivered       int64 `json:"events_delivered"`
	EventsFailed          int64 `json:"events_failed"`
	BarrierSyncsCompleted int64 `json:"barrier_syncs_completed"`
	BarrierSyncsTimedOut  int64 `json:"barrier_syncs_timed_out"`
	ActiveSubscriptions   int   `json:"active_subscriptions"`
	PendingBarriers       int   `json:"pending_barriers"`
	HistorySize           int   `json:"history_size"`
}

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// HistoryLimit caps the in-memory event history; oldest entries are
	// evicted first.
	HistoryLimit int
	// RetryBaseDelay is the initial backoff before the first retry of a
	// failed reliable delivery.
	RetryBaseDelay time.Duration
	// RetryMultiplier grows the backoff between successive retries.
	RetryMultiplier float64
	// Transport receives a best-effort copy of every published event for
	// room-scoped client fan-out. Optional.
	Transport Transport
	// Clock drives retry backoff and barrier timeouts. Tests substitute a
	// mock clock.
	Clock clock.Clock
	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
}

// Bus is the typed publish/subscribe hub. All state is owned by the instance;
// construct one per process (or per test) and drive it with Start/Stop.
// Public methods are safe for concurrent use.
type Bus struct {
	historyLimit    int
	retryBaseDelay  time.Duration
	retryMultiplier float64
	transport       Transport
	clock           clock.Clock
	logger          logging.Logger

	mu      sync.RWMutex
	started bool
	subs    map[string]*subscription
	history []Event
	pending map[string]*pendingBarrier
	metrics Metrics
}

// New constructs a Bus with optional overrides.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{
		HistoryLimit:    1000,
		RetryBaseDelay:  100 * time.Millisecond,
		RetryMultiplier: 2.0,
		Clock:           clock.New(),
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Bus{
		historyLimit:    opts.HistoryLimit,
		retryBaseDelay:  opts.RetryBaseDelay,
		retryMultiplier: opts.RetryMultiplier,
		transport:       opts.Transport,
		clock:           opts.Clock,
		logger:          opts.Logger,
		subs:            make(map[string]*subscription),
		pending:         make(map[string]*pendingBarrier),
	}
}

// Start marks the bus as accepting publishes. Idempotent.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	b.logger.Info("event bus started")
}

// Stop rejects all pending barriers with ErrBusStopped, clears subscriptions
// and history, and marks the bus as stopped. Idempotent.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}
	for id, pb := range b.pending {
		pb.stopTimerLocked()
		pb.complete(BarrierOutcome{
			EventID:   id,
			Approved:  false,
			Reason:    ErrBusStopped.Error(),
			Responses: pb.responseSnapshot(),
			Duration:  b.clock.Since(pb.start),
		})
		delete(b.pending, id)
	}
	b.subs = make(map[string]*subscription)
	b.history = nil
	b.started = false
	b.logger.Info("event bus stopped")
}

// Subscribe registers a handler for one or more patterns and returns the
// subscription id.
func (b *Bus) Subscribe(patterns []string, handler Handler, opts SubscribeOptions) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = &subscription{id: id, patterns: patterns, handler: handler, opts: opts}
	b.logger.Debug("subscription added id=%s patterns=%v", id, patterns)
	return id
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish dispatches an event according to its delivery guarantee. It fails
// with ErrNotStarted on a stopped bus and with ErrBarrierGuarantee for
// barrier-sync events, which must go through PublishBarrierSync.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.Metadata.DeliveryGuarantee == BarrierSync {
		return fmt.Errorf("publish %s: %w", ev.Type, ErrBarrierGuarantee)
	}

	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return fmt.Errorf("publish %s: %w", ev.Type, ErrNotStarted)
	}
	b.appendHistoryLocked(ev)
	b.metrics.EventsPublished++
	matching := b.matchingLocked(ev)
	b.mu.Unlock()

	b.forwardToTransport(ctx, ev)

	switch ev.Metadata.DeliveryGuarantee {
	case Reliable:
		if err := b.deliverReliable(ctx, ev, matching); err != nil {
			b.mu.Lock()
			b.metrics.EventsFailed++
			b.mu.Unlock()
			return err
		}
	default:
		for _, sub := range matching {
			go func(s *subscription) {
				if err := s.handler(ctx, ev); err != nil {
					b.logger.Warn("fire-and-forget handler failed subscription=%s event=%s: %v", s.id, ev.Type, err)
				}
			}(sub)
		}
	}

	b.mu.Lock()
	b.metrics.EventsDelivered++
	b.mu.Unlock()
	return nil
}

// deliverReliable awaits every matching handler, retrying each subscription
// individually. All subscribers are attempted even when one ultimately fails.
func (b *Bus) deliverReliable(ctx context.Context, ev Event, matching []*subscription) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(matching))

	for _, sub := range matching {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			if err := b.deliverWithRetry(ctx, s, ev); err != nil {
				errCh <- fmt.Errorf("delivery to subscription %s failed: %w", s.id, err)
			}
		}(sub)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("reliable publish %s: %w", ev.Type, errors.Join(errs...))
	}
	return nil
}

func (b *Bus) deliverWithRetry(ctx context.Context, sub *subscription, ev Event) error {
	delay := b.retryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= sub.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.clock.After(delay):
			}
			delay = time.Duration(float64(delay) * b.retryMultiplier)
		}
		if lastErr = sub.handler(ctx, ev); lastErr == nil {
			return nil
		}
		b.logger.Debug("handler attempt %d failed subscription=%s event=%s: %v", attempt+1, sub.id, ev.Type, lastErr)
	}
	return lastErr
}

func (b *Bus) forwardToTransport(ctx context.Context, ev Event) {
	if b.transport == nil {
		return
	}
	room, ok := RoomForEvent(ev)
	if !ok {
		return
	}
	if err := b.transport.EmitToRoom(ctx, ev.Type, room, ev.Data); err != nil {
		b.logger.Warn("transport forwarding failed event=%s room=%s: %v", ev.Type, room, err)
	}
}

func (b *Bus) matchingLocked(ev Event) []*subscription {
	var matching []*subscription
	for _, sub := range b.subs {
		if sub.matches(ev) {
			matching = append(matching, sub)
		}
	}
	return matching
}

func (b *Bus) appendHistoryLocked(ev Event) {
	b.history = append(b.history, ev)
	if b.historyLimit > 0 && len(b.history) > b.historyLimit {
		b.history = b.history[len(b.history)-b.historyLimit:]
	}
}

// History returns a defensive copy of the retained event history.
func (b *Bus) History() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	history := make([]Event, len(b.history))
	copy(history, b.history)
	return history
}

// GetMetrics returns a snapshot of the bus counters.
func (b *Bus) GetMetrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m := b.metrics
	m.ActiveSubscriptions = len(b.subs)
	m.PendingBarriers = len(b.pending)
	m.HistorySize = len(b.history)
	return m
}
