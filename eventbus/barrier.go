package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// BarrierResponseKind is a responder's vote on a barrier-sync event.
type BarrierResponseKind string

const (
	// ResponseOK is an affirmative vote counting toward the quorum.
	ResponseOK BarrierResponseKind = "OK"
	// ResponseAlarm vetoes the barrier immediately, regardless of quorum.
	ResponseAlarm BarrierResponseKind = "ALARM"
)

// BarrierResponse records one responder's vote.
type BarrierResponse struct {
	ResponderID string              `json:"responder_id"`
	Response    BarrierResponseKind `json:"response"`
	Reason      string              `json:"reason,omitempty"`
	At          time.Time           `json:"at"`
}

// BarrierOutcome is the terminal result of a barrier-sync event.
type BarrierOutcome struct {
	EventID   string            `json:"event_id"`
	Approved  bool              `json:"approved"`
	Reason    string            `json:"reason"`
	Responses []BarrierResponse `json:"responses"`
	Duration  time.Duration     `json:"duration"`
}

// pendingBarrier tracks one in-flight barrier-sync event. All fields are
// guarded by the bus mutex.
type pendingBarrier struct {
	event     Event
	responses []BarrierResponse
	done      chan BarrierOutcome
	timer     *clock.Timer
	start     time.Time
	expired   bool
}

func (pb *pendingBarrier) stopTimerLocked() {
	if pb.timer != nil {
		pb.timer.Stop()
		pb.timer = nil
	}
}

// complete delivers the outcome. The channel is buffered so resolution never
// blocks on a slow consumer.
func (pb *pendingBarrier) complete(outcome BarrierOutcome) {
	pb.done <- outcome
}

func (pb *pendingBarrier) responseSnapshot() []BarrierResponse {
	responses := make([]BarrierResponse, len(pb.responses))
	copy(responses, pb.responses)
	return responses
}

func (pb *pendingBarrier) okCount() int {
	n := 0
	for _, r := range pb.responses {
		if r.Response == ResponseOK {
			n++
		}
	}
	return n
}

func (pb *pendingBarrier) hasAlarm() bool {
	for _, r := range pb.responses {
		if r.Response == ResponseAlarm {
			return true
		}
	}
	return false
}

// PublishBarrierSync registers a pending barrier for the event, starts its
// timeout timer, emits the event to matching subscribers without awaiting
// them, and returns a channel delivering the terminal outcome. Exactly one
// barrier may be pending per event id.
func (b *Bus) PublishBarrierSync(ctx context.Context, ev Event) (<-chan BarrierOutcome, error) {
	cfg := ev.Metadata.Barrier
	if cfg == nil {
		return nil, fmt.Errorf("publish %s: %w", ev.Type, ErrMissingBarrierConfig)
	}
	ev.Metadata.DeliveryGuarantee = BarrierSync

	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil, fmt.Errorf("publish %s: %w", ev.Type, ErrNotStarted)
	}
	if _, exists := b.pending[ev.ID]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("publish %s (%s): %w", ev.Type, ev.ID, ErrBarrierExists)
	}

	pb := &pendingBarrier{
		event: ev,
		done:  make(chan BarrierOutcome, 1),
		start: b.clock.Now(),
	}
	eventID := ev.ID
	pb.timer = b.clock.AfterFunc(cfg.Timeout, func() { b.onBarrierTimeout(eventID) })
	b.pending[eventID] = pb

	b.appendHistoryLocked(ev)
	b.metrics.EventsPublished++
	matching := b.matchingLocked(ev)
	b.mu.Unlock()

	b.forwardToTransport(ctx, ev)

	for _, sub := range matching {
		go func(s *subscription) {
			if err := s.handler(ctx, ev); err != nil {
				b.logger.Warn("barrier event handler failed subscription=%s event=%s: %v", s.id, ev.Type, err)
			}
		}(sub)
	}

	b.logger.Debug("barrier registered event=%s id=%s quorum=%d timeout=%s", ev.Type, ev.ID, cfg.Quorum, cfg.Timeout)
	return pb.done, nil
}

// RespondToBarrierSync appends a responder's vote to the pending barrier and
// evaluates the resolution rules. Responses for unknown (already resolved or
// never published) barriers are logged and ignored.
func (b *Bus) RespondToBarrierSync(eventID, responderID string, response BarrierResponseKind, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pb, ok := b.pending[eventID]
	if !ok {
		b.logger.Debug("barrier response for unknown event id=%s responder=%s", eventID, responderID)
		return
	}

	pb.responses = append(pb.responses, BarrierResponse{
		ResponderID: responderID,
		Response:    response,
		Reason:      reason,
		At:          b.clock.Now(),
	})

	cfg := pb.event.Metadata.Barrier
	switch {
	case pb.hasAlarm():
		// An ALARM is an absolute veto regardless of quorum.
		b.resolveBarrierLocked(eventID, pb, false, "ALARM response received", false)
	case pb.okCount() >= cfg.Quorum:
		b.resolveBarrierLocked(eventID, pb, true, "Quorum reached", false)
	case len(cfg.RequiredResponders) > 0 && len(pb.responses) >= len(cfg.RequiredResponders):
		b.resolveBarrierLocked(eventID, pb, false, "All responders replied without reaching quorum", false)
	}
}

func (b *Bus) onBarrierTimeout(eventID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pb, ok := b.pending[eventID]
	if !ok {
		return
	}

	switch pb.event.Metadata.Barrier.TimeoutAction {
	case AutoApprove:
		b.resolveBarrierLocked(eventID, pb, true, "Barrier timeout - auto-approved", true)
	case AutoReject:
		b.resolveBarrierLocked(eventID, pb, false, "Barrier timeout - auto-rejected", true)
	case KeepPending:
		pb.expired = true
		b.logger.Warn("barrier kept pending past deadline event=%s id=%s", pb.event.Type, eventID)
	default:
		b.resolveBarrierLocked(eventID, pb, false, "Barrier timeout - auto-rejected", true)
	}
}

func (b *Bus) resolveBarrierLocked(eventID string, pb *pendingBarrier, approved bool, reason string, timedOut bool) {
	pb.stopTimerLocked()
	delete(b.pending, eventID)
	if timedOut {
		b.metrics.BarrierSyncsTimedOut++
	} else {
		b.metrics.BarrierSyncsCompleted++
	}
	duration := b.clock.Since(pb.start)
	pb.complete(BarrierOutcome{
		EventID:   eventID,
		Approved:  approved,
		Reason:    reason,
		Responses: pb.responseSnapshot(),
		Duration:  duration,
	})
	b.logger.Info("barrier resolved event=%s id=%s approved=%t reason=%q duration=%s", pb.event.Type, eventID, approved, reason, duration)
}
