// Package turn runs one conversation turn against a set of selected
// participants.
//
// A turn fans response generation out over its participants either in
// parallel (turn isolation: every participant sees the same base history) or
// sequentially (progressive context growth: each participant additionally
// sees the messages produced earlier in the same turn). Individual
// participant failures are isolated and recorded; they never fail the turn.
package turn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/swarmmesh/core"
	"github.com/hupe1980/swarmmesh/eventbus"
	"github.com/hupe1980/swarmmesh/logging"
)

// defaultConfidence is reported when no participant supplied a confidence
// value. A neutral midpoint rather than zero, since zero would read as
// universal distrust instead of "unmeasured".
const defaultConfidence = 0.5

// Options holds dependency overrides passed to New().
type Options struct {
	// Bus receives execution lifecycle events (start/complete/error),
	// fire-and-forget. Optional.
	Bus *eventbus.Bus
	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
}

// Executor runs turns by delegating response generation to the external
// ResponseService collaborator. It is stateless between calls and safe for
// concurrent use.
type Executor struct {
	responder core.ResponseService
	bus       *eventbus.Bus
	logger    logging.Logger
}

// New constructs an Executor with optional overrides.
func New(responder core.ResponseService, optFns ...func(o *Options)) *Executor {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{responder: responder, bus: opts.Bus, logger: opts.Logger}
}

// ExecuteTurn runs one turn over the given participants. The execution mode
// is decided by the caller (see core.ModeForStrategy). The returned result
// always contains a per-participant entry in Results, including failures;
// cancellation preserves already-collected partial results.
func (e *Executor) ExecuteTurn(
	ctx context.Context,
	participants []core.BotParticipant,
	convCtx core.ConversationContext,
	strategy core.ExecutionStrategy,
	turnID string,
	mode core.ExecutionMode,
) (core.TurnExecutionResult, error) {
	start := time.Now()

	e.publishLifecycle(ctx, "execution/start", turnID, convCtx.SwarmID, map[string]any{
		"mode":         string(mode),
		"participants": len(participants),
	})

	var results map[string]core.ResponseResult
	switch mode {
	case core.ModeSequential:
		results = e.runSequential(ctx, participants, convCtx, strategy, turnID)
	case core.ModeParallel:
		results = e.runParallel(ctx, participants, convCtx, strategy, turnID)
	default:
		e.publishLifecycle(ctx, "execution/error", turnID, convCtx.SwarmID, map[string]any{"error": "unknown execution mode"})
		return core.TurnExecutionResult{TurnID: turnID, Results: map[string]core.ResponseResult{}}, fmt.Errorf("unknown execution mode %q", mode)
	}

	result := e.aggregate(turnID, participants, results, time.Since(start))

	e.publishLifecycle(ctx, "execution/complete", turnID, convCtx.SwarmID, map[string]any{
		"messages": len(result.Messages),
		"duration": result.Metrics.Duration.Milliseconds(),
	})
	e.logger.Info("turn completed turn_id=%s participants=%d messages=%d duration=%s", turnID, len(participants), len(result.Messages), result.Metrics.Duration)

	return result, nil
}

// runParallel issues one response request per participant concurrently. All
// participants see the same base conversation history; completion order is
// irrelevant to the aggregated result.
func (e *Executor) runParallel(
	ctx context.Context,
	participants []core.BotParticipant,
	convCtx core.ConversationContext,
	strategy core.ExecutionStrategy,
	turnID string,
) map[string]core.ResponseResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]core.ResponseResult, len(participants))
	)

	for _, p := range participants {
		wg.Add(1)
		go func(p core.BotParticipant) {
			defer wg.Done()
			res := e.generate(ctx, p, copyMessages(convCtx.ConversationHistory), convCtx, strategy, turnID)
			mu.Lock()
			results[p.ID] = res
			mu.Unlock()
		}(p)
	}

	wg.Wait()
	return results
}

// runSequential issues requests one at a time in participant order; each
// subsequent participant's context includes the messages already produced
// in this turn. Failures are logged and skipped.
func (e *Executor) runSequential(
	ctx context.Context,
	participants []core.BotParticipant,
	convCtx core.ConversationContext,
	strategy core.ExecutionStrategy,
	turnID string,
) map[string]core.ResponseResult {
	results := make(map[string]core.ResponseResult, len(participants))
	working := copyMessages(convCtx.ConversationHistory)

	for _, p := range participants {
		if ctx.Err() != nil {
			// Cancelled mid-turn: keep partial results, skip remaining participants.
			e.logger.Warn("turn cancelled turn_id=%s before participant %s", turnID, p.ID)
			break
		}
		res := e.generate(ctx, p, copyMessages(working), convCtx, strategy, turnID)
		results[p.ID] = res
		if res.Success && res.Message != nil {
			working = append(working, *res.Message)
		}
	}

	return results
}

// generate requests one participant's response. Errors and responder panics
// both become failed results; in parallel mode this runs on a spawned
// goroutine, so a panic must not escape.
func (e *Executor) generate(
	ctx context.Context,
	p core.BotParticipant,
	history []core.Message,
	convCtx core.ConversationContext,
	strategy core.ExecutionStrategy,
	turnID string,
) (result core.ResponseResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("response generation panicked turn_id=%s bot=%s: %v", turnID, p.ID, r)
			e.publishLifecycle(ctx, "execution/error", turnID, convCtx.SwarmID, map[string]any{"bot_id": p.ID, "error": fmt.Sprintf("%v", r)})
			result = core.ResponseResult{BotID: p.ID, Success: false, Error: fmt.Sprintf("response generation panicked: %v", r)}
		}
	}()

	res, err := e.responder.GenerateResponse(ctx, core.ResponseRequest{
		SwarmID:        convCtx.SwarmID,
		TurnID:         turnID,
		Participant:    p,
		History:        history,
		AvailableTools: convCtx.AvailableTools,
		Strategy:       strategy,
	})
	if err != nil {
		e.logger.Warn("response generation failed turn_id=%s bot=%s: %v", turnID, p.ID, err)
		e.publishLifecycle(ctx, "execution/error", turnID, convCtx.SwarmID, map[string]any{"bot_id": p.ID, "error": err.Error()})
		return core.ResponseResult{BotID: p.ID, Success: false, Error: err.Error()}
	}
	if res.BotID == "" {
		res.BotID = p.ID
	}
	return res
}

// aggregate builds the turn result from the per-participant map. Messages are
// collected in participant list order so the outcome is independent of
// completion order.
func (e *Executor) aggregate(
	turnID string,
	participants []core.BotParticipant,
	results map[string]core.ResponseResult,
	elapsed time.Duration,
) core.TurnExecutionResult {
	var (
		messages      []core.Message
		usage         core.ResourceUsage
		confidenceSum float64
		confidenceN   int
	)

	for _, p := range participants {
		res, ok := results[p.ID]
		if !ok {
			continue
		}
		if res.Success && res.Message != nil {
			messages = append(messages, *res.Message)
		}
		if err := usage.Accumulate(res.ResourcesUsed); err != nil {
			e.logger.Warn("credit accumulation failed turn_id=%s bot=%s: %v", turnID, p.ID, err)
		}
		if res.Confidence != nil {
			confidenceSum += *res.Confidence
			confidenceN++
		}
	}

	avgConfidence := defaultConfidence
	if confidenceN > 0 {
		avgConfidence = confidenceSum / float64(confidenceN)
	}

	// Total duration is the wall-clock span of the whole turn, not the sum of
	// per-participant durations.
	usage.Duration = elapsed.Milliseconds()

	return core.TurnExecutionResult{
		TurnID:        turnID,
		Messages:      messages,
		Results:       results,
		ResourcesUsed: usage,
		Metrics: core.TurnMetrics{
			Duration:          elapsed,
			ParticipantCount:  len(participants),
			MessageCount:      len(messages),
			AverageConfidence: avgConfidence,
		},
	}
}

func (e *Executor) publishLifecycle(ctx context.Context, eventType, turnID, swarmID string, data map[string]any) {
	if e.bus == nil {
		return
	}
	payload := map[string]any{"turnId": turnID, "swarmId": swarmID}
	for k, v := range data {
		payload[k] = v
	}
	if err := e.bus.Publish(ctx, eventbus.NewEvent(eventType, payload)); err != nil {
		e.logger.Debug("lifecycle publish failed event=%s turn_id=%s: %v", eventType, turnID, err)
	}
}

func copyMessages(messages []core.Message) []core.Message {
	out := make([]core.Message, len(messages))
	copy(out, messages)
	return out
}
