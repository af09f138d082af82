package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/swarmmesh/core"
	"github.com/hupe1980/swarmmesh/eventbus"
	"github.com/hupe1980/swarmmesh/responder"
)

func testParticipants(n int) []core.BotParticipant {
	participants := make([]core.BotParticipant, 0, n)
	for i := 1; i <= n; i++ {
		participants = append(participants, core.BotParticipant{
			ID:   fmt.Sprintf("bot-%d", i),
			Name: fmt.Sprintf("Bot %d", i),
		})
	}
	return participants
}

func testConvCtx() core.ConversationContext {
	return core.ConversationContext{
		SwarmID:             "swarm-1",
		UserData:            map[string]any{},
		Participants:        testParticipants(3),
		ConversationHistory: []core.Message{core.NewUserMessage("kick off")},
		AvailableTools:      []string{"search"},
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestExecutor_ParallelSharesBaseHistory(t *testing.T) {
	mock := responder.NewMockResponder(nil)
	e := New(mock)
	convCtx := testConvCtx()

	result, err := e.ExecuteTurn(context.Background(), convCtx.Participants, convCtx, core.StrategyConversational, "turn-1", core.ModeParallel)
	require.NoError(t, err)

	assert.Equal(t, "turn-1", result.TurnID)
	assert.Len(t, result.Messages, 3)
	assert.Len(t, result.Results, 3)
	assert.Equal(t, 3, mock.CallCount())

	// Every participant saw the same base history, regardless of completion order.
	for _, req := range mock.Requests() {
		assert.Len(t, req.History, 1)
		assert.Equal(t, "kick off", req.History[0].Content)
	}

	// Messages are ordered by participant list, not completion order.
	assert.Equal(t, "bot-1", result.Messages[0].BotID)
	assert.Equal(t, "bot-2", result.Messages[1].BotID)
	assert.Equal(t, "bot-3", result.Messages[2].BotID)
}

func TestExecutor_SequentialGrowsContext(t *testing.T) {
	mock := responder.NewMockResponder(nil)
	e := New(mock)
	convCtx := testConvCtx()

	result, err := e.ExecuteTurn(context.Background(), convCtx.Participants, convCtx, core.StrategyReasoning, "turn-1", core.ModeSequential)
	require.NoError(t, err)
	require.Len(t, result.Messages, 3)

	reqs := mock.Requests()
	require.Len(t, reqs, 3)
	// Each later participant additionally sees the messages produced earlier in
	// the same turn.
	assert.Len(t, reqs[0].History, 1)
	assert.Len(t, reqs[1].History, 2)
	assert.Len(t, reqs[2].History, 3)
	assert.Equal(t, "bot-1", reqs[1].History[1].BotID)
}

func TestExecutor_FailureIsolation(t *testing.T) {
	mock := responder.NewMockResponder(func(req core.ResponseRequest) (core.ResponseResult, error) {
		if req.Participant.ID == "bot-2" {
			return core.ResponseResult{}, errors.New("model unavailable")
		}
		msg := core.NewMessage(req.Participant.ID, "ok")
		return core.ResponseResult{BotID: req.Participant.ID, Success: true, Message: &msg}, nil
	})
	e := New(mock)
	convCtx := testConvCtx()

	result, err := e.ExecuteTurn(context.Background(), convCtx.Participants, convCtx, core.StrategyConversational, "turn-1", core.ModeParallel)
	require.NoError(t, err)

	// The turn itself succeeds; the failure is recorded per participant.
	assert.Len(t, result.Messages, 2)
	require.Contains(t, result.Results, "bot-2")
	failed := result.Results["bot-2"]
	assert.False(t, failed.Success)
	assert.Equal(t, "bot-2", failed.BotID)
	assert.Contains(t, failed.Error, "model unavailable")
}

func TestExecutor_ResponderPanicBecomesFailedResult(t *testing.T) {
	for _, mode := range []core.ExecutionMode{core.ModeParallel, core.ModeSequential} {
		t.Run(string(mode), func(t *testing.T) {
			mock := responder.NewMockResponder(func(req core.ResponseRequest) (core.ResponseResult, error) {
				if req.Participant.ID == "bot-2" {
					panic("model client exploded")
				}
				msg := core.NewMessage(req.Participant.ID, "ok")
				return core.ResponseResult{BotID: req.Participant.ID, Success: true, Message: &msg}, nil
			})
			e := New(mock)
			convCtx := testConvCtx()

			var (
				result core.TurnExecutionResult
				err    error
			)
			require.NotPanics(t, func() {
				result, err = e.ExecuteTurn(context.Background(), convCtx.Participants, convCtx, core.StrategyConversational, "turn-1", mode)
			})
			require.NoError(t, err)

			assert.Len(t, result.Messages, 2)
			require.Contains(t, result.Results, "bot-2")
			failed := result.Results["bot-2"]
			assert.False(t, failed.Success)
			assert.Equal(t, "bot-2", failed.BotID)
			assert.Contains(t, failed.Error, "model client exploded")
		})
	}
}

func TestExecutor_SequentialFailureDoesNotGrowContext(t *testing.T) {
	mock := responder.NewMockResponder(func(req core.ResponseRequest) (core.ResponseResult, error) {
		if req.Participant.ID == "bot-1" {
			return core.ResponseResult{}, errors.New("boom")
		}
		msg := core.NewMessage(req.Participant.ID, "ok")
		return core.ResponseResult{BotID: req.Participant.ID, Success: true, Message: &msg}, nil
	})
	e := New(mock)
	convCtx := testConvCtx()

	result, err := e.ExecuteTurn(context.Background(), convCtx.Participants, convCtx, core.StrategyDeterministic, "turn-1", core.ModeSequential)
	require.NoError(t, err)

	// The failed participant contributed no message to later contexts.
	reqs := mock.Requests()
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[1].History, 1)
	assert.Len(t, reqs[2].History, 2)
	assert.Len(t, result.Messages, 2)
}

func TestExecutor_CancellationKeepsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	mock := responder.NewMockResponder(func(req core.ResponseRequest) (core.ResponseResult, error) {
		// Cancel mid-turn after the first participant responded.
		cancel()
		msg := core.NewMessage(req.Participant.ID, "partial")
		return core.ResponseResult{BotID: req.Participant.ID, Success: true, Message: &msg}, nil
	})
	e := New(mock)
	convCtx := testConvCtx()

	result, err := e.ExecuteTurn(ctx, convCtx.Participants, convCtx, core.StrategyReasoning, "turn-1", core.ModeSequential)
	require.NoError(t, err)

	assert.Len(t, result.Results, 1)
	assert.Contains(t, result.Results, "bot-1")
	assert.Len(t, result.Messages, 1)
}

func TestExecutor_UnknownModeFails(t *testing.T) {
	e := New(responder.NewMockResponder(nil))
	convCtx := testConvCtx()

	_, err := e.ExecuteTurn(context.Background(), convCtx.Participants, convCtx, core.StrategyConversational, "turn-1", core.ExecutionMode("bogus"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown execution mode")
}

func TestExecutor_AggregatesResourcesAndConfidence(t *testing.T) {
	mock := responder.NewMockResponder(func(req core.ResponseRequest) (core.ResponseResult, error) {
		msg := core.NewMessage(req.Participant.ID, "ok")
		res := core.ResponseResult{
			BotID:         req.Participant.ID,
			Success:       true,
			Message:       &msg,
			ResourcesUsed: core.ResourceUsage{Credits: "10", Steps: 1, ToolCalls: 1},
		}
		switch req.Participant.ID {
		case "bot-1":
			res.Confidence = floatPtr(0.9)
		case "bot-2":
			res.Confidence = floatPtr(0.5)
		}
		return res, nil
	})
	e := New(mock)
	convCtx := testConvCtx()

	result, err := e.ExecuteTurn(context.Background(), convCtx.Participants, convCtx, core.StrategyConversational, "turn-1", core.ModeParallel)
	require.NoError(t, err)

	assert.Equal(t, "30", result.ResourcesUsed.Credits)
	assert.Equal(t, 3, result.ResourcesUsed.Steps)
	assert.Equal(t, 3, result.ResourcesUsed.ToolCalls)
	// Mean of the reported values only; the silent participant is excluded.
	assert.InDelta(t, 0.7, result.Metrics.AverageConfidence, 1e-9)
	assert.Equal(t, 3, result.Metrics.ParticipantCount)
	assert.Equal(t, 3, result.Metrics.MessageCount)
	assert.GreaterOrEqual(t, result.ResourcesUsed.Duration, int64(0))
}

func TestExecutor_ParallelAggregationIgnoresCompletionOrder(t *testing.T) {
	credits := map[string]string{"bot-1": "1", "bot-2": "10", "bot-3": "100"}

	// run executes a parallel turn while forcing responders to complete in the
	// given order: every responder blocks until released, and the sequencer
	// releases them one at a time.
	run := func(t *testing.T, order []string) core.TurnExecutionResult {
		t.Helper()

		started := make(map[string]chan struct{}, len(order))
		release := make(map[string]chan struct{}, len(order))
		finished := make(map[string]chan struct{}, len(order))
		for _, id := range order {
			started[id] = make(chan struct{})
			release[id] = make(chan struct{})
			finished[id] = make(chan struct{})
		}

		mock := responder.NewMockResponder(func(req core.ResponseRequest) (core.ResponseResult, error) {
			id := req.Participant.ID
			close(started[id])
			<-release[id]
			defer close(finished[id])

			msg := core.NewMessage(id, "reply from "+id)
			return core.ResponseResult{
				BotID:         id,
				Success:       true,
				Message:       &msg,
				ResourcesUsed: core.ResourceUsage{Credits: credits[id], Steps: 1},
			}, nil
		})

		go func() {
			for _, id := range order {
				<-started[id]
			}
			for _, id := range order {
				close(release[id])
				<-finished[id]
			}
		}()

		e := New(mock)
		convCtx := testConvCtx()
		result, err := e.ExecuteTurn(context.Background(), convCtx.Participants, convCtx, core.StrategyConversational, "turn-1", core.ModeParallel)
		require.NoError(t, err)
		return result
	}

	first := run(t, []string{"bot-3", "bot-1", "bot-2"})
	second := run(t, []string{"bot-2", "bot-3", "bot-1"})

	assert.Equal(t, "111", first.ResourcesUsed.Credits)
	assert.Equal(t, first.ResourcesUsed.Credits, second.ResourcesUsed.Credits)
	assert.Equal(t, first.ResourcesUsed.Steps, second.ResourcesUsed.Steps)

	contents := func(result core.TurnExecutionResult) []string {
		out := make([]string, 0, len(result.Messages))
		for _, msg := range result.Messages {
			out = append(out, msg.BotID+": "+msg.Content)
		}
		return out
	}
	// Messages come out in participant list order both times, so the two runs
	// are identical even though the responders completed in different orders.
	assert.Equal(t, contents(first), contents(second))
	assert.Equal(t, []string{
		"bot-1: reply from bot-1",
		"bot-2: reply from bot-2",
		"bot-3: reply from bot-3",
	}, contents(first))
}

func TestExecutor_DefaultConfidenceWhenUnreported(t *testing.T) {
	e := New(responder.NewMockResponder(nil))
	convCtx := testConvCtx()

	result, err := e.ExecuteTurn(context.Background(), convCtx.Participants, convCtx, core.StrategyConversational, "turn-1", core.ModeParallel)
	require.NoError(t, err)
	assert.Equal(t, 0.5, result.Metrics.AverageConfidence)
}

func TestExecutor_PublishesLifecycleEvents(t *testing.T) {
	bus := eventbus.New()
	bus.Start()

	var (
		mu    sync.Mutex
		types []string
	)
	done := make(chan struct{}, 2)
	bus.Subscribe([]string{"execution/#"}, func(_ context.Context, ev eventbus.Event) error {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, eventbus.SubscribeOptions{})

	e := New(responder.NewMockResponder(nil), func(o *Options) {
		o.Bus = bus
	})
	convCtx := testConvCtx()

	_, err := e.ExecuteTurn(context.Background(), convCtx.Participants, convCtx, core.StrategyConversational, "turn-1", core.ModeParallel)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for lifecycle events")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, types, "execution/start")
	assert.Contains(t, types, "execution/complete")
}
