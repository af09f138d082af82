// Package engine orchestrates one full conversation step: context
// validation, responder selection, turn execution, participant state
// recomputation and next-action determination.
//
// The orchestration boundary is exception-opaque: Orchestrate always returns
// a structured ConversationResult with an explicit Success flag, never a Go
// error and never a propagated panic. Callers (chat UIs, schedulers) always
// get a result object to act on.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/swarmmesh/core"
	"github.com/hupe1980/swarmmesh/logging"
	"github.com/hupe1980/swarmmesh/selector"
	"github.com/hupe1980/swarmmesh/turn"
)

// NextAction tells the caller what to do after an orchestration step.
type NextAction string

const (
	// ActionContinue signals that another turn should follow immediately.
	ActionContinue NextAction = "continue"
	// ActionWaitForUser signals that the conversation awaits user input.
	ActionWaitForUser NextAction = "wait_for_user"
	// ActionComplete signals that the conversation finished.
	ActionComplete NextAction = "complete"
	// ActionError signals that orchestration failed.
	ActionError NextAction = "error"
)

// Error codes carried by OrchestrationError.
const (
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeOrchestrationFailed = "ORCHESTRATION_FAILED"
)

// OrchestrationError is the structured failure attached to an unsuccessful
// ConversationResult.
type OrchestrationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Tier    string `json:"tier"`
}

// Error implements the error interface.
func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Tier, e.Message)
}

// Params bundles the inputs of one orchestration step.
type Params struct {
	Context  core.ConversationContext
	Trigger  core.Trigger
	Strategy core.ExecutionStrategy
}

// ConversationResult is the always-returned outcome of an orchestration step.
type ConversationResult struct {
	Success              bool                      `json:"success"`
	Messages             []core.Message            `json:"messages"`
	UpdatedParticipants  []core.ParticipantState   `json:"updated_participants"`
	NextAction           NextAction                `json:"next_action"`
	Reason               string                    `json:"reason,omitempty"`
	ConversationComplete bool                      `json:"conversation_complete"`
	SelectionStrategy    string                    `json:"selection_strategy,omitempty"`
	Turn                 *core.TurnExecutionResult `json:"turn,omitempty"`
	Error                *OrchestrationError       `json:"error,omitempty"`
}

// Options holds dependency overrides passed to New().
type Options struct {
	Logger logging.Logger
}

// Orchestrator wires the selector and turn executor into one conversation
// step. It holds no per-conversation state and is safe for concurrent use.
type Orchestrator struct {
	selector selector.Selector
	executor *turn.Executor
	logger   logging.Logger
}

// New constructs an Orchestrator with optional overrides.
func New(sel selector.Selector, executor *turn.Executor, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{selector: sel, executor: executor, logger: opts.Logger}
}

// Orchestrate runs one conversation step. It never returns an error or
// panics; failures are converted to a structured result at this boundary.
func (o *Orchestrator) Orchestrate(ctx context.Context, params Params) (result ConversationResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestration panicked swarm_id=%s: %v", params.Context.SwarmID, r)
			result = errorResult(CodeOrchestrationFailed, fmt.Sprintf("orchestration failed: %v", r), "orchestration")
		}
	}()

	o.logger.Info("orchestration started swarm_id=%s trigger=%s strategy=%s", params.Context.SwarmID, params.Trigger.Type, params.Strategy)

	if err := validateContext(params.Context); err != nil {
		o.logger.Warn("context validation failed swarm_id=%s: %v", params.Context.SwarmID, err)
		return errorResult(CodeValidationFailed, err.Error(), "validation")
	}

	sel := o.selector.Select(params.Trigger, params.Context)
	o.logger.Info("responders selected swarm_id=%s strategy=%s count=%d", params.Context.SwarmID, sel.Strategy, len(sel.Responders))

	strategy := params.Strategy
	if strategy == "" {
		strategy = params.Context.Strategy
	}
	mode := core.ModeForStrategy(strategy, len(sel.Responders))

	turnID := core.NewID()
	turnResult, err := o.executor.ExecuteTurn(ctx, sel.Responders, params.Context, strategy, turnID, mode)
	if err != nil {
		o.logger.Error("turn execution failed swarm_id=%s turn_id=%s: %v", params.Context.SwarmID, turnID, err)
		return errorResult(CodeOrchestrationFailed, err.Error(), "turn")
	}

	updated := recomputeParticipants(params.Context.Participants, turnResult.Results)
	action, reason := nextAction(params.Trigger, turnResult.Results)

	o.logger.Info("orchestration completed swarm_id=%s turn_id=%s action=%s messages=%d", params.Context.SwarmID, turnID, action, len(turnResult.Messages))

	return ConversationResult{
		Success:              true,
		Messages:             turnResult.Messages,
		UpdatedParticipants:  updated,
		NextAction:           action,
		Reason:               reason,
		ConversationComplete: action == ActionComplete || action == ActionError,
		SelectionStrategy:    sel.Strategy,
		Turn:                 &turnResult,
	}
}

// validateContext fails fast on missing required fields. The list-typed
// checks reject nil slices, not just missing values.
func validateContext(convCtx core.ConversationContext) error {
	if convCtx.SwarmID == "" {
		return fmt.Errorf("conversation context missing swarm id")
	}
	if convCtx.UserData == nil {
		return fmt.Errorf("conversation context missing user/session data")
	}
	if convCtx.Participants == nil {
		return fmt.Errorf("conversation context participants must be a list")
	}
	if convCtx.ConversationHistory == nil {
		return fmt.Errorf("conversation context conversation history must be a list")
	}
	if convCtx.AvailableTools == nil {
		return fmt.Errorf("conversation context available tools must be a list")
	}
	return nil
}

// recomputeParticipants produces a state entry for every original
// participant. Responders carry their outcome; non-responders get the default
// "not processed" state.
func recomputeParticipants(participants []core.BotParticipant, results map[string]core.ResponseResult) []core.ParticipantState {
	now := time.Now().UTC()
	states := make([]core.ParticipantState, 0, len(participants))
	for _, p := range participants {
		res, responded := results[p.ID]
		if !responded {
			states = append(states, core.ParticipantState{BotID: p.ID})
			continue
		}
		states = append(states, core.ParticipantState{
			BotID:         p.ID,
			HasResponded:  res.Success,
			Error:         res.Error,
			LastActive:    now,
			Message:       res.Message,
			ResourcesUsed: res.ResourcesUsed,
		})
	}
	return states
}

// nextAction applies the fixed precedence: tool calls, then explicit
// continuation signals, then the trigger-type rule.
func nextAction(trigger core.Trigger, results map[string]core.ResponseResult) (NextAction, string) {
	for _, res := range results {
		if len(res.ToolCalls) > 0 || (res.Message != nil && len(res.Message.ToolCalls) > 0) {
			return ActionContinue, "Tool calls require follow-up responses"
		}
	}
	for _, res := range results {
		if res.ContinueConversation {
			return ActionContinue, "Participant requested continuation"
		}
	}
	if trigger.Type == core.TriggerUserMessage {
		return ActionWaitForUser, "Awaiting user input"
	}
	return ActionComplete, "No further responses required"
}

func errorResult(code, message, tier string) ConversationResult {
	return ConversationResult{
		Success:              false,
		Messages:             []core.Message{},
		UpdatedParticipants:  []core.ParticipantState{},
		NextAction:           ActionError,
		ConversationComplete: true,
		Error:                &OrchestrationError{Code: code, Message: message, Tier: tier},
	}
}
