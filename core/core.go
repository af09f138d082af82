package core

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a new unique identifier for events, turns and swarms.
//
// This function creates a UUID-based unique identifier that can be used
// for tracking and correlation throughout the runtime.
func NewID() string { return uuid.NewString() }

// ToolCall describes a tool/function invocation request surfaced by a
// participant's response. Unified across providers so downstream logic does
// not need per-provider branching.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // Serialized argument payload (JSON)
}

// Message is one entry of a conversation history. After emission it should be
// treated as immutable.
type Message struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"` // user, assistant, tool, system
	BotID     string         `json:"bot_id,omitempty"`
	Content   string         `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates an assistant-style message authored by the given bot.
func NewMessage(botID, content string) Message {
	return Message{
		ID:        NewID(),
		Role:      "assistant",
		BotID:     botID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessage creates a user-authored text message.
func NewUserMessage(content string) Message {
	return Message{
		ID:        NewID(),
		Role:      "user",
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// BotParticipant describes one agent taking part in a conversation. It is a
// read-only input to selection and turn execution; runtime state changes are
// reported back via ParticipantState.
type BotParticipant struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Role          string         `json:"role"`
	TopicPatterns []string       `json:"topic_patterns,omitempty"` // Blackboard-style subscriptions
	Capabilities  []string       `json:"capabilities,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
}

// ParticipantState captures the per-participant outcome of one orchestration
// step. The caller is responsible for persisting it.
type ParticipantState struct {
	BotID         string        `json:"bot_id"`
	IsProcessing  bool          `json:"is_processing"`
	IsWaiting     bool          `json:"is_waiting"`
	HasResponded  bool          `json:"has_responded"`
	Error         string        `json:"error,omitempty"`
	LastActive    time.Time     `json:"last_active"`
	Message       *Message      `json:"message,omitempty"`
	ResourcesUsed ResourceUsage `json:"resources_used"`
}

// TriggerType categorizes what initiated an orchestration step.
type TriggerType string

const (
	// TriggerUserMessage is a message authored by a human user.
	TriggerUserMessage TriggerType = "user_message"
	// TriggerEvent is a bus event dispatched into the conversation pipeline.
	TriggerEvent TriggerType = "event"
	// TriggerTimer is a scheduled tick (e.g. a swarm OODA cycle).
	TriggerTimer TriggerType = "timer"
)

// Trigger describes the external stimulus entering the conversation engine.
type Trigger struct {
	Type      TriggerType    `json:"type"`
	EventType string         `json:"event_type,omitempty"` // Hierarchical bus event type, if Type == TriggerEvent
	Mentions  []string       `json:"mentions,omitempty"`   // Bot IDs explicitly addressed
	Message   *Message       `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ExecutionStrategy tags how responses for a turn should be generated.
type ExecutionStrategy string

const (
	// StrategyConversational is the default free-form strategy.
	StrategyConversational ExecutionStrategy = "conversational"
	// StrategyReasoning forces sequential execution so each participant can
	// build on earlier output within the same turn.
	StrategyReasoning ExecutionStrategy = "reasoning"
	// StrategyDeterministic forces sequential execution in participant order.
	StrategyDeterministic ExecutionStrategy = "deterministic"
)

// ExecutionMode selects how a turn fans out over its participants.
type ExecutionMode string

const (
	// ModeParallel issues all response generation requests concurrently.
	ModeParallel ExecutionMode = "parallel"
	// ModeSequential issues requests one at a time in participant order.
	ModeSequential ExecutionMode = "sequential"
)

// ModeForStrategy computes the execution mode for a turn. Reasoning and
// deterministic strategies are inherently ordered, and a single participant
// gains nothing from fan-out.
func ModeForStrategy(strategy ExecutionStrategy, participantCount int) ExecutionMode {
	if strategy == StrategyReasoning || strategy == StrategyDeterministic || participantCount == 1 {
		return ModeSequential
	}
	return ModeParallel
}

// ConversationContext is the shared state one orchestration step operates on.
// It is supplied per call; this runtime does not persist it.
type ConversationContext struct {
	SwarmID             string            `json:"swarm_id"`
	UserData            map[string]any    `json:"user_data"` // User/session data from the surrounding system
	Participants        []BotParticipant  `json:"participants"`
	ConversationHistory []Message         `json:"conversation_history"`
	AvailableTools      []string          `json:"available_tools"`
	Strategy            ExecutionStrategy `json:"strategy,omitempty"`

	// Selection hints.
	ActiveBotID string              `json:"active_bot_id,omitempty"` // Current baton holder
	LeaderID    string              `json:"leader_id,omitempty"`     // Fallback responder
	EventRoles  map[string][]string `json:"event_roles,omitempty"`   // Event type pattern -> roles that handle it
}
