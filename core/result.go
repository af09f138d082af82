package core

import (
	"fmt"
	"math/big"
	"time"
)

// ResourceUsage aggregates the resources consumed by response generation.
// Credits is a base-10 arbitrary-precision integer carried as a string so
// accumulation never loses precision at scale; all other counters sum
// normally.
type ResourceUsage struct {
	Credits   string `json:"credits,omitempty"` // Decimal integer; empty means zero
	Duration  int64  `json:"duration_ms,omitempty"`
	ToolCalls int    `json:"tool_calls,omitempty"`
	Memory    int64  `json:"memory,omitempty"`
	Steps     int    `json:"steps,omitempty"`
}

// AddCredits sums two decimal credit strings using big integer arithmetic.
// Empty strings are treated as zero.
func AddCredits(a, b string) (string, error) {
	if a == "" {
		a = "0"
	}
	if b == "" {
		b = "0"
	}
	x, ok := new(big.Int).SetString(a, 10)
	if !ok {
		return "", fmt.Errorf("invalid credit amount %q", a)
	}
	y, ok := new(big.Int).SetString(b, 10)
	if !ok {
		return "", fmt.Errorf("invalid credit amount %q", b)
	}
	return x.Add(x, y).String(), nil
}

// Accumulate merges other into u. Credits are summed with arbitrary
// precision; an unparseable credit amount leaves u's credits untouched and
// returns an error while the plain counters are still accumulated.
func (u *ResourceUsage) Accumulate(other ResourceUsage) error {
	u.Duration += other.Duration
	u.ToolCalls += other.ToolCalls
	u.Memory += other.Memory
	u.Steps += other.Steps
	sum, err := AddCredits(u.Credits, other.Credits)
	if err != nil {
		return err
	}
	u.Credits = sum
	return nil
}

// ResponseResult is the outcome of one participant's response generation
// within a turn.
type ResponseResult struct {
	BotID                string        `json:"bot_id"`
	Success              bool          `json:"success"`
	Message              *Message      `json:"message,omitempty"`
	Error                string        `json:"error,omitempty"`
	ResourcesUsed        ResourceUsage `json:"resources_used"`
	Confidence           *float64      `json:"confidence,omitempty"` // nil means unreported
	ToolCalls            []ToolCall    `json:"tool_calls,omitempty"`
	ContinueConversation bool          `json:"continue_conversation,omitempty"`
}

// TurnMetrics summarizes one executed turn.
type TurnMetrics struct {
	Duration          time.Duration `json:"duration"`
	ParticipantCount  int           `json:"participant_count"`
	MessageCount      int           `json:"message_count"`
	AverageConfidence float64       `json:"average_confidence"`
}

// TurnExecutionResult aggregates everything one turn produced. Results is
// keyed by bot ID and contains an entry for every selected participant,
// including those whose generation failed.
type TurnExecutionResult struct {
	TurnID        string                    `json:"turn_id"`
	Messages      []Message                 `json:"messages"`
	Results       map[string]ResponseResult `json:"results"`
	ResourcesUsed ResourceUsage             `json:"resources_used"`
	Metrics       TurnMetrics               `json:"metrics"`
}
