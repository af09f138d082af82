package core

import "context"

// ResponseRequest carries everything a response backend needs to generate one
// participant's reply for a turn. History is the conversational context this
// participant sees; in sequential turns it already includes messages produced
// earlier in the same turn.
type ResponseRequest struct {
	SwarmID        string
	TurnID         string
	Participant    BotParticipant
	History        []Message
	AvailableTools []string
	Strategy       ExecutionStrategy
}

// ResponseService is the external response-generation collaborator (typically
// an LLM backend). Implementations must be safe for concurrent use: parallel
// turns issue one call per participant at the same time. Cancellation is
// signalled through ctx; on cancellation the call should stop consuming
// resources as soon as practical.
type ResponseService interface {
	GenerateResponse(ctx context.Context, req ResponseRequest) (ResponseResult, error)
}
