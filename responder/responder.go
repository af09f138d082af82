// Package responder provides reference implementations of the
// core.ResponseService collaborator.
//
// The orchestration core only depends on the ResponseService interface; the
// adapters in the subpackages (openai, anthropic) wire real LLM backends for
// surrounding systems that want a working default, and MockResponder serves
// tests and examples.
package responder

import (
	"context"
	"sync"

	"github.com/hupe1980/swarmmesh/core"
)

// MockResponder is a lightweight in-memory ResponseService useful for tests
// and examples. Responses are produced by a caller-supplied function; when
// none is set, every participant echoes a canned reply. Safe for concurrent
// use.
type MockResponder struct {
	mu        sync.Mutex
	generate  func(req core.ResponseRequest) (core.ResponseResult, error)
	callCount int
	requests  []core.ResponseRequest
}

// NewMockResponder constructs a MockResponder with an optional generation
// function.
func NewMockResponder(generate func(req core.ResponseRequest) (core.ResponseResult, error)) *MockResponder {
	return &MockResponder{generate: generate}
}

// GenerateResponse implements core.ResponseService.
func (m *MockResponder) GenerateResponse(_ context.Context, req core.ResponseRequest) (core.ResponseResult, error) {
	m.mu.Lock()
	m.callCount++
	m.requests = append(m.requests, req)
	generate := m.generate
	m.mu.Unlock()

	if generate != nil {
		return generate(req)
	}

	msg := core.NewMessage(req.Participant.ID, "mock response from "+req.Participant.Name)
	return core.ResponseResult{
		BotID:         req.Participant.ID,
		Success:       true,
		Message:       &msg,
		ResourcesUsed: core.ResourceUsage{Credits: "1", Steps: 1},
	}, nil
}

// CallCount returns how many generation requests were received.
func (m *MockResponder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Requests returns a copy of all received requests in arrival order.
func (m *MockResponder) Requests() []core.ResponseRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	requests := make([]core.ResponseRequest, len(m.requests))
	copy(requests, m.requests)
	return requests
}
