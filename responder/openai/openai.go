// Package openai implements core.ResponseService using the OpenAI Chat
// Completions API. It adapts swarmmesh conversation histories into the SDK's
// message format and maps token usage onto resource credits.
package openai

import (
	"context"
	"fmt"
	"strconv"

	"github.com/openai/openai-go"

	"github.com/hupe1980/swarmmesh/core"
)

// Options configure the OpenAI responder. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal; extend via functional
// options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Responder wraps the OpenAI Chat Completions API behind core.ResponseService.
type Responder struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI responder using the official client.
func New(optFns ...func(o *Options)) *Responder {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI responder from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Responder {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Responder{client: client, opts: opts}
}

// GenerateResponse implements core.ResponseService.
func (r *Responder) GenerateResponse(ctx context.Context, req core.ResponseRequest) (core.ResponseResult, error) {
	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               r.opts.Model,
		Temperature:         openai.Float(r.opts.Temperature),
		MaxCompletionTokens: openai.Int(r.opts.MaxCompletionTokens),
	})
	if err != nil {
		return core.ResponseResult{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return core.ResponseResult{}, fmt.Errorf("openai returned no choices")
	}

	choice := resp.Choices[0]
	msg := core.NewMessage(req.Participant.ID, choice.Message.Content)
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return core.ResponseResult{
		BotID:     req.Participant.ID,
		Success:   true,
		Message:   &msg,
		ToolCalls: msg.ToolCalls,
		ResourcesUsed: core.ResourceUsage{
			Credits: strconv.FormatInt(resp.Usage.TotalTokens, 10),
			Steps:   1,
		},
	}, nil
}

// buildMessages converts the request history into OpenAI chat messages,
// prefixed by the participant's system prompt when configured.
func buildMessages(req core.ResponseRequest) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if prompt := systemPrompt(req.Participant); prompt != "" {
		messages = append(messages, openai.SystemMessage(prompt))
	}
	for _, m := range req.History {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}

func systemPrompt(p core.BotParticipant) string {
	if p.Config != nil {
		if prompt, ok := p.Config["systemPrompt"].(string); ok && prompt != "" {
			return prompt
		}
	}
	if p.Role != "" {
		return fmt.Sprintf("You are %s, acting as %s.", p.Name, p.Role)
	}
	return ""
}
