// Package anthropic implements core.ResponseService using the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/swarmmesh/core"
)

// Options configures the Anthropic responder (model id, temperature, max
// tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Responder wraps the Anthropic Messages API behind core.ResponseService.
type Responder struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic responder using the official client.
func New(optFns ...func(o *Options)) *Responder {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Responder{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic responder from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Responder {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Responder{client: client, opts: opts}
}

// GenerateResponse implements core.ResponseService.
func (r *Responder) GenerateResponse(ctx context.Context, req core.ResponseRequest) (core.ResponseResult, error) {
	params := anthropic.MessageNewParams{
		Model:       r.opts.Model,
		Messages:    buildMessages(req),
		MaxTokens:   r.opts.MaxTokens,
		Temperature: anthropic.Float(r.opts.Temperature),
	}
	if prompt := systemPrompt(req.Participant); prompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: prompt}}
	}

	resp, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return core.ResponseResult{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var (
		text      string
		toolCalls []core.ToolCall
	)
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := ""
			if toolBlock.Input != nil {
				if raw, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(raw)
				}
			}
			toolCalls = append(toolCalls, core.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}

	msg := core.NewMessage(req.Participant.ID, text)
	msg.ToolCalls = toolCalls

	return core.ResponseResult{
		BotID:     req.Participant.ID,
		Success:   true,
		Message:   &msg,
		ToolCalls: toolCalls,
		ResourcesUsed: core.ResourceUsage{
			Credits: strconv.FormatInt(resp.Usage.InputTokens+resp.Usage.OutputTokens, 10),
			Steps:   1,
		},
	}, nil
}

// buildMessages converts the request history into Anthropic messages. System
// entries are handled separately via the System param.
func buildMessages(req core.ResponseRequest) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, m := range req.History {
		if m.Role == "system" || m.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
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
