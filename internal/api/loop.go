package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/crew/internal/agent"
)

// Compile-time verification that PromptExecutor implements agent.PromptExecutor.
var _ agent.PromptExecutor = (*PromptExecutor)(nil)

// DefaultMaxIterations bounds the API calls of one Execute.
const DefaultMaxIterations = 50

// ToolEvent describes one tool call made during an Execute, for observers.
type ToolEvent struct {
	Tool    string
	Action  string
	Input   json.RawMessage
	IsError bool
}

// PromptExecutorConfig contains configuration for the prompt executor.
type PromptExecutorConfig struct {
	Client *Client
	// MaxIterations is the max API calls before giving up (0 = DefaultMaxIterations).
	MaxIterations int
	// OnTool is called after each tool execution. Optional.
	OnTool func(ToolEvent)
}

// PromptExecutor runs a prompt through the Messages API, executing tool calls
// inside the request's working directory until the model ends its turn.
type PromptExecutor struct {
	client        *Client
	maxIterations int
	onTool        func(ToolEvent)
}

// NewPromptExecutor creates a new prompt executor.
func NewPromptExecutor(cfg PromptExecutorConfig) *PromptExecutor {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &PromptExecutor{
		client:        cfg.Client,
		maxIterations: maxIter,
		onTool:        cfg.OnTool,
	}
}

// Execute runs the conversation. Without a working directory no tools are
// offered. On failure the returned response carries the usage accumulated so far.
func (p *PromptExecutor) Execute(ctx context.Context, req agent.PromptRequest) (*agent.PromptResponse, error) {
	resp := &agent.PromptResponse{}
	model := string(p.client.Model())

	var tools []anthropic.ToolUnionParam
	var executor *ToolExecutor
	if req.WorkingDirectory != "" {
		tools = ToolsFor(req.Capability)
		executor = NewToolExecutor(req.WorkingDirectory, req.Capability)
	}

	params := anthropic.MessageNewParams{
		Model:     p.client.Model(),
		MaxTokens: p.client.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Tools: tools,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	var lastText string
	for iteration := 1; iteration <= p.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return resp, err
		}

		msg, err := p.client.messages.New(ctx, params)
		if err != nil {
			return resp, fmt.Errorf("API call failed: %w", err)
		}

		usage := UsageFor(model, msg.Usage.InputTokens, msg.Usage.OutputTokens)
		resp.Usage = resp.Usage.Add(usage)
		p.client.Tracker().Add(usage)

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion
		var text strings.Builder

		for _, block := range msg.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				text.WriteString(variant.Text)
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				result := p.runTool(ctx, executor, variant.Name, variant.Input)
				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, result.Content, result.IsError))
			}
		}
		if text.Len() > 0 {
			lastText = text.String()
		}

		if msg.StopReason != anthropic.StopReasonToolUse || len(toolResultBlocks) == 0 {
			if msg.StopReason == anthropic.StopReasonMaxTokens {
				log.Printf("[api] response hit max_tokens (%d); output may be truncated", p.client.maxTokens)
			}
			resp.Text = lastText
			return resp, nil
		}

		params.Messages = append(params.Messages,
			anthropic.NewAssistantMessage(assistantBlocks...),
			anthropic.NewUserMessage(toolResultBlocks...),
		)
	}

	resp.Text = lastText
	return resp, fmt.Errorf("max iterations (%d) reached", p.maxIterations)
}

func (p *PromptExecutor) runTool(ctx context.Context, executor *ToolExecutor, name string, input json.RawMessage) ToolResult {
	var result ToolResult
	if executor == nil {
		result = failure("No working directory; tool %s is unavailable", name)
	} else {
		result = executor.Execute(ctx, name, input)
	}
	if p.onTool != nil {
		p.onTool(ToolEvent{
			Tool:    name,
			Action:  FormatToolAction(name, input),
			Input:   input,
			IsError: result.IsError,
		})
	}
	return result
}
