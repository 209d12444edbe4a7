package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// messagesAPI is the subset of the Anthropic SDK used by the adapter.
// Satisfied by *sdk.MessageService; tests substitute a fake.
type messagesAPI interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient adapts the Anthropic Messages API to the Client interface.
// Each Generate issues one Messages.New call and replays the response as
// chunks on the returned channel.
type AnthropicClient struct {
	msg       messagesAPI
	maxTokens int
}

// AnthropicConfig configures the adapter.
type AnthropicConfig struct {
	APIKey    string
	MaxTokens int // default completion cap when GenerateInput.MaxTokens is zero
}

// NewAnthropicClient builds the adapter from an API key.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	ac := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return &AnthropicClient{msg: &ac.Messages, maxTokens: cfg.MaxTokens}, nil
}

// Generate issues the model call and streams the result back as chunks.
// The producer goroutine is cleaned up when ctx is cancelled: the SDK call
// inherits ctx, and the channel is buffered so the final sends never block.
func (c *AnthropicClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	params, err := buildParams(input, c.maxTokens)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)

		msg, err := c.msg.New(ctx, *params)
		if err != nil {
			out <- classifyError(ctx, err)
			return
		}

		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					out <- &TextChunk{Content: block.Text}
				}
			case "tool_use":
				args, merr := json.Marshal(block.Input)
				if merr != nil {
					args = []byte("{}")
				}
				out <- &ToolCallChunk{CallID: block.ID, Name: block.Name, Arguments: string(args)}
			}
		}
		out <- &UsageChunk{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		}
	}()
	return out, nil
}

// Close releases nothing today; the SDK client holds no persistent transport
// state beyond the default http.Client.
func (c *AnthropicClient) Close() error { return nil }

func buildParams(input *GenerateInput, defaultMaxTokens int) (*sdk.MessageNewParams, error) {
	if input.Model == "" {
		return nil, errors.New("model id is required")
	}
	if len(input.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	maxTokens := input.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	msgs := make([]sdk.MessageParam, 0, len(input.Messages))
	for i := 0; i < len(input.Messages); i++ {
		m := input.Messages[i]
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var in map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &in); err != nil || in == nil {
					in = map[string]any{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, in, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			msgs = append(msgs, sdk.NewAssistantMessage(blocks...))
		case RoleTool:
			// A run of consecutive tool results becomes one user message so
			// every result for the preceding tool-use batch travels together.
			blocks := []sdk.ContentBlockParamUnion{
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError),
			}
			for i+1 < len(input.Messages) && input.Messages[i+1].Role == RoleTool {
				i++
				next := input.Messages[i]
				blocks = append(blocks, sdk.NewToolResultBlock(next.ToolCallID, next.Content, next.IsError))
			}
			msgs = append(msgs, sdk.NewUserMessage(blocks...))
		case RoleSystem:
			// System turns ride in params.System; skip here.
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	if len(msgs) == 0 {
		return nil, errors.New("at least one user/assistant message is required")
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(input.Model),
	}
	if input.System != "" {
		params.System = []sdk.TextBlockParam{{Text: input.System}}
	}
	if len(input.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(input.Tools))
		for _, def := range input.Tools {
			schema, err := toolInputSchema(def.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %q schema: %w", def.Name, err)
			}
			u := sdk.ToolUnionParamOfTool(schema, def.Name)
			if u.OfTool != nil && def.Description != "" {
				u.OfTool.Description = sdk.String(def.Description)
			}
			tools = append(tools, u)
		}
		params.Tools = tools
	}
	return &params, nil
}

func toolInputSchema(raw string) (sdk.ToolInputSchemaParam, error) {
	if raw == "" {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// classifyError converts an SDK error into an ErrorChunk, marking the
// rate-limit / overload / timeout classes as retryable.
func classifyError(ctx context.Context, err error) *ErrorChunk {
	if ctx.Err() != nil {
		return &ErrorChunk{Message: err.Error(), Code: ErrCodeCancelled}
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return &ErrorChunk{Message: err.Error(), Code: ErrCodeRateLimited, Retryable: true}
		case http.StatusServiceUnavailable, 529:
			return &ErrorChunk{Message: err.Error(), Code: ErrCodeProvider, Retryable: true}
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return &ErrorChunk{Message: err.Error(), Code: ErrCodeTimeout, Retryable: true}
		}
	}
	return &ErrorChunk{Message: err.Error(), Code: ErrCodeProvider}
}
