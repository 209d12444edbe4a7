package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/resumeforge/resumeforge/pkg/config"
	"github.com/resumeforge/resumeforge/pkg/llm"
	"github.com/resumeforge/resumeforge/pkg/metrics"
	"github.com/resumeforge/resumeforge/pkg/models"
	"github.com/resumeforge/resumeforge/pkg/stream"
)

// LoopConfig configures one agent loop run.
type LoopConfig struct {
	AgentName    string
	Model        string
	SystemPrompt string
	Registry     *Registry

	// Lifecycle hooks. OnShutdown always runs after the loop, even on
	// failure; its errors are logged and never mask the primary error.
	OnInit     func(ctx context.Context, ec *ExecutionContext) error
	OnShutdown func(ctx context.Context, ec *ExecutionContext) error
}

// LoopResult is the outcome of one loop run.
type LoopResult struct {
	FinalText string
	Messages  []llm.Message
	Usage     models.TokenLedger
	Rounds    int
}

// Loop drives the model/tool rounds for one agent invocation.
type Loop struct {
	cfg    *config.AgentConfig
	client llm.Client
}

// NewLoop creates a loop runner over the model client.
func NewLoop(cfg *config.AgentConfig, client llm.Client) *Loop {
	return &Loop{cfg: cfg, client: client}
}

// Run executes rounds until the model answers without tool calls, the round
// cap forces a conclusion, or a timeout fires. Tool failures are fed back to
// the model as tool-result errors, never raised.
func (l *Loop) Run(ctx context.Context, lc *LoopConfig, ec *ExecutionContext, initial string, prior []llm.Message) (result *LoopResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.OverallTimeout)
	defer cancel()

	if lc.OnInit != nil {
		if ierr := lc.OnInit(ctx, ec); ierr != nil {
			return nil, fmt.Errorf("agent %s init: %w", lc.AgentName, ierr)
		}
	}
	defer func() {
		if lc.OnShutdown == nil {
			return
		}
		// Shutdown gets its own context: it must run even after a timeout.
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		if serr := lc.OnShutdown(sctx, ec); serr != nil {
			ec.Logger.Warn("agent shutdown hook failed", "agent", lc.AgentName, "error", serr)
		}
	}()

	result = &LoopResult{}
	messages := make([]llm.Message, 0, len(prior)+2)
	messages = append(messages, prior...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: initial})

	for round := 1; round <= l.cfg.MaxRounds; round++ {
		result.Rounds = round

		tools := lc.Registry.Definitions()
		if round == l.cfg.MaxRounds {
			// Last round: withhold tools so the model must conclude.
			tools = nil
		}

		text, toolCalls, usage, cerr := l.callWithRetry(ctx, &llm.GenerateInput{
			SessionID: ec.SessionID,
			AgentName: lc.AgentName,
			Model:     lc.Model,
			System:    lc.SystemPrompt,
			Messages:  messages,
			Tools:     tools,
		})
		if cerr != nil {
			result.Messages = messages
			return result, fmt.Errorf("agent %s round %d: %w", lc.AgentName, round, cerr)
		}

		result.Usage.Add(usage)
		metrics.TokensUsed.WithLabelValues("input").Add(float64(usage.InputTokens))
		metrics.TokensUsed.WithLabelValues("output").Add(float64(usage.OutputTokens))

		if len(toolCalls) == 0 {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: text})
			result.FinalText = text
			result.Messages = messages
			if perr := ec.PutScratch("final_text", text); perr != nil {
				ec.Logger.Warn("failed to store final text", "agent", lc.AgentName, "error", perr)
			}
			ec.Emit(stream.EventTextComplete, map[string]any{
				"agent":   lc.AgentName,
				"content": text,
			})
			return result, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
		})

		results := l.runTools(ctx, lc, ec, toolCalls)
		messages = append(messages, results...)

		if len(messages) > l.cfg.CompactionThreshold {
			messages = CompactHistory(messages, l.cfg.CompactionKeepTail)
		}
	}

	// Unreachable in practice: the final round carries no tools, so the
	// model cannot produce tool calls. Guard anyway.
	result.Messages = messages
	return result, fmt.Errorf("agent %s exceeded %d rounds without concluding", lc.AgentName, l.cfg.MaxRounds)
}

// callWithRetry issues the model call with bounded retries on retryable
// provider errors, exponential backoff with jitter between attempts.
func (l *Loop) callWithRetry(ctx context.Context, input *llm.GenerateInput) (string, []llm.ToolCall, models.TokenLedger, error) {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxRetries; attempt++ {
		text, toolCalls, usage, retryable, err := l.callOnce(ctx, input)
		if err == nil {
			return text, toolCalls, usage, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			return "", nil, models.TokenLedger{}, err
		}
		if attempt < l.cfg.MaxRetries {
			select {
			case <-time.After(l.backoff(attempt)):
			case <-ctx.Done():
				return "", nil, models.TokenLedger{}, ctx.Err()
			}
		}
	}
	return "", nil, models.TokenLedger{}, lastErr
}

func (l *Loop) backoff(attempt int) time.Duration {
	d := l.cfg.RetryBaseDelay << (attempt - 1)
	if d > l.cfg.RetryMaxDelay {
		d = l.cfg.RetryMaxDelay
	}
	// Jitter in [d/2, d) so synchronized retries fan out.
	return d/2 + time.Duration(rand.Int63n(int64(d/2)))
}

// callOnce runs a single model call under the per-round timeout and drains
// the chunk stream into text, tool calls, and usage.
func (l *Loop) callOnce(ctx context.Context, input *llm.GenerateInput) (string, []llm.ToolCall, models.TokenLedger, bool, error) {
	roundCtx, cancel := context.WithTimeout(ctx, l.cfg.RoundTimeout)
	defer cancel()

	chunks, err := l.client.Generate(roundCtx, input)
	if err != nil {
		return "", nil, models.TokenLedger{}, false, err
	}

	var (
		text      strings.Builder
		toolCalls []llm.ToolCall
		usage     models.TokenLedger
	)
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			text.WriteString(c.Content)
		case *llm.ToolCallChunk:
			toolCalls = append(toolCalls, llm.ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})
		case *llm.UsageChunk:
			usage.InputTokens += c.InputTokens
			usage.OutputTokens += c.OutputTokens
		case *llm.ErrorChunk:
			return "", nil, models.TokenLedger{}, c.Retryable, errors.New(c.Message)
		}
	}
	return text.String(), toolCalls, usage, false, nil
}

// runTools executes a round's tool calls: sequential tools in call order
// first, then all parallel-safe tools concurrently. Results are reassembled
// in the original call order regardless of completion order.
func (l *Loop) runTools(ctx context.Context, lc *LoopConfig, ec *ExecutionContext, calls []llm.ToolCall) []llm.Message {
	results := make([]llm.Message, len(calls))

	var parallel []int
	for i, call := range calls {
		desc, ok := lc.Registry.Lookup(call.Name)
		if ok && desc.ParallelSafe {
			parallel = append(parallel, i)
			continue
		}
		results[i] = l.runTool(ctx, lc, ec, call)
	}

	var wg sync.WaitGroup
	for _, i := range parallel {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = l.runTool(ctx, lc, ec, calls[i])
		}(i)
	}
	wg.Wait()

	return results
}

func (l *Loop) runTool(ctx context.Context, lc *LoopConfig, ec *ExecutionContext, call llm.ToolCall) llm.Message {
	desc, known := lc.Registry.Lookup(call.Name)

	toolCtx := ctx
	if !known || !desc.Interactive() {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, l.cfg.RoundTimeout)
		defer cancel()
	}

	ec.Emit(stream.EventToolStart, map[string]any{
		"agent": lc.AgentName,
		"tool":  call.Name,
	})
	started := time.Now()

	output, err := lc.Registry.Execute(toolCtx, call.Name, []byte(call.Arguments), ec)

	msg := llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
	if err != nil {
		ec.Logger.Warn("tool execution failed", "agent", lc.AgentName, "tool", call.Name, "error", err)
		msg.Content = fmt.Sprintf("tool error: %s", err)
		msg.IsError = true
	} else {
		msg.Content = string(output)
	}

	ec.Emit(stream.EventToolComplete, map[string]any{
		"agent":       lc.AgentName,
		"tool":        call.Name,
		"duration_ms": time.Since(started).Milliseconds(),
		"error":       msg.IsError,
	})
	return msg
}
