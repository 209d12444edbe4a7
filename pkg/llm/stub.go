package llm

import "context"

// StubClient replays scripted responses for tests. Each Generate call
// consumes the next scripted response; when the script is exhausted, a plain
// "done" text response is returned so loops terminate.
type StubClient struct {
	Script []StubResponse
	Calls  []*GenerateInput
	next   int
}

// StubResponse is one scripted model response.
type StubResponse struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
	Err       *ErrorChunk
}

func (s *StubClient) Generate(_ context.Context, input *GenerateInput) (<-chan Chunk, error) {
	s.Calls = append(s.Calls, input)

	resp := StubResponse{Text: "done"}
	if s.next < len(s.Script) {
		resp = s.Script[s.next]
		s.next++
	}

	out := make(chan Chunk, len(resp.ToolCalls)+3)
	if resp.Err != nil {
		out <- resp.Err
		close(out)
		return out, nil
	}
	if resp.Text != "" {
		out <- &TextChunk{Content: resp.Text}
	}
	for _, tc := range resp.ToolCalls {
		out <- &ToolCallChunk{CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
	}
	out <- &UsageChunk{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	close(out)
	return out, nil
}

func (s *StubClient) Close() error { return nil }
