package service

import (
	"testing"

	"github.com/acasal/hearth2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageStream(stopReason string, blocks ...[]domain.MessageStreamEvent) []domain.MessageStreamEvent {
	events := []domain.MessageStreamEvent{
		domain.MessageStartEvent{
			MessageId: "msg_1234567890ABCDEFGHIJKLMN",
			Model:     "claude-3-5-sonnet-20240620",
			Usage:     domain.TokenUsage{InputTokens: 10},
		},
	}
	for _, b := range blocks {
		events = append(events, b...)
	}
	events = append(events,
		domain.MessageDeltaEvent{StopReason: stopReason, Usage: domain.TokenUsage{OutputTokens: 25}},
		domain.MessageStopEvent{},
	)
	return events
}

func textBlock(index int, parts ...string) []domain.MessageStreamEvent {
	events := []domain.MessageStreamEvent{
		domain.ContentBlockStartEvent{Index: index, Block: domain.TextBlock{}},
	}
	for _, p := range parts {
		events = append(events, domain.ContentBlockDeltaEvent{Index: index, Delta: domain.TextBlockDelta{Text: p}})
	}
	return append(events, domain.ContentBlockStopEvent{Index: index})
}

func thinkingBlock(index int, signature string, parts ...string) []domain.MessageStreamEvent {
	events := []domain.MessageStreamEvent{
		domain.ContentBlockStartEvent{Index: index, Block: domain.ThinkingBlock{}},
	}
	for _, p := range parts {
		events = append(events, domain.ContentBlockDeltaEvent{Index: index, Delta: domain.ThinkingBlockDelta{Thinking: p}})
	}
	if signature != "" {
		events = append(events, domain.ContentBlockDeltaEvent{Index: index, Delta: domain.SignatureBlockDelta{Signature: signature}})
	}
	return append(events, domain.ContentBlockStopEvent{Index: index})
}

func redactedThinkingBlock(index int, data string) []domain.MessageStreamEvent {
	return []domain.MessageStreamEvent{
		domain.ContentBlockStartEvent{Index: index, Block: domain.RedactedThinkingBlock{Data: data}},
		domain.ContentBlockStopEvent{Index: index},
	}
}

func toolUseBlock(index int, id, name string, jsonParts ...string) []domain.MessageStreamEvent {
	events := []domain.MessageStreamEvent{
		domain.ContentBlockStartEvent{Index: index, Block: domain.ToolUseBlock{Id: id, Name: name}},
	}
	for _, p := range jsonParts {
		events = append(events, domain.ContentBlockDeltaEvent{Index: index, Delta: domain.InputJSONBlockDelta{PartialJSON: p}})
	}
	return append(events, domain.ContentBlockStopEvent{Index: index})
}

func runTransformer(t *testing.T, events []domain.MessageStreamEvent) ([]domain.AssistantDelta, *StreamTransformer, error) {
	t.Helper()
	tr := NewStreamTransformer(nil)
	var out []domain.AssistantDelta
	for _, ev := range events {
		deltas, err := tr.Next(ev)
		if err != nil {
			return out, tr, err
		}
		out = append(out, deltas...)
	}
	return out, tr, nil
}

func collectText(deltas []domain.AssistantDelta) string {
	var text string
	for _, d := range deltas {
		if td, ok := d.(domain.TextDelta); ok {
			text += td.Text
		}
	}
	return text
}

func TestTransformTextRunConcatenation(t *testing.T) {
	require := require.New(t)

	deltas, _, err := runTransformer(t, messageStream("end_turn",
		textBlock(0, "Hello", ", ", "how can I help", " you?"),
	))
	require.NoError(err)

	assert.Equal(t, "Hello, how can I help you?", collectText(deltas))
}

func TestTransformCanonicalTrace(t *testing.T) {
	require := require.New(t)

	deltas, tr, err := runTransformer(t, messageStream("tool_use",
		thinkingBlock(0, "", "Let me check", " the weather"),
		textBlock(1, "Certainly!"),
		toolUseBlock(2, "toolu_01", "get_weather", `{"loca`, `tion": "Malaga"}`),
	))
	require.NoError(err)

	// typed-delta subsequence: thinking, then text, then the tool call
	var typed []string
	for _, d := range deltas {
		if _, ok := d.(domain.RoleDelta); ok {
			continue
		}
		typed = append(typed, d.AssistantDeltaType())
	}
	require.Equal([]string{"thinking", "thinking", "text", "tool_call"}, typed)

	tool, ok := deltas[len(deltas)-1].(domain.ToolCallDelta)
	require.True(ok)
	assert.Equal(t, "toolu_01", tool.Id)
	assert.Equal(t, "get_weather", tool.Name)
	assert.Equal(t, map[string]any{"location": "Malaga"}, tool.Args)

	assert.Equal(t, domain.TokenUsage{InputTokens: 10, OutputTokens: 25}, tr.Usage())
}

func TestTransformToolCallCountMatchesToolBlocks(t *testing.T) {
	require := require.New(t)

	deltas, _, err := runTransformer(t, messageStream("tool_use",
		textBlock(0, "Using two tools."),
		toolUseBlock(1, "toolu_01", "first", `{}`),
		toolUseBlock(2, "toolu_02", "second", `{"a":`, `1}`),
	))
	require.NoError(err)

	var calls []domain.ToolCallDelta
	for _, d := range deltas {
		if c, ok := d.(domain.ToolCallDelta); ok {
			calls = append(calls, c)
		}
	}
	require.Len(calls, 2)
	assert.Equal(t, "first", calls[0].Name)
	assert.Equal(t, map[string]any{"a": float64(1)}, calls[1].Args)
}

func TestTransformEmptyToolInputIsEmptyObject(t *testing.T) {
	require := require.New(t)

	deltas, _, err := runTransformer(t, messageStream("tool_use",
		toolUseBlock(0, "toolu_01", "noargs"),
	))
	require.NoError(err)

	var call *domain.ToolCallDelta
	for _, d := range deltas {
		if c, ok := d.(domain.ToolCallDelta); ok {
			call = &c
			break
		}
	}
	require.NotNil(call)
	assert.Equal(t, map[string]any{}, call.Args)
}

func TestTransformBoundaryBetweenNativeAndTextRuns(t *testing.T) {
	require := require.New(t)

	deltas, _, err := runTransformer(t, messageStream("end_turn",
		redactedThinkingBlock(0, "EroBCkYIARgC"),
		textBlock(1, "Done thinking."),
	))
	require.NoError(err)

	// initial role marker, native block, exactly one boundary, then text
	var kinds []string
	for _, d := range deltas {
		kinds = append(kinds, d.AssistantDeltaType())
	}
	require.Equal([]string{"role", "native", "role", "text"}, kinds)
}

func TestTransformNoDoubleBoundary(t *testing.T) {
	require := require.New(t)

	deltas, _, err := runTransformer(t, messageStream("end_turn",
		thinkingBlock(0, "sig_a", "thinking a"),
		redactedThinkingBlock(1, "redacted"),
		textBlock(2, "answer"),
		thinkingBlock(3, "", "more thinking"),
		textBlock(4, "more answer"),
	))
	require.NoError(err)

	prevRole := false
	for _, d := range deltas {
		_, isRole := d.(domain.RoleDelta)
		if isRole {
			require.False(prevRole, "two role boundaries in a row")
		}
		prevRole = isRole
	}
}

func TestTransformSignedThinkingCarriesAccumulatedText(t *testing.T) {
	require := require.New(t)

	deltas, _, err := runTransformer(t, messageStream("end_turn",
		thinkingBlock(0, "sig_abc", "part one, ", "part two"),
		textBlock(1, "done"),
	))
	require.NoError(err)

	var native *domain.NativeBlockDelta
	for _, d := range deltas {
		if n, ok := d.(domain.NativeBlockDelta); ok {
			native = &n
			break
		}
	}
	require.NotNil(native)
	block, ok := native.Block.(domain.ThinkingBlock)
	require.True(ok)
	assert.Equal(t, "part one, part two", block.Thinking)
	assert.Equal(t, "sig_abc", block.Signature)
}

func TestTransformThinkingTextDoesNotLeakAcrossBlocks(t *testing.T) {
	require := require.New(t)

	// first thinking block ends unsigned, the second one's signature must
	// not pick up the first one's text
	deltas, _, err := runTransformer(t, messageStream("end_turn",
		thinkingBlock(0, "", "discarded"),
		thinkingBlock(1, "sig_b", "kept"),
	))
	require.NoError(err)

	var native *domain.NativeBlockDelta
	for _, d := range deltas {
		if n, ok := d.(domain.NativeBlockDelta); ok {
			native = &n
			break
		}
	}
	require.NotNil(native)
	block, ok := native.Block.(domain.ThinkingBlock)
	require.True(ok)
	assert.Equal(t, "kept", block.Thinking)
}

func TestTransformWebSearchResultIsNativeBlock(t *testing.T) {
	require := require.New(t)

	result := domain.WebSearchResultBlock{
		ToolUseId: "srvtoolu_01",
		Content:   []byte(`[{"type":"web_search_result","url":"https://example.com"}]`),
	}
	deltas, _, err := runTransformer(t, messageStream("end_turn",
		textBlock(0, "Searching."),
		[]domain.MessageStreamEvent{
			domain.ContentBlockStartEvent{Index: 1, Block: result},
			domain.ContentBlockStopEvent{Index: 1},
		},
		textBlock(2, "Found it."),
	))
	require.NoError(err)

	var kinds []string
	for _, d := range deltas {
		kinds = append(kinds, d.AssistantDeltaType())
	}
	require.Equal([]string{"role", "text", "role", "native", "role", "text"}, kinds)

	native, ok := deltas[3].(domain.NativeBlockDelta)
	require.True(ok)
	assert.Equal(t, result, native.Block)
}

func TestTransformConsecutiveNativeBlocksShareRun(t *testing.T) {
	require := require.New(t)

	deltas, _, err := runTransformer(t, messageStream("end_turn",
		redactedThinkingBlock(0, "first"),
		redactedThinkingBlock(1, "second"),
	))
	require.NoError(err)

	roles := 0
	for _, d := range deltas {
		if _, ok := d.(domain.RoleDelta); ok {
			roles++
		}
	}
	// only the initial marker: same-kind blocks do not flush the run
	assert.Equal(t, 1, roles)
}

func TestTransformCitationClosesNativeRun(t *testing.T) {
	require := require.New(t)

	citation := domain.Citation{Type: "web_search_result_location", URL: "https://example.com", Title: "Example"}
	events := messageStream("end_turn",
		redactedThinkingBlock(0, "opaque"),
		[]domain.MessageStreamEvent{
			domain.ContentBlockStartEvent{Index: 1, Block: domain.ToolUseBlock{Id: "srvtoolu_01", Name: "web_search"}},
			domain.ContentBlockStopEvent{Index: 1},
			domain.ContentBlockDeltaEvent{Index: 2, Delta: domain.CitationBlockDelta{Citation: citation}},
		},
	)
	deltas, _, err := runTransformer(t, events)
	require.NoError(err)

	var kinds []string
	for _, d := range deltas {
		kinds = append(kinds, d.AssistantDeltaType())
	}
	require.Equal([]string{"role", "native", "tool_call", "role", "citation"}, kinds)
}

func TestTransformRefusalAbortsStream(t *testing.T) {
	require := require.New(t)

	tr := NewStreamTransformer(nil)
	events := messageStream("refusal", textBlock(0, "I cannot"))

	var out []domain.AssistantDelta
	var gotErr error
	for _, ev := range events {
		deltas, err := tr.Next(ev)
		if err != nil {
			gotErr = err
			// keep feeding: nothing may come out after the failure
			continue
		}
		out = append(out, deltas...)
	}
	require.Error(gotErr)
	var policyErr domain.PolicyViolationError
	require.ErrorAs(gotErr, &policyErr)

	deltas, err := tr.Next(domain.MessageStopEvent{})
	assert.Empty(t, deltas)
	assert.ErrorAs(t, err, &policyErr)
}

func TestTransformInputJSONOutsideToolBlockFails(t *testing.T) {
	tr := NewStreamTransformer(nil)
	_, err := tr.Next(domain.ContentBlockDeltaEvent{Delta: domain.InputJSONBlockDelta{PartialJSON: "{}"}})
	assert.Error(t, err)
}

func TestTransformMalformedToolInputFails(t *testing.T) {
	_, _, err := runTransformer(t, messageStream("tool_use",
		toolUseBlock(0, "toolu_01", "broken", `{"unclosed":`),
	))
	assert.Error(t, err)
}
