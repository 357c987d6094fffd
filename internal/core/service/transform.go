package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/acasal/hearth2mqtt/internal/core/domain"

	"go.uber.org/zap"
)

// StreamTransformer reduces the vendor's raw message stream into assistant
// deltas, online and forward-only. State carried across events is limited
// to the in-progress tool call accumulator and the two run flags.
//
// A "run" is a stretch of output that belongs to one assistant message.
// Text content and native (thinking) content cannot share a run: when a
// block of the other kind starts, a single synthetic role boundary is
// emitted first to close the previous run.
type StreamTransformer struct {
	logger *zap.Logger

	tool     *toolCallAccumulator
	thinking strings.Builder

	openTextRun   bool
	openNativeRun bool

	usage  domain.TokenUsage
	failed error
}

type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func NewStreamTransformer(logger *zap.Logger) *StreamTransformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamTransformer{
		logger: logger.Named("stream_transform"),
	}
}

// Usage returns the token usage accumulated so far, combining the
// message_start snapshot with message_delta increments.
func (t *StreamTransformer) Usage() domain.TokenUsage {
	return t.usage
}

// Next consumes one stream event and returns the assistant deltas it
// produces, possibly none. Once an error has been returned, every further
// call returns the same error and no deltas.
func (t *StreamTransformer) Next(ev domain.MessageStreamEvent) ([]domain.AssistantDelta, error) {
	if t.failed != nil {
		return nil, t.failed
	}
	out, err := t.next(ev)
	if err != nil {
		t.failed = err
		return nil, err
	}
	return out, nil
}

func (t *StreamTransformer) next(ev domain.MessageStreamEvent) ([]domain.AssistantDelta, error) {
	switch ev := ev.(type) {
	case domain.MessageStartEvent:
		t.usage.Add(ev.Usage)
		return []domain.AssistantDelta{domain.RoleDelta{}}, nil

	case domain.ContentBlockStartEvent:
		return t.startBlock(ev.Block)

	case domain.ContentBlockDeltaEvent:
		return t.applyDelta(ev.Delta)

	case domain.ContentBlockStopEvent:
		t.thinking.Reset()
		if t.tool == nil {
			return nil, nil
		}
		args, err := decodeToolArgs(t.tool.args.String())
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.tool.name, err)
		}
		call := domain.ToolCallDelta{
			Id:   t.tool.id,
			Name: t.tool.name,
			Args: args,
		}
		t.tool = nil
		return []domain.AssistantDelta{call}, nil

	case domain.MessageDeltaEvent:
		t.usage.Add(ev.Usage)
		if ev.StopReason == "refusal" {
			return nil, domain.PolicyViolationError{Reason: "model refused to answer"}
		}
		return nil, nil

	case domain.MessageStopEvent:
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected stream event %T", ev)
}

func (t *StreamTransformer) startBlock(block domain.ContentBlock) ([]domain.AssistantDelta, error) {
	switch block := block.(type) {
	case domain.TextBlock:
		out := t.closeRunIf(t.openNativeRun)
		t.openTextRun = true
		if block.Text != "" {
			// non-incremental servers put the whole text in the start block
			out = append(out, domain.TextDelta{Text: block.Text})
		}
		for _, c := range block.Citations {
			out = append(out, domain.CitationDelta{Citation: c})
		}
		return out, nil

	case domain.ThinkingBlock:
		out := t.closeRunIf(t.openTextRun)
		t.openNativeRun = true
		t.thinking.Reset()
		t.thinking.WriteString(block.Thinking)
		if block.Thinking != "" {
			out = append(out, domain.ThinkingDelta{Text: block.Thinking})
		}
		return out, nil

	case domain.RedactedThinkingBlock:
		out := t.closeRunIf(t.openTextRun)
		t.openNativeRun = true
		return append(out, domain.NativeBlockDelta{Block: block}), nil

	case domain.WebSearchResultBlock:
		out := t.closeRunIf(t.openTextRun)
		t.openNativeRun = true
		return append(out, domain.NativeBlockDelta{Block: block}), nil

	case domain.ToolUseBlock:
		t.tool = &toolCallAccumulator{id: block.Id, name: block.Name}
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected content block %T", block)
}

func (t *StreamTransformer) applyDelta(delta domain.BlockDelta) ([]domain.AssistantDelta, error) {
	switch delta := delta.(type) {
	case domain.TextBlockDelta:
		t.openTextRun = true
		return []domain.AssistantDelta{domain.TextDelta{Text: delta.Text}}, nil

	case domain.ThinkingBlockDelta:
		t.openNativeRun = true
		t.thinking.WriteString(delta.Thinking)
		return []domain.AssistantDelta{domain.ThinkingDelta{Text: delta.Thinking}}, nil

	case domain.SignatureBlockDelta:
		// the open thinking run becomes opaque: the signed block, text and
		// signature together, must round-trip verbatim into the next request
		t.openNativeRun = true
		block := domain.ThinkingBlock{
			Thinking:  t.thinking.String(),
			Signature: delta.Signature,
		}
		t.thinking.Reset()
		return []domain.AssistantDelta{domain.NativeBlockDelta{Block: block}}, nil

	case domain.CitationBlockDelta:
		out := t.closeRunIf(t.openNativeRun)
		t.openTextRun = true
		return append(out, domain.CitationDelta{Citation: delta.Citation}), nil

	case domain.InputJSONBlockDelta:
		if t.tool == nil {
			return nil, fmt.Errorf("input json delta outside a tool use block")
		}
		t.tool.args.WriteString(delta.PartialJSON)
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected block delta %T", delta)
}

// closeRunIf emits at most one role boundary. Both flags reset, so two
// boundaries can never be emitted back to back.
func (t *StreamTransformer) closeRunIf(conflict bool) []domain.AssistantDelta {
	if !conflict {
		return nil
	}
	t.openTextRun = false
	t.openNativeRun = false
	return []domain.AssistantDelta{domain.RoleDelta{}}
}

// decodeToolArgs parses the concatenated partial JSON fragments. An empty
// accumulation is a call without arguments, not an error.
func decodeToolArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode tool input: %w", err)
	}
	return args, nil
}
