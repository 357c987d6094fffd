package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
)

// Wire shapes of the streaming events, one envelope per SSE data line.

type wireStreamEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	Message      *wireMessage      `json:"message"`
	ContentBlock *wireContentBlock `json:"content_block"`
	Delta        *wireDelta        `json:"delta"`
	Usage        *wireUsage        `json:"usage"`
	Error        *wireError        `json:"error"`
}

type wireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type wireMessage struct {
	Id    string     `json:"id"`
	Model string     `json:"model"`
	Usage *wireUsage `json:"usage"`
}

type wireContentBlock struct {
	Type      string            `json:"type"`
	Text      string            `json:"text"`
	Citations []domain.Citation `json:"citations"`
	Id        string            `json:"id"`
	Name      string            `json:"name"`
	Thinking  string            `json:"thinking"`
	Signature string            `json:"signature"`
	Data      string            `json:"data"`
	ToolUseId string            `json:"tool_use_id"`
	Content   json.RawMessage   `json:"content"`
}

type wireDelta struct {
	Type        string           `json:"type"`
	Text        string           `json:"text"`
	Thinking    string           `json:"thinking"`
	PartialJSON string           `json:"partial_json"`
	Signature   string           `json:"signature"`
	Citation    *domain.Citation `json:"citation"`
	StopReason  string           `json:"stop_reason"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *wireUsage) toDomain() domain.TokenUsage {
	if u == nil {
		return domain.TokenUsage{}
	}
	return domain.TokenUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}
}

// decodeStreamEvent maps one wire event onto the typed stream model. A nil
// event with nil error means the event type is unknown and should be
// skipped (ping, fine-grained additions).
func decodeStreamEvent(eventType string, data []byte) (domain.MessageStreamEvent, error) {
	var wire wireStreamEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}
	if eventType == "" {
		eventType = wire.Type
	}

	switch eventType {
	case "message_start":
		ev := domain.MessageStartEvent{}
		if wire.Message != nil {
			ev.MessageId = wire.Message.Id
			ev.Model = wire.Message.Model
			ev.Usage = wire.Message.Usage.toDomain()
		}
		return ev, nil
	case "content_block_start":
		block, err := decodeContentBlock(wire.ContentBlock)
		if err != nil {
			return nil, err
		}
		return domain.ContentBlockStartEvent{Index: wire.Index, Block: block}, nil
	case "content_block_delta":
		delta, err := decodeBlockDelta(wire.Delta)
		if err != nil {
			return nil, err
		}
		return domain.ContentBlockDeltaEvent{Index: wire.Index, Delta: delta}, nil
	case "content_block_stop":
		return domain.ContentBlockStopEvent{Index: wire.Index}, nil
	case "message_delta":
		ev := domain.MessageDeltaEvent{Usage: wire.Usage.toDomain()}
		if wire.Delta != nil {
			ev.StopReason = wire.Delta.StopReason
		}
		return ev, nil
	case "message_stop":
		return domain.MessageStopEvent{}, nil
	case "error":
		// terminal server-side failure, fail the stream instead of waiting
		// for EOF
		if wire.Error != nil {
			return nil, fmt.Errorf("stream error (%s): %s", wire.Error.Type, wire.Error.Message)
		}
		return nil, fmt.Errorf("stream error without error payload")
	case "ping":
		return nil, nil
	default:
		return nil, nil
	}
}

func decodeContentBlock(block *wireContentBlock) (domain.ContentBlock, error) {
	if block == nil {
		return nil, fmt.Errorf("content_block_start without content_block")
	}
	switch block.Type {
	case "text":
		return domain.TextBlock{Text: block.Text, Citations: block.Citations}, nil
	case "tool_use":
		return domain.ToolUseBlock{Id: block.Id, Name: block.Name}, nil
	case "thinking":
		return domain.ThinkingBlock{Thinking: block.Thinking, Signature: block.Signature}, nil
	case "redacted_thinking":
		return domain.RedactedThinkingBlock{Data: block.Data}, nil
	case "web_search_tool_result":
		return domain.WebSearchResultBlock{ToolUseId: block.ToolUseId, Content: block.Content}, nil
	default:
		return nil, fmt.Errorf("unknown content block type: %s", block.Type)
	}
}

func decodeBlockDelta(delta *wireDelta) (domain.BlockDelta, error) {
	if delta == nil {
		return nil, fmt.Errorf("content_block_delta without delta")
	}
	switch delta.Type {
	case "text_delta":
		return domain.TextBlockDelta{Text: delta.Text}, nil
	case "thinking_delta":
		return domain.ThinkingBlockDelta{Thinking: delta.Thinking}, nil
	case "input_json_delta":
		return domain.InputJSONBlockDelta{PartialJSON: delta.PartialJSON}, nil
	case "signature_delta":
		return domain.SignatureBlockDelta{Signature: delta.Signature}, nil
	case "citations_delta":
		var citation domain.Citation
		if delta.Citation != nil {
			citation = *delta.Citation
		}
		return domain.CitationBlockDelta{Citation: citation}, nil
	default:
		return nil, fmt.Errorf("unknown block delta type: %s", delta.Type)
	}
}
