package domain

import "encoding/json"

// Typed view of the vendor's message stream, decoded from server-sent
// events. Block and delta variants mirror the wire protocol.

type MessageStreamEvent interface {
	StreamEventType() string
}

type MessageStartEvent struct {
	MessageId string
	Model     string
	Usage     TokenUsage
}

type ContentBlockStartEvent struct {
	Index int
	Block ContentBlock
}

type ContentBlockDeltaEvent struct {
	Index int
	Delta BlockDelta
}

type ContentBlockStopEvent struct {
	Index int
}

type MessageDeltaEvent struct {
	StopReason string
	Usage      TokenUsage
}

type MessageStopEvent struct{}

func (MessageStartEvent) StreamEventType() string      { return "message_start" }
func (ContentBlockStartEvent) StreamEventType() string { return "content_block_start" }
func (ContentBlockDeltaEvent) StreamEventType() string { return "content_block_delta" }
func (ContentBlockStopEvent) StreamEventType() string  { return "content_block_stop" }
func (MessageDeltaEvent) StreamEventType() string      { return "message_delta" }
func (MessageStopEvent) StreamEventType() string       { return "message_stop" }

// Content blocks carried by content_block_start.

type ContentBlock interface {
	ContentBlockType() string
}

type TextBlock struct {
	Text      string
	Citations []Citation
}

type ToolUseBlock struct {
	Id    string
	Name  string
	Input map[string]any
}

type ThinkingBlock struct {
	Thinking  string
	Signature string
}

type RedactedThinkingBlock struct {
	Data string
}

// WebSearchResultBlock carries the results of a server-side web search.
// Content stays undecoded, the block round-trips opaquely like signed
// thinking.
type WebSearchResultBlock struct {
	ToolUseId string
	Content   json.RawMessage
}

func (TextBlock) ContentBlockType() string             { return "text" }
func (ToolUseBlock) ContentBlockType() string          { return "tool_use" }
func (ThinkingBlock) ContentBlockType() string         { return "thinking" }
func (RedactedThinkingBlock) ContentBlockType() string { return "redacted_thinking" }
func (WebSearchResultBlock) ContentBlockType() string  { return "web_search_tool_result" }

// Block deltas carried by content_block_delta.

type BlockDelta interface {
	BlockDeltaType() string
}

type TextBlockDelta struct {
	Text string
}

type ThinkingBlockDelta struct {
	Thinking string
}

type InputJSONBlockDelta struct {
	PartialJSON string
}

type SignatureBlockDelta struct {
	Signature string
}

type CitationBlockDelta struct {
	Citation Citation
}

func (TextBlockDelta) BlockDeltaType() string      { return "text_delta" }
func (ThinkingBlockDelta) BlockDeltaType() string  { return "thinking_delta" }
func (InputJSONBlockDelta) BlockDeltaType() string { return "input_json_delta" }
func (SignatureBlockDelta) BlockDeltaType() string { return "signature_delta" }
func (CitationBlockDelta) BlockDeltaType() string  { return "citations_delta" }

type Citation struct {
	Type      string `json:"type,omitempty"`
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	CitedText string `json:"cited_text,omitempty"`
}

type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Assistant deltas: the forward-only output of the stream transformer.

type AssistantDelta interface {
	AssistantDeltaType() string
}

// RoleDelta is the synthetic assistant boundary closing the previous
// content run.
type RoleDelta struct{}

type TextDelta struct {
	Text string
}

type ThinkingDelta struct {
	Text string
}

// NativeBlockDelta carries an opaque vendor block (signed or redacted
// thinking) that must round-trip unmodified into the next request.
type NativeBlockDelta struct {
	Block ContentBlock
}

type CitationDelta struct {
	Citation Citation
}

type ToolCallDelta struct {
	Id   string
	Name string
	Args map[string]any
}

func (RoleDelta) AssistantDeltaType() string        { return "role" }
func (TextDelta) AssistantDeltaType() string        { return "text" }
func (ThinkingDelta) AssistantDeltaType() string    { return "thinking" }
func (NativeBlockDelta) AssistantDeltaType() string { return "native" }
func (CitationDelta) AssistantDeltaType() string    { return "citation" }
func (ToolCallDelta) AssistantDeltaType() string    { return "tool_call" }
