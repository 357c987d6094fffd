package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/acasal/hearth2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

const testStreamBody = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","model":"claude-3-5-haiku-latest","usage":{"input_tokens":10,"output_tokens":0}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":25}}

event: message_stop
data: {"type":"message_stop"}

`

func TestStreamMessagesDecodesEvents(t *testing.T) {

	assert := assert.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/v1/messages", r.URL.Path)
		assert.Equal("test-key", r.Header.Get("x-api-key"))
		assert.Equal(apiVersion, r.Header.Get("anthropic-version"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(testStreamBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "", 0, nil)
	eventCh, errCh := client.StreamMessages(context.Background(), "", []Message{{Role: "user", Content: "hi"}})

	var types []string
	for ev := range eventCh {
		types = append(types, ev.StreamEventType())
	}
	assert.NoError(<-errCh)
	assert.Equal([]string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, types)
}

func TestStreamMessagesAPIError(t *testing.T) {

	assert := assert.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "", 0, nil)
	eventCh, errCh := client.StreamMessages(context.Background(), "", []Message{{Role: "user", Content: "hi"}})

	for range eventCh {
	}
	err := <-errCh
	assert.Error(err)
	apiErr, ok := err.(apiError)
	assert.True(ok)
	assert.Equal(http.StatusTooManyRequests, apiErr.Status)
	assert.False(apiErr.IsAuth())
}

func TestValidateAuthError(t *testing.T) {

	assert := assert.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-key", "", 0, nil)
	err := client.Validate(context.Background())
	assert.Error(err)
	apiErr, ok := err.(apiError)
	assert.True(ok)
	assert.True(apiErr.IsAuth())
}

func TestDecodeStreamEventThinking(t *testing.T) {

	assert := assert.New(t)

	ev, err := decodeStreamEvent("content_block_start",
		[]byte(`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`))
	assert.NoError(err)
	start, ok := ev.(domain.ContentBlockStartEvent)
	assert.True(ok)
	_, ok = start.Block.(domain.ThinkingBlock)
	assert.True(ok)

	ev, err = decodeStreamEvent("content_block_delta",
		[]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"EqQBCg"}}`))
	assert.NoError(err)
	delta, ok := ev.(domain.ContentBlockDeltaEvent)
	assert.True(ok)
	sig, ok := delta.Delta.(domain.SignatureBlockDelta)
	assert.True(ok)
	assert.Equal("EqQBCg", sig.Signature)
}

func TestDecodeStreamEventSkipsPing(t *testing.T) {

	assert := assert.New(t)

	ev, err := decodeStreamEvent("ping", []byte(`{"type":"ping"}`))
	assert.NoError(err)
	assert.Nil(ev)
}

func TestDecodeStreamEventErrorFailsStream(t *testing.T) {

	assert := assert.New(t)

	ev, err := decodeStreamEvent("error",
		[]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	assert.Nil(ev)
	assert.Error(err)
	assert.Contains(err.Error(), "overloaded_error")
	assert.Contains(err.Error(), "Overloaded")
}

func TestDecodeStreamEventWebSearchResult(t *testing.T) {

	assert := assert.New(t)

	ev, err := decodeStreamEvent("content_block_start",
		[]byte(`{"type":"content_block_start","index":1,"content_block":{"type":"web_search_tool_result","tool_use_id":"srvtoolu_01","content":[{"type":"web_search_result","url":"https://example.com"}]}}`))
	assert.NoError(err)
	start, ok := ev.(domain.ContentBlockStartEvent)
	assert.True(ok)
	block, ok := start.Block.(domain.WebSearchResultBlock)
	assert.True(ok)
	assert.Equal("srvtoolu_01", block.ToolUseId)
	assert.JSONEq(`[{"type":"web_search_result","url":"https://example.com"}]`, string(block.Content))
}

func TestStreamMessagesErrorEvent(t *testing.T) {

	assert := assert.New(t)

	body := testStreamBody[:strings.Index(testStreamBody, "event: message_delta")] +
		"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "", 0, nil)
	eventCh, errCh := client.StreamMessages(context.Background(), "", []Message{{Role: "user", Content: "hi"}})

	for range eventCh {
	}
	err := <-errCh
	assert.Error(err)
	assert.Contains(err.Error(), "overloaded_error")
}

func TestDecodeStreamEventRefusal(t *testing.T) {

	assert := assert.New(t)

	ev, err := decodeStreamEvent("message_delta",
		[]byte(`{"type":"message_delta","delta":{"stop_reason":"refusal"},"usage":{"output_tokens":3}}`))
	assert.NoError(err)
	md, ok := ev.(domain.MessageDeltaEvent)
	assert.True(ok)
	assert.Equal("refusal", md.StopReason)
	assert.Equal(3, md.Usage.OutputTokens)
}
