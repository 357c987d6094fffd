package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/acasal/hearth2mqtt/internal/core/domain"

	"go.uber.org/zap"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 3000
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *zap.Logger
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
}

type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e apiError) Error() string {
	return fmt.Sprintf("anthropic api error (%d %s): %s", e.Status, e.Type, e.Message)
}

func (e apiError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

func NewClient(baseURL, apiKey, model string, maxTokens int, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: logger.Named("anthropic_client"),
	}
}

// Validate checks the API key by listing models. Returns apiError so the
// caller can tell credential failures from connectivity failures.
func (c *Client) Validate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models?limit=1", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return nil
}

// StreamMessages opens a streaming messages request. Decoded events are
// delivered on the first channel; both channels are closed when the stream
// ends, with any terminal failure on the error channel.
func (c *Client) StreamMessages(ctx context.Context, system string, messages []Message) (<-chan domain.MessageStreamEvent, <-chan error) {
	eventCh := make(chan domain.MessageStreamEvent, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(eventCh)
		defer close(errCh)

		body, err := json.Marshal(messagesRequest{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			System:    system,
			Messages:  messages,
			Stream:    true,
		})
		if err != nil {
			errCh <- err
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			errCh <- err
			return
		}
		c.setHeaders(req)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			errCh <- decodeAPIError(resp)
			return
		}

		if err := decodeSSE(ctx, resp.Body, eventCh); err != nil {
			errCh <- err
		}
	}()

	return eventCh, errCh
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

func decodeAPIError(resp *http.Response) error {
	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(raw, &wire)
	return apiError{
		Status:  resp.StatusCode,
		Type:    wire.Error.Type,
		Message: wire.Error.Message,
	}
}

// decodeSSE reads "event:"/"data:" line pairs and emits one decoded event
// per data line. Unknown event types are skipped, they do not fail the
// stream.
func decodeSSE(ctx context.Context, body io.Reader, eventCh chan<- domain.MessageStreamEvent) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			eventType = ""
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			event, err := decodeStreamEvent(eventType, []byte(data))
			if err != nil {
				return err
			}
			if event == nil {
				continue
			}
			select {
			case eventCh <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return scanner.Err()
}
