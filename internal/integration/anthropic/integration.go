package anthropic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
	"github.com/acasal/hearth2mqtt/internal/core/events"
	"github.com/acasal/hearth2mqtt/internal/core/port"

	"go.uber.org/zap"
)

const (
	DOMAIN = "anthropic"

	CONF_API_KEY    = "api_key"
	CONF_BASE_URL   = "base_url"
	CONF_MODEL      = "model"
	CONF_MAX_TOKENS = "max_tokens"
	CONF_PROMPT     = "prompt"

	defaultPrompt = "You are a voice assistant for a smart home. Answer briefly."
)

type Integration struct {
	logger *zap.Logger
}

func NewIntegration(logger *zap.Logger) *Integration {
	return &Integration{logger: logger}
}

func (i *Integration) Domain() string {
	return DOMAIN
}

func (i *Integration) Setup(ctx context.Context, entry domain.ConfigEntry) (port.EntryRuntime, error) {
	apiKey := entry.DataString(CONF_API_KEY)
	if apiKey == "" {
		return nil, domain.AuthError{Err: errors.New("missing api key")}
	}
	client := NewClient(entry.DataString(CONF_BASE_URL), apiKey, entry.DataString(CONF_MODEL),
		entry.DataInt(CONF_MAX_TOKENS), i.logger)
	if err := client.Validate(ctx); err != nil {
		var apiErr apiError
		if errors.As(err, &apiErr) && apiErr.IsAuth() {
			return nil, domain.AuthError{Err: err}
		}
		return nil, domain.RetryableError{Err: err}
	}
	prompt := entry.DataString(CONF_PROMPT)
	if prompt == "" {
		prompt = defaultPrompt
	}
	return &runtime{
		entry:   entry,
		client:  client,
		prompt:  prompt,
		history: map[string][]Message{},
	}, nil
}

func (i *Integration) FlowHandler() port.FlowHandler {
	return &flowHandler{logger: i.logger}
}

// runtime is a conversation agent entry: no polling, token usage sensors
// and a Converser backed by the streaming messages API.
type runtime struct {
	entry  domain.ConfigEntry
	client *Client
	prompt string

	mu      sync.Mutex
	history map[string][]Message
}

func (r *runtime) Device() domain.Device {
	return domain.Device{
		Id:           fmt.Sprintf("hearth_claude_%s", events.HashShort(r.entry.Id)),
		Manufacturer: "Anthropic",
		Model:        r.client.model,
		Name:         r.entry.Title,
	}
}

func (r *runtime) Entities() port.EntitySet {
	device := r.Device()
	inputId := fmt.Sprintf("%s_input_tokens", r.entry.Id)
	outputId := fmt.Sprintf("%s_output_tokens", r.entry.Id)
	return port.EntitySet{
		Sensors: []domain.GenericSensor{
			{
				Device:            device,
				EntryId:           r.entry.Id,
				Id:                inputId,
				SensorType:        domain.SENSOR_TYPE_SENSOR,
				Name:              "Input tokens",
				StateClass:        events.STATE_CLASS_MEASUREMENT,
				EntityCategory:    events.ENTITY_CLASS_DIAGNOSTIC,
				UnitOfMeasurement: "tokens",
				UniqueId:          events.UniqueId(device.Id, inputId),
				Icon:              "mdi:import",
			},
			{
				Device:            domain.IdDevice(device),
				EntryId:           r.entry.Id,
				Id:                outputId,
				SensorType:        domain.SENSOR_TYPE_SENSOR,
				Name:              "Output tokens",
				StateClass:        events.STATE_CLASS_MEASUREMENT,
				EntityCategory:    events.ENTITY_CLASS_DIAGNOSTIC,
				UnitOfMeasurement: "tokens",
				UniqueId:          events.UniqueId(device.Id, outputId),
				Icon:              "mdi:export",
			},
		},
	}
}

func (r *runtime) Close() error {
	return nil
}

// Stream sends the conversation so far plus the new user turn. The raw
// event stream is teed so the assistant's text lands back in the history
// once the turn completes.
func (r *runtime) Stream(ctx context.Context, conversationId string, text string) (<-chan domain.MessageStreamEvent, <-chan error) {
	r.mu.Lock()
	r.history[conversationId] = append(r.history[conversationId], Message{Role: "user", Content: text})
	messages := make([]Message, len(r.history[conversationId]))
	copy(messages, r.history[conversationId])
	r.mu.Unlock()

	eventCh, errCh := r.client.StreamMessages(ctx, r.prompt, messages)

	out := make(chan domain.MessageStreamEvent, 16)
	go func() {
		defer close(out)
		var assistant string
		for ev := range eventCh {
			if delta, ok := ev.(domain.ContentBlockDeltaEvent); ok {
				if textDelta, ok := delta.Delta.(domain.TextBlockDelta); ok {
					assistant += textDelta.Text
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if assistant != "" {
			r.mu.Lock()
			r.history[conversationId] = append(r.history[conversationId], Message{Role: "assistant", Content: assistant})
			r.mu.Unlock()
		}
	}()
	return out, errCh
}

// flowHandler asks for an API key and validates it before creating the
// entry. The key hash doubles as the unique id so the same account is not
// configured twice.
type flowHandler struct {
	logger *zap.Logger
}

func (f *flowHandler) Step(ctx context.Context, stepId string, input map[string]any) (port.FlowResult, error) {
	if stepId != "user" {
		return port.Abort("unknown_step")
	}
	if input == nil {
		return f.showUserForm(nil)
	}

	apiKey, _ := input[CONF_API_KEY].(string)
	if apiKey == "" {
		return f.showUserForm(map[string]string{CONF_API_KEY: "required"})
	}
	baseURL, _ := input[CONF_BASE_URL].(string)
	model, _ := input[CONF_MODEL].(string)

	client := NewClient(baseURL, apiKey, model, 0, f.logger)
	if err := client.Validate(ctx); err != nil {
		var apiErr apiError
		if errors.As(err, &apiErr) && apiErr.IsAuth() {
			return f.showUserForm(map[string]string{CONF_API_KEY: "invalid_auth"})
		}
		return f.showUserForm(map[string]string{"base": "cannot_connect"})
	}

	data := map[string]any{
		CONF_API_KEY: apiKey,
	}
	if baseURL != "" {
		data[CONF_BASE_URL] = baseURL
	}
	if model != "" {
		data[CONF_MODEL] = model
	}
	if prompt, ok := input[CONF_PROMPT].(string); ok && prompt != "" {
		data[CONF_PROMPT] = prompt
	}
	return port.CreateEntry("Claude", events.HashShort(apiKey), data)
}

func (f *flowHandler) showUserForm(errs map[string]string) (port.FlowResult, error) {
	return port.ShowForm("user", []port.FlowField{
		{Name: CONF_API_KEY, Kind: "password", Required: true},
		{Name: CONF_MODEL, Kind: "string"},
		{Name: CONF_PROMPT, Kind: "string"},
	}, errs)
}
