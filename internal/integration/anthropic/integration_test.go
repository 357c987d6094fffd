package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
	"github.com/acasal/hearth2mqtt/internal/core/port"

	"github.com/stretchr/testify/assert"
)

func validationServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.WriteHeader(status)
			if status != http.StatusOK {
				_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
			} else {
				_, _ = w.Write([]byte(`{"data":[]}`))
			}
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
}

func TestSetupMapsAuthError(t *testing.T) {

	server := validationServer(t, http.StatusUnauthorized)
	defer server.Close()

	integration := NewIntegration(nil)
	_, err := integration.Setup(context.Background(), domain.ConfigEntry{
		Id:     "e1",
		Domain: DOMAIN,
		Data: map[string]any{
			CONF_API_KEY:  "bad-key",
			CONF_BASE_URL: server.URL,
		},
	})
	assert.Error(t, err)
	assert.True(t, domain.IsAuthError(err))
	assert.False(t, domain.IsRetryable(err))
}

func TestSetupMapsConnectErrorToRetryable(t *testing.T) {

	integration := NewIntegration(nil)
	_, err := integration.Setup(context.Background(), domain.ConfigEntry{
		Id:     "e1",
		Domain: DOMAIN,
		Data: map[string]any{
			CONF_API_KEY:  "some-key",
			CONF_BASE_URL: "http://127.0.0.1:1",
		},
	})
	assert.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestSetupBuildsUsageSensors(t *testing.T) {

	server := validationServer(t, http.StatusOK)
	defer server.Close()

	integration := NewIntegration(nil)
	runtime, err := integration.Setup(context.Background(), domain.ConfigEntry{
		Id:     "e1",
		Domain: DOMAIN,
		Title:  "Claude",
		Data: map[string]any{
			CONF_API_KEY:  "good-key",
			CONF_BASE_URL: server.URL,
		},
	})
	assert.NoError(t, err)

	set := runtime.Entities()
	assert.Len(t, set.Sensors, 2)
	var ids []string
	for _, s := range set.Sensors {
		ids = append(ids, s.Id)
	}
	assert.Contains(t, ids, "e1_input_tokens")
	assert.Contains(t, ids, "e1_output_tokens")

	_, isConverser := runtime.(port.Converser)
	assert.True(t, isConverser)
	_, isPoller := runtime.(port.Poller)
	assert.False(t, isPoller)
}

func TestFlowCreatesEntry(t *testing.T) {

	server := validationServer(t, http.StatusOK)
	defer server.Close()

	handler := NewIntegration(nil).FlowHandler()

	// first render shows the form
	result, err := handler.Step(context.Background(), "user", nil)
	assert.NoError(t, err)
	assert.NotNil(t, result.Form)
	assert.Equal(t, "user", result.Form.StepId)

	// valid key creates the entry
	result, err = handler.Step(context.Background(), "user", map[string]any{
		CONF_API_KEY:  "good-key",
		CONF_BASE_URL: server.URL,
	})
	assert.NoError(t, err)
	assert.NotNil(t, result.CreateEntry)
	assert.Equal(t, "Claude", result.CreateEntry.Title)
	assert.NotEmpty(t, result.CreateEntry.UniqueId)
	assert.Equal(t, "good-key", result.CreateEntry.Data[CONF_API_KEY])
}

func TestFlowInvalidAuthShowsFormAgain(t *testing.T) {

	server := validationServer(t, http.StatusUnauthorized)
	defer server.Close()

	handler := NewIntegration(nil).FlowHandler()

	result, err := handler.Step(context.Background(), "user", map[string]any{
		CONF_API_KEY:  "bad-key",
		CONF_BASE_URL: server.URL,
	})
	assert.NoError(t, err)
	assert.NotNil(t, result.Form)
	assert.Equal(t, "invalid_auth", result.Form.Errors[CONF_API_KEY])
}
