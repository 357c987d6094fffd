package modbusmeter

import (
	"context"
	"testing"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
	"github.com/acasal/hearth2mqtt/internal/core/port"

	"github.com/stretchr/testify/assert"
)

func TestSetupAndFetch(t *testing.T) {

	assert := assert.New(t)

	integration := NewTestIntegration(nil)
	runtime, err := integration.Setup(context.Background(), domain.ConfigEntry{
		Id:     "m1",
		Domain: DOMAIN,
		Data:   map[string]any{CONF_HOST: "192.168.1.50"},
	})
	assert.NoError(err)

	device := runtime.Device()
	assert.Equal("Hearth", device.Manufacturer)
	assert.Equal("Smart Meter TS 100A-1", device.Model)

	poller, ok := runtime.(port.Poller)
	assert.True(ok)

	updates, err := poller.Fetch(context.Background())
	assert.NoError(err)
	assert.Len(updates, 7)

	byId := map[string]float64{}
	for _, up := range updates {
		f, ok := up.(domain.FloatSensorUpdateEvent)
		assert.True(ok)
		byId[f.Id] = f.Value
	}
	assert.Equal(-1250.0, byId["m1_power_flow"])
	assert.Equal(0.0, byId["m1_import_power"])
	assert.Equal(1250.0, byId["m1_export_power"])
	assert.Equal(550.22, byId["m1_total_import"])
	assert.Equal(2770.34, byId["m1_total_export"])
	assert.Equal(50.0, byId["m1_frequency"])
	assert.Equal(234.24, byId["m1_voltage"])
}

func TestSetupConnectionErrorIsRetryable(t *testing.T) {

	integration := NewIntegration(nil)
	_, err := integration.Setup(context.Background(), domain.ConfigEntry{
		Id:     "m1",
		Domain: DOMAIN,
		Data:   map[string]any{},
	})
	assert.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestFetchFailureIsUpdateFailed(t *testing.T) {

	integration := NewTestIntegration(nil)
	failing := &TestMeterReader{FailReads: true}
	integration.newReader = func(host string, port uint, unitId uint8) (MeterReader, error) {
		return failing, nil
	}

	runtime, err := integration.Setup(context.Background(), domain.ConfigEntry{
		Id:     "m1",
		Domain: DOMAIN,
		Data:   map[string]any{CONF_HOST: "192.168.1.50"},
	})
	assert.NoError(t, err)

	poller := runtime.(port.Poller)
	_, err = poller.Fetch(context.Background())
	assert.Error(t, err)
	var uf domain.UpdateFailedError
	assert.ErrorAs(t, err, &uf)
}

func TestFlowUsesSerialAsUniqueId(t *testing.T) {

	handler := NewTestIntegration(nil).FlowHandler()

	result, err := handler.Step(context.Background(), "user", nil)
	assert.NoError(t, err)
	assert.NotNil(t, result.Form)

	result, err = handler.Step(context.Background(), "user", map[string]any{CONF_HOST: "192.168.1.50"})
	assert.NoError(t, err)
	assert.NotNil(t, result.CreateEntry)
	assert.Equal(t, "Smart Meter TS 100A-1", result.CreateEntry.Title)
	assert.Equal(t, "00:11:22:33:44:55", result.CreateEntry.UniqueId)
	assert.Equal(t, defaultPort, result.CreateEntry.Data[CONF_PORT])
	assert.Equal(t, defaultUnitId, result.CreateEntry.Data[CONF_UNIT_ID])
}

func TestFlowCannotConnect(t *testing.T) {

	handler := NewIntegration(nil).FlowHandler()

	result, err := handler.Step(context.Background(), "user", map[string]any{CONF_HOST: "127.0.0.1", CONF_PORT: 1})
	assert.NoError(t, err)
	assert.NotNil(t, result.Form)
	assert.Equal(t, "cannot_connect", result.Form.Errors["base"])
}
