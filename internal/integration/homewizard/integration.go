package homewizard

import (
	"context"
	"fmt"
	"time"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
	"github.com/acasal/hearth2mqtt/internal/core/events"
	"github.com/acasal/hearth2mqtt/internal/core/port"

	"go.uber.org/zap"
)

const (
	DOMAIN = "homewizard"

	CONF_HOST = "host"

	pollInterval = 5 * time.Second
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
	host := entry.DataString(CONF_HOST)
	if host == "" {
		return nil, domain.RetryableError{Err: fmt.Errorf("missing host")}
	}
	client := NewClient(host)
	info, err := client.DeviceInfo(ctx)
	if err != nil {
		return nil, domain.RetryableError{Err: err}
	}
	return &runtime{
		entry:  entry,
		client: client,
		info:   info,
	}, nil
}

func (i *Integration) FlowHandler() port.FlowHandler {
	return &flowHandler{}
}

type runtime struct {
	entry  domain.ConfigEntry
	client *Client
	info   *DeviceInfo
}

func (r *runtime) Device() domain.Device {
	return domain.Device{
		Id:           fmt.Sprintf("hearth_hwe_%s", events.HashShort(r.info.Serial)),
		Manufacturer: "HomeWizard",
		Model:        r.info.ProductType,
		Version:      r.info.FirmwareVersion,
		Name:         r.info.ProductName,
	}
}

func (r *runtime) Entities() port.EntitySet {
	device := r.Device()

	var sensors []domain.GenericSensor

	sensors = append(sensors, domain.GenericSensor{
		Device:            device,
		EntryId:           r.entry.Id,
		Id:                r.sensorId("active_power"),
		SensorType:        domain.SENSOR_TYPE_SENSOR,
		Name:              "Active power",
		StateClass:        events.STATE_CLASS_MEASUREMENT,
		DeviceClass:       events.DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          events.UniqueId(device.Id, r.sensorId("active_power")),
	})
	sensors = append(sensors, domain.GenericSensor{
		Device:            domain.IdDevice(device),
		EntryId:           r.entry.Id,
		Id:                r.sensorId("total_import"),
		SensorType:        domain.SENSOR_TYPE_SENSOR,
		Name:              "Total energy imported",
		StateClass:        events.STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       events.DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "kWh",
		UniqueId:          events.UniqueId(device.Id, r.sensorId("total_import")),
	})
	sensors = append(sensors, domain.GenericSensor{
		Device:            domain.IdDevice(device),
		EntryId:           r.entry.Id,
		Id:                r.sensorId("total_export"),
		SensorType:        domain.SENSOR_TYPE_SENSOR,
		Name:              "Total energy exported",
		StateClass:        events.STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       events.DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "kWh",
		UniqueId:          events.UniqueId(device.Id, r.sensorId("total_export")),
	})
	sensors = append(sensors, domain.GenericSensor{
		Device:            domain.IdDevice(device),
		EntryId:           r.entry.Id,
		Id:                r.sensorId("voltage"),
		SensorType:        domain.SENSOR_TYPE_SENSOR,
		Name:              "Voltage",
		StateClass:        events.STATE_CLASS_MEASUREMENT,
		DeviceClass:       events.DEVICE_CLASS_VOLTAGE,
		UnitOfMeasurement: "V",
		EnabledByDefault:  events.OptionalBool(false),
		UniqueId:          events.UniqueId(device.Id, r.sensorId("voltage")),
	})
	sensors = append(sensors, domain.GenericSensor{
		Device:            domain.IdDevice(device),
		EntryId:           r.entry.Id,
		Id:                r.sensorId("wifi_strength"),
		SensorType:        domain.SENSOR_TYPE_SENSOR,
		Name:              "Wi-Fi strength",
		StateClass:        events.STATE_CLASS_MEASUREMENT,
		UnitOfMeasurement: "%",
		EntityCategory:    events.ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault:  events.OptionalBool(false),
		Icon:              "mdi:wifi",
		UniqueId:          events.UniqueId(device.Id, r.sensorId("wifi_strength")),
	})

	return port.EntitySet{Sensors: sensors}
}

func (r *runtime) Close() error {
	return nil
}

func (r *runtime) PollInterval() time.Duration {
	return pollInterval
}

func (r *runtime) Fetch(ctx context.Context) ([]domain.SensorUpdateEvent, error) {
	data, err := r.client.Measurement(ctx)
	if err != nil {
		return nil, domain.UpdateFailedError{Err: err}
	}

	var updates []domain.SensorUpdateEvent
	appendFloat := func(id string, value *float64, decimals uint) {
		if value == nil {
			return
		}
		updates = append(updates, domain.FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: id},
			Value:                  *value,
			Decimals:               decimals,
		})
	}
	appendFloat(r.sensorId("active_power"), data.ActivePowerW, 0)
	appendFloat(r.sensorId("total_import"), data.TotalPowerImportKWh, 3)
	appendFloat(r.sensorId("total_export"), data.TotalPowerExportKWh, 3)
	appendFloat(r.sensorId("voltage"), data.ActiveVoltageV, 1)
	appendFloat(r.sensorId("wifi_strength"), data.WifiStrength, 0)

	return updates, nil
}

func (r *runtime) sensorId(suffix string) string {
	return fmt.Sprintf("%s_%s", r.entry.Id, suffix)
}

// flowHandler asks for a host and reads the device info to de-dupe on the
// meter serial.
type flowHandler struct {
}

func (f *flowHandler) Step(ctx context.Context, stepId string, input map[string]any) (port.FlowResult, error) {
	if stepId != "user" {
		return port.Abort("unknown_step")
	}
	if input == nil {
		return f.showUserForm(nil)
	}

	host, _ := input[CONF_HOST].(string)
	if host == "" {
		return f.showUserForm(map[string]string{CONF_HOST: "required"})
	}

	info, err := NewClient(host).DeviceInfo(ctx)
	if err != nil {
		return f.showUserForm(map[string]string{"base": "cannot_connect"})
	}

	return port.CreateEntry(info.ProductName, info.Serial, map[string]any{
		CONF_HOST: host,
	})
}

func (f *flowHandler) showUserForm(errs map[string]string) (port.FlowResult, error) {
	return port.ShowForm("user", []port.FlowField{
		{Name: CONF_HOST, Kind: "string", Required: true},
	}, errs)
}
