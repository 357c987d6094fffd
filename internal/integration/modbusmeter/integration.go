package modbusmeter

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
	DOMAIN = "modbusmeter"

	CONF_HOST    = "host"
	CONF_PORT    = "port"
	CONF_UNIT_ID = "unit_id"

	defaultPort   = 502
	defaultUnitId = 240

	connectTimeout = 5 * time.Second
	pollInterval   = 5 * time.Second
)

type readerFactory func(host string, port uint, unitId uint8) (MeterReader, error)

type Integration struct {
	logger    *zap.Logger
	newReader readerFactory
}

func NewIntegration(logger *zap.Logger) *Integration {
	return &Integration{
		logger: logger,
		newReader: func(host string, port uint, unitId uint8) (MeterReader, error) {
			return CreateSunSpecMeterReader(host, port, unitId, connectTimeout)
		},
	}
}

// NewTestIntegration runs against an in-memory meter, no modbus traffic.
func NewTestIntegration(logger *zap.Logger) *Integration {
	return &Integration{
		logger: logger,
		newReader: func(host string, port uint, unitId uint8) (MeterReader, error) {
			return CreateTestMeterReader()
		},
	}
}

func (i *Integration) Domain() string {
	return DOMAIN
}

func (i *Integration) Setup(ctx context.Context, entry domain.ConfigEntry) (port.EntryRuntime, error) {
	reader, info, err := i.connect(entry.DataString(CONF_HOST), entryPort(entry.Data), entryUnitId(entry.Data))
	if err != nil {
		return nil, domain.RetryableError{Err: err}
	}
	return &runtime{
		entry:  entry,
		reader: reader,
		info:   info,
	}, nil
}

func (i *Integration) FlowHandler() port.FlowHandler {
	return &flowHandler{integration: i}
}

func (i *Integration) connect(host string, meterPort uint, unitId uint8) (MeterReader, *MeterInfo, error) {
	if host == "" {
		return nil, nil, fmt.Errorf("missing host")
	}
	reader, err := i.newReader(host, meterPort, unitId)
	if err != nil {
		return nil, nil, err
	}
	if err := reader.Open(); err != nil {
		return nil, nil, err
	}
	info, err := reader.GetInfo()
	if err != nil {
		_ = reader.Close()
		return nil, nil, err
	}
	return reader, info, nil
}

func entryPort(data map[string]any) uint {
	p := domain.ConfigEntry{Data: data}.DataInt(CONF_PORT)
	if p <= 0 {
		return defaultPort
	}
	return uint(p)
}

func entryUnitId(data map[string]any) uint8 {
	u := domain.ConfigEntry{Data: data}.DataInt(CONF_UNIT_ID)
	if u <= 0 || u > 255 {
		return defaultUnitId
	}
	return uint8(u)
}

type runtime struct {
	entry  domain.ConfigEntry
	reader MeterReader
	info   *MeterInfo
}

func (r *runtime) Device() domain.Device {
	return domain.Device{
		Id:           fmt.Sprintf("hearth_meter_%s", events.HashShort(r.info.Serial)),
		Manufacturer: r.info.Manufacturer,
		Model:        r.info.Model,
		Version:      r.info.Version,
		Name:         fmt.Sprintf("%s %s", r.info.Manufacturer, r.info.Model),
	}
}

func (r *runtime) Entities() port.EntitySet {
	device := r.Device()

	sensor := func(suffix, name, stateClass, deviceClass, unit string) domain.GenericSensor {
		return domain.GenericSensor{
			Device:            domain.IdDevice(device),
			EntryId:           r.entry.Id,
			Id:                r.sensorId(suffix),
			SensorType:        domain.SENSOR_TYPE_SENSOR,
			Name:              name,
			StateClass:        stateClass,
			DeviceClass:       deviceClass,
			UnitOfMeasurement: unit,
			UniqueId:          events.UniqueId(device.Id, r.sensorId(suffix)),
		}
	}

	powerFlow := sensor("power_flow", "Grid power flow", events.STATE_CLASS_MEASUREMENT, events.DEVICE_CLASS_POWER, "W")
	powerFlow.Device = device

	frequency := sensor("frequency", "Grid frequency", events.STATE_CLASS_MEASUREMENT, events.DEVICE_CLASS_FREQUENCY, "Hz")
	frequency.EntityCategory = events.ENTITY_CLASS_DIAGNOSTIC
	frequency.EnabledByDefault = events.OptionalBool(false)

	voltage := sensor("voltage", "Phase A voltage", events.STATE_CLASS_MEASUREMENT, events.DEVICE_CLASS_VOLTAGE, "V")
	voltage.EnabledByDefault = events.OptionalBool(false)

	return port.EntitySet{Sensors: []domain.GenericSensor{
		powerFlow,
		sensor("import_power", "Grid import power", events.STATE_CLASS_MEASUREMENT, events.DEVICE_CLASS_POWER, "W"),
		sensor("export_power", "Grid export power", events.STATE_CLASS_MEASUREMENT, events.DEVICE_CLASS_POWER, "W"),
		sensor("total_import", "Total energy imported", events.STATE_CLASS_TOTAL_INCREASING, events.DEVICE_CLASS_ENERGY, "kWh"),
		sensor("total_export", "Total energy exported", events.STATE_CLASS_TOTAL_INCREASING, events.DEVICE_CLASS_ENERGY, "kWh"),
		frequency,
		voltage,
	}}
}

func (r *runtime) Close() error {
	return r.reader.Close()
}

func (r *runtime) PollInterval() time.Duration {
	return pollInterval
}

func (r *runtime) Fetch(ctx context.Context) ([]domain.SensorUpdateEvent, error) {
	flow, err := r.reader.GetPowerFlow()
	if err != nil {
		return nil, domain.UpdateFailedError{Err: err}
	}

	importPower, exportPower := 0.0, 0.0
	if flow.PowerFlowWatt < 0 {
		exportPower = -flow.PowerFlowWatt
	} else {
		importPower = flow.PowerFlowWatt
	}

	appendFloat := func(updates []domain.SensorUpdateEvent, suffix string, value float64, decimals uint) []domain.SensorUpdateEvent {
		return append(updates, domain.FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: r.sensorId(suffix)},
			Value:                  value,
			Decimals:               decimals,
		})
	}

	var updates []domain.SensorUpdateEvent
	updates = appendFloat(updates, "power_flow", flow.PowerFlowWatt, 0)
	updates = appendFloat(updates, "import_power", importPower, 0)
	updates = appendFloat(updates, "export_power", exportPower, 0)
	updates = appendFloat(updates, "total_import", flow.TotalEnergyImportedKWh, 2)
	updates = appendFloat(updates, "total_export", flow.TotalEnergyExportedKWh, 2)
	updates = appendFloat(updates, "frequency", flow.Frequency, 2)
	updates = appendFloat(updates, "voltage", flow.PhaseAVoltage, 1)
	return updates, nil
}

func (r *runtime) sensorId(suffix string) string {
	return fmt.Sprintf("%s_%s", r.entry.Id, suffix)
}

// flowHandler probes the meter and de-dupes on the device serial.
type flowHandler struct {
	integration *Integration
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
	meterPort := entryPort(input)
	unitId := entryUnitId(input)

	reader, info, err := f.integration.connect(host, meterPort, unitId)
	if err != nil {
		return f.showUserForm(map[string]string{"base": "cannot_connect"})
	}
	defer reader.Close()

	return port.CreateEntry(info.Model, info.Serial, map[string]any{
		CONF_HOST:    host,
		CONF_PORT:    int(meterPort),
		CONF_UNIT_ID: int(unitId),
	})
}

func (f *flowHandler) showUserForm(errs map[string]string) (port.FlowResult, error) {
	return port.ShowForm("user", []port.FlowField{
		{Name: CONF_HOST, Kind: "string", Required: true},
		{Name: CONF_PORT, Kind: "int", Default: defaultPort},
		{Name: CONF_UNIT_ID, Kind: "int", Default: defaultUnitId},
	}, errs)
}
