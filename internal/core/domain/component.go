package domain

const (
	SENSOR_TYPE_SENSOR = "sensor"
	SENSOR_TYPE_BINARY = "binary_sensor"

	SENSOR_ID_BRIDGE_STATE = "bridge_state"
)

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	EntryId           string
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, duration, total_increasing (for acc energy)
	DeviceClass       string // voltage, current, power, energy
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
}

type GenericSwitch struct {
	Device   Device
	EntryId  string
	Id       string
	Name     string
	UniqueId string
	Icon     string
}

type GenericNumber struct {
	Device            Device
	EntryId           string
	Id                string
	Name              string
	UniqueId          string
	Icon              string
	Max               float64
	Min               float64
	Step              float64
	Mode              string
	UnitOfMeasurement string
	InitialValue      float64
}

// IdDevice strips a device down to its identifier so repeated discovery
// payloads do not duplicate the full device description.
func IdDevice(d Device) Device {
	return Device{Id: d.Id}
}
