package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/acasal/hearth2mqtt/internal/core/domain"

	"github.com/carlmjohnson/versioninfo"
)

const (
	STATE_CLASS_DURATION         = "duration"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_DURATION        = "duration"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_FREQUENCY       = "frequency"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	ENTITY_CLASS_CONFIG          = "config"
	NUMBER_MODE_BOX              = "box"
	NUMBER_MODE_SLIDER           = "slider"
)

func BridgeDevice(baseTopic string) domain.Device {
	return domain.Device{
		Id:           fmt.Sprintf("hearth_bridge_%s", HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "Hearth",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Hearth %s", HashShort(baseTopic)),
	}
}

func BridgeSensors(bridgeDevice domain.Device) []domain.GenericSensor {

	var sensors []domain.GenericSensor

	// Bridge connection state
	sensors = append(sensors, domain.GenericSensor{
		Device:         bridgeDevice,
		Id:             domain.SENSOR_ID_BRIDGE_STATE,
		SensorType:     domain.SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       UniqueId(bridgeDevice.Id, domain.SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

// EntryControlSwitches returns the command entities every config entry
// exposes regardless of its integration. The switch id encodes the entry id
// so inbound MQTT commands can be routed back to the owning entry actor.
func EntryControlSwitches(device domain.Device, entryId string) []domain.GenericSwitch {

	var switches []domain.GenericSwitch

	// Polling on/off
	switches = append(switches, domain.GenericSwitch{
		Device:   device,
		EntryId:  entryId,
		Id:       fmt.Sprintf("%s_polling", entryId),
		Name:     "Polling",
		UniqueId: UniqueId(device.Id, fmt.Sprintf("%s_polling", entryId)),
		Icon:     "mdi:refresh-auto",
	})

	return switches
}

func EntryControlNumbers(device domain.Device, entryId string, initialSeconds float64) []domain.GenericNumber {

	var numbers []domain.GenericNumber

	// Poll interval
	numbers = append(numbers, domain.GenericNumber{
		Device:            device,
		EntryId:           entryId,
		Id:                fmt.Sprintf("%s_poll_interval", entryId),
		Name:              "Poll interval",
		UniqueId:          UniqueId(device.Id, fmt.Sprintf("%s_poll_interval", entryId)),
		Icon:              "mdi:timer-cog",
		Min:               1,
		Max:               3600,
		Step:              1,
		Mode:              NUMBER_MODE_BOX,
		UnitOfMeasurement: "s",
		InitialValue:      initialSeconds,
	})

	return numbers
}

func UniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[0:8]
}

func OptionalBool(value bool) *bool {
	return &value
}
