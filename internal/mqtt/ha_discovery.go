package mqtt

import (
	"fmt"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
)

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice  `json:"device"`
	StateTopic        string             `json:"state_topic"`
	CommandTopic      string             `json:"command_topic,omitempty"`
	StateClass        string             `json:"state_class,omitempty"`
	DeviceClass       string             `json:"device_class,omitempty"`
	UnitOfMeasurement string             `json:"unit_of_measurement,omitempty"`
	AvTopic           string             `json:"availability_topic,omitempty"`
	Availability      []HADiscoveryAvail `json:"availability,omitempty"`
	AvailabilityMode  string             `json:"availability_mode,omitempty"`
	EntityCategory    string             `json:"entity_category,omitempty"`
	Name              string             `json:"name"`
	UniqueId          string             `json:"unique_id"`
	Platform          string             `json:"platform"`
	EnabledByDefault  *bool              `json:"enabled_by_default,omitempty"`
	PayloadOn         string             `json:"payload_on,omitempty"`
	PayloadOff        string             `json:"payload_off,omitempty"`
	Icon              string             `json:"icon,omitempty"`
	Min               float64            `json:"min,omitempty"`
	Max               float64            `json:"max,omitempty"`
	Step              float64            `json:"step,omitempty"`
	Mode              string             `json:"mode,omitempty"`
	InitialValue      float64            `json:"initial,omitempty"`
}

type HADiscoveryAvail struct {
	Topic      string `json:"topic"`
	PayloadAv  string `json:"payload_available,omitempty"`
	PayloadNav string `json:"payload_not_available,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func HADiscoverySensorTopic(client *MQTTClient, sensor domain.GenericSensor) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", client.DiscoveryTopic(), sensor.SensorType, sensor.Device.Id, sensor.Id)
}

func HADiscoverySwitchTopic(client *MQTTClient, sensor domain.GenericSwitch) string {
	return fmt.Sprintf("%s/switch/%s/%s/config", client.DiscoveryTopic(), sensor.Device.Id, sensor.Id)
}

func HADiscoveryNumberTopic(client *MQTTClient, sensor domain.GenericNumber) string {
	return fmt.Sprintf("%s/number/%s/%s/config", client.DiscoveryTopic(), sensor.Device.Id, sensor.Id)
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	dev := device(sensor.Device)
	var topic string
	switch {
	case sensor.Id == domain.SENSOR_ID_BRIDGE_STATE:
		topic = client.BridgeStateTopic()
	case sensor.SensorType == domain.SENSOR_TYPE_SENSOR:
		topic = client.SensorStateTopic(sensor.Id)
	case sensor.SensorType == domain.SENSOR_TYPE_BINARY:
		topic = client.BinarySensorStateTopic(sensor.Id)
	}
	disConfig := HADiscoveryConfig{
		Device:            dev,
		StateTopic:        topic,
		StateClass:        sensor.StateClass,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.UnitOfMeasurement,
		EntityCategory:    sensor.EntityCategory,
		Name:              sensor.Name,
		UniqueId:          sensor.UniqueId,
		Icon:              sensor.Icon,
		EnabledByDefault:  sensor.EnabledByDefault,
		Platform:          "mqtt",
	}
	applyAvailability(client, &disConfig, sensor.EntryId)
	if sensor.Id == domain.SENSOR_ID_BRIDGE_STATE {
		disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
		disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
	} else if sensor.SensorType == domain.SENSOR_TYPE_BINARY {
		disConfig.PayloadOn = MQTT_PAYLOAD_ON
		disConfig.PayloadOff = MQTT_PAYLOAD_OFF
	}
	return disConfig
}

func GenericSwitchToHADiscoveryMessage(client *MQTTClient, _switch domain.GenericSwitch) HADiscoveryConfig {
	dev := device(_switch.Device)
	topic := client.SwitchStateTopic(_switch.Id)
	cmdTopic := client.SwitchCommandTopic(_switch.Id)
	disConfig := HADiscoveryConfig{
		Device:       dev,
		StateTopic:   topic,
		CommandTopic: cmdTopic,
		Name:         _switch.Name,
		UniqueId:     _switch.UniqueId,
		Icon:         _switch.Icon,
		Platform:     "mqtt",
		PayloadOn:    MQTT_PAYLOAD_ON,
		PayloadOff:   MQTT_PAYLOAD_OFF,
	}
	applyAvailability(client, &disConfig, _switch.EntryId)
	return disConfig
}

func GenericNumberToHADiscoveryMessage(client *MQTTClient, number domain.GenericNumber) HADiscoveryConfig {
	dev := device(number.Device)
	topic := client.NumberStateTopic(number.Id)
	cmdTopic := client.NumberCommandTopic(number.Id)
	disConfig := HADiscoveryConfig{
		Device:            dev,
		StateTopic:        topic,
		CommandTopic:      cmdTopic,
		Name:              number.Name,
		UniqueId:          number.UniqueId,
		Icon:              number.Icon,
		UnitOfMeasurement: number.UnitOfMeasurement,
		Platform:          "mqtt",
		Min:               number.Min,
		Max:               number.Max,
		Step:              number.Step,
		Mode:              number.Mode,
		InitialValue:      number.InitialValue,
	}
	applyAvailability(client, &disConfig, number.EntryId)
	return disConfig
}

// applyAvailability sets the availability contract for an entity. Entities
// owned by a config entry track both the bridge state topic and their entry
// availability topic, so a failing entry marks only its own entities
// unavailable without taking down the rest of the bridge.
func applyAvailability(client *MQTTClient, cfg *HADiscoveryConfig, entryId string) {
	if entryId == "" {
		cfg.AvTopic = client.BridgeStateTopic()
		return
	}
	cfg.Availability = []HADiscoveryAvail{
		{Topic: client.BridgeStateTopic()},
		{Topic: client.EntryAvailabilityTopic(entryId)},
	}
	cfg.AvailabilityMode = "all"
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
