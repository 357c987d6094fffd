package util

import (
	"github.com/acasal/hearth2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "hearth",
		},
		CoordinatorConfig: config.CoordinatorConfig{
			PollIntervalMillis:   5000,
			MaxBackoffMultiplier: 10,
		},
		HeartbeatIntervalSeconds: 30,
		Port:                     8080,
	}
}
