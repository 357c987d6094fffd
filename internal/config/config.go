package config

import (
	"errors"
	"regexp"
	"strings"

	"github.com/acasal/hearth2mqtt/internal/core/domain"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	MQTT     MQTTConfig `mapstructure:"mqtt"`

	CoordinatorConfig CoordinatorConfig    `mapstructure:"coordinator"`
	Entries           []domain.ConfigEntry `mapstructure:"entries"`
	StorePath         string               `mapstructure:"store_path"`

	HeartbeatIntervalSeconds uint32 `mapstructure:"heartbeat_interval_seconds"`
	Port                     uint   `mapstructure:"port"`
	HttpLog                  bool   `mapstructure:"http_log"`
}

type CoordinatorConfig struct {
	PollIntervalMillis   uint32 `mapstructure:"poll_interval_millis"`
	MaxBackoffMultiplier uint32 `mapstructure:"max_backoff_multiplier"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// Validate applies the bounds checks that do not depend on any
// integration. Per-entry data is validated by each integration's setup.
func (c *Config) Validate() error {
	if c.CoordinatorConfig.PollIntervalMillis < 1000 {
		return errors.New("config param coordinator.poll_interval_millis should be >= 1000")
	}
	if c.CoordinatorConfig.MaxBackoffMultiplier < 1 {
		return errors.New("config param coordinator.max_backoff_multiplier should be >= 1")
	}
	if c.HeartbeatIntervalSeconds < 5 {
		return errors.New("config param heartbeat_interval_seconds should be >= 5")
	}
	seen := map[string]bool{}
	for _, e := range c.Entries {
		if e.Id == "" || e.Domain == "" {
			return errors.New("config entries require both id and domain")
		}
		if seen[e.Id] {
			return errors.New("duplicate config entry id: " + e.Id)
		}
		seen[e.Id] = true
	}
	return nil
}
