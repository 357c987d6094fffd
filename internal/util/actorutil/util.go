package actorutil

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
	"github.com/acasal/hearth2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps an inbound MQTT command onto the entry
// it belongs to. Switch ids look like "<entry>_polling", number ids like
// "<entry>_poll_interval".
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (string, domain.ActorRequest, error) {
	switch {
	case cmd.Command == "switch" && strings.HasSuffix(cmd.DeviceId, mqtt.SWITCH_SUFFIX_POLLING):
		entryId := strings.TrimSuffix(cmd.DeviceId, mqtt.SWITCH_SUFFIX_POLLING)
		return entryId, domain.SetPollingRequest{
			Enable: cmd.Payload == mqtt.MQTT_PAYLOAD_ON,
		}, nil
	case cmd.Command == "number" && strings.HasSuffix(cmd.DeviceId, mqtt.NUMBER_SUFFIX_POLL_INTERVAL):
		entryId := strings.TrimSuffix(cmd.DeviceId, mqtt.NUMBER_SUFFIX_POLL_INTERVAL)
		value, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil || value < 1 {
			return "", nil, err
		}
		return entryId, domain.SetPollIntervalRequest{
			IntervalMillis: uint32(value * 1000),
		}, nil
	}
	return "", nil, nil
}
