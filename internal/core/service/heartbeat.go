package service

import (
	"context"
	"time"

	"github.com/acasal/hearth2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// Heartbeat republishes the bridge online state on a fixed schedule so
// the retained MQTT birth message survives broker restarts.
type Heartbeat struct {
	scheduler quartz.Scheduler
	stream    *eventstream.EventStream
	interval  time.Duration
	logger    *zap.Logger
}

func NewHeartbeat(stream *eventstream.EventStream, interval time.Duration, logger *zap.Logger) *Heartbeat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heartbeat{
		scheduler: quartz.NewStdScheduler(),
		stream:    stream,
		interval:  interval,
		logger:    logger.Named("heartbeat"),
	}
}

func (h *Heartbeat) Start(ctx context.Context) error {
	h.scheduler.Start(ctx)

	beat := job.NewFunctionJob(func(context.Context) (bool, error) {
		h.logger.Debug("heartbeat tick")
		h.stream.Publish(domain.BridgeStateUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_BRIDGE_STATE},
			Value:                  true,
		})
		return true, nil
	})
	detail := quartz.NewJobDetail(beat, quartz.NewJobKey("bridge_heartbeat"))
	return h.scheduler.ScheduleJob(detail, quartz.NewSimpleTrigger(h.interval))
}

func (h *Heartbeat) Stop() {
	h.scheduler.Stop()
}
