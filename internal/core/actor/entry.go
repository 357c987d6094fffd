package actor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/acasal/hearth2mqtt/internal/config"
	"github.com/acasal/hearth2mqtt/internal/core/domain"
	"github.com/acasal/hearth2mqtt/internal/core/events"
	"github.com/acasal/hearth2mqtt/internal/core/port"
	"github.com/acasal/hearth2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// EntryStateChanged is sent to the parent every time an entry transitions
// between lifecycle states.
type EntryStateChanged struct {
	EntryId string
	State   domain.EntryState
}

type entryTick struct {
}

type setupResult struct {
	runtime port.EntryRuntime
	err     error
}

type fetchResult struct {
	events  []domain.SensorUpdateEvent
	err     error
	replyTo *actor.PID
}

// EntryActor runs the lifecycle of a single config entry: integration
// setup, periodic refresh with backoff and the command entities exposed
// over MQTT. Setup failures wrapped in domain.RetryableError escalate to
// the supervisor, which restarts the actor with exponential backoff.
// domain.AuthError parks the entry until it is reconfigured.
type EntryActor struct {
	behavior  actor.Behavior
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler

	config      *config.Config
	entry       domain.ConfigEntry
	integration port.Integration
	eventStream *eventstream.EventStream

	runtime   port.EntryRuntime
	poller    port.Poller
	converser port.Converser

	entryState         domain.EntryState
	available          bool
	pollingEnabled     bool
	pollIntervalMillis uint32
	backoffMultiplier  uint32

	logger *zap.Logger
}

func NewEntryActor(config *config.Config, entry domain.ConfigEntry, integration port.Integration,
	eventStream *eventstream.EventStream, logger *zap.Logger) *EntryActor {
	act := &EntryActor{
		config:             config,
		entry:              entry,
		integration:        integration,
		eventStream:        eventStream,
		behavior:           actor.NewBehavior(),
		stash:              &actorutil.Stash{},
		logger:             actorutil.ActorLogger(domain.EntryActorId(entry.Id), logger),
		entryState:         domain.EntryStateNotLoaded,
		pollingEnabled:     true,
		pollIntervalMillis: config.CoordinatorConfig.PollIntervalMillis,
		backoffMultiplier:  1,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *EntryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *EntryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("entry@starting started")

		state.scheduler = scheduler.NewTimerScheduler(ctx)

		integration := state.integration
		entry := state.entry
		actorutil.NewBackgroundTask(ctx, func() (*setupResult, error) {
			c, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			runtime, err := integration.Setup(c, entry)
			return &setupResult{runtime: runtime, err: err}, nil
		}).WithTimeout(35 * time.Second).Recover(func(err error) setupResult {
			return setupResult{err: err}
		}).PipeTo(ctx.Self())

		state.behavior.Become(state.WaitingSetupReceive)
	case *actor.Restarting:
		state.closeRuntime()
	default:
		state.logger.Debug("entry@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *EntryActor) WaitingSetupReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case setupResult:
		if msg.err != nil {
			if domain.IsAuthError(msg.err) {
				// park until reconfigured, no automatic retry
				state.logger.Error("entry@setup auth failed", zap.Error(msg.err))
				state.setState(ctx, domain.EntryStateAuthFailed)
				state.publishAvailability(false)
				state.behavior.Become(state.ParkedReceive)
				state.stash.UnstashAll(ctx)
				return
			}
			// transient failure, let the supervisor restart us with backoff
			state.logger.Error("entry@setup failed, retrying", zap.Error(msg.err))
			state.setState(ctx, domain.EntryStateSetupRetry)
			panic(msg.err)
		}
		state.logger.Debug("entry@setup done")
		state.runtime = msg.runtime
		state.poller, _ = msg.runtime.(port.Poller)
		state.converser, _ = msg.runtime.(port.Converser)
		if state.poller != nil {
			if interval := state.poller.PollInterval(); interval > 0 {
				state.pollIntervalMillis = clampPollMillis(interval)
			}
		}
		state.setState(ctx, domain.EntryStateLoaded)
		state.publishAvailability(true)
		state.publishControlState()
		if state.poller != nil && state.pollingEnabled {
			ctx.Send(ctx.Self(), entryTick{})
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.closeRuntime()
	default:
		state.logger.Debug("entry@setup stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *EntryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.closeRuntime()
	case *actor.Stopping:
		state.publishAvailability(false)
		state.closeRuntime()
	case domain.ActorHealthRequest:
		state.logger.Debug("entry@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.EntryActorId(state.entry.Id),
			Healthy: true,
			State:   string(state.entryState),
		})
	case entryTick:
		state.logger.Debug("entry@default tick")
		if state.poller == nil || !state.pollingEnabled {
			return
		}
		state.startFetch(ctx, nil)
	case domain.RefreshRequest:
		state.logger.Debug("entry@default RefreshRequest")
		if state.poller == nil {
			actorutil.ForRequest(msg).Respond(ctx, domain.RefreshResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: errors.New("entry does not poll"),
				},
			})
			return
		}
		state.startFetch(ctx, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.GetEntitiesRequest:
		state.logger.Debug("entry@default GetEntitiesRequest")
		actorutil.ForRequest(msg).Respond(ctx, state.entitiesResponse())
	case domain.SetPollingRequest:
		state.logger.Debug("entry@default SetPollingRequest", zap.Bool("enable", msg.Enable))
		changed := state.pollingEnabled != msg.Enable
		state.pollingEnabled = msg.Enable
		state.eventStream.Publish(domain.SwitchSensorUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: fmt.Sprintf("%s_polling", state.entry.Id)},
			Value:                  msg.Enable,
		})
		if changed && msg.Enable && state.poller != nil {
			ctx.Send(ctx.Self(), entryTick{})
		}
		if ctx.Sender() != nil || msg.ReplyToRef != nil {
			actorutil.ForRequest(msg).Respond(ctx, domain.SetPollingResponse{Changed: changed})
		}
	case domain.SetPollIntervalRequest:
		state.logger.Debug("entry@default SetPollIntervalRequest", zap.Uint32("interval", msg.IntervalMillis))
		if msg.IntervalMillis >= 1000 {
			state.pollIntervalMillis = msg.IntervalMillis
			state.eventStream.Publish(domain.NumberSensorUpdateEvent{
				SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: fmt.Sprintf("%s_poll_interval", state.entry.Id)},
				Value:                  float64(msg.IntervalMillis) / 1000,
			})
		}
		if ctx.Sender() != nil || msg.ReplyToRef != nil {
			actorutil.ForRequest(msg).Respond(ctx, domain.SetPollIntervalResponse{IntervalMillis: state.pollIntervalMillis})
		}
	case domain.ConverseRequest:
		state.logger.Debug("entry@default ConverseRequest", zap.String("conversation", msg.ConversationId))
		state.startConversation(ctx, msg)
	case converseResult:
		state.finishConversation(ctx, msg)
	default:
		state.logger.Debug("entry@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *EntryActor) FetchingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case fetchResult:
		if msg.err != nil {
			state.logger.Error("entry@fetching refresh failed", zap.Error(msg.err))
		} else {
			state.logger.Debug("entry@fetching refresh done", zap.Int("events", len(msg.events)))
			for _, ev := range msg.events {
				state.eventStream.Publish(ev)
			}
		}
		interval := state.applyFetchOutcome(msg.err)
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, domain.RefreshResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.err,
				},
			})
		}
		if state.pollingEnabled {
			state.scheduler.RequestOnce(interval, ctx.Self(), entryTick{})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("entry@fetching stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// ParkedReceive is the terminal state after an auth failure. The entry
// answers requests with errors until it is removed or reconfigured.
func (state *EntryActor) ParkedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.EntryActorId(state.entry.Id),
			Healthy: false,
			State:   string(domain.EntryStateAuthFailed),
		})
	case domain.GetEntitiesRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.GetEntitiesResponse{EntryId: state.entry.Id})
	case domain.RefreshRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.RefreshResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: errors.New("entry auth failed"),
			},
		})
	case domain.ConverseRequest:
		if msg.Deltas != nil {
			close(msg.Deltas)
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.ConverseResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: errors.New("entry auth failed"),
			},
		})
	default:
		state.logger.Debug("entry@parked drop", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *EntryActor) startFetch(ctx actor.Context, replyTo *actor.PID) {
	poller := state.poller
	actorutil.NewBackgroundTask(ctx, func() (*fetchResult, error) {
		c, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		evs, err := poller.Fetch(c)
		return &fetchResult{events: evs, err: err, replyTo: replyTo}, nil
	}).WithTimeout(25 * time.Second).Recover(func(err error) fetchResult {
		return fetchResult{err: err, replyTo: replyTo}
	}).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.FetchingReceive)
}

// applyFetchOutcome updates availability and the backoff multiplier after
// a refresh and returns the delay until the next poll. A failure marks the
// entry's entities unavailable and doubles the multiplier up to the
// configured cap; a success restores availability and the base interval.
func (state *EntryActor) applyFetchOutcome(err error) time.Duration {
	if err != nil {
		state.publishAvailability(false)
		state.backoffMultiplier = state.backoffMultiplier * 2
		if max := state.config.CoordinatorConfig.MaxBackoffMultiplier; state.backoffMultiplier > max {
			state.backoffMultiplier = max
		}
	} else {
		state.publishAvailability(true)
		state.backoffMultiplier = 1
	}
	return time.Duration(uint64(state.pollIntervalMillis)*uint64(state.backoffMultiplier)) * time.Millisecond
}

// clampPollMillis keeps integration-supplied intervals inside the uint32
// millisecond range instead of wrapping around.
func clampPollMillis(interval time.Duration) uint32 {
	millis := interval.Milliseconds()
	if millis > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(millis)
}

func (state *EntryActor) entitiesResponse() domain.GetEntitiesResponse {
	set := state.runtime.Entities()
	resp := domain.GetEntitiesResponse{
		EntryId:  state.entry.Id,
		Sensors:  set.Sensors,
		Switches: set.Switches,
		Numbers:  set.Numbers,
	}
	if state.poller != nil {
		device := domain.IdDevice(state.runtime.Device())
		resp.Switches = append(resp.Switches, events.EntryControlSwitches(device, state.entry.Id)...)
		resp.Numbers = append(resp.Numbers, events.EntryControlNumbers(device, state.entry.Id,
			float64(state.pollIntervalMillis)/1000)...)
	}
	return resp
}

func (state *EntryActor) publishControlState() {
	if state.poller == nil {
		return
	}
	state.eventStream.Publish(domain.SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: fmt.Sprintf("%s_polling", state.entry.Id)},
		Value:                  state.pollingEnabled,
	})
	state.eventStream.Publish(domain.NumberSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: fmt.Sprintf("%s_poll_interval", state.entry.Id)},
		Value:                  float64(state.pollIntervalMillis) / 1000,
	})
}

func (state *EntryActor) publishAvailability(available bool) {
	if state.available == available {
		return
	}
	state.available = available
	state.eventStream.Publish(domain.EntryAvailabilityUpdateEvent{
		EntryId:   state.entry.Id,
		Available: available,
	})
}

func (state *EntryActor) setState(ctx actor.Context, entryState domain.EntryState) {
	state.entryState = entryState
	if ctx.Parent() != nil {
		ctx.Send(ctx.Parent(), EntryStateChanged{
			EntryId: state.entry.Id,
			State:   entryState,
		})
	}
}

func (state *EntryActor) closeRuntime() {
	if state.runtime != nil {
		if err := state.runtime.Close(); err != nil {
			state.logger.Warn("entry: runtime close", zap.Error(err))
		}
		state.runtime = nil
		state.poller = nil
		state.converser = nil
	}
}
