package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/acasal/hearth2mqtt/internal/config"
	"github.com/acasal/hearth2mqtt/internal/core/domain"
	"github.com/acasal/hearth2mqtt/internal/core/events"
	"github.com/acasal/hearth2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// RunDiscovery restarts the discovery cycle, typically after an entry was
// added or reloaded. EntryActors replaces the set known to the actor.
type RunDiscovery struct {
	EntryActors map[string]*actor.PID
}

// HADiscoveryActor waits for the MQTT child and every entry actor to come
// up, collects their entities and publishes the Home Assistant discovery
// payloads.
type HADiscoveryActor struct {
	config      *config.Config
	behavior    actor.Behavior
	stash       *actorutil.Stash
	mqttActor   *actor.PID
	entryActors map[string]*actor.PID

	mqttActorHealthy bool
	healthyEntries   []*actor.PID
	healthyRecv      int
	entitiesRecv     int

	sensors  []domain.GenericSensor
	switches []domain.GenericSwitch
	numbers  []domain.GenericNumber

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, entryActors map[string]*actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		mqttActor:   mqttActor,
		entryActors: entryActors,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		state.beginDiscovery(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) beginDiscovery(ctx actor.Context) {
	// Check MQTT and entry actors healthy
	state.healthyRecv = 0
	state.mqttActorHealthy = false
	state.healthyEntries = nil
	state.entitiesRecv = 0
	state.sensors = nil
	state.switches = nil
	state.numbers = nil

	// MQTT Actor Request
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
		}
	})
	// Entry Actor Requests
	for entryId, pid := range state.entryActors {
		id := entryId
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.EntryActorId(id),
				Healthy: false,
			}
		})
	}
	state.behavior.Become(state.WaitingHealthyReceive)
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Id == domain.ACTOR_ID_MQTT {
			state.mqttActorHealthy = msg.Healthy
		} else if msg.Healthy {
			if pid := state.entryPIDForActorId(msg.Id); pid != nil {
				state.healthyEntries = append(state.healthyEntries, pid)
			}
		}
		if state.healthyRecv == 1+len(state.entryActors) {

			if !state.mqttActorHealthy {
				panic(errors.New("MQTT actor is not healthy"))
			}

			// bridge entities are always published
			bridgeDevice := events.BridgeDevice(state.config.MQTT.BaseTopic)
			state.sensors = append(state.sensors, events.BridgeSensors(bridgeDevice)...)

			if len(state.healthyEntries) == 0 {
				state.publishDiscovery(ctx)
				return
			}
			for _, pid := range state.healthyEntries {
				actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.GetEntitiesRequest{}, 5*time.Second), func(err error) any {
					return domain.GetEntitiesResponse{
						ActorResponseMixIn: domain.ActorResponseMixIn{
							ResponseError: err,
						},
					}
				})
			}
			state.behavior.Become(state.WaitingEntitiesReceive)
			state.stash.UnstashAll(ctx)
		}
	case RunDiscovery:
		state.entryActors = msg.EntryActors
		state.beginDiscovery(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingEntitiesReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetEntitiesResponse:
		state.entitiesRecv++
		if msg.HasResponseError() {
			state.logger.Error("hadiscovery@entities GetEntitiesResponse error", zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Debug("hadiscovery@entities GetEntitiesResponse", zap.String("entry", msg.EntryId))
			state.sensors = append(state.sensors, msg.Sensors...)
			state.switches = append(state.switches, msg.Switches...)
			state.numbers = append(state.numbers, msg.Numbers...)
		}
		if state.entitiesRecv == len(state.healthyEntries) {
			state.publishDiscovery(ctx)
		}
	case RunDiscovery:
		state.entryActors = msg.EntryActors
		state.beginDiscovery(ctx)
	default:
		state.logger.Debug("hadiscovery@entities: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) publishDiscovery(ctx actor.Context) {
	state.logger.Debug("hadiscovery: publishing",
		zap.Int("sensors", len(state.sensors)),
		zap.Int("switches", len(state.switches)),
		zap.Int("numbers", len(state.numbers)))
	ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors:  state.sensors,
		Switches: state.switches,
		Numbers:  state.numbers,
	})
	state.behavior.Become(state.Done)
	state.stash.UnstashAll(ctx)
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case RunDiscovery:
		state.logger.Debug("hadiscovery@done: rerun")
		state.entryActors = msg.EntryActors
		state.beginDiscovery(ctx)
	default:
		state.logger.Debug("hadiscovery@done: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) entryPIDForActorId(actorId string) *actor.PID {
	for entryId, pid := range state.entryActors {
		if domain.EntryActorId(entryId) == actorId {
			return pid
		}
	}
	return nil
}
