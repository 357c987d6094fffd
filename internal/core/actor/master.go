package actor

import (
	"fmt"
	"log"
	"time"

	adactor "github.com/acasal/hearth2mqtt/internal/adapter/actor"
	"github.com/acasal/hearth2mqtt/internal/config"
	"github.com/acasal/hearth2mqtt/internal/core/domain"
	"github.com/acasal/hearth2mqtt/internal/core/port"
	"github.com/acasal/hearth2mqtt/internal/core/service"
	"github.com/acasal/hearth2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// MasterActor supervises the bridge: one MQTT child, one child per config
// entry and the discovery child. It owns entry lifecycle (add, remove,
// reload) and routes inbound MQTT commands to the entry they address.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	store              *service.EntryStore
	integrations       map[string]port.Integration
	mqttActor          *actor.PID
	discoveryActor     *actor.PID
	entryActors        map[string]*actor.PID
	entryStates        map[string]domain.EntryState
	pendingReload      map[string]bool
	mqttActorProvider  MQTTActorProvider
	logger             *zap.Logger
}

type healthCheckResult struct {
	expected  int
	received  int
	healthy   int
	respondTo *actor.PID
}

func NewMasterActor(config config.Config, store *service.EntryStore, integrations map[string]port.Integration,
	eventStream *eventstream.EventStream, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterActor {
	if eventStream == nil {
		eventStream = &eventstream.EventStream{}
	}
	act := &MasterActor{
		config:            config,
		behavior:          actor.NewBehavior(),
		stash:             &actorutil.Stash{},
		logger:            actorutil.ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:       eventStream,
		store:             store,
		integrations:      integrations,
		entryActors:       map[string]*actor.PID{},
		entryStates:       map[string]domain.EntryState{},
		pendingReload:     map[string]bool{},
		mqttActorProvider: mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start one child per known entry
		for _, entry := range state.knownEntries() {
			if _, err := state.startEntryActor(ctx, entry); err != nil {
				state.logger.Error("master@starting could not start entry", zap.String("entry", entry.Id), zap.Error(err))
			}
		}

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			discoveryPID, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
			state.discoveryActor = discoveryPID
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck = healthCheckResult{
			expected:  1 + len(state.entryActors),
			respondTo: actorutil.ForRequest(msg).ReplyTo(ctx),
		}
		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		// Entry Actor Requests
		for entryId, pid := range state.entryActors {
			id := entryId
			actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      domain.EntryActorId(id),
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		// redirect parsed command to the entry actor it addresses
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			entryId, cmd, err := actorutil.ParsedMQTTCommandToCommand(*msg.Command)
			if err == nil && cmd != nil {
				if pid, ok := state.entryActors[entryId]; ok {
					ctx.Send(pid, cmd)
				}
			}
		}
	case EntryStateChanged:
		state.logger.Debug("master@default EntryStateChanged", zap.String("entry", msg.EntryId), zap.String("state", string(msg.State)))
		state.entryStates[msg.EntryId] = msg.State
	case domain.ListEntriesRequest:
		state.logger.Debug("master@default ListEntriesRequest")
		var snapshots []domain.EntrySnapshot
		for _, entry := range state.knownEntries() {
			entryState, ok := state.entryStates[entry.Id]
			if !ok {
				entryState = domain.EntryStateNotLoaded
			}
			snapshots = append(snapshots, domain.EntrySnapshot{
				Entry: entry,
				State: entryState,
			})
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.ListEntriesResponse{Entries: snapshots})
	case domain.AddEntryRequest:
		state.logger.Debug("master@default AddEntryRequest", zap.String("entry", msg.Entry.Id))
		_, err := state.startEntryActor(ctx, msg.Entry)
		if err == nil {
			state.triggerDiscovery(ctx)
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.AddEntryResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		})
	case domain.RemoveEntryRequest:
		state.logger.Debug("master@default RemoveEntryRequest", zap.String("entry", msg.EntryId))
		removed := false
		if pid, ok := state.entryActors[msg.EntryId]; ok {
			ctx.Stop(pid)
			delete(state.entryActors, msg.EntryId)
			delete(state.entryStates, msg.EntryId)
			removed = true
		}
		storeRemoved, err := state.store.Remove(msg.EntryId)
		if err != nil {
			state.logger.Error("master@default entry store remove", zap.Error(err))
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.RemoveEntryResponse{Removed: removed || storeRemoved})
	case domain.ReloadEntryRequest:
		state.logger.Debug("master@default ReloadEntryRequest", zap.String("entry", msg.EntryId))
		pid, ok := state.entryActors[msg.EntryId]
		if !ok {
			actorutil.ForRequest(msg).Respond(ctx, domain.ReloadEntryResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: fmt.Errorf("unknown entry: %s", msg.EntryId),
				},
			})
			return
		}
		state.pendingReload[msg.EntryId] = true
		ctx.Stop(pid)
		actorutil.ForRequest(msg).Respond(ctx, domain.ReloadEntryResponse{})
	case domain.EntryCommandRequest:
		state.logger.Debug("master@default EntryCommandRequest", zap.String("entry", msg.EntryId))
		pid, ok := state.entryActors[msg.EntryId]
		if !ok {
			if converse, isConverse := msg.Request.(domain.ConverseRequest); isConverse && converse.Deltas != nil {
				close(converse.Deltas)
			}
			actorutil.ForRequest(msg).Respond(ctx, domain.EntryNotFoundResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: fmt.Errorf("unknown entry: %s", msg.EntryId),
				},
				EntryId: msg.EntryId,
			})
			return
		}
		ctx.RequestWithCustomSender(pid, msg.Request, actorutil.ForRequest(msg).ReplyTo(ctx))
	case *actor.Terminated:
		entryId := state.entryIdForPID(msg.Who)
		if entryId != "" && state.pendingReload[entryId] {
			delete(state.pendingReload, entryId)
			delete(state.entryActors, entryId)
			if entry, ok := state.entryById(entryId); ok {
				if _, err := state.startEntryActor(ctx, entry); err != nil {
					state.logger.Error("master@default entry reload failed", zap.String("entry", entryId), zap.Error(err))
				} else {
					state.triggerDiscovery(ctx)
				}
			}
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		ctx.CancelReceiveTimeout()
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.received++
		if msg.Healthy {
			state.currentHealthCheck.healthy++
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)

			ctx.CancelReceiveTimeout()
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterActor) startEntryActor(ctx actor.Context, entry domain.ConfigEntry) (*actor.PID, error) {

	integration, ok := state.integrations[entry.Domain]
	if !ok {
		return nil, fmt.Errorf("unknown integration domain: %s", entry.Domain)
	}

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Minute, 5*time.Second)

	entryProps := actor.PropsFromProducer(func() actor.Actor {
		return NewEntryActor(&state.config, entry, integration, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	entryActorPID, err := ctx.SpawnNamed(entryProps, domain.EntryActorId(entry.Id))
	if err != nil {
		return nil, err
	}

	ctx.Watch(entryActorPID)
	state.entryActors[entry.Id] = entryActorPID
	state.entryStates[entry.Id] = domain.EntryStateNotLoaded

	return entryActorPID, nil
}

func (state *MasterActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.mqttActor, state.entryActorPIDs(), state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *MasterActor) triggerDiscovery(ctx actor.Context) {
	if state.discoveryActor != nil {
		ctx.Send(state.discoveryActor, RunDiscovery{EntryActors: state.entryActorPIDs()})
	}
}

func (state *MasterActor) entryActorPIDs() map[string]*actor.PID {
	pids := make(map[string]*actor.PID, len(state.entryActors))
	for id, pid := range state.entryActors {
		pids[id] = pid
	}
	return pids
}

// knownEntries merges static config entries with those persisted by the
// config flow store. Store entries win on id collision.
func (state *MasterActor) knownEntries() []domain.ConfigEntry {
	stored := state.store.All()
	storedIds := map[string]bool{}
	for _, entry := range stored {
		storedIds[entry.Id] = true
	}
	var entries []domain.ConfigEntry
	for _, entry := range state.config.Entries {
		if !storedIds[entry.Id] {
			entries = append(entries, entry)
		}
	}
	entries = append(entries, stored...)
	return entries
}

func (state *MasterActor) entryById(entryId string) (domain.ConfigEntry, bool) {
	for _, entry := range state.knownEntries() {
		if entry.Id == entryId {
			return entry, true
		}
	}
	return domain.ConfigEntry{}, false
}

func (state *MasterActor) entryIdForPID(pid *actor.PID) string {
	for id, known := range state.entryActors {
		if known.Id == pid.Id {
			return id
		}
	}
	return ""
}

func (state *healthCheckResult) allReceived() bool {
	return state.received == state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	return state.healthy == state.expected
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
