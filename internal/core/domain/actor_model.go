package domain

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
	ACTOR_ID_ENTRY_PREFIX = "entry_"
)

// Entry lifecycle

type ListEntriesRequest struct {
	ActorRequestMixIn
}

type EntrySnapshot struct {
	Entry ConfigEntry
	State EntryState
}

type ListEntriesResponse struct {
	ActorResponseMixIn
	Entries []EntrySnapshot
}

type AddEntryRequest struct {
	ActorRequestMixIn
	Entry ConfigEntry
}

type AddEntryResponse struct {
	ActorResponseMixIn
}

type RemoveEntryRequest struct {
	ActorRequestMixIn
	EntryId string
}

type RemoveEntryResponse struct {
	ActorResponseMixIn
	Removed bool
}

type ReloadEntryRequest struct {
	ActorRequestMixIn
	EntryId string
}

type ReloadEntryResponse struct {
	ActorResponseMixIn
}

// EntryCommandRequest wraps a request addressed to one entry actor. The
// master forwards Request to the child, preserving the original sender.
type EntryCommandRequest struct {
	ActorRequestMixIn
	EntryId string
	Request ActorRequest
}

type EntryNotFoundResponse struct {
	ActorResponseMixIn
	EntryId string
}

// Coordinator

type RefreshRequest struct {
	ActorRequestMixIn
}

type RefreshResponse struct {
	ActorResponseMixIn
}

type GetEntitiesRequest struct {
	ActorRequestMixIn
}

type GetEntitiesResponse struct {
	ActorResponseMixIn
	EntryId  string
	Sensors  []GenericSensor
	Switches []GenericSwitch
	Numbers  []GenericNumber
}

type SetPollingRequest struct {
	ActorRequestMixIn
	Enable bool
}

type SetPollingResponse struct {
	ActorResponseMixIn
	Changed bool
}

type SetPollIntervalRequest struct {
	ActorRequestMixIn
	IntervalMillis uint32
}

type SetPollIntervalResponse struct {
	ActorResponseMixIn
	IntervalMillis uint32
}

// Conversation

type ConverseRequest struct {
	ActorRequestMixIn
	ConversationId string
	Text           string
	// Deltas, when non-nil, receives every assistant delta as it is
	// produced. The channel is closed when the stream ends.
	Deltas chan<- AssistantDelta
}

type ConverseResponse struct {
	ActorResponseMixIn
	ConversationId string
	Text           string
	ToolCalls      []ToolCallDelta
	Usage          TokenUsage
}

// MQTT

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors  []GenericSensor
	Switches []GenericSwitch
	Numbers  []GenericNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// Health

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// EntryActorId builds the child actor name for a config entry.
func EntryActorId(entryId string) string {
	return ACTOR_ID_ENTRY_PREFIX + entryId
}
