package port

import (
	"context"
	"time"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
)

type EntitySet struct {
	Sensors  []domain.GenericSensor
	Switches []domain.GenericSwitch
	Numbers  []domain.GenericNumber
}

// Integration is the compile-time contract for all integrations.
type Integration interface {
	Domain() string
	// Setup builds the runtime behind a config entry. Transient
	// connectivity failures must be wrapped in domain.RetryableError,
	// credential failures in domain.AuthError.
	Setup(ctx context.Context, entry domain.ConfigEntry) (EntryRuntime, error)
	FlowHandler() FlowHandler
}

// EntryRuntime is what a set-up config entry exposes to the framework.
type EntryRuntime interface {
	Device() domain.Device
	Entities() EntitySet
	Close() error
}

// Poller is implemented by runtimes that want coordinator polling.
// Fetch errors must be wrapped in domain.UpdateFailedError.
type Poller interface {
	PollInterval() time.Duration
	Fetch(ctx context.Context) ([]domain.SensorUpdateEvent, error)
}

// Converser is implemented by conversation-agent runtimes. The returned
// channel carries the raw vendor stream; it is closed when the stream
// ends or ctx is cancelled.
type Converser interface {
	Stream(ctx context.Context, conversationId string, text string) (<-chan domain.MessageStreamEvent, <-chan error)
}
