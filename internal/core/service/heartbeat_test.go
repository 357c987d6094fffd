package service

import (
	"context"
	"testing"
	"time"

	"github.com/acasal/hearth2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
)

func TestHeartbeatPublishesBridgeState(t *testing.T) {

	assert := assert.New(t)

	stream := &eventstream.EventStream{}
	received := make(chan domain.BridgeStateUpdateEvent, 4)
	sub := stream.Subscribe(func(evt interface{}) {
		if state, ok := evt.(domain.BridgeStateUpdateEvent); ok {
			received <- state
		}
	})
	defer stream.Unsubscribe(sub)

	heartbeat := NewHeartbeat(stream, 50*time.Millisecond, nil)
	assert.NoError(heartbeat.Start(context.Background()))
	defer heartbeat.Stop()

	select {
	case state := <-received:
		assert.True(state.Value)
		assert.Equal(domain.SENSOR_ID_BRIDGE_STATE, state.Id)
	case <-time.After(5 * time.Second):
		t.Fatal("no heartbeat received")
	}
}
