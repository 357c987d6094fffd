package server

import (
	"github.com/acasal/hearth2mqtt/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type wsSensorUpdate struct {
	Sensor string `json:"sensor"`
	Kind   string `json:"kind"`
	Value  any    `json:"value"`
}

// EventStreamHandler mirrors the internal event bus over a websocket, one
// JSON message per sensor update.
func (s *Server) EventStreamHandler(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	updates := make(chan wsSensorUpdate, 64)
	sub := s.eventStream.Subscribe(func(evt interface{}) {
		update, ok := toWsSensorUpdate(evt)
		if !ok {
			return
		}
		select {
		case updates <- update:
		default:
			// slow consumer, drop
		}
	})

	// drain reads so close frames are processed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.eventStream.Unsubscribe(sub)
		_ = conn.Close()
	}()

	for {
		select {
		case <-closed:
			return nil
		case update := <-updates:
			if err := conn.WriteJSON(update); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return nil
			}
		}
	}
}

func toWsSensorUpdate(evt interface{}) (wsSensorUpdate, bool) {
	switch e := evt.(type) {
	case domain.FloatSensorUpdateEvent:
		return wsSensorUpdate{Sensor: e.Id, Kind: "float", Value: e.Value}, true
	case domain.BinarySensorUpdateEvent:
		return wsSensorUpdate{Sensor: e.Id, Kind: "binary", Value: e.Value}, true
	case domain.SwitchSensorUpdateEvent:
		return wsSensorUpdate{Sensor: e.Id, Kind: "switch", Value: e.Value}, true
	case domain.NumberSensorUpdateEvent:
		return wsSensorUpdate{Sensor: e.Id, Kind: "number", Value: e.Value}, true
	case domain.TextSensorUpdateEvent:
		return wsSensorUpdate{Sensor: e.Id, Kind: "text", Value: e.Value}, true
	case domain.EntryAvailabilityUpdateEvent:
		return wsSensorUpdate{Sensor: e.EntryId, Kind: "availability", Value: e.Available}, true
	case domain.BridgeStateUpdateEvent:
		return wsSensorUpdate{Sensor: domain.SENSOR_ID_BRIDGE_STATE, Kind: "binary", Value: e.Value}, true
	}
	return wsSensorUpdate{}, false
}
