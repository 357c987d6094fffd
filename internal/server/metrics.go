package server

import (
	"net/http"

	"github.com/acasal/hearth2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	SensorUpdates      *prometheus.CounterVec
	Conversations      prometheus.Counter
	ConversationTokens *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		SensorUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_sensor_updates_total",
			Help: "Sensor state updates published to the broker.",
		}, []string{"sensor"}),
		Conversations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hearth_conversations_total",
			Help: "Conversation turns handled by the chat endpoint.",
		}),
		ConversationTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_conversation_tokens_total",
			Help: "Tokens consumed by conversation turns.",
		}, []string{"direction"}),
	}
	registry.MustRegister(m.SensorUpdates, m.Conversations, m.ConversationTokens)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEventStream counts every sensor update flowing through the bus.
func (m *Metrics) ObserveEventStream(stream *eventstream.EventStream) *eventstream.Subscription {
	if stream == nil {
		return nil
	}
	return stream.Subscribe(func(evt interface{}) {
		if update, ok := evt.(domain.SensorUpdateEvent); ok {
			m.SensorUpdates.WithLabelValues(update.SensorId()).Inc()
		}
	})
}

func (m *Metrics) RecordConversation(usage domain.TokenUsage) {
	m.Conversations.Inc()
	m.ConversationTokens.WithLabelValues("input").Add(float64(usage.InputTokens))
	m.ConversationTokens.WithLabelValues("output").Add(float64(usage.OutputTokens))
}
