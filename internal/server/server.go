package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/acasal/hearth2mqtt/internal/config"
	"github.com/acasal/hearth2mqtt/internal/core/service"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

type Server struct {
	port        uint
	httpLog     bool
	rootContext *actor.RootContext
	masterActor *actor.PID
	flows       *service.FlowManager
	eventStream *eventstream.EventStream
	metrics     *Metrics
	logger      *zap.Logger
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID,
	flows *service.FlowManager, eventStream *eventstream.EventStream, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := NewMetrics()
	metrics.ObserveEventStream(eventStream)

	NewServer := &Server{
		port:        cfg.Port,
		rootContext: rootContext,
		masterActor: masterActor,
		flows:       flows,
		eventStream: eventStream,
		metrics:     metrics,
		httpLog:     cfg.HttpLog,
		logger:      logger.Named("http"),
	}

	// Declare Server config. WriteTimeout has to cover a full streamed
	// conversation turn.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	return server
}
