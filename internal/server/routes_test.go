package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
	"github.com/acasal/hearth2mqtt/internal/core/port"
	"github.com/acasal/hearth2mqtt/internal/core/service"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
)

// stubMaster answers like a healthy master with one loaded entry "e1".
type stubMaster struct {
}

func (a *stubMaster) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: true})
	case domain.ListEntriesRequest:
		ctx.Respond(domain.ListEntriesResponse{Entries: []domain.EntrySnapshot{
			{
				Entry: domain.ConfigEntry{Id: "e1", Domain: "fake", Title: "Test entry"},
				State: domain.EntryStateLoaded,
			},
		}})
	case domain.EntryCommandRequest:
		converse, ok := msg.Request.(domain.ConverseRequest)
		if !ok {
			return
		}
		if msg.EntryId != "e1" {
			close(converse.Deltas)
			ctx.Respond(domain.EntryNotFoundResponse{EntryId: msg.EntryId})
			return
		}
		converse.Deltas <- domain.RoleDelta{}
		converse.Deltas <- domain.TextDelta{Text: "Hello!"}
		close(converse.Deltas)
		ctx.Respond(domain.ConverseResponse{
			ConversationId: converse.ConversationId,
			Text:           "Hello!",
			Usage:          domain.TokenUsage{InputTokens: 3, OutputTokens: 5},
		})
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *actor.ActorSystem) {
	t.Helper()

	as := actor.NewActorSystem()
	pid, err := as.Root.SpawnNamed(actor.PropsFromProducer(func() actor.Actor {
		return &stubMaster{}
	}), domain.ACTOR_ID_MASTER)
	if err != nil {
		t.Fatal(err)
	}

	store := service.NewEntryStore(filepath.Join(t.TempDir(), "entries.json"))
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}

	stream := &eventstream.EventStream{}
	metrics := NewMetrics()
	metrics.ObserveEventStream(stream)

	srv := &Server{
		rootContext: as.Root,
		masterActor: pid,
		flows:       service.NewFlowManager(map[string]port.FlowHandler{}, store, nil),
		eventStream: stream,
		metrics:     metrics,
	}
	return httptest.NewServer(srv.RegisterRoutes()), as
}

func TestHealthCheckRoute(t *testing.T) {

	assert := assert.New(t)

	server, as := newTestServer(t)
	defer server.Close()
	defer as.Shutdown()

	resp, err := http.Get(server.URL + "/healthcheck")
	assert.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal("health_check: OK", string(body))
}

func TestListEntriesRoute(t *testing.T) {

	assert := assert.New(t)

	server, as := newTestServer(t)
	defer server.Close()
	defer as.Shutdown()

	resp, err := http.Get(server.URL + "/api/entries")
	assert.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	var entries []entryView
	assert.NoError(json.NewDecoder(resp.Body).Decode(&entries))
	assert.Len(entries, 1)
	assert.Equal("e1", entries[0].Id)
	assert.Equal("loaded", entries[0].State)
}

func TestChatRouteStreamsDeltas(t *testing.T) {

	assert := assert.New(t)

	server, as := newTestServer(t)
	defer server.Close()
	defer as.Shutdown()

	resp, err := http.Post(server.URL+"/api/chat/e1", "application/json",
		strings.NewReader(`{"conversation_id":"c1","text":"hi"}`))
	assert.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("text/event-stream", resp.Header.Get("Content-Type"))

	body, _ := io.ReadAll(resp.Body)
	stream := string(body)
	assert.Contains(stream, "event: role")
	assert.Contains(stream, "event: text")
	assert.Contains(stream, `{"text":"Hello!"}`)
	assert.Contains(stream, "event: done")
	assert.Contains(stream, `"conversation_id":"c1"`)
}

func TestChatRouteUnknownEntry(t *testing.T) {

	assert := assert.New(t)

	server, as := newTestServer(t)
	defer server.Close()
	defer as.Shutdown()

	resp, err := http.Post(server.URL+"/api/chat/nope", "application/json",
		strings.NewReader(`{"text":"hi"}`))
	assert.NoError(err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(string(body), "event: error")
	assert.Contains(string(body), "unknown entry")
}

func TestStartFlowUnknownIntegration(t *testing.T) {

	assert := assert.New(t)

	server, as := newTestServer(t)
	defer server.Close()
	defer as.Shutdown()

	resp, err := http.Post(server.URL+"/api/flows", "application/json",
		strings.NewReader(`{"domain":"nope"}`))
	assert.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusNotFound, resp.StatusCode)
}
