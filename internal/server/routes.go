package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
	"github.com/acasal/hearth2mqtt/internal/core/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	requestTimeout      = 10 * time.Second
	conversationTimeout = 5 * time.Minute
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	e.GET("/ws", s.EventStreamHandler)

	api := e.Group("/api")
	api.GET("/entries", s.ListEntriesHandler)
	api.DELETE("/entries/:id", s.RemoveEntryHandler)
	api.POST("/entries/:id/reload", s.ReloadEntryHandler)
	api.POST("/entries/:id/refresh", s.RefreshEntryHandler)
	api.GET("/flows", s.ListFlowsHandler)
	api.POST("/flows", s.StartFlowHandler)
	api.POST("/flows/:id", s.SubmitFlowHandler)
	api.POST("/chat/:id", s.ChatHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, requestTimeout).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

type entryView struct {
	Id     string `json:"id"`
	Domain string `json:"domain"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

func (s *Server) ListEntriesHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ListEntriesRequest{}, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorView{Error: err.Error()})
	}
	response, ok := res.(domain.ListEntriesResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorView{Error: "unexpected response"})
	}
	views := make([]entryView, 0, len(response.Entries))
	for _, snap := range response.Entries {
		views = append(views, entryView{
			Id:     snap.Entry.Id,
			Domain: snap.Entry.Domain,
			Title:  snap.Entry.Title,
			State:  string(snap.State),
		})
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) RemoveEntryHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.RemoveEntryRequest{
		EntryId: c.Param("id"),
	}, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorView{Error: err.Error()})
	}
	if response, ok := res.(domain.RemoveEntryResponse); ok && response.Removed {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusNotFound, errorView{Error: "unknown entry"})
}

func (s *Server) ReloadEntryHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ReloadEntryRequest{
		EntryId: c.Param("id"),
	}, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorView{Error: err.Error()})
	}
	if response, ok := res.(domain.ReloadEntryResponse); ok && !response.HasResponseError() {
		return c.NoContent(http.StatusAccepted)
	}
	return c.JSON(http.StatusNotFound, errorView{Error: "unknown entry"})
}

func (s *Server) RefreshEntryHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.EntryCommandRequest{
		EntryId: c.Param("id"),
		Request: domain.RefreshRequest{},
	}, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorView{Error: err.Error()})
	}
	switch response := res.(type) {
	case domain.RefreshResponse:
		if response.HasResponseError() {
			return c.JSON(http.StatusConflict, errorView{Error: response.GetResponseError().Error()})
		}
		return c.NoContent(http.StatusAccepted)
	case domain.EntryNotFoundResponse:
		return c.JSON(http.StatusNotFound, errorView{Error: "unknown entry"})
	}
	return c.JSON(http.StatusInternalServerError, errorView{Error: "unexpected response"})
}

// Config flows

type startFlowRequest struct {
	Domain string `json:"domain"`
}

type flowView struct {
	FlowId      string            `json:"flow_id"`
	Domain      string            `json:"domain"`
	Type        string            `json:"type"`
	StepId      string            `json:"step_id,omitempty"`
	Schema      []flowField       `json:"schema,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
	EntryId     string            `json:"entry_id,omitempty"`
	AbortReason string            `json:"abort_reason,omitempty"`
}

type flowField struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

type errorView struct {
	Error string `json:"error"`
}

func (s *Server) ListFlowsHandler(c echo.Context) error {
	views := s.flows.InProgress()
	out := make([]flowView, 0, len(views))
	for _, v := range views {
		out = append(out, toFlowView(v))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) StartFlowHandler(c echo.Context) error {
	var req startFlowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorView{Error: "invalid request"})
	}
	view, err := s.flows.Start(c.Request().Context(), req.Domain)
	if err != nil {
		if err == service.ErrUnknownIntegration {
			return c.JSON(http.StatusNotFound, errorView{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, errorView{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, toFlowView(view))
}

func (s *Server) SubmitFlowHandler(c echo.Context) error {
	var input map[string]any
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, errorView{Error: "invalid request"})
	}
	view, err := s.flows.Submit(c.Request().Context(), c.Param("id"), input)
	if err != nil {
		if err == service.ErrUnknownFlow {
			return c.JSON(http.StatusNotFound, errorView{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, errorView{Error: err.Error()})
	}
	if view.Type == service.FlowTypeCreateEntry && view.Entry != nil {
		// the stored entry needs a running actor behind it
		res, err := s.rootContext.RequestFuture(s.masterActor, domain.AddEntryRequest{
			Entry: *view.Entry,
		}, requestTimeout).Result()
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, errorView{Error: err.Error()})
		}
		if response, ok := res.(domain.AddEntryResponse); ok && response.HasResponseError() {
			return c.JSON(http.StatusConflict, errorView{Error: response.GetResponseError().Error()})
		}
	}
	return c.JSON(http.StatusOK, toFlowView(view))
}

func toFlowView(v service.FlowView) flowView {
	out := flowView{
		FlowId:      v.FlowId,
		Domain:      v.Domain,
		Type:        v.Type,
		AbortReason: v.AbortReason,
	}
	if v.Form != nil {
		out.StepId = v.Form.StepId
		out.Errors = v.Form.Errors
		for _, f := range v.Form.Schema {
			out.Schema = append(out.Schema, flowField{
				Name:     f.Name,
				Kind:     f.Kind,
				Required: f.Required,
				Default:  f.Default,
			})
		}
	}
	if v.Entry != nil {
		out.EntryId = v.Entry.Id
	}
	return out
}

// Conversation

type chatRequest struct {
	ConversationId string `json:"conversation_id"`
	Text           string `json:"text"`
}

type chatResult struct {
	ConversationId string            `json:"conversation_id"`
	Text           string            `json:"text"`
	ToolCalls      []toolCallView    `json:"tool_calls,omitempty"`
	Usage          domain.TokenUsage `json:"usage"`
}

type toolCallView struct {
	Id   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ChatHandler streams one conversation turn as server-sent events: one
// event per assistant delta, then a final done (or error) event.
func (s *Server) ChatHandler(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return c.JSON(http.StatusBadRequest, errorView{Error: "invalid request"})
	}

	deltas := make(chan domain.AssistantDelta, 16)
	future := s.rootContext.RequestFuture(s.masterActor, domain.EntryCommandRequest{
		EntryId: c.Param("id"),
		Request: domain.ConverseRequest{
			ConversationId: req.ConversationId,
			Text:           req.Text,
			Deltas:         deltas,
		},
	}, conversationTimeout)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for delta := range deltas {
		writeSSE(w, delta.AssistantDeltaType(), deltaView(delta))
		w.Flush()
	}

	res, err := future.Result()
	if err != nil {
		writeSSE(w, "error", errorView{Error: err.Error()})
		w.Flush()
		return nil
	}
	switch response := res.(type) {
	case domain.ConverseResponse:
		if response.HasResponseError() {
			writeSSE(w, "error", errorView{Error: response.GetResponseError().Error()})
			w.Flush()
			return nil
		}
		s.metrics.RecordConversation(response.Usage)
		result := chatResult{
			ConversationId: response.ConversationId,
			Text:           response.Text,
			Usage:          response.Usage,
		}
		for _, call := range response.ToolCalls {
			result.ToolCalls = append(result.ToolCalls, toolCallView{Id: call.Id, Name: call.Name, Args: call.Args})
		}
		writeSSE(w, "done", result)
	case domain.EntryNotFoundResponse:
		writeSSE(w, "error", errorView{Error: "unknown entry"})
	default:
		writeSSE(w, "error", errorView{Error: "unexpected response"})
	}
	w.Flush()
	return nil
}

func writeSSE(w *echo.Response, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func deltaView(delta domain.AssistantDelta) any {
	switch d := delta.(type) {
	case domain.RoleDelta:
		return map[string]string{"role": "assistant"}
	case domain.TextDelta:
		return map[string]string{"text": d.Text}
	case domain.ThinkingDelta:
		return map[string]string{"thinking": d.Text}
	case domain.CitationDelta:
		return d.Citation
	case domain.ToolCallDelta:
		return toolCallView{Id: d.Id, Name: d.Name, Args: d.Args}
	case domain.NativeBlockDelta:
		return map[string]string{"block_type": d.Block.ContentBlockType()}
	}
	return map[string]string{}
}
