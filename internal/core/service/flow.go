package service

import (
	"context"
	"errors"
	"sync"

	"github.com/acasal/hearth2mqtt/internal/core/domain"
	"github.com/acasal/hearth2mqtt/internal/core/port"

	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"
)

var (
	ErrUnknownIntegration = errors.New("unknown integration")
	ErrUnknownFlow        = errors.New("unknown flow")
)

const (
	FlowTypeForm        = "form"
	FlowTypeCreateEntry = "create_entry"
	FlowTypeAbort       = "abort"

	AbortAlreadyConfigured = "already_configured"
)

// FlowView is what the HTTP layer renders after each wizard step.
type FlowView struct {
	FlowId      string
	Domain      string
	Type        string
	Form        *port.FlowForm
	Entry       *domain.ConfigEntry
	AbortReason string
}

type flowState struct {
	id     string
	domain string
	stepId string
}

// FlowManager drives multi-step setup wizards. Handlers render forms and
// validate input; the manager owns flow bookkeeping, unique-id dedupe and
// entry creation.
type FlowManager struct {
	mu       sync.Mutex
	handlers map[string]port.FlowHandler
	flows    map[string]*flowState
	store    *EntryStore
	logger   *zap.Logger
}

func NewFlowManager(handlers map[string]port.FlowHandler, store *EntryStore, logger *zap.Logger) *FlowManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlowManager{
		handlers: handlers,
		flows:    make(map[string]*flowState),
		store:    store,
		logger:   logger.Named("flow"),
	}
}

// Start begins a flow for an integration and renders its first step.
func (m *FlowManager) Start(ctx context.Context, integrationDomain string) (FlowView, error) {
	m.mu.Lock()
	handler, ok := m.handlers[integrationDomain]
	if !ok {
		m.mu.Unlock()
		return FlowView{}, ErrUnknownIntegration
	}
	flow := &flowState{
		id:     shortuuid.New(),
		domain: integrationDomain,
		stepId: "user",
	}
	m.flows[flow.id] = flow
	m.mu.Unlock()

	result, err := handler.Step(ctx, flow.stepId, nil)
	if err != nil {
		m.finish(flow.id)
		return FlowView{}, err
	}
	return m.apply(flow, result)
}

// Submit feeds user input into the flow's current step.
func (m *FlowManager) Submit(ctx context.Context, flowId string, input map[string]any) (FlowView, error) {
	m.mu.Lock()
	flow, ok := m.flows[flowId]
	if !ok {
		m.mu.Unlock()
		return FlowView{}, ErrUnknownFlow
	}
	handler := m.handlers[flow.domain]
	m.mu.Unlock()

	result, err := handler.Step(ctx, flow.stepId, input)
	if err != nil {
		m.finish(flow.id)
		return FlowView{}, err
	}
	return m.apply(flow, result)
}

// InProgress lists open flows.
func (m *FlowManager) InProgress() []FlowView {
	m.mu.Lock()
	defer m.mu.Unlock()
	views := make([]FlowView, 0, len(m.flows))
	for _, f := range m.flows {
		views = append(views, FlowView{FlowId: f.id, Domain: f.domain, Type: FlowTypeForm})
	}
	return views
}

func (m *FlowManager) apply(flow *flowState, result port.FlowResult) (FlowView, error) {
	switch {
	case result.Form != nil:
		m.mu.Lock()
		flow.stepId = result.Form.StepId
		m.mu.Unlock()
		return FlowView{
			FlowId: flow.id,
			Domain: flow.domain,
			Type:   FlowTypeForm,
			Form:   result.Form,
		}, nil

	case result.CreateEntry != nil:
		m.finish(flow.id)
		created := result.CreateEntry
		if created.UniqueId != "" && m.store.HasUniqueId(flow.domain, created.UniqueId) {
			m.logger.Info("flow aborted, unique id already configured",
				zap.String("domain", flow.domain), zap.String("unique_id", created.UniqueId))
			return FlowView{
				FlowId:      flow.id,
				Domain:      flow.domain,
				Type:        FlowTypeAbort,
				AbortReason: AbortAlreadyConfigured,
			}, nil
		}
		entry := domain.ConfigEntry{
			Id:       shortuuid.New(),
			Domain:   flow.domain,
			Title:    created.Title,
			UniqueId: created.UniqueId,
			Data:     created.Data,
		}
		if err := m.store.Add(entry); err != nil {
			return FlowView{}, err
		}
		m.logger.Info("flow created entry",
			zap.String("domain", flow.domain), zap.String("entry", entry.Id))
		return FlowView{
			FlowId: flow.id,
			Domain: flow.domain,
			Type:   FlowTypeCreateEntry,
			Entry:  &entry,
		}, nil

	default:
		m.finish(flow.id)
		return FlowView{
			FlowId:      flow.id,
			Domain:      flow.domain,
			Type:        FlowTypeAbort,
			AbortReason: result.AbortReason,
		}, nil
	}
}

func (m *FlowManager) finish(flowId string) {
	m.mu.Lock()
	delete(m.flows, flowId)
	m.mu.Unlock()
}
