package integration

import (
	"github.com/acasal/hearth2mqtt/internal/core/port"
	"github.com/acasal/hearth2mqtt/internal/integration/anthropic"
	"github.com/acasal/hearth2mqtt/internal/integration/homewizard"
	"github.com/acasal/hearth2mqtt/internal/integration/modbusmeter"

	"go.uber.org/zap"
)

// Registry wires up every built-in integration, keyed by domain.
func Registry(logger *zap.Logger) map[string]port.Integration {
	integrations := []port.Integration{
		anthropic.NewIntegration(logger),
		homewizard.NewIntegration(logger),
		modbusmeter.NewIntegration(logger),
	}
	byDomain := make(map[string]port.Integration, len(integrations))
	for _, i := range integrations {
		byDomain[i.Domain()] = i
	}
	return byDomain
}

// FlowHandlers extracts the config flow handlers from a registry.
func FlowHandlers(integrations map[string]port.Integration) map[string]port.FlowHandler {
	handlers := make(map[string]port.FlowHandler, len(integrations))
	for domain, i := range integrations {
		handlers[domain] = i.FlowHandler()
	}
	return handlers
}
