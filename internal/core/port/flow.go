package port

import "context"

// FlowHandler runs the setup wizard of one integration. input is nil when
// a step is first rendered.
type FlowHandler interface {
	Step(ctx context.Context, stepId string, input map[string]any) (FlowResult, error)
}

// FlowResult is one of: a form to show, an entry to create, or an abort.
type FlowResult struct {
	Form        *FlowForm
	CreateEntry *FlowEntry
	AbortReason string
}

type FlowForm struct {
	StepId string
	Schema []FlowField
	Errors map[string]string
}

type FlowField struct {
	Name     string
	Kind     string // string, password, int, bool
	Required bool
	Default  any
}

type FlowEntry struct {
	Title    string
	UniqueId string
	Data     map[string]any
}

func ShowForm(stepId string, schema []FlowField, errors map[string]string) (FlowResult, error) {
	return FlowResult{Form: &FlowForm{StepId: stepId, Schema: schema, Errors: errors}}, nil
}

func CreateEntry(title, uniqueId string, data map[string]any) (FlowResult, error) {
	return FlowResult{CreateEntry: &FlowEntry{Title: title, UniqueId: uniqueId, Data: data}}, nil
}

func Abort(reason string) (FlowResult, error) {
	return FlowResult{AbortReason: reason}, nil
}
