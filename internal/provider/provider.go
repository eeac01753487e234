// Package provider defines the interface between the reconciliation
// engine and resource providers. Providers run in-process; desired
// configuration and recorded state cross the boundary as JSON payloads
// so that the engine never depends on provider-specific types.
package provider

import "context"

// Action is the change kind a provider proposes for a resource.
type Action string

const (
	ActionNoop    Action = "NOOP"
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionReplace Action = "REPLACE"
	ActionDelete  Action = "DELETE"
)

// Severity classifies a diagnostic emitted by a provider.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

type Diagnostic struct {
	Severity Severity
	Summary  string
	Detail   string
}

type ConfigureRequest struct {
	Config map[string]string
}

type ConfigureResponse struct {
	Diagnostics []*Diagnostic
}

// HasErrors reports whether any diagnostic is an error.
func (r *ConfigureResponse) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

type PlanRequest struct {
	Type          string
	Name          string
	DesiredConfig []byte // JSON-encoded desired properties
	PriorState    []byte // JSON-encoded recorded outputs, nil if untracked
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
}

type ApplyRequest struct {
	Type          string
	Name          string
	Action        Action // CREATE, UPDATE or REPLACE
	DesiredConfig []byte
	PriorState    []byte
}

type ApplyResponse struct {
	NewState []byte // JSON-encoded outputs to record in state
}

type ReadRequest struct {
	Type         string
	ID           string
	CurrentState []byte
}

type ReadResponse struct {
	Exists   bool
	NewState []byte
}

type DeleteRequest struct {
	Type         string
	ID           string
	CurrentState []byte
}

type DeleteResponse struct{}

// Provider is the lifecycle contract a resource provider implements.
//
// Plan must not mutate external resources. Apply creates or updates the
// resource and returns the outputs to record; the engine persists state
// only after Apply returns without error.
type Provider interface {
	Configure(ctx context.Context, req *ConfigureRequest) (*ConfigureResponse, error)
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
}
