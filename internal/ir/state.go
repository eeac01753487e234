package ir

import "fmt"

// State represents the persistent actual-state snapshot.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage,omitempty"`
	Resources []*ResourceState `json:"resources"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
}

// Resource returns the tracked resource with the given address, if any.
func (s *State) Resource(addr string) (*ResourceState, bool) {
	for _, res := range s.Resources {
		if res.Address() == addr {
			return res, true
		}
	}
	return nil, false
}

type ResourceState struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	Inputs       map[string]any `json:"inputs,omitempty"` // User provided
	InputsHash   string         `json:"inputsHash,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"` // Provider returned
	Dependencies []string       `json:"dependencies,omitempty"`
	Tainted      bool           `json:"tainted,omitempty"`
}

// Address returns the logical address of the tracked resource (type.name).
func (r *ResourceState) Address() string {
	return fmt.Sprintf("%s.%s", r.Type, r.Name)
}
