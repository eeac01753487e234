package ir

import "fmt"

// Resource represents a single managed resource declaration.
type Resource struct {
	Type       string         `json:"type"` // e.g., "local:File"
	Name       string         `json:"name"`
	Provider   string         `json:"provider"`
	Count      int            `json:"count,omitempty"`
	ForEach    map[string]any `json:"forEach,omitempty"`
	Timeout    string         `json:"timeout,omitempty"`
	Lifecycle  *Lifecycle     `json:"lifecycle,omitempty"`
	DependsOn  []string       `json:"dependsOn,omitempty"`
	Properties map[string]any `json:"properties"` // Dynamic properties
}

// Address returns the logical address of the resource (type.name).
func (r *Resource) Address() string {
	t := r.Type
	if t == "" {
		t = "null_resource"
	}
	return fmt.Sprintf("%s.%s", t, r.Name)
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `json:"createBeforeDestroy,omitempty"`
	PreventDestroy      bool     `json:"preventDestroy,omitempty"`
	IgnoreChanges       []string `json:"ignoreChanges,omitempty"`
}
