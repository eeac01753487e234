package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/keel-iac/keel/internal/ir"
	"github.com/keel-iac/keel/internal/logging"
	"github.com/keel-iac/keel/internal/provider"
)

const defaultParallelism = 10

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	registry *provider.Registry

	// ContinueOnError makes apply continue past failures instead of
	// stopping at the first one.
	ContinueOnError bool

	// Parallelism bounds concurrent provider operations during apply.
	// Zero means the default.
	Parallelism int
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry: registry,
	}
}

// CreatePlan generates an execution plan by comparing desired config
// with tracked state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource
// addresses. Targeted resources pull in their transitive dependencies.
// If targets is empty, all resources are planned.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan",
		"resources", len(cfg.Resources),
		"state_resources", len(state.Resources),
		"targets", len(targets))

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
			ConfigHash:       hashConfig(cfg),
			PriorStateSerial: state.Serial,
			PriorLineage:     state.Lineage,
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	// Expand count/for_each before anything looks at addresses. The
	// expansion stays local so planning never mutates the loaded config.
	resources := ExpandResources(cfg.Resources)

	if err := e.loadProviders(cfg, state); err != nil {
		return nil, err
	}

	dag, err := BuildDAG(resources)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	stateByAddr := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		stateByAddr[res.Address()] = res
	}

	configByAddr := make(map[string]*ir.Resource)
	for _, res := range resources {
		configByAddr[res.Address()] = res
	}

	targetSet := buildTargetSet(dag, targets)

	// Walk desired resources in dependency order.
	for _, addr := range dag.CreationOrder() {
		res, ok := configByAddr[addr]
		if !ok {
			continue
		}

		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			return nil, err
		}

		prior := stateByAddr[addr]

		desiredJSON, err := json.Marshal(normalizeValue(res.Properties))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for %s: %w", addr, err)
		}

		var priorJSON []byte
		if prior != nil {
			priorJSON, _ = json.Marshal(prior.Outputs)
		}

		resp, err := prov.Plan(ctx, &provider.PlanRequest{
			Type:          res.Type,
			Name:          res.Name,
			DesiredConfig: desiredJSON,
			PriorState:    priorJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
		}

		action := resp.Action

		// A tainted resource must be recreated no matter what the
		// provider thinks of its configuration.
		if prior != nil && prior.Tainted && (action == provider.ActionNoop || action == provider.ActionUpdate) {
			action = provider.ActionReplace
		}

		if action == provider.ActionNoop {
			plan.Summary.NoOp++
			continue
		}

		if err := enforceLifecycle(res, action, addr); err != nil {
			return nil, err
		}

		if res.Lifecycle != nil && len(res.Lifecycle.IgnoreChanges) > 0 && action == provider.ActionUpdate {
			action = filterIgnoredChanges(res, resp)
			if action == provider.ActionNoop {
				plan.Summary.NoOp++
				continue
			}
		}

		change := &ir.ResourceChange{
			Address: addr,
			Action:  string(action),
			Desired: res,
		}

		if prior != nil {
			change.Prior = &ir.Resource{
				Type:       prior.Type,
				Name:       prior.Name,
				Provider:   prior.Provider,
				Properties: prior.Inputs,
			}
			change.Diff = buildPropertyDiff(prior.Inputs, res.Properties)
		} else {
			change.Diff = buildCreateDiff(res.Properties)
		}

		plan.Changes = append(plan.Changes, change)

		switch action {
		case provider.ActionCreate:
			plan.Summary.Create++
		case provider.ActionUpdate:
			plan.Summary.Update++
		case provider.ActionReplace:
			plan.Summary.Replace++
		case provider.ActionDelete:
			plan.Summary.Delete++
		}
	}

	// Resources tracked in state but absent from config are deleted, in
	// reverse dependency order.
	deleted := make([]*ir.ResourceState, 0)
	for _, res := range state.Resources {
		if _, ok := configByAddr[res.Address()]; ok {
			continue
		}
		if targetSet != nil && !targetSet[res.Address()] {
			continue
		}
		deleted = append(deleted, res)
	}

	ordered, err := destructionOrder(deleted)
	if err != nil {
		return nil, err
	}
	for _, res := range ordered {
		plan.Changes = append(plan.Changes, deleteChange(res))
		plan.Summary.Delete++
	}

	return plan, nil
}

// CreateDestroyPlan generates a plan that deletes every tracked
// resource, in reverse dependency order.
func (e *Engine) CreateDestroyPlan(ctx context.Context, state *ir.State) (*ir.Plan, error) {
	if err := e.loadProviders(&ir.Config{}, state); err != nil {
		return nil, err
	}

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
			PriorStateSerial: state.Serial,
			PriorLineage:     state.Lineage,
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
	}

	ordered, err := destructionOrder(state.Resources)
	if err != nil {
		return nil, err
	}
	for _, res := range ordered {
		plan.Changes = append(plan.Changes, deleteChange(res))
		plan.Summary.Delete++
	}

	return plan, nil
}

func (e *Engine) loadProviders(cfg *ir.Config, state *ir.State) error {
	for _, res := range cfg.Resources {
		if _, err := e.registry.Get(res.Provider); err != nil {
			return fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}
	for _, res := range state.Resources {
		if _, err := e.registry.Get(res.Provider); err != nil {
			return fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}
	return nil
}

func buildTargetSet(dag *DAG, targets []string) map[string]bool {
	if len(targets) == 0 {
		return nil
	}

	set := make(map[string]bool)
	for _, t := range targets {
		set[t] = true
		for _, dep := range dag.TransitiveDeps(t) {
			set[dep] = true
		}
	}
	return set
}

func destructionOrder(resources []*ir.ResourceState) ([]*ir.ResourceState, error) {
	if len(resources) < 2 {
		return resources, nil
	}

	dag, err := BuildDAGFromState(resources)
	if err != nil {
		return nil, fmt.Errorf("failed to order deletions: %w", err)
	}

	byAddr := make(map[string]*ir.ResourceState, len(resources))
	for _, res := range resources {
		byAddr[res.Address()] = res
	}

	ordered := make([]*ir.ResourceState, 0, len(resources))
	for _, addr := range dag.DestructionOrder() {
		if res, ok := byAddr[addr]; ok {
			ordered = append(ordered, res)
		}
	}
	return ordered, nil
}

func deleteChange(res *ir.ResourceState) *ir.ResourceChange {
	return &ir.ResourceChange{
		Address: res.Address(),
		Action:  string(provider.ActionDelete),
		Prior: &ir.Resource{
			Type:       res.Type,
			Name:       res.Name,
			Provider:   res.Provider,
			Properties: res.Inputs,
		},
		Diff: buildDeleteDiff(res.Inputs),
	}
}

// enforceLifecycle checks lifecycle rules and returns an error if
// violated.
func enforceLifecycle(res *ir.Resource, action provider.Action, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}

	if res.Lifecycle.PreventDestroy && (action == provider.ActionDelete || action == provider.ActionReplace) {
		return fmt.Errorf("resource %s has prevent_destroy set but plan requires destruction", addr)
	}

	return nil
}

// filterIgnoredChanges downgrades an UPDATE to NOOP when every changed
// attribute is listed in ignore_changes.
func filterIgnoredChanges(res *ir.Resource, resp *provider.PlanResponse) provider.Action {
	if len(resp.ChangedAttributes) == 0 {
		return resp.Action
	}

	ignoreSet := make(map[string]bool)
	for _, attr := range res.Lifecycle.IgnoreChanges {
		ignoreSet[attr] = true
	}

	for _, attr := range resp.ChangedAttributes {
		if !ignoreSet[attr] {
			return resp.Action
		}
	}
	return provider.ActionNoop
}

// buildPropertyDiff compares prior and desired properties and returns a
// per-property diff map.
func buildPropertyDiff(prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{After: desiredVal, Action: "create"}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{Before: priorVal, Action: "delete"}
		case fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal):
			diff[k] = &ir.PropertyDiff{Before: priorVal, After: desiredVal, Action: "update"}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{After: v, Action: "create"}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{Before: v, Action: "delete"}
	}
	return diff
}

// hashConfig returns a stable fingerprint of the desired configuration.
func hashConfig(cfg *ir.Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// normalizeValue rewrites decoded property values into JSON-friendly
// shapes (string-keyed maps all the way down).
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeValue(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeValue(v)
		}
		return out
	default:
		return val
	}
}
