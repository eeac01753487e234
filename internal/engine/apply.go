package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/keel-iac/keel/internal/ir"
	"github.com/keel-iac/keel/internal/logging"
	"github.com/keel-iac/keel/internal/provider"
)

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // "started", "completed", "failed"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan and updates the state in place. The
// returned state reflects every resource that was confirmed by its
// provider, even when the apply fails partway through.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
// Creates and updates run first, in parallel where dependencies allow;
// deletes run afterwards in reverse dependency order. If
// e.ContinueOnError is set, apply continues past individual resource
// failures and returns an aggregated error at the end.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	var mu sync.Mutex
	var errs []error

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	stateIndex := make(map[string]int)
	for i, res := range state.Resources {
		stateIndex[res.Address()] = i
	}

	// Deletes are held back until everything else has settled.
	var createUpdates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == string(provider.ActionDelete) {
			deletes = append(deletes, change)
		} else {
			createUpdates = append(createUpdates, change)
		}
	}

	if len(createUpdates) > 1 {
		if err := e.applyParallel(ctx, createUpdates, state, &stateIndex, &mu, emit); err != nil {
			if !e.ContinueOnError {
				return state, err
			}
			errs = append(errs, err)
		}
	} else {
		for _, change := range createUpdates {
			if err := e.applySequential(ctx, change, state, &stateIndex, &mu, emit); err != nil {
				if !e.ContinueOnError {
					return state, err
				}
				errs = append(errs, err)
			}
		}
	}

	if len(deletes) > 1 {
		if err := e.applyParallel(ctx, deletes, state, &stateIndex, &mu, emit); err != nil {
			if !e.ContinueOnError {
				return state, err
			}
			errs = append(errs, err)
		}
	} else {
		for _, change := range deletes {
			if err := e.applySequential(ctx, change, state, &stateIndex, &mu, emit); err != nil {
				if !e.ContinueOnError {
					return state, err
				}
				errs = append(errs, err)
			}
		}
	}

	state.Outputs = plan.Outputs

	if len(errs) > 0 {
		return state, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}

	return state, nil
}

func (e *Engine) applySequential(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, emit func(ApplyEvent)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("apply cancelled: %w", err)
	}
	start := time.Now()
	emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "started"})
	if err := e.applyChange(ctx, change, state, stateIndex, mu); err != nil {
		emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "failed", Duration: time.Since(start), Error: err})
		return err
	}
	emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "completed", Duration: time.Since(start)})
	return nil
}

// applyParallel applies changes concurrently. A change starts only once
// every change it depends on has completed; a failed dependency marks
// its dependents as failed without touching their providers.
func (e *Engine) applyParallel(ctx context.Context, changes []*ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, emit func(ApplyEvent)) error {
	changeMap := make(map[string]*ir.ResourceChange)
	for _, c := range changes {
		changeMap[c.Address] = c
	}

	// For each change, record which of the other changes must finish
	// first. Dependencies outside this batch are already settled.
	// Deletes gate the other way round: a resource waits for the
	// deletion of everything that depended on it.
	deps := make(map[string]map[string]bool)
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
	}
	for _, c := range changes {
		if c.Action == string(provider.ActionDelete) {
			for _, d := range stateDependencies(state, c.Address) {
				if _, ok := changeMap[d]; ok {
					deps[d][c.Address] = true
				}
			}
			continue
		}
		for _, d := range changeDependencies(c) {
			if _, ok := changeMap[d]; ok {
				deps[c.Address][d] = true
			}
		}
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	completedMu := sync.Mutex{}
	completedCond := sync.NewCond(&completedMu)
	var firstErr error
	var allErrs []error

	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	sem := make(chan struct{}, parallelism)

	var wg sync.WaitGroup

	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			completedMu.Lock()
			for {
				if firstErr != nil && !e.ContinueOnError {
					completedMu.Unlock()
					return
				}
				allDepsReady := true
				depFailed := false
				for dep := range deps[c.Address] {
					if failed[dep] {
						depFailed = true
						break
					}
					if !completed[dep] {
						allDepsReady = false
						break
					}
				}
				if depFailed {
					failed[c.Address] = true
					completedMu.Unlock()
					completedCond.Broadcast()
					emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed",
						Error: fmt.Errorf("skipped: dependency failed")})
					return
				}
				if allDepsReady {
					break
				}
				completedCond.Wait()
			}
			completedMu.Unlock()

			if err := ctx.Err(); err != nil {
				completedMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("apply cancelled: %w", err)
				}
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			if err := e.applyChange(ctx, c, state, stateIndex, mu); err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				completedMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				allErrs = append(allErrs, err)
				failed[c.Address] = true
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})

			completedMu.Lock()
			completed[c.Address] = true
			completedMu.Unlock()
			completedCond.Broadcast()
		}(change)
	}

	wg.Wait()

	if e.ContinueOnError && len(allErrs) > 0 {
		return fmt.Errorf("%d resource(s) failed: %w", len(allErrs), errors.Join(allErrs...))
	}
	if firstErr != nil {
		return firstErr
	}
	return nil
}

// changeDependencies returns the addresses a create or update must
// wait on, combining explicit depends_on with ptr:// references.
func changeDependencies(c *ir.ResourceChange) []string {
	if c.Desired == nil {
		return nil
	}
	deps := append([]string{}, c.Desired.DependsOn...)
	for _, ref := range extractPtrRefs(c.Desired.Properties) {
		deps = append(deps, ptrRefToAddr(ref))
	}
	return deps
}

// stateDependencies returns the recorded dependencies of a tracked
// resource, falling back to ptr:// references in its inputs for state
// written before dependencies were recorded.
func stateDependencies(state *ir.State, addr string) []string {
	res, ok := state.Resource(addr)
	if !ok {
		return nil
	}
	if len(res.Dependencies) > 0 {
		return res.Dependencies
	}
	var deps []string
	for _, ref := range extractPtrRefs(res.Inputs) {
		deps = append(deps, ptrRefToAddr(ref))
	}
	return deps
}

func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	var timeout time.Duration
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil {
			timeout = d
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var desiredJSON []byte
	var priorJSON []byte
	var name, typ string

	if change.Desired != nil {
		name = change.Desired.Name
		typ = change.Desired.Type
		props := normalizeValue(change.Desired.Properties)
		mu.Lock()
		resolvedProps := resolveReferences(props, state)
		mu.Unlock()
		desiredJSON, _ = json.Marshal(resolvedProps)
	} else if change.Prior != nil {
		name = change.Prior.Name
		typ = change.Prior.Type
	}

	mu.Lock()
	if idx, ok := (*stateIndex)[addr]; ok {
		priorState := state.Resources[idx]
		if priorState.Outputs != nil {
			priorJSON, _ = json.Marshal(priorState.Outputs)
		}
	}
	mu.Unlock()

	provName := "null"
	if change.Desired != nil {
		provName = change.Desired.Provider
	} else if change.Prior != nil {
		provName = change.Prior.Provider
	}

	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found: %s", provName)
	}

	retryPolicy := DefaultRetryPolicy()

	switch change.Action {
	case string(provider.ActionCreate), string(provider.ActionUpdate), string(provider.ActionReplace):
		var resp *provider.ApplyResponse
		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			var applyErr error
			resp, applyErr = prov.Apply(ctx, &provider.ApplyRequest{
				Type:          typ,
				Name:          name,
				Action:        provider.Action(change.Action),
				DesiredConfig: desiredJSON,
				PriorState:    priorJSON,
			})
			return applyErr
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("apply failed for %s: %w", addr, err)
		}

		var outputs map[string]any
		if len(resp.NewState) > 0 {
			if err := json.Unmarshal(resp.NewState, &outputs); err != nil {
				return fmt.Errorf("failed to unmarshal state for %s: %w", addr, err)
			}
		}

		newResState := &ir.ResourceState{
			Type:         typ,
			Name:         name,
			Provider:     provName,
			Inputs:       change.Desired.Properties,
			InputsHash:   hashInputs(change.Desired.Properties),
			Outputs:      outputs,
			Dependencies: changeDependencies(change),
		}

		// State is only touched once the provider has confirmed the
		// operation succeeded. A replace also clears any taint mark.
		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources[idx] = newResState
		} else {
			(*stateIndex)[addr] = len(state.Resources)
			state.Resources = append(state.Resources, newResState)
		}
		mu.Unlock()

	case string(provider.ActionDelete):
		var resourceID string
		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			if id, exists := state.Resources[idx].Outputs["id"]; exists {
				resourceID = fmt.Sprintf("%v", id)
			}
		}
		mu.Unlock()

		err := RetryWithBackoff(ctx, retryPolicy, func() error {
			_, deleteErr := prov.Delete(ctx, &provider.DeleteRequest{
				Type:         typ,
				ID:           resourceID,
				CurrentState: priorJSON,
			})
			return deleteErr
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("delete failed for %s: %w", addr, err)
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources = append(state.Resources[:idx], state.Resources[idx+1:]...)
			*stateIndex = make(map[string]int)
			for i, res := range state.Resources {
				(*stateIndex)[res.Address()] = i
			}
		}
		mu.Unlock()
	}

	return nil
}

func hashInputs(inputs map[string]any) string {
	data, err := json.Marshal(normalizeValue(inputs))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// resolveReferences replaces ptr:// values with the referenced
// resource's recorded outputs (or inputs as a fallback). Unresolvable
// references pass through untouched so providers can surface them.
func resolveReferences(val any, state *ir.State) any {
	switch v := val.(type) {
	case string:
		if len(v) > 6 && v[:6] == "ptr://" {
			for _, res := range state.Resources {
				matchPrefix := fmt.Sprintf("ptr://%s:%s/%s/", res.Provider, res.Type, res.Name)
				if len(v) > len(matchPrefix) && v[:len(matchPrefix)] == matchPrefix {
					attr := v[len(matchPrefix):]
					if out, ok := res.Outputs[attr]; ok {
						return out
					}
					if in, ok := res.Inputs[attr]; ok {
						return in
					}
					return v
				}
			}
		}
		return v
	case map[string]any:
		newMap := make(map[string]any)
		for k, val := range v {
			newMap[k] = resolveReferences(val, state)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(v))
		for i, val := range v {
			newSlice[i] = resolveReferences(val, state)
		}
		return newSlice
	default:
		return val
	}
}
