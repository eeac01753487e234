package null

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/keel-iac/keel/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_Create(t *testing.T) {
	p := New()

	resp, err := p.Plan(context.Background(), &provider.PlanRequest{
		Type:          "null_resource",
		Name:          "test",
		DesiredConfig: []byte(`{"triggers": {"a": "b"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionCreate, resp.Action)
}

func TestPlan_Noop(t *testing.T) {
	p := New()

	resp, err := p.Plan(context.Background(), &provider.PlanRequest{
		Type:          "null_resource",
		Name:          "test",
		DesiredConfig: []byte(`{"triggers": {"a": "b"}}`),
		PriorState:    []byte(`{"id": "null-test", "triggers": {"a": "b"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionNoop, resp.Action)
}

func TestPlan_TriggerChangeForcesReplace(t *testing.T) {
	p := New()

	resp, err := p.Plan(context.Background(), &provider.PlanRequest{
		Type:          "null_resource",
		Name:          "test",
		DesiredConfig: []byte(`{"triggers": {"a": "c"}}`),
		PriorState:    []byte(`{"id": "null-test", "triggers": {"a": "b"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionReplace, resp.Action)
	assert.Contains(t, resp.ChangedAttributes, "triggers")
}

func TestApply(t *testing.T) {
	p := New()

	resp, err := p.Apply(context.Background(), &provider.ApplyRequest{
		Type:          "null_resource",
		Name:          "test",
		Action:        provider.ActionCreate,
		DesiredConfig: []byte(`{"triggers": {"a": "b"}}`),
	})
	require.NoError(t, err)

	var state State
	require.NoError(t, json.Unmarshal(resp.NewState, &state))
	assert.Equal(t, "null-test", state.ID)
	assert.Equal(t, map[string]string{"a": "b"}, state.Triggers)
}

func TestRead(t *testing.T) {
	p := New()

	current := []byte(`{"id": "null-test"}`)
	resp, err := p.Read(context.Background(), &provider.ReadRequest{
		Type:         "null_resource",
		ID:           "null-test",
		CurrentState: current,
	})
	require.NoError(t, err)
	assert.True(t, resp.Exists)
	assert.Equal(t, current, resp.NewState)
}

func TestDelete(t *testing.T) {
	p := New()

	_, err := p.Delete(context.Background(), &provider.DeleteRequest{
		Type: "null_resource",
		ID:   "null-test",
	})
	assert.NoError(t, err)
}
