package engine

import (
	"testing"

	"github.com/keel-iac/keel/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandResources_NoIteration(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", Properties: map[string]any{"key": "val"}},
	}
	expanded := ExpandResources(resources)
	assert.Len(t, expanded, 1)
	assert.Equal(t, "a", expanded[0].Name)
}

func TestExpandResources_Count(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "server",
			Provider: "null",
			Count:    3,
			Properties: map[string]any{
				"index": "${count.index}",
			},
		},
	}
	expanded := ExpandResources(resources)
	require.Len(t, expanded, 3)

	assert.Equal(t, "server[0]", expanded[0].Name)
	assert.Equal(t, "0", expanded[0].Properties["index"])

	assert.Equal(t, "server[1]", expanded[1].Name)
	assert.Equal(t, "1", expanded[1].Properties["index"])

	assert.Equal(t, "server[2]", expanded[2].Name)
	assert.Equal(t, "2", expanded[2].Properties["index"])
}

func TestExpandResources_ForEach(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "local:File",
			Name:     "config",
			Provider: "local",
			ForEach: map[string]any{
				"dev":  "/tmp/dev.conf",
				"prod": "/tmp/prod.conf",
			},
			Properties: map[string]any{
				"path":    "${each.value}",
				"content": "env: ${each.key}",
			},
		},
	}
	expanded := ExpandResources(resources)
	require.Len(t, expanded, 2)

	// Order may vary due to map iteration
	byName := make(map[string]*ir.Resource)
	for _, r := range expanded {
		byName[r.Name] = r
	}
	dev, ok := byName[`config["dev"]`]
	require.True(t, ok)
	assert.Equal(t, "/tmp/dev.conf", dev.Properties["path"])
	assert.Equal(t, "env: dev", dev.Properties["content"])

	_, ok = byName[`config["prod"]`]
	assert.True(t, ok)
}

func TestExpandResources_NestedSubstitution(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "server",
			Provider: "null",
			Count:    2,
			Properties: map[string]any{
				"triggers": map[string]any{
					"index": "${count.index}",
				},
				"list": []any{"item-${count.index}"},
			},
		},
	}
	expanded := ExpandResources(resources)
	require.Len(t, expanded, 2)

	triggers, ok := expanded[1].Properties["triggers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1", triggers["index"])

	list, ok := expanded[1].Properties["list"].([]any)
	require.True(t, ok)
	assert.Equal(t, "item-1", list[0])
}

func TestExpandResources_PreservesLifecycle(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "server",
			Provider: "null",
			Count:    2,
			Lifecycle: &ir.Lifecycle{
				PreventDestroy: true,
				IgnoreChanges:  []string{"tags"},
			},
			Properties: map[string]any{},
		},
	}
	expanded := ExpandResources(resources)
	require.Len(t, expanded, 2)

	for _, r := range expanded {
		require.NotNil(t, r.Lifecycle)
		assert.True(t, r.Lifecycle.PreventDestroy)
		assert.Equal(t, []string{"tags"}, r.Lifecycle.IgnoreChanges)
	}
}

func TestExpandResources_ClonesAreIndependent(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "server",
			Provider: "null",
			Count:    2,
			Properties: map[string]any{
				"triggers": map[string]any{"static": "value"},
			},
		},
	}
	expanded := ExpandResources(resources)
	require.Len(t, expanded, 2)

	// Mutating one clone must not affect the other.
	expanded[0].Properties["triggers"].(map[string]any)["static"] = "changed"
	assert.Equal(t, "value", expanded[1].Properties["triggers"].(map[string]any)["static"])
}
