package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/keel-iac/keel/internal/ir"
	"github.com/keel-iac/keel/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentWorkspace(t *testing.T) {
	t.Chdir(t.TempDir())

	// When no workspace file exists, should return "default"
	assert.Equal(t, "default", currentWorkspace())

	require.NoError(t, os.MkdirAll(keelDir(), 0o755))
	require.NoError(t, os.WriteFile(workspaceFile(), []byte("staging\n"), 0o644))
	assert.Equal(t, "staging", currentWorkspace())
}

func TestWorkspaceStatePath(t *testing.T) {
	t.Chdir(t.TempDir())

	// Default workspace uses state.json
	assert.Equal(t, filepath.Join(".keel", "state.json"), WorkspaceStatePath())

	require.NoError(t, os.MkdirAll(keelDir(), 0o755))
	require.NoError(t, os.WriteFile(workspaceFile(), []byte("dev"), 0o644))
	assert.Equal(t, filepath.Join(".keel", "state.dev.json"), WorkspaceStatePath())
}

func TestListWorkspaces(t *testing.T) {
	t.Chdir(t.TempDir())

	// With no .keel directory only default exists.
	workspaces, err := listWorkspaces()
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, workspaces)

	require.NoError(t, os.MkdirAll(keelDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(keelDir(), "state.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(keelDir(), "state.dev.json"), []byte("{}"), 0o644))

	workspaces, err = listWorkspaces()
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "dev"}, workspaces)
}

func TestResolveConfigPath(t *testing.T) {
	path, err := resolveConfigPath(nil)
	require.NoError(t, err)
	assert.Equal(t, ".", path)

	path, err = resolveConfigPath([]string{"configs"})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "null", formatValue(nil))
	assert.Equal(t, `"hello"`, formatValue("hello"))
	assert.Equal(t, "42", formatValue(42))
	assert.Equal(t, "true", formatValue(true))
}

func TestNewRegistry_Builtins(t *testing.T) {
	registry := newRegistry()
	for _, name := range []string{"null", "local"} {
		_, err := registry.Get(name)
		require.NoError(t, err)
	}
}

func TestLoadStateProviders(t *testing.T) {
	registry := newRegistry()
	s := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "null_resource", Name: "a", Provider: "null"},
			{Type: "local:File", Name: "b", Provider: "local"},
		},
	}

	require.NoError(t, loadStateProviders(registry, s))
	_, err := registry.Get("null")
	assert.NoError(t, err)
	_, err = registry.Get("local")
	assert.NoError(t, err)
}

func TestLoadStateProviders_Unknown(t *testing.T) {
	registry := newRegistry()
	s := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "mystery", Name: "a", Provider: "mystery"},
		},
	}

	err := loadStateProviders(registry, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

func TestTaintUntaint(t *testing.T) {
	t.Chdir(t.TempDir())
	ctx := context.Background()

	mgr := state.NewManager(WorkspaceStatePath())
	require.NoError(t, mgr.Write(ctx, &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{Type: "null_resource", Name: "seed", Provider: "null"},
		},
	}))

	require.NoError(t, setTaint(taintCmd, "null_resource.seed", true))

	s, err := mgr.Read(ctx)
	require.NoError(t, err)
	res, ok := s.Resource("null_resource.seed")
	require.True(t, ok)
	assert.True(t, res.Tainted)

	require.NoError(t, setTaint(untaintCmd, "null_resource.seed", false))

	s, err = mgr.Read(ctx)
	require.NoError(t, err)
	res, ok = s.Resource("null_resource.seed")
	require.True(t, ok)
	assert.False(t, res.Tainted)
}

func TestTaint_UnknownResource(t *testing.T) {
	t.Chdir(t.TempDir())

	mgr := state.NewManager(WorkspaceStatePath())
	require.NoError(t, mgr.Write(context.Background(), &ir.State{Version: 1}))

	err := setTaint(taintCmd, "null_resource.ghost", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
