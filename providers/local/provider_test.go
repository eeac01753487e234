package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/keel-iac/keel/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileConfigJSON(t *testing.T, path, content, perms string) []byte {
	t.Helper()
	data, err := json.Marshal(fileConfig{Path: path, Content: content, Permissions: perms})
	require.NoError(t, err)
	return data
}

func TestApply_WritesFile(t *testing.T) {
	p := New()
	path := filepath.Join(t.TempDir(), "motd")

	resp, err := p.Apply(context.Background(), &provider.ApplyRequest{
		Type:          TypeFile,
		Name:          "motd",
		Action:        provider.ActionCreate,
		DesiredConfig: fileConfigJSON(t, path, "hello\n", ""),
	})
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))

	var state fileState
	require.NoError(t, json.Unmarshal(resp.NewState, &state))
	assert.Equal(t, path, state.ID)
	assert.Equal(t, checksum("hello\n"), state.Checksum)
}

func TestApply_Permissions(t *testing.T) {
	p := New()
	path := filepath.Join(t.TempDir(), "script.sh")

	_, err := p.Apply(context.Background(), &provider.ApplyRequest{
		Type:          TypeFile,
		Name:          "script",
		Action:        provider.ActionCreate,
		DesiredConfig: fileConfigJSON(t, path, "#!/bin/sh\n", "0755"),
	})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestApply_Directory(t *testing.T) {
	p := New()
	path := filepath.Join(t.TempDir(), "nested", "dir")

	_, err := p.Apply(context.Background(), &provider.ApplyRequest{
		Type:          TypeDirectory,
		Name:          "workdir",
		Action:        provider.ActionCreate,
		DesiredConfig: fileConfigJSON(t, path, "", ""),
	})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestApply_MissingPath(t *testing.T) {
	p := New()

	_, err := p.Apply(context.Background(), &provider.ApplyRequest{
		Type:          TypeFile,
		Name:          "broken",
		Action:        provider.ActionCreate,
		DesiredConfig: []byte(`{"content": "x"}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestPlan_ContentChangeIsUpdate(t *testing.T) {
	p := New()
	path := "/tmp/motd"

	prior, err := json.Marshal(fileState{ID: path, Path: path, Checksum: checksum("old")})
	require.NoError(t, err)

	resp, err := p.Plan(context.Background(), &provider.PlanRequest{
		Type:          TypeFile,
		Name:          "motd",
		DesiredConfig: fileConfigJSON(t, path, "new", ""),
		PriorState:    prior,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionUpdate, resp.Action)
	assert.Contains(t, resp.ChangedAttributes, "content")
}

func TestPlan_PathChangeForcesReplace(t *testing.T) {
	p := New()

	prior, err := json.Marshal(fileState{ID: "/tmp/old", Path: "/tmp/old", Checksum: checksum("x")})
	require.NoError(t, err)

	resp, err := p.Plan(context.Background(), &provider.PlanRequest{
		Type:          TypeFile,
		Name:          "motd",
		DesiredConfig: fileConfigJSON(t, "/tmp/new", "x", ""),
		PriorState:    prior,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionReplace, resp.Action)
	assert.Contains(t, resp.ChangedAttributes, "path")
}

func TestPlan_Noop(t *testing.T) {
	p := New()
	path := "/tmp/motd"

	prior, err := json.Marshal(fileState{ID: path, Path: path, Checksum: checksum("same")})
	require.NoError(t, err)

	resp, err := p.Plan(context.Background(), &provider.PlanRequest{
		Type:          TypeFile,
		Name:          "motd",
		DesiredConfig: fileConfigJSON(t, path, "same", ""),
		PriorState:    prior,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionNoop, resp.Action)
}

func TestRead_DetectsDrift(t *testing.T) {
	p := New()
	path := filepath.Join(t.TempDir(), "motd")
	require.NoError(t, os.WriteFile(path, []byte("drifted"), 0o644))

	prior, err := json.Marshal(fileState{ID: path, Path: path, Checksum: checksum("original")})
	require.NoError(t, err)

	resp, err := p.Read(context.Background(), &provider.ReadRequest{
		Type:         TypeFile,
		ID:           path,
		CurrentState: prior,
	})
	require.NoError(t, err)
	require.True(t, resp.Exists)

	var state fileState
	require.NoError(t, json.Unmarshal(resp.NewState, &state))
	assert.Equal(t, checksum("drifted"), state.Checksum)
}

func TestRead_Missing(t *testing.T) {
	p := New()

	resp, err := p.Read(context.Background(), &provider.ReadRequest{
		Type: TypeFile,
		ID:   filepath.Join(t.TempDir(), "gone"),
	})
	require.NoError(t, err)
	assert.False(t, resp.Exists)
}

func TestDelete_File(t *testing.T) {
	p := New()
	path := filepath.Join(t.TempDir(), "motd")
	require.NoError(t, os.WriteFile(path, []byte("bye"), 0o644))

	_, err := p.Delete(context.Background(), &provider.DeleteRequest{
		Type: TypeFile,
		ID:   path,
	})
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDelete_DirectoryRecursive(t *testing.T) {
	p := New()
	dir := filepath.Join(t.TempDir(), "workdir")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "f"), []byte("x"), 0o644))

	_, err := p.Delete(context.Background(), &provider.DeleteRequest{
		Type: TypeDirectory,
		ID:   dir,
	})
	require.NoError(t, err)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestDelete_AlreadyGone(t *testing.T) {
	p := New()

	_, err := p.Delete(context.Background(), &provider.DeleteRequest{
		Type: TypeFile,
		ID:   filepath.Join(t.TempDir(), "gone"),
	})
	assert.NoError(t, err)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		perms string
		typ   string
		want  os.FileMode
	}{
		{"", TypeFile, 0o644},
		{"", TypeDirectory, 0o755},
		{"0600", TypeFile, 0o600},
		{"755", TypeDirectory, 0o755},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.typ, tt.perms), func(t *testing.T) {
			mode, err := parseMode(tt.perms, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, mode)
		})
	}

	_, err := parseMode("rwxr-xr-x", TypeFile)
	assert.Error(t, err)
}
