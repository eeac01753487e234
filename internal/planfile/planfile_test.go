package planfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/keel-iac/keel/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlan() *ir.Plan {
	return &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp:        "2026-01-02T03:04:05Z",
			PriorStateSerial: 3,
			PriorLineage:     "test-lineage",
		},
		Changes: []*ir.ResourceChange{
			{
				Address: "null_resource.seed",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:       "null_resource",
					Name:       "seed",
					Provider:   "null",
					Properties: map[string]any{"triggers": map[string]any{"a": "b"}},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
	}
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.keel")

	require.NoError(t, Write(path, testPlan()))

	got, err := Read(path)
	require.NoError(t, err)
	require.Len(t, got.Changes, 1)
	assert.Equal(t, "null_resource.seed", got.Changes[0].Address)
	assert.Equal(t, "CREATE", got.Changes[0].Action)
	assert.Equal(t, 3, got.Metadata.PriorStateSerial)
	assert.Equal(t, 1, got.Summary.Create)
}

func TestWrite_NilPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.keel")
	assert.Error(t, Write(path, nil))
}

func TestRead_Missing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.keel"))
	assert.Error(t, err)
}

func TestRead_VersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.keel")
	require.NoError(t, os.WriteFile(path, []byte(`{"format_version": 99, "plan": {}}`), 0o644))

	_, err := Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestRead_NotAPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.keel")
	require.NoError(t, os.WriteFile(path, []byte(`resource "null_resource" "x" {}`), 0o644))

	_, err := Read(path)
	assert.Error(t, err)
}

func TestIsPlanFile(t *testing.T) {
	dir := t.TempDir()

	planPath := filepath.Join(dir, "plan.keel")
	require.NoError(t, Write(planPath, testPlan()))
	assert.True(t, IsPlanFile(planPath))

	cfgPath := filepath.Join(dir, "main.hcl")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`resource "null_resource" "x" {}`), 0o644))
	assert.False(t, IsPlanFile(cfgPath))

	assert.False(t, IsPlanFile(filepath.Join(dir, "missing")))
}
