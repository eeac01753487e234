// Package planfile persists execution plans so a reviewed plan can be
// applied later exactly as rendered.
package planfile

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/keel-iac/keel/internal/ir"
)

// FormatVersion identifies the plan file layout. Readers reject files
// written by an incompatible version.
const FormatVersion = 1

type planFile struct {
	FormatVersion int      `json:"format_version"`
	Plan          *ir.Plan `json:"plan"`
}

// Write saves a plan to path as JSON.
func Write(path string, plan *ir.Plan) error {
	if plan == nil {
		return fmt.Errorf("cannot write a nil plan")
	}

	data, err := json.MarshalIndent(planFile{
		FormatVersion: FormatVersion,
		Plan:          plan,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize plan: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write plan file %s: %w", path, err)
	}

	return nil
}

// Read loads a plan previously saved with Write.
func Read(path string) (*ir.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %s: %w", path, err)
	}

	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}

	if pf.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported plan file format version %d (expected %d)", pf.FormatVersion, FormatVersion)
	}
	if pf.Plan == nil {
		return nil, fmt.Errorf("plan file %s contains no plan", path)
	}

	return pf.Plan, nil
}

// IsPlanFile reports whether path looks like a saved plan rather than a
// config file or directory.
func IsPlanFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var probe struct {
		FormatVersion int `json:"format_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.FormatVersion > 0
}
