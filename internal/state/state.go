// Package state persists the mapping between configured resources and
// the real infrastructure they produced.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/keel-iac/keel/internal/ir"
	"github.com/keel-iac/keel/internal/logging"
)

// Manager reads and writes state stored as a local JSON file. It is
// also the "local" Backend.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) Path() string {
	return m.path
}

// Read loads the state from the configured path. A missing file yields
// an empty state. An encrypted file is transparently decrypted.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		return &ir.State{Version: 1}, nil
	}

	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	if IsEncrypted(raw) {
		raw, err = DecryptState(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state: %w", err)
		}
	}

	state, err := UnmarshalState(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", m.path, err)
	}

	return state, nil
}

// Write saves the state to the configured path. Every write bumps the
// serial, and a state written for the first time gets a fresh lineage.
// If KEEL_STATE_ENCRYPTION_KEY is set, the file is transparently
// encrypted.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	content, err := MarshalState(state)
	if err != nil {
		return err
	}

	encrypted, err := EncryptState(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	// Write to a temp file and rename so a crash mid-write never
	// leaves a truncated state file behind.
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, encrypted, 0644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}

	logging.Debug("wrote state", "path", m.path, "serial", state.Serial, "resources", len(state.Resources))
	return nil
}

// MarshalState prepares a state for persistence: the serial is bumped,
// a missing lineage is minted, and the result is rendered as indented
// JSON.
func MarshalState(state *ir.State) ([]byte, error) {
	if state.Version == 0 {
		state.Version = 1
	}
	if state.Lineage == "" {
		state.Lineage = uuid.NewString()
	}
	state.Serial++

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state: %w", err)
	}
	return append(data, '\n'), nil
}

// UnmarshalState parses persisted state JSON.
func UnmarshalState(data []byte) (*ir.State, error) {
	var state ir.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	if state.Version == 0 {
		state.Version = 1
	}
	return &state, nil
}
