// Package local implements a provider that manages files and
// directories on the machine running keel.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/keel-iac/keel/internal/provider"
)

const (
	TypeFile      = "local:File"
	TypeDirectory = "local:Directory"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

type fileConfig struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Permissions string `json:"permissions"`
}

type fileState struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Checksum    string `json:"checksum"`
	Permissions string `json:"permissions"`
}

func (p *Provider) Configure(ctx context.Context, req *provider.ConfigureRequest) (*provider.ConfigureResponse, error) {
	return &provider.ConfigureResponse{}, nil
}

func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	var desired fileConfig
	if err := json.Unmarshal(req.DesiredConfig, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Path == "" {
		return nil, fmt.Errorf("%s.%s: path is required", req.Type, req.Name)
	}

	if len(req.PriorState) == 0 {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	var prior fileState
	if err := json.Unmarshal(req.PriorState, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	// Moving a file means destroying the old path and creating the new
	// one, which is a replacement.
	if desired.Path != prior.Path {
		return &provider.PlanResponse{
			Action:            provider.ActionReplace,
			ChangedAttributes: []string{"path"},
		}, nil
	}

	var changes []string
	if req.Type == TypeFile && checksum(desired.Content) != prior.Checksum {
		changes = append(changes, "content")
	}
	if desired.Permissions != "" && desired.Permissions != prior.Permissions {
		changes = append(changes, "permissions")
	}

	if len(changes) > 0 {
		return &provider.PlanResponse{
			Action:            provider.ActionUpdate,
			ChangedAttributes: changes,
		}, nil
	}

	return &provider.PlanResponse{Action: provider.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired fileConfig
	if err := json.Unmarshal(req.DesiredConfig, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if desired.Path == "" {
		return nil, fmt.Errorf("%s.%s: path is required", req.Type, req.Name)
	}

	mode, err := parseMode(desired.Permissions, req.Type)
	if err != nil {
		return nil, err
	}

	switch req.Type {
	case TypeFile:
		if err := os.WriteFile(desired.Path, []byte(desired.Content), mode); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", desired.Path, err)
		}
	case TypeDirectory:
		if err := os.MkdirAll(desired.Path, mode); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", desired.Path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported resource type: %s", req.Type)
	}

	// Permissions must win over any pre-existing mode or umask.
	if desired.Permissions != "" {
		if err := os.Chmod(desired.Path, mode); err != nil {
			return nil, fmt.Errorf("failed to chmod %s: %w", desired.Path, err)
		}
	}

	state := fileState{
		ID:          desired.Path,
		Path:        desired.Path,
		Permissions: desired.Permissions,
	}
	if req.Type == TypeFile {
		state.Checksum = checksum(desired.Content)
	}

	stateBytes, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	return &provider.ApplyResponse{NewState: stateBytes}, nil
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var prior fileState
	if len(req.CurrentState) > 0 {
		if err := json.Unmarshal(req.CurrentState, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
		}
	}

	path := prior.Path
	if path == "" {
		path = req.ID
	}
	if path == "" {
		return &provider.ReadResponse{Exists: false}, nil
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &provider.ReadResponse{Exists: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	state := fileState{
		ID:          path,
		Path:        path,
		Permissions: fmt.Sprintf("%04o", info.Mode().Perm()),
	}
	if req.Type == TypeFile {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		state.Checksum = checksum(string(content))
	}

	stateBytes, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	return &provider.ReadResponse{
		Exists:   true,
		NewState: stateBytes,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	var prior fileState
	if len(req.CurrentState) > 0 {
		if err := json.Unmarshal(req.CurrentState, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
		}
	}

	path := prior.Path
	if path == "" {
		path = req.ID
	}
	if path == "" {
		return &provider.DeleteResponse{}, nil
	}

	var err error
	if req.Type == TypeDirectory {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to delete %s: %w", path, err)
	}

	return &provider.DeleteResponse{}, nil
}

func checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func parseMode(perms, typ string) (os.FileMode, error) {
	if perms == "" {
		if typ == TypeDirectory {
			return 0755, nil
		}
		return 0644, nil
	}
	n, err := strconv.ParseUint(perms, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid permissions %q: %w", perms, err)
	}
	return os.FileMode(n), nil
}
