// Package docker implements a provider that manages Docker containers,
// networks, volumes and images through the local daemon.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/keel-iac/keel/internal/provider"
)

const (
	TypeContainer = "docker_container"
	TypeNetwork   = "docker_network"
	TypeVolume    = "docker_volume"
	TypeImage     = "docker_image"
)

type Provider struct {
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ensureClient() error {
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	p.client = cli
	return nil
}

func (p *Provider) Configure(ctx context.Context, req *provider.ConfigureRequest) (*provider.ConfigureResponse, error) {
	if err := p.ensureClient(); err != nil {
		return &provider.ConfigureResponse{
			Diagnostics: []*provider.Diagnostic{
				{
					Severity: provider.SeverityError,
					Summary:  "Failed to create Docker client",
					Detail:   err.Error(),
				},
			},
		}, nil
	}
	return &provider.ConfigureResponse{}, nil
}

func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if len(req.PriorState) == 0 {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	switch req.Type {
	case TypeContainer:
		var desired ContainerConfig
		if err := json.Unmarshal(req.DesiredConfig, &desired); err != nil {
			return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
		}

		var prior ContainerState
		if err := json.Unmarshal(req.PriorState, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior: %w", err)
		}

		// Containers are immutable once created; any image change
		// means tear down and recreate.
		if desired.Image != prior.ImageName {
			return &provider.PlanResponse{
				Action:            provider.ActionReplace,
				ChangedAttributes: []string{"image"},
			}, nil
		}
		return &provider.PlanResponse{Action: provider.ActionNoop}, nil

	case TypeNetwork:
		var desired NetworkConfig
		if err := json.Unmarshal(req.DesiredConfig, &desired); err != nil {
			return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
		}
		var prior NetworkState
		if err := json.Unmarshal(req.PriorState, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior: %w", err)
		}
		if desired.Driver != "" && desired.Driver != prior.Driver {
			return &provider.PlanResponse{
				Action:            provider.ActionReplace,
				ChangedAttributes: []string{"driver"},
			}, nil
		}
		return &provider.PlanResponse{Action: provider.ActionNoop}, nil

	case TypeVolume, TypeImage:
		return &provider.PlanResponse{Action: provider.ActionNoop}, nil
	}

	return &provider.PlanResponse{Action: provider.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch req.Type {
	case TypeContainer:
		return p.applyContainer(ctx, req)
	case TypeNetwork:
		return p.applyNetwork(ctx, req)
	case TypeVolume:
		return p.applyVolume(ctx, req)
	case TypeImage:
		return p.applyImage(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

func (p *Provider) applyImage(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired ImageConfig
	if err := json.Unmarshal(req.DesiredConfig, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if desired.BuildContext != "" {
		tar, err := archive.TarWithOptions(desired.BuildContext, &archive.TarOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create build context tar: %w", err)
		}

		opts := types.ImageBuildOptions{
			Tags:       []string{desired.Name},
			Dockerfile: desired.Dockerfile,
			Remove:     true,
		}

		resp, err := p.client.ImageBuild(ctx, tar, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to build image: %w", err)
		}
		defer resp.Body.Close()

		// Drain output to prevent blocking
		io.Copy(os.Stdout, resp.Body)
	} else {
		reader, err := p.client.ImagePull(ctx, desired.Name, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image: %w", err)
		}
		io.Copy(os.Stdout, reader)
		reader.Close()
	}

	inspect, _, err := p.client.ImageInspectWithRaw(ctx, desired.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect image: %w", err)
	}

	newState := ImageState{
		ID:   inspect.ID,
		Name: desired.Name,
	}
	stateJSON, _ := json.Marshal(newState)

	return &provider.ApplyResponse{NewState: stateJSON}, nil
}

func (p *Provider) applyContainer(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired ContainerConfig
	if err := json.Unmarshal(req.DesiredConfig, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = req.Name
	}

	// A replace reaches here with the prior container still running.
	if req.Action == provider.ActionReplace || req.Action == provider.ActionUpdate {
		var prior ContainerState
		if len(req.PriorState) > 0 {
			if err := json.Unmarshal(req.PriorState, &prior); err == nil && prior.ID != "" {
				p.removeContainer(ctx, prior.ID)
			}
		}
	}

	reader, err := p.client.ImagePull(ctx, desired.Image, image.PullOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", desired.Image, err)
	}
	io.Copy(os.Stdout, reader)
	reader.Close()

	portBindings := nat.PortMap{}
	for hostPort, containerPort := range desired.Ports {
		cp := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		portBindings[cp] = []nat.PortBinding{
			{
				HostIP:   "0.0.0.0",
				HostPort: hostPort,
			},
		}
	}

	var binds []string
	for _, v := range desired.Volumes {
		parts := strings.SplitN(v, ":", 2)
		if len(parts) > 0 {
			if strings.HasPrefix(parts[0], "./") || strings.HasPrefix(parts[0], "../") {
				abs, err := filepath.Abs(parts[0])
				if err == nil {
					parts[0] = abs
					binds = append(binds, strings.Join(parts, ":"))
					continue
				}
			}
		}
		binds = append(binds, v)
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        binds,
	}
	if len(desired.Networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(desired.Networks[0])
	}

	if desired.Restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(desired.Restart),
		}
	}

	config := &container.Config{
		Image:      desired.Image,
		Cmd:        desired.Command,
		Env:        mapToEnvList(desired.Env),
		Labels:     desired.Labels,
		WorkingDir: desired.WorkingDir,
		User:       desired.User,
	}

	if desired.Healthcheck != nil {
		test := desired.Healthcheck.Test
		if len(test) == 0 {
			test = []string{"NONE"}
		}

		interval, _ := time.ParseDuration(desired.Healthcheck.Interval)
		timeout, _ := time.ParseDuration(desired.Healthcheck.Timeout)
		startPeriod, _ := time.ParseDuration(desired.Healthcheck.StartPeriod)

		config.Healthcheck = &container.HealthConfig{
			Test:        test,
			Interval:    interval,
			Timeout:     timeout,
			StartPeriod: startPeriod,
			Retries:     desired.Healthcheck.Retries,
		}
	}

	resp, err := p.client.ContainerCreate(ctx,
		config,
		hostConfig,
		&network.NetworkingConfig{},
		&v1.Platform{},
		desired.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	newState := ContainerState{
		ID:        resp.ID,
		Name:      desired.Name,
		ImageName: desired.Image,
	}
	stateJSON, _ := json.Marshal(newState)

	return &provider.ApplyResponse{NewState: stateJSON}, nil
}

func (p *Provider) applyNetwork(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired NetworkConfig
	if err := json.Unmarshal(req.DesiredConfig, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = req.Name
	}

	resp, err := p.client.NetworkCreate(ctx, desired.Name, types.NetworkCreate{
		Driver:   desired.Driver,
		Internal: desired.Internal,
		Labels:   desired.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}

	newState := NetworkState{
		ID:     resp.ID,
		Name:   desired.Name,
		Driver: desired.Driver,
	}
	stateJSON, _ := json.Marshal(newState)

	return &provider.ApplyResponse{NewState: stateJSON}, nil
}

func (p *Provider) applyVolume(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired VolumeConfig
	if err := json.Unmarshal(req.DesiredConfig, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = req.Name
	}

	vol, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   desired.Name,
		Driver: desired.Driver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume: %w", err)
	}

	newState := VolumeState{
		Name:   vol.Name,
		Driver: vol.Driver,
	}
	stateJSON, _ := json.Marshal(newState)

	return &provider.ApplyResponse{NewState: stateJSON}, nil
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch req.Type {
	case TypeContainer:
		inspect, err := p.client.ContainerInspect(ctx, req.ID)
		if err != nil {
			if client.IsErrNotFound(err) {
				return &provider.ReadResponse{Exists: false}, nil
			}
			return nil, fmt.Errorf("failed to inspect container: %w", err)
		}
		state := ContainerState{
			ID:        inspect.ID,
			Name:      strings.TrimPrefix(inspect.Name, "/"),
			ImageName: inspect.Config.Image,
		}
		stateJSON, _ := json.Marshal(state)
		return &provider.ReadResponse{Exists: true, NewState: stateJSON}, nil

	case TypeNetwork:
		inspect, err := p.client.NetworkInspect(ctx, req.ID, network.InspectOptions{})
		if err != nil {
			if client.IsErrNotFound(err) {
				return &provider.ReadResponse{Exists: false}, nil
			}
			return nil, fmt.Errorf("failed to inspect network: %w", err)
		}
		state := NetworkState{ID: inspect.ID, Name: inspect.Name, Driver: inspect.Driver}
		stateJSON, _ := json.Marshal(state)
		return &provider.ReadResponse{Exists: true, NewState: stateJSON}, nil

	case TypeVolume:
		vol, err := p.client.VolumeInspect(ctx, req.ID)
		if err != nil {
			if client.IsErrNotFound(err) {
				return &provider.ReadResponse{Exists: false}, nil
			}
			return nil, fmt.Errorf("failed to inspect volume: %w", err)
		}
		state := VolumeState{Name: vol.Name, Driver: vol.Driver}
		stateJSON, _ := json.Marshal(state)
		return &provider.ReadResponse{Exists: true, NewState: stateJSON}, nil

	case TypeImage:
		inspect, _, err := p.client.ImageInspectWithRaw(ctx, req.ID)
		if err != nil {
			if client.IsErrNotFound(err) {
				return &provider.ReadResponse{Exists: false}, nil
			}
			return nil, fmt.Errorf("failed to inspect image: %w", err)
		}
		state := ImageState{ID: inspect.ID}
		if len(inspect.RepoTags) > 0 {
			state.Name = inspect.RepoTags[0]
		}
		stateJSON, _ := json.Marshal(state)
		return &provider.ReadResponse{Exists: true, NewState: stateJSON}, nil
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch req.Type {
	case TypeContainer:
		var prior ContainerState
		if len(req.CurrentState) > 0 {
			if err := json.Unmarshal(req.CurrentState, &prior); err != nil {
				return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
			}
		}
		id := prior.ID
		if id == "" {
			id = req.ID
		}
		if id != "" {
			if err := p.removeContainer(ctx, id); err != nil {
				return nil, err
			}
		}
		return &provider.DeleteResponse{}, nil

	case TypeNetwork:
		id := stateID(req, "id")
		if id != "" {
			if err := p.client.NetworkRemove(ctx, id); err != nil && !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove network: %w", err)
			}
		}
		return &provider.DeleteResponse{}, nil

	case TypeVolume:
		name := stateID(req, "name")
		if name != "" {
			if err := p.client.VolumeRemove(ctx, name, true); err != nil && !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove volume: %w", err)
			}
		}
		return &provider.DeleteResponse{}, nil

	case TypeImage:
		id := stateID(req, "id")
		if id != "" {
			if _, err := p.client.ImageRemove(ctx, id, image.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove image: %w", err)
			}
		}
		return &provider.DeleteResponse{}, nil
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

func (p *Provider) removeContainer(ctx context.Context, id string) error {
	timeout := 10 // seconds
	_ = p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	if err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove container: %w", err)
		}
	}
	return nil
}

func stateID(req *provider.DeleteRequest, key string) string {
	if len(req.CurrentState) > 0 {
		var m map[string]any
		if err := json.Unmarshal(req.CurrentState, &m); err == nil {
			if v, ok := m[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return req.ID
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

type ContainerConfig struct {
	Image       string             `json:"image"`
	Name        string             `json:"name"`
	Command     []string           `json:"command"`
	Ports       map[string]int     `json:"ports"`
	Env         map[string]string  `json:"env"`
	Networks    []string           `json:"networks"`
	Volumes     []string           `json:"volumes"`
	Labels      map[string]string  `json:"labels"`
	WorkingDir  string             `json:"workingDir"`
	User        string             `json:"user"`
	Restart     string             `json:"restart"`
	Healthcheck *HealthcheckConfig `json:"healthcheck"`
}

type HealthcheckConfig struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval"`
	Timeout     string   `json:"timeout"`
	StartPeriod string   `json:"startPeriod"`
	Retries     int      `json:"retries"`
}

type ContainerState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ImageName string `json:"image"`
}

type NetworkConfig struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver"`
	Internal bool              `json:"internal"`
	Labels   map[string]string `json:"labels"`
}

type NetworkState struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type VolumeConfig struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type VolumeState struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type ImageConfig struct {
	Name         string `json:"name"`
	BuildContext string `json:"buildContext"`
	Dockerfile   string `json:"dockerfile"`
}

type ImageState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
