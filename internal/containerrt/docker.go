package containerrt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
)

// Docker is the real runtime adapter, backed by the Docker Engine API.
type Docker struct {
	inner *client.Client
}

// NewDocker creates a Docker-backed adapter using environment defaults.
// An empty host uses client.FromEnv.
func NewDocker(host string) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Docker{inner: inner}, nil
}

// Close releases the underlying Docker client.
func (d *Docker) Close() error {
	if d.inner == nil {
		return nil
	}
	return d.inner.Close()
}

// Ping validates connectivity to the Docker daemon.
func (d *Docker) Ping(ctx context.Context) error {
	if d == nil || d.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if _, err := d.inner.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

func (d *Docker) Build(ctx context.Context, tag, recipePath, contextDir string, onOutput BuildOutput) error {
	if contextDir == "" {
		return fmt.Errorf("build context directory cannot be empty")
	}
	if tag == "" {
		return fmt.Errorf("image tag cannot be empty")
	}
	rel, err := filepath.Rel(contextDir, recipePath)
	if err != nil {
		rel = recipePath
	}
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	resp, err := d.inner.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  rel,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("docker image build: %s", errMsg)
		}
		if line := msg.render(); line != "" && onOutput != nil {
			onOutput(line)
		}
	}
	return nil
}

func (d *Docker) Create(ctx context.Context, tag string) (Handle, error) {
	if tag == "" {
		return "", fmt.Errorf("image tag cannot be empty")
	}
	cfg := &container.Config{Image: tag}
	hostCfg := &container.HostConfig{}
	resp, err := d.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	if err := d.inner.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}
	h := Handle(resp.ID)
	if !h.Valid() {
		return "", fmt.Errorf("%w: %q", ErrMalformedHandle, resp.ID)
	}
	return h, nil
}

func (d *Docker) Exec(ctx context.Context, h Handle, cmd []string) (string, error) {
	if !h.Valid() {
		return "", fmt.Errorf("%w: %q", ErrMalformedHandle, h)
	}
	execResp, err := d.inner.ContainerExecCreate(ctx, string(h), container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("exec create: %w", err)
	}
	attach, err := d.inner.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return "", fmt.Errorf("exec read output: %w", err)
	}

	inspect, err := d.inner.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", fmt.Errorf("exec inspect: %w", err)
	}
	if inspect.ExitCode != 0 {
		return stdout.String(), fmt.Errorf("exec %v exited with status %d: %s", cmd, inspect.ExitCode, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (d *Docker) Run(ctx context.Context, tag string, cmd []string) (string, error) {
	if tag == "" {
		return "", fmt.Errorf("image tag cannot be empty")
	}
	cfg := &container.Config{Image: tag, Cmd: cmd}
	hostCfg := &container.HostConfig{AutoRemove: true}
	resp, err := d.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	if err := d.inner.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}

	statusCh, errCh := d.inner.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil && !client.IsErrNotFound(err) {
			return "", fmt.Errorf("wait for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return "", ctx.Err()
	}

	logs, err := d.inner.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", fmt.Errorf("read container logs: %w", err)
	}

	if exitCode != 0 {
		return stdout.String(), fmt.Errorf("run %v exited with status %d: %s", cmd, exitCode, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (d *Docker) Stop(ctx context.Context, h Handle) error {
	if !h.Valid() {
		return fmt.Errorf("%w: %q", ErrMalformedHandle, h)
	}
	if err := d.inner.ContainerStop(ctx, string(h), container.StopOptions{}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container stop: %w", err)
	}
	if err := d.inner.ContainerRemove(ctx, string(h), container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

func (d *Docker) Stats(ctx context.Context, h Handle) (Stats, error) {
	if !h.Valid() {
		return Stats{}, fmt.Errorf("%w: %q", ErrMalformedHandle, h)
	}
	resp, err := d.inner.ContainerStatsOneShot(ctx, string(h))
	if err != nil {
		if client.IsErrNotFound(err) {
			return Stats{}, ErrNotFound
		}
		return Stats{}, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	var raw containerStatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Stats{}, fmt.Errorf("decode container stats: %w", err)
	}
	return Stats{
		CPUPercent:  raw.cpuPercent(),
		MemoryBytes: raw.MemoryStats.Usage,
	}, nil
}

type buildMessage struct {
	Stream         string                `json:"stream"`
	Status         string                `json:"status"`
	ID             string                `json:"id"`
	Progress       string                `json:"progress"`
	ProgressDetail progressDetail        `json:"progressDetail"`
	Error          string                `json:"error"`
	ErrorDetail    buildMessageErrDetail `json:"errorDetail"`
}

type progressDetail struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

type buildMessageErrDetail struct {
	Message string `json:"message"`
}

func (m buildMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m buildMessage) render() string {
	if m.Stream != "" {
		return strings.TrimRight(m.Stream, "\n")
	}
	if m.Status != "" {
		parts := make([]string, 0, 3)
		if id := strings.TrimSpace(m.ID); id != "" {
			parts = append(parts, id)
		}
		parts = append(parts, strings.TrimSpace(m.Status))
		if m.ProgressDetail.Total > 0 {
			parts = append(parts, strconv.FormatInt(m.ProgressDetail.Current, 10)+"/"+strconv.FormatInt(m.ProgressDetail.Total, 10))
		}
		return strings.Join(parts, " ")
	}
	return ""
}

type containerStatsJSON struct {
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs  uint32 `json:"online_cpus"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
	} `json:"memory_stats"`
}

func (s containerStatsJSON) cpuPercent() float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if sysDelta <= 0 || cpuDelta <= 0 {
		return 0
	}
	online := float64(s.CPUStats.OnlineCPUs)
	if online == 0 {
		online = 1
	}
	return (cpuDelta / sysDelta) * online * 100.0
}
