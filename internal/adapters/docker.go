package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/labsage/backend/internal/logger"
)

const (
	dockerTimeout = 15 * time.Second
	maxLogBytes   = 16 << 20
)

// DockerAdapter reads containers through the Docker Engine API client.
type DockerAdapter struct {
	client *client.Client
}

// NewDockerAdapter connects to host (unix://, tcp://, ...). An empty host
// falls back to DOCKER_HOST and the platform default socket.
func NewDockerAdapter(host string) (*DockerAdapter, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation(), client.WithTimeout(dockerTimeout)}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid docker host %q: %w", host, err)
	}
	return &DockerAdapter{client: cli}, nil
}

// Close releases the client's idle connections.
func (d *DockerAdapter) Close() error {
	return d.client.Close()
}

func (d *DockerAdapter) Kind() Kind   { return KindDocker }
func (d *DockerAdapter) Name() string { return "docker" }

func (d *DockerAdapter) IsAvailable(ctx context.Context) bool {
	if _, err := d.client.Ping(ctx); err != nil {
		logger.WithComponent("docker").Debugf("Docker engine not reachable: %v", err)
		return false
	}
	return true
}

func (d *DockerAdapter) ListResources(ctx context.Context) ([]ResourceSummary, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	resources := make([]ResourceSummary, 0, len(containers))
	for _, c := range containers {
		name := c.ID
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		resources = append(resources, ResourceSummary{
			ID:    c.ID,
			Name:  name,
			Image: c.Image,
			State: string(c.State),
		})
	}
	return resources, nil
}

func (d *DockerAdapter) GetResourceInfo(ctx context.Context, id string) (*ResourceInfo, error) {
	inspect, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		return nil, dockerError("inspect", id, err)
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return nil, fmt.Errorf("docker returned an incomplete inspect for %s", id)
	}

	info := &ResourceInfo{
		ID:           inspect.ID,
		Name:         strings.TrimPrefix(inspect.Name, "/"),
		State:        string(inspect.State.Status),
		Status:       string(inspect.State.Status),
		Created:      parseDockerTime(inspect.Created),
		StartedAt:    parseDockerTime(inspect.State.StartedAt),
		FinishedAt:   parseDockerTime(inspect.State.FinishedAt),
		RestartCount: inspect.RestartCount,
		OOMKilled:    inspect.State.OOMKilled,
		ObservedAt:   time.Now(),
	}
	if inspect.Config != nil {
		info.Image = inspect.Config.Image
	}
	// The engine reports ExitCode 0 for containers that never stopped.
	if !inspect.State.Running && (inspect.State.Status == "exited" || inspect.State.Status == "dead") {
		code := inspect.State.ExitCode
		info.ExitCode = &code
	}
	if inspect.NetworkSettings != nil {
		for spec, bindings := range inspect.NetworkSettings.Ports {
			private, proto := splitPortSpec(string(spec))
			if len(bindings) == 0 {
				info.Ports = append(info.Ports, PortMapping{PrivatePort: private, Type: proto})
				continue
			}
			for _, b := range bindings {
				public, _ := strconv.Atoi(b.HostPort)
				info.Ports = append(info.Ports, PortMapping{PrivatePort: private, PublicPort: public, Type: proto, IP: b.HostIP})
			}
		}
		sort.Slice(info.Ports, func(i, j int) bool { return info.Ports[i].PrivatePort < info.Ports[j].PrivatePort })
	}
	return info, nil
}

func (d *DockerAdapter) GetResourceStats(ctx context.Context, id string) (*ResourceStats, error) {
	resp, err := d.client.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return nil, dockerError("stats", id, err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode stats for %s: %w", id, err)
	}

	stats := &ResourceStats{
		ID:               id,
		Name:             strings.TrimPrefix(raw.Name, "/"),
		CPUDelta:         subOrZero(raw.CPUStats.CPUUsage.TotalUsage, raw.PreCPUStats.CPUUsage.TotalUsage),
		SystemCPUDelta:   subOrZero(raw.CPUStats.SystemUsage, raw.PreCPUStats.SystemUsage),
		OnlineCPUs:       int(raw.CPUStats.OnlineCPUs),
		MemoryUsageBytes: raw.MemoryStats.Usage,
		MemoryLimitBytes: raw.MemoryStats.Limit,
		ObservedAt:       time.Now(),
	}
	// Page cache is reclaimable; cgroup v2 reports it as inactive_file, v1 as cache.
	if cache, ok := raw.MemoryStats.Stats["inactive_file"]; ok {
		stats.MemoryUsageBytes = subOrZero(stats.MemoryUsageBytes, cache)
	} else if cache, ok := raw.MemoryStats.Stats["cache"]; ok {
		stats.MemoryUsageBytes = subOrZero(stats.MemoryUsageBytes, cache)
	}
	for _, n := range raw.Networks {
		stats.NetworkRxBytes += n.RxBytes
		stats.NetworkTxBytes += n.TxBytes
	}
	return stats, nil
}

func (d *DockerAdapter) GetLogs(ctx context.Context, id string, since time.Time) ([]LogLine, error) {
	inspect, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		return nil, dockerError("inspect", id, err)
	}

	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true, Timestamps: true}
	if !since.IsZero() {
		opts.Since = strconv.FormatInt(since.Unix(), 10)
	}
	body, err := d.client.ContainerLogs(ctx, id, opts)
	if err != nil {
		return nil, dockerError("logs", id, err)
	}
	defer body.Close()
	src := io.LimitReader(body, maxLogBytes)

	// TTY containers stream raw stdout; everything else is multiplexed.
	if inspect.Config != nil && inspect.Config.Tty {
		raw, err := io.ReadAll(src)
		if err != nil {
			return nil, fmt.Errorf("failed to read logs for %s: %w", id, err)
		}
		return splitLines(raw, "stdout"), nil
	}

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, src); err != nil {
		return nil, fmt.Errorf("failed to demultiplex logs for %s: %w", id, err)
	}
	lines := append(splitLines(stdout.Bytes(), "stdout"), splitLines(stderr.Bytes(), "stderr")...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Timestamp.Before(lines[j].Timestamp) })
	return lines, nil
}

func dockerError(op, id string, err error) error {
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, id)
	}
	return fmt.Errorf("docker %s %s failed: %w", op, id, err)
}

func parseDockerTime(value string) time.Time {
	if value == "" || strings.HasPrefix(value, "0001-01-01") {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func splitPortSpec(spec string) (int, string) {
	port, proto, found := strings.Cut(spec, "/")
	if !found {
		proto = "tcp"
	}
	n, _ := strconv.Atoi(port)
	return n, proto
}

func subOrZero(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
