package adapters

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindDocker  Kind = "docker"
	KindProxmox Kind = "proxmox"
)

var ErrResourceNotFound = errors.New("resource not found")

// ResourceSummary is one entry of an adapter's resource listing.
type ResourceSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
	State string `json:"state"`
	Node  string `json:"node,omitempty"`
}

func (r ResourceSummary) Running() bool {
	return r.State == "running"
}

type PortMapping struct {
	PrivatePort int    `json:"privatePort"`
	PublicPort  int    `json:"publicPort,omitempty"`
	Type        string `json:"type"`
	IP          string `json:"ip,omitempty"`
}

// ResourceInfo is the detailed state of one resource. ExitCode is only set
// once the resource has stopped.
type ResourceInfo struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Image        string        `json:"image"`
	State        string        `json:"state"`
	Status       string        `json:"status"`
	ExitCode     *int          `json:"exitCode,omitempty"`
	Created      time.Time     `json:"created"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt"`
	RestartCount int           `json:"restartCount"`
	OOMKilled    bool          `json:"oomKilled"`
	Ports        []PortMapping `json:"ports"`
	ObservedAt   time.Time     `json:"observedAt"`
}

// ResourceStats carries raw counters. Percentages are derived by the
// normalizer so every adapter reports the same unit-free numbers.
type ResourceStats struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CPUDelta         uint64    `json:"cpuDelta"`
	SystemCPUDelta   uint64    `json:"systemCpuDelta"`
	OnlineCPUs       int       `json:"onlineCpus"`
	MemoryUsageBytes uint64    `json:"memoryUsageBytes"`
	MemoryLimitBytes uint64    `json:"memoryLimitBytes"`
	NetworkRxBytes   uint64    `json:"networkRxBytes"`
	NetworkTxBytes   uint64    `json:"networkTxBytes"`
	ObservedAt       time.Time `json:"observedAt"`
}

type LogLine struct {
	Stream    string    `json:"stream"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Adapter is the read-only accessor every infrastructure backend exposes.
type Adapter interface {
	Kind() Kind
	Name() string
	IsAvailable(ctx context.Context) bool
	ListResources(ctx context.Context) ([]ResourceSummary, error)
	GetResourceInfo(ctx context.Context, id string) (*ResourceInfo, error)
	GetResourceStats(ctx context.Context, id string) (*ResourceStats, error)
	// GetLogs returns lines at or after since; a zero since means everything
	// the backend still retains.
	GetLogs(ctx context.Context, id string, since time.Time) ([]LogLine, error)
}

// ProxmoxNode mirrors an entry of the PVE /nodes listing. CPU is a 0..1 fraction.
type ProxmoxNode struct {
	Node       string    `json:"node" yaml:"node"`
	Status     string    `json:"status" yaml:"status"`
	CPU        float64   `json:"cpu" yaml:"cpu"`
	MaxCPU     int       `json:"maxcpu" yaml:"maxcpu"`
	Mem        uint64    `json:"mem" yaml:"mem"`
	MaxMem     uint64    `json:"maxmem" yaml:"maxmem"`
	Uptime     int64     `json:"uptime" yaml:"uptime"`
	ObservedAt time.Time `json:"-" yaml:"-"`
}

// ProxmoxVM mirrors an entry of the PVE /nodes/{node}/qemu listing.
type ProxmoxVM struct {
	Node       string    `json:"node" yaml:"node"`
	VMID       int       `json:"vmid" yaml:"vmid"`
	Name       string    `json:"name" yaml:"name"`
	Status     string    `json:"status" yaml:"status"`
	CPU        float64   `json:"cpu" yaml:"cpu"`
	CPUs       int       `json:"cpus" yaml:"cpus"`
	Mem        uint64    `json:"mem" yaml:"mem"`
	MaxMem     uint64    `json:"maxmem" yaml:"maxmem"`
	Uptime     int64     `json:"uptime" yaml:"uptime"`
	ObservedAt time.Time `json:"-" yaml:"-"`
}

// SnapshotSource is implemented by hypervisor adapters whose hosts and guests
// are reported as raw inventory records (ProxmoxNode, ProxmoxVM) rather than
// through the per-resource calls.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]interface{}, error)
}
