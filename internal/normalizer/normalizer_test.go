package normalizer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/labsage/backend/internal/adapters"
	"github.com/labsage/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return &Normalizer{now: func() time.Time { return fixedNow }}
}

func TestNormalizeContainerInfo(t *testing.T) {
	n := newTestNormalizer()
	code := 137
	fact, ok := n.Normalize(&adapters.ResourceInfo{
		ID: "abc", Name: "api", Image: "api:latest", State: "exited", ExitCode: &code,
		RestartCount: 3, Ports: []adapters.PortMapping{{PrivatePort: 80, PublicPort: 8080, Type: "tcp"}},
	}, adapters.KindDocker)
	require.True(t, ok)

	assert.Equal(t, "docker://abc", fact.ResourceRef)
	assert.Equal(t, models.FactDockerContainerStatus, fact.FactType)
	assert.Equal(t, "docker", fact.Source)
	assert.Equal(t, fixedNow, fact.Timestamp)

	payload, err := fact.Payload()
	require.NoError(t, err)
	status := payload.(models.ContainerStatus)
	require.NotNil(t, status.ExitCode)
	assert.Equal(t, 137, *status.ExitCode)
	assert.Equal(t, 3, status.RestartCount)
	assert.Equal(t, []models.Port{{PrivatePort: 80, PublicPort: 8080, Protocol: "tcp"}}, status.Ports)
}

func TestNormalizeStatsDerivedFields(t *testing.T) {
	tests := []struct {
		name       string
		stats      adapters.ResourceStats
		cpuPercent float64
		memPercent float64
		memUsedMB  float64
	}{
		{
			name: "regular",
			stats: adapters.ResourceStats{ID: "abc", CPUDelta: 2000, SystemCPUDelta: 10000, OnlineCPUs: 2,
				MemoryUsageBytes: 512 * bytesPerMB, MemoryLimitBytes: 1024 * bytesPerMB},
			cpuPercent: 40, memPercent: 50, memUsedMB: 512,
		},
		{
			name:       "zero capacity",
			stats:      adapters.ResourceStats{ID: "abc", CPUDelta: 2000, MemoryUsageBytes: 10 * bytesPerMB},
			cpuPercent: 0, memPercent: 0, memUsedMB: 10,
		},
		{
			name:       "unknown cpu count",
			stats:      adapters.ResourceStats{ID: "abc", CPUDelta: 500, SystemCPUDelta: 1000},
			cpuPercent: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fact, ok := newTestNormalizer().Normalize(tt.stats, adapters.KindDocker)
			require.True(t, ok)
			payload, err := fact.Payload()
			require.NoError(t, err)
			stats := payload.(models.ContainerStats)
			assert.Equal(t, tt.cpuPercent, stats.CPUPercent)
			assert.Equal(t, tt.memPercent, stats.MemoryPercent)
			assert.Equal(t, tt.memUsedMB, stats.MemoryUsedMB)
		})
	}
}

func TestNormalizeProxmox(t *testing.T) {
	n := newTestNormalizer()
	observed := fixedNow.Add(-time.Minute)

	fact, ok := n.Normalize(adapters.ProxmoxNode{Node: "pve1", Status: "offline", CPU: 0.25, Mem: 0, MaxMem: 0, ObservedAt: observed}, adapters.KindProxmox)
	require.True(t, ok)
	assert.Equal(t, "proxmox://pve1", fact.ResourceRef)
	assert.Equal(t, observed, fact.Timestamp)
	payload, err := fact.Payload()
	require.NoError(t, err)
	node := payload.(models.NodeStatus)
	assert.Equal(t, "offline", node.Status)
	assert.Equal(t, 25.0, node.CPUPercent)
	assert.Zero(t, node.MemoryPercent)

	fact, ok = n.Normalize(&adapters.ProxmoxVM{Node: "pve1", VMID: 101, Name: "nas", Status: "running", Mem: 1024 * bytesPerMB, MaxMem: 4096 * bytesPerMB}, adapters.KindProxmox)
	require.True(t, ok)
	assert.Equal(t, "proxmox://pve1/101", fact.ResourceRef)
	payload, err = fact.Payload()
	require.NoError(t, err)
	assert.Equal(t, 25.0, payload.(models.VMStatus).MemoryPercent)
}

func TestNormalizeRawJSON(t *testing.T) {
	n := newTestNormalizer()

	fact, ok := n.Normalize(json.RawMessage(`{"id":"abc","state":"running","name":"api"}`), adapters.KindDocker)
	require.True(t, ok)
	assert.Equal(t, models.FactDockerContainerStatus, fact.FactType)

	fact, ok = n.Normalize(map[string]interface{}{"id": "abc", "cpuDelta": 10, "systemCpuDelta": 100}, adapters.KindDocker)
	require.True(t, ok)
	assert.Equal(t, models.FactDockerContainerStats, fact.FactType)

	fact, ok = n.Normalize([]byte(`{"node":"pve1","vmid":100,"status":"stopped"}`), adapters.KindProxmox)
	require.True(t, ok)
	assert.Equal(t, models.FactProxmoxVMStatus, fact.FactType)
}

func TestNormalizeDropsMalformed(t *testing.T) {
	n := newTestNormalizer()
	cases := []struct {
		name string
		raw  interface{}
		kind adapters.Kind
	}{
		{"nil", nil, adapters.KindDocker},
		{"nil pointer", (*adapters.ResourceInfo)(nil), adapters.KindDocker},
		{"missing id", adapters.ResourceInfo{State: "running"}, adapters.KindDocker},
		{"missing state", adapters.ResourceInfo{ID: "abc"}, adapters.KindDocker},
		{"wrong kind", adapters.ResourceInfo{ID: "abc", State: "running"}, adapters.KindProxmox},
		{"bad json", []byte(`{"id":`), adapters.KindDocker},
		{"vm without vmid", adapters.ProxmoxVM{Node: "pve1"}, adapters.KindProxmox},
		{"unknown type", 42, adapters.KindDocker},
		{"unknown kind", []byte(`{"id":"x"}`), adapters.Kind("lxc")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := n.Normalize(tc.raw, tc.kind)
			assert.False(t, ok)
		})
	}
}

func TestParseRef(t *testing.T) {
	kind, parts, err := ParseRef("proxmox://pve1/101")
	require.NoError(t, err)
	assert.Equal(t, adapters.KindProxmox, kind)
	assert.Equal(t, []string{"pve1", "101"}, parts)

	_, _, err = ParseRef("abc")
	assert.Error(t, err)

	assert.Equal(t, "docker://abc", RefFor(adapters.KindDocker, adapters.ResourceSummary{ID: "abc"}))
	assert.Equal(t, "proxmox://pve1/101", RefFor(adapters.KindProxmox, adapters.ResourceSummary{ID: "101", Node: "pve1"}))
}
