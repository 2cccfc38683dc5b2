package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labsage/backend/internal/adapters"
	"github.com/labsage/backend/internal/models"
	"github.com/labsage/backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var collectNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newDockerFake() *fakeAdapter {
	return &fakeAdapter{
		kind: adapters.KindDocker,
		name: "docker-local",
		resources: []adapters.ResourceSummary{
			{ID: "c1", Name: "web", State: "running"},
			{ID: "c2", Name: "worker", State: "exited"},
		},
		infos: map[string]*adapters.ResourceInfo{
			"c1": {ID: "c1", Name: "web", Image: "nginx", State: "running", ObservedAt: collectNow},
			"c2": {ID: "c2", Name: "worker", Image: "app", State: "exited", ExitCode: intPtr(137), ObservedAt: collectNow},
		},
		stats: map[string]*adapters.ResourceStats{
			"c1": {ID: "c1", Name: "web", CPUDelta: 50, SystemCPUDelta: 1000, OnlineCPUs: 2, MemoryUsageBytes: 256 << 20, MemoryLimitBytes: 1024 << 20, ObservedAt: collectNow},
		},
		logs: map[string][]adapters.LogLine{},
	}
}

func TestFactCollectorSnapshotsAdapters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	hypervisor := &fakeHypervisor{
		fakeAdapter: fakeAdapter{kind: adapters.KindProxmox, name: "pve"},
		records: []interface{}{
			adapters.ProxmoxNode{Node: "pve1", Status: "online", CPU: 0.25, Mem: 4 << 30, MaxMem: 16 << 30, ObservedAt: collectNow},
			adapters.ProxmoxVM{Node: "pve1", VMID: 101, Name: "db", Status: "running", ObservedAt: collectNow},
			map[string]interface{}{"status": "online"},
		},
	}
	offline := &fakeAdapter{kind: adapters.KindDocker, name: "remote", down: true}

	collector := NewFactCollector(adapters.NewRegistry(newDockerFake(), hypervisor, offline), st)
	report, err := collector.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Adapters)
	// c1 info + stats, c2 info, node, vm.
	assert.Equal(t, 5, report.Facts)

	stats, err := st.LatestFact(ctx, "docker://c1", models.FactDockerContainerStats)
	require.NoError(t, err)
	payload, err := stats.Payload()
	require.NoError(t, err)
	assert.Equal(t, 10.0, payload.(models.ContainerStats).CPUPercent)
	assert.Equal(t, 25.0, payload.(models.ContainerStats).MemoryPercent)

	_, err = st.LatestFact(ctx, "docker://c2", models.FactDockerContainerStats)
	assert.ErrorIs(t, err, store.ErrNotFound, "stopped containers have no stats")

	crashed, err := st.LatestFact(ctx, "docker://c2", models.FactDockerContainerStatus)
	require.NoError(t, err)
	status, err := crashed.Payload()
	require.NoError(t, err)
	require.NotNil(t, status.(models.ContainerStatus).ExitCode)
	assert.Equal(t, 137, *status.(models.ContainerStatus).ExitCode)

	_, err = st.LatestFact(ctx, "proxmox://pve1/101", models.FactProxmoxVMStatus)
	assert.NoError(t, err)
	_, err = st.LatestFact(ctx, "proxmox://pve1", models.FactProxmoxNodeStatus)
	assert.NoError(t, err)
}

func TestFactCollectorReadsProxmoxSnapshotFile(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "proxmox.yaml")
	inventory := "nodes:\n  - node: pve2\n    status: offline\n    uptime: 0\nvms:\n  - node: pve2\n    vmid: 200\n    name: web\n    status: stopped\n"
	require.NoError(t, os.WriteFile(path, []byte(inventory), 0o600))

	collector := NewFactCollector(adapters.NewRegistry(adapters.NewProxmoxSnapshotAdapter(path)), st)
	report, err := collector.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Adapters)
	assert.Equal(t, 2, report.Facts)

	fact, err := st.LatestFact(ctx, "proxmox://pve2", models.FactProxmoxNodeStatus)
	require.NoError(t, err)
	payload, err := fact.Payload()
	require.NoError(t, err)

	finding, ok := NodeOfflineRule{}.Evaluate(*fact, payload)
	require.True(t, ok)
	assert.Equal(t, models.SeverityCritical, finding.Severity)
	assert.Contains(t, finding.Title, "pve2")

	_, err = st.LatestFact(ctx, "proxmox://pve2/200", models.FactProxmoxVMStatus)
	assert.NoError(t, err)
}

func TestFactCollectorSkipsBrokenResources(t *testing.T) {
	st := newTestStore(t)
	docker := newDockerFake()
	delete(docker.infos, "c2")

	report, err := NewFactCollector(adapters.NewRegistry(docker), st).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Facts)
}

func newTestLogCollector(st *store.GormStore, docker *fakeAdapter) *LogCollector {
	c := NewLogCollector(adapters.NewRegistry(docker), st, nil, 48*time.Hour)
	c.now = fixedClock(collectNow)
	return c
}

func TestLogCollectorFirstPullUsesLookback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	docker := newDockerFake()
	docker.logs["c1"] = []adapters.LogLine{
		{Stream: "stdout", Message: "too old", Timestamp: collectNow.Add(-25 * time.Hour)},
		{Stream: "stdout", Message: "listening on :80", Timestamp: collectNow.Add(-time.Hour)},
	}
	docker.logs["c2"] = []adapters.LogLine{
		{Stream: "stdout", Message: "never read", Timestamp: collectNow.Add(-time.Hour)},
	}

	report, err := newTestLogCollector(st, docker).RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resources)
	assert.Equal(t, 1, report.Lines)
	assert.True(t, docker.lastSince("c1").Equal(collectNow.Add(-initialLogLookback)))
	assert.True(t, docker.lastSince("c2").IsZero(), "stopped containers are not read")

	entries, err := st.ListLogs(ctx, store.LogQuery{ResourceRef: "docker://c1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "listening on :80", entries[0].Content)
	assert.Equal(t, models.LogLevelInfo, entries[0].Level)
	assert.True(t, entries[0].RetentionDate.Equal(collectNow.Add(48*time.Hour)))
}

func TestLogCollectorNeverReingestsBoundary(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	docker := newDockerFake()
	last := collectNow.Add(-10 * time.Minute)
	docker.logs["c1"] = []adapters.LogLine{
		{Stream: "stdout", Message: "starting", Timestamp: last.Add(-2 * time.Second)},
		{Stream: "stderr", Message: "ERROR connection refused to db:5432", Timestamp: last.Add(-time.Second)},
		{Stream: "stdout", Message: "retrying", Timestamp: last},
	}
	collector := newTestLogCollector(st, docker)

	report, err := collector.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Lines)
	assert.Equal(t, 1, report.Signatures)

	docker.logs["c1"] = append(docker.logs["c1"],
		adapters.LogLine{Stream: "stdout", Message: "retrying", Timestamp: last},
		adapters.LogLine{Stream: "stdout", Message: "connected", Timestamp: last.Add(time.Second)},
	)
	report, err = collector.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, docker.lastSince("c1").Equal(last.Add(time.Second)))
	assert.Equal(t, 1, report.Lines)

	// A backend that ignores since still cannot cause duplicates.
	docker.ignoreSince = true
	report, err = collector.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Lines)

	entries, err := st.ListLogs(ctx, store.LogQuery{ResourceRef: "docker://c1"})
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	sigs, err := st.ListFacts(ctx, store.FactQuery{ResourceRef: "docker://c1", FactType: models.FactErrorSignature})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	payload, err := sigs[0].Payload()
	require.NoError(t, err)
	sig := payload.(models.ErrorSignature)
	assert.Equal(t, "Connection Refused", sig.Signature)
	assert.Equal(t, models.LogSourceStderr, sig.LogSource)
	assert.Equal(t, models.LogLevelError, sig.Level)
}

func TestLogCollectorStampsUndatedLines(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	docker := newDockerFake()
	docker.ignoreSince = true
	docker.logs["c1"] = []adapters.LogLine{{Stream: "stdout", Message: "no timestamp"}}

	_, err := newTestLogCollector(st, docker).RunCycle(ctx)
	require.NoError(t, err)

	ts, ok, err := st.LatestLogTimestamp(ctx, "docker://c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ts.Equal(collectNow))
}
