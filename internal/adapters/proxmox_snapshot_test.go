package adapters

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inventoryYAML = `
nodes:
  - node: pve1
    status: online
    cpu: 0.12
    maxcpu: 8
    mem: 4294967296
    maxmem: 17179869184
  - node: pve2
    status: offline
vms:
  - node: pve1
    vmid: 101
    name: nas
    status: running
    cpus: 2
`

func TestProxmoxSnapshotAdapter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxmox.yaml")
	ctx := context.Background()
	p := NewProxmoxSnapshotAdapter(path)

	assert.False(t, p.IsAvailable(ctx))

	require.NoError(t, os.WriteFile(path, []byte(inventoryYAML), 0o600))
	modified := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, modified, modified))
	assert.True(t, p.IsAvailable(ctx))
	assert.Equal(t, KindProxmox, p.Kind())

	records, err := p.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)

	node := records[0].(ProxmoxNode)
	assert.Equal(t, "pve1", node.Node)
	assert.Equal(t, 8, node.MaxCPU)
	assert.EqualValues(t, 17179869184, node.MaxMem)
	assert.True(t, node.ObservedAt.Equal(modified))
	assert.Equal(t, "offline", records[1].(ProxmoxNode).Status)

	vm := records[2].(ProxmoxVM)
	assert.Equal(t, 101, vm.VMID)
	assert.Equal(t, "nas", vm.Name)

	resources, err := p.ListResources(ctx)
	require.NoError(t, err)
	assert.Empty(t, resources)
	_, err = p.GetResourceInfo(ctx, "101")
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestProxmoxSnapshotAcceptsPveshJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxmox.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"nodes":[{"node":"pve1","status":"online","cpu":0.5}],"vms":[]}`), 0o600))

	records, err := NewProxmoxSnapshotAdapter(path).Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0.5, records[0].(ProxmoxNode).CPU)
}

func TestProxmoxSnapshotRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxmox.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes: [unterminated"), 0o600))

	_, err := NewProxmoxSnapshotAdapter(path).Snapshot(context.Background())
	assert.Error(t, err)
}
