package adapters

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// proxmoxInventory is the layout of a snapshot file, typically refreshed by a
// cron job around `pvesh get /nodes` and `pvesh get /nodes/{node}/qemu`.
// JSON is valid YAML, so raw pvesh output can be pasted in as-is.
type proxmoxInventory struct {
	Nodes []ProxmoxNode `yaml:"nodes"`
	VMs   []ProxmoxVM   `yaml:"vms"`
}

// ProxmoxSnapshotAdapter reports Proxmox nodes and guests from an inventory
// file. It has no per-resource API and no logs; everything flows through
// Snapshot.
type ProxmoxSnapshotAdapter struct {
	path string
}

func NewProxmoxSnapshotAdapter(path string) *ProxmoxSnapshotAdapter {
	return &ProxmoxSnapshotAdapter{path: path}
}

func (p *ProxmoxSnapshotAdapter) Kind() Kind   { return KindProxmox }
func (p *ProxmoxSnapshotAdapter) Name() string { return "proxmox" }

func (p *ProxmoxSnapshotAdapter) IsAvailable(context.Context) bool {
	info, err := os.Stat(p.path)
	return err == nil && info.Mode().IsRegular()
}

// Snapshot returns one ProxmoxNode or ProxmoxVM per inventory entry, stamped
// with the file's modification time.
func (p *ProxmoxSnapshotAdapter) Snapshot(context.Context) ([]interface{}, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat proxmox snapshot: %w", err)
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read proxmox snapshot: %w", err)
	}
	var inv proxmoxInventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("invalid proxmox snapshot %s: %w", p.path, err)
	}

	observed := info.ModTime().UTC()
	records := make([]interface{}, 0, len(inv.Nodes)+len(inv.VMs))
	for _, n := range inv.Nodes {
		n.ObservedAt = observed
		records = append(records, n)
	}
	for _, vm := range inv.VMs {
		vm.ObservedAt = observed
		records = append(records, vm)
	}
	return records, nil
}

func (p *ProxmoxSnapshotAdapter) ListResources(context.Context) ([]ResourceSummary, error) {
	return nil, nil
}

func (p *ProxmoxSnapshotAdapter) GetResourceInfo(_ context.Context, id string) (*ResourceInfo, error) {
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, id)
}

func (p *ProxmoxSnapshotAdapter) GetResourceStats(_ context.Context, id string) (*ResourceStats, error) {
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, id)
}

func (p *ProxmoxSnapshotAdapter) GetLogs(context.Context, string, time.Time) ([]LogLine, error) {
	return nil, nil
}
