// Package normalizer maps adapter-specific records into canonical facts.
// Normalization never fails loudly: a record it cannot map is dropped with a
// warning and the caller simply gets ok=false.
package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/labsage/backend/internal/adapters"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/models"
)

const bytesPerMB = 1024 * 1024

// Normalizer carries the clock used for records that have no observation time.
type Normalizer struct {
	now func() time.Time
}

func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

func (n *Normalizer) Normalize(raw interface{}, kind adapters.Kind) (models.Fact, bool) {
	ref, payload, observedAt, err := n.mapRecord(raw, kind)
	if err != nil {
		logger.Warn("Dropping malformed adapter record", map[string]interface{}{
			"component":    "normalizer",
			"adapter_kind": kind,
			"record_type":  fmt.Sprintf("%T", raw),
			"error":        err.Error(),
		})
		return models.Fact{}, false
	}
	if observedAt.IsZero() {
		observedAt = n.now()
	}

	fact, err := models.NewFact(ref, string(kind), observedAt, payload)
	if err != nil {
		logger.Warn("Dropping record that could not be encoded", map[string]interface{}{
			"component":    "normalizer",
			"resource_ref": ref,
			"error":        err.Error(),
		})
		return models.Fact{}, false
	}
	return fact, true
}

func (n *Normalizer) mapRecord(raw interface{}, kind adapters.Kind) (string, models.FactPayload, time.Time, error) {
	switch r := raw.(type) {
	case nil:
		return "", nil, time.Time{}, fmt.Errorf("nil record")
	case adapters.ResourceInfo:
		return mapResourceInfo(&r, kind)
	case *adapters.ResourceInfo:
		if r == nil {
			return "", nil, time.Time{}, fmt.Errorf("nil resource info")
		}
		return mapResourceInfo(r, kind)
	case adapters.ResourceStats:
		return mapResourceStats(&r, kind)
	case *adapters.ResourceStats:
		if r == nil {
			return "", nil, time.Time{}, fmt.Errorf("nil resource stats")
		}
		return mapResourceStats(r, kind)
	case adapters.ProxmoxNode:
		return mapProxmoxNode(&r)
	case *adapters.ProxmoxNode:
		if r == nil {
			return "", nil, time.Time{}, fmt.Errorf("nil node record")
		}
		return mapProxmoxNode(r)
	case adapters.ProxmoxVM:
		return mapProxmoxVM(&r)
	case *adapters.ProxmoxVM:
		if r == nil {
			return "", nil, time.Time{}, fmt.Errorf("nil vm record")
		}
		return mapProxmoxVM(r)
	case json.RawMessage:
		return n.mapJSON([]byte(r), kind)
	case []byte:
		return n.mapJSON(r, kind)
	case map[string]interface{}:
		data, err := json.Marshal(r)
		if err != nil {
			return "", nil, time.Time{}, err
		}
		return n.mapJSON(data, kind)
	default:
		return "", nil, time.Time{}, fmt.Errorf("unsupported record type %T", raw)
	}
}

// mapJSON handles records that arrive undecoded, picking the shape by its keys.
func (n *Normalizer) mapJSON(data []byte, kind adapters.Kind) (string, models.FactPayload, time.Time, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return "", nil, time.Time{}, fmt.Errorf("invalid json record: %w", err)
	}

	switch kind {
	case adapters.KindDocker:
		if _, isStats := keys["cpuDelta"]; isStats {
			var stats adapters.ResourceStats
			if err := json.Unmarshal(data, &stats); err != nil {
				return "", nil, time.Time{}, err
			}
			return mapResourceStats(&stats, kind)
		}
		var info adapters.ResourceInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return "", nil, time.Time{}, err
		}
		return mapResourceInfo(&info, kind)
	case adapters.KindProxmox:
		if _, isVM := keys["vmid"]; isVM {
			var vm adapters.ProxmoxVM
			if err := json.Unmarshal(data, &vm); err != nil {
				return "", nil, time.Time{}, err
			}
			return mapProxmoxVM(&vm)
		}
		var node adapters.ProxmoxNode
		if err := json.Unmarshal(data, &node); err != nil {
			return "", nil, time.Time{}, err
		}
		return mapProxmoxNode(&node)
	default:
		return "", nil, time.Time{}, fmt.Errorf("no mapping for adapter kind %q", kind)
	}
}

func mapResourceInfo(info *adapters.ResourceInfo, kind adapters.Kind) (string, models.FactPayload, time.Time, error) {
	if kind != adapters.KindDocker {
		return "", nil, time.Time{}, fmt.Errorf("resource info is only mapped for docker, got %q", kind)
	}
	if info.ID == "" || info.State == "" {
		return "", nil, time.Time{}, fmt.Errorf("container record missing id or state")
	}

	status := models.ContainerStatus{
		ID:           info.ID,
		Name:         info.Name,
		Image:        info.Image,
		State:        info.State,
		Status:       info.Status,
		Created:      info.Created,
		StartedAt:    info.StartedAt,
		FinishedAt:   info.FinishedAt,
		RestartCount: info.RestartCount,
		OOMKilled:    info.OOMKilled,
	}
	if info.ExitCode != nil {
		code := *info.ExitCode
		status.ExitCode = &code
	}
	for _, p := range info.Ports {
		status.Ports = append(status.Ports, models.Port{PrivatePort: p.PrivatePort, PublicPort: p.PublicPort, Protocol: p.Type})
	}
	return DockerRef(info.ID), status, info.ObservedAt, nil
}

func mapResourceStats(stats *adapters.ResourceStats, kind adapters.Kind) (string, models.FactPayload, time.Time, error) {
	if kind != adapters.KindDocker {
		return "", nil, time.Time{}, fmt.Errorf("resource stats are only mapped for docker, got %q", kind)
	}
	if stats.ID == "" {
		return "", nil, time.Time{}, fmt.Errorf("stats record missing id")
	}

	cpus := stats.OnlineCPUs
	if cpus <= 0 {
		cpus = 1
	}
	return DockerRef(stats.ID), models.ContainerStats{
		ID:            stats.ID,
		Name:          stats.Name,
		CPUPercent:    round2(percent(float64(stats.CPUDelta), float64(stats.SystemCPUDelta)) * float64(cpus)),
		MemoryUsedMB:  toMB(stats.MemoryUsageBytes),
		MemoryLimitMB: toMB(stats.MemoryLimitBytes),
		MemoryPercent: round2(percent(float64(stats.MemoryUsageBytes), float64(stats.MemoryLimitBytes))),
		NetworkRxMB:   toMB(stats.NetworkRxBytes),
		NetworkTxMB:   toMB(stats.NetworkTxBytes),
	}, stats.ObservedAt, nil
}

func mapProxmoxNode(node *adapters.ProxmoxNode) (string, models.FactPayload, time.Time, error) {
	if node.Node == "" {
		return "", nil, time.Time{}, fmt.Errorf("node record missing name")
	}
	status := node.Status
	if status == "" {
		status = "unknown"
	}
	return ProxmoxNodeRef(node.Node), models.NodeStatus{
		Node:          node.Node,
		Status:        status,
		CPUPercent:    round2(clampFraction(node.CPU) * 100),
		MemoryUsedMB:  toMB(node.Mem),
		MemoryTotalMB: toMB(node.MaxMem),
		MemoryPercent: round2(percent(float64(node.Mem), float64(node.MaxMem))),
		UptimeSeconds: node.Uptime,
	}, node.ObservedAt, nil
}

func mapProxmoxVM(vm *adapters.ProxmoxVM) (string, models.FactPayload, time.Time, error) {
	if vm.Node == "" || vm.VMID <= 0 {
		return "", nil, time.Time{}, fmt.Errorf("vm record missing node or vmid")
	}
	return ProxmoxVMRef(vm.Node, vm.VMID), models.VMStatus{
		Node:          vm.Node,
		VMID:          fmt.Sprintf("%d", vm.VMID),
		Name:          vm.Name,
		Status:        vm.Status,
		CPUPercent:    round2(clampFraction(vm.CPU) * 100),
		CPUs:          vm.CPUs,
		MemoryUsedMB:  toMB(vm.Mem),
		MemoryMaxMB:   toMB(vm.MaxMem),
		MemoryPercent: round2(percent(float64(vm.Mem), float64(vm.MaxMem))),
		UptimeSeconds: vm.Uptime,
	}, vm.ObservedAt, nil
}

// percent returns part/whole*100, or 0 when whole is 0.
func percent(part, whole float64) float64 {
	if whole <= 0 || part <= 0 {
		return 0
	}
	return part / whole * 100
}

func toMB(b uint64) float64 {
	return round2(float64(b) / bytesPerMB)
}

func clampFraction(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return f
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
