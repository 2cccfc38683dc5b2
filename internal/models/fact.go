package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// FactType is the closed set of observation kinds. Each value has exactly one
// payload struct; see Fact.Payload.
type FactType string

const (
	FactDockerContainerStatus FactType = "docker_container_status"
	FactDockerContainerStats  FactType = "docker_container_stats"
	FactProxmoxNodeStatus     FactType = "proxmox_node_status"
	FactProxmoxVMStatus       FactType = "proxmox_vm_status"
	FactErrorSignature        FactType = "error_signature"
)

// Fact is an immutable, timestamped observation about one resource. The most
// recent fact of a given type is the resource's current state for that type.
type Fact struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	ResourceRef string         `json:"resourceRef" gorm:"not null;index:idx_facts_ref_type_ts,priority:1"`
	FactType    FactType       `json:"factType" gorm:"not null;index:idx_facts_ref_type_ts,priority:2;index:idx_facts_type_ts,priority:1"`
	Value       datatypes.JSON `json:"value" gorm:"not null"`
	Source      string         `json:"source"`
	Timestamp   time.Time      `json:"timestamp" gorm:"not null;index:idx_facts_ref_type_ts,priority:3;index:idx_facts_type_ts,priority:2"`
	CreatedAt   time.Time      `json:"createdAt"`
}

func (Fact) TableName() string {
	return "facts"
}

// FactPayload is implemented by every typed fact value.
type FactPayload interface {
	FactType() FactType
}

type Port struct {
	PrivatePort int    `json:"privatePort"`
	PublicPort  int    `json:"publicPort,omitempty"`
	Protocol    string `json:"protocol"`
}

type ContainerStatus struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Image        string    `json:"image"`
	State        string    `json:"state"`
	Status       string    `json:"status"`
	ExitCode     *int      `json:"exitCode,omitempty"`
	Created      time.Time `json:"created"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	FinishedAt   time.Time `json:"finishedAt,omitempty"`
	RestartCount int       `json:"restartCount"`
	OOMKilled    bool      `json:"oomKilled,omitempty"`
	Ports        []Port    `json:"ports,omitempty"`
}

func (ContainerStatus) FactType() FactType { return FactDockerContainerStatus }

type ContainerStats struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryUsedMB  float64 `json:"memoryUsedMb"`
	MemoryLimitMB float64 `json:"memoryLimitMb"`
	MemoryPercent float64 `json:"memoryPercent"`
	NetworkRxMB   float64 `json:"networkRxMb"`
	NetworkTxMB   float64 `json:"networkTxMb"`
}

func (ContainerStats) FactType() FactType { return FactDockerContainerStats }

type NodeStatus struct {
	Node          string  `json:"node"`
	Status        string  `json:"status"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryUsedMB  float64 `json:"memoryUsedMb"`
	MemoryTotalMB float64 `json:"memoryTotalMb"`
	MemoryPercent float64 `json:"memoryPercent"`
	UptimeSeconds int64   `json:"uptimeSeconds"`
}

func (NodeStatus) FactType() FactType { return FactProxmoxNodeStatus }

type VMStatus struct {
	Node          string  `json:"node"`
	VMID          string  `json:"vmid"`
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	CPUPercent    float64 `json:"cpuPercent"`
	CPUs          int     `json:"cpus"`
	MemoryUsedMB  float64 `json:"memoryUsedMb"`
	MemoryMaxMB   float64 `json:"memoryMaxMb"`
	MemoryPercent float64 `json:"memoryPercent"`
	UptimeSeconds int64   `json:"uptimeSeconds"`
}

func (VMStatus) FactType() FactType { return FactProxmoxVMStatus }

// ErrorSignature is derived from ingested log lines, not from an adapter.
type ErrorSignature struct {
	Signature   string    `json:"signature"`
	Message     string    `json:"message"`
	Fingerprint string    `json:"fingerprint"`
	LogSource   LogSource `json:"logSource"`
	Level       LogLevel  `json:"level"`
	OccurredAt  time.Time `json:"occurredAt"`
}

func (ErrorSignature) FactType() FactType { return FactErrorSignature }

// NewFact serializes payload into a Fact whose FactType matches the payload.
func NewFact(resourceRef, source string, timestamp time.Time, payload FactPayload) (Fact, error) {
	if resourceRef == "" {
		return Fact{}, fmt.Errorf("fact requires a resource ref")
	}
	if payload == nil {
		return Fact{}, fmt.Errorf("fact requires a payload")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Fact{}, fmt.Errorf("failed to marshal %s payload: %w", payload.FactType(), err)
	}
	return Fact{
		ResourceRef: resourceRef,
		FactType:    payload.FactType(),
		Value:       datatypes.JSON(raw),
		Source:      source,
		Timestamp:   timestamp,
	}, nil
}

// Payload decodes Value into the struct registered for FactType.
func (f Fact) Payload() (FactPayload, error) {
	var payload FactPayload
	switch f.FactType {
	case FactDockerContainerStatus:
		var p ContainerStatus
		if err := json.Unmarshal(f.Value, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s fact %d: %w", f.FactType, f.ID, err)
		}
		payload = p
	case FactDockerContainerStats:
		var p ContainerStats
		if err := json.Unmarshal(f.Value, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s fact %d: %w", f.FactType, f.ID, err)
		}
		payload = p
	case FactProxmoxNodeStatus:
		var p NodeStatus
		if err := json.Unmarshal(f.Value, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s fact %d: %w", f.FactType, f.ID, err)
		}
		payload = p
	case FactProxmoxVMStatus:
		var p VMStatus
		if err := json.Unmarshal(f.Value, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s fact %d: %w", f.FactType, f.ID, err)
		}
		payload = p
	case FactErrorSignature:
		var p ErrorSignature
		if err := json.Unmarshal(f.Value, &p); err != nil {
			return nil, fmt.Errorf("failed to decode %s fact %d: %w", f.FactType, f.ID, err)
		}
		payload = p
	default:
		return nil, fmt.Errorf("unknown fact type %q", f.FactType)
	}
	return payload, nil
}
