package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/labsage/backend/internal/models"
)

// Finding is a rule match that should become an incident.
type Finding struct {
	Title    string
	Severity models.IncidentSeverity
	Summary  string
	Detail   string
	Symptoms []string
}

// Rule tests the latest fact of one type for a resource.
type Rule interface {
	Name() string
	FactType() models.FactType
	Evaluate(fact models.Fact, payload models.FactPayload) (*Finding, bool)
}

func DefaultRules() []Rule {
	return []Rule{ContainerCrashRule{}, NodeOfflineRule{}}
}

// ContainerCrashRule fires on a container that exited with a non-zero code.
type ContainerCrashRule struct{}

func (ContainerCrashRule) Name() string              { return "container_crash" }
func (ContainerCrashRule) FactType() models.FactType { return models.FactDockerContainerStatus }

func (ContainerCrashRule) Evaluate(fact models.Fact, payload models.FactPayload) (*Finding, bool) {
	status, ok := payload.(models.ContainerStatus)
	if !ok {
		return nil, false
	}
	if status.State != "exited" || status.ExitCode == nil || *status.ExitCode == 0 {
		return nil, false
	}

	name := status.Name
	if name == "" {
		name = shortID(status.ID)
	}
	code := *status.ExitCode

	symptoms := []string{fmt.Sprintf("exit code %d", code)}
	var detail strings.Builder
	fmt.Fprintf(&detail, "Container **%s** (image `%s`) exited with code %d.", name, status.Image, code)
	if hint := exitCodeHint(code); hint != "" {
		fmt.Fprintf(&detail, " %s", hint)
	}
	if status.OOMKilled {
		detail.WriteString(" The kernel OOM killer terminated the process.")
		symptoms = append(symptoms, "oom killed")
	}
	if !status.FinishedAt.IsZero() {
		fmt.Fprintf(&detail, "\n\n- Finished at: %s", status.FinishedAt.UTC().Format(time.RFC3339))
	}
	if !status.StartedAt.IsZero() {
		fmt.Fprintf(&detail, "\n- Last started at: %s", status.StartedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&detail, "\n- Restart count: %d", status.RestartCount)
	fmt.Fprintf(&detail, "\n- Observed at: %s", fact.Timestamp.UTC().Format(time.RFC3339))
	if status.RestartCount > 0 {
		symptoms = append(symptoms, fmt.Sprintf("%d restarts", status.RestartCount))
	}

	return &Finding{
		Title:    fmt.Sprintf("Container %s crashed", name),
		Severity: models.SeverityHigh,
		Summary:  fmt.Sprintf("Container %s crashed with exit code %d", name, code),
		Detail:   detail.String(),
		Symptoms: symptoms,
	}, true
}

// NodeOfflineRule fires when a hypervisor node stops reporting online.
type NodeOfflineRule struct{}

func (NodeOfflineRule) Name() string              { return "proxmox_node_offline" }
func (NodeOfflineRule) FactType() models.FactType { return models.FactProxmoxNodeStatus }

func (NodeOfflineRule) Evaluate(fact models.Fact, payload models.FactPayload) (*Finding, bool) {
	node, ok := payload.(models.NodeStatus)
	if !ok || node.Status == "online" {
		return nil, false
	}
	return &Finding{
		Title:    fmt.Sprintf("Proxmox node %s is %s", node.Node, node.Status),
		Severity: models.SeverityCritical,
		Summary:  fmt.Sprintf("Proxmox node %s reported status %q", node.Node, node.Status),
		Detail: fmt.Sprintf("Node **%s** reported status `%s` at %s. Guests on this node are likely unreachable.\n\n- Last uptime: %ds",
			node.Node, node.Status, fact.Timestamp.UTC().Format(time.RFC3339), node.UptimeSeconds),
		Symptoms: []string{"node " + node.Status},
	}, true
}

func exitCodeHint(code int) string {
	switch code {
	case 137:
		return "Exit code 137 means the process received SIGKILL, usually from the OOM killer or a forced stop."
	case 139:
		return "Exit code 139 means the process crashed with a segmentation fault."
	case 143:
		return "Exit code 143 means the process was terminated with SIGTERM."
	case 126, 127:
		return "The container command could not be executed or was not found."
	case 1:
		return "Exit code 1 is a generic application error."
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
