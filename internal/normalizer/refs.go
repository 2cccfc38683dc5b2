package normalizer

import (
	"fmt"
	"strings"

	"github.com/labsage/backend/internal/adapters"
)

func DockerRef(containerID string) string {
	return "docker://" + containerID
}

func ProxmoxNodeRef(node string) string {
	return "proxmox://" + node
}

func ProxmoxVMRef(node string, vmid int) string {
	return fmt.Sprintf("proxmox://%s/%d", node, vmid)
}

// ParseRef splits "kind://a/b" into its kind and path segments.
func ParseRef(ref string) (adapters.Kind, []string, error) {
	scheme, rest, ok := strings.Cut(ref, "://")
	if !ok || scheme == "" || rest == "" {
		return "", nil, fmt.Errorf("malformed resource ref %q", ref)
	}
	return adapters.Kind(scheme), strings.Split(rest, "/"), nil
}

// RefFor returns the resource ref an adapter resource id maps to.
func RefFor(kind adapters.Kind, summary adapters.ResourceSummary) string {
	switch kind {
	case adapters.KindDocker:
		return DockerRef(summary.ID)
	case adapters.KindProxmox:
		if summary.Node != "" {
			return "proxmox://" + summary.Node + "/" + summary.ID
		}
		return ProxmoxNodeRef(summary.ID)
	default:
		return string(kind) + "://" + summary.ID
	}
}
