package domain

import "strings"

// PowerState is the compute node's power state as reported by the control plane.
type PowerState string

// Power states
const (
	PowerStatePending  PowerState = "pending"
	PowerStateRunning  PowerState = "running"
	PowerStateStopping PowerState = "stopping"
	PowerStateStopped  PowerState = "stopped"
	PowerStateUnknown  PowerState = "unknown"
)

// ParsePowerState maps a control plane state name onto PowerState.
// Names outside the enum map to PowerStateUnknown.
func ParsePowerState(name string) PowerState {
	switch state := PowerState(strings.ToLower(strings.TrimSpace(name))); state {
	case PowerStatePending, PowerStateRunning, PowerStateStopping, PowerStateStopped:
		return state
	default:
		return PowerStateUnknown
	}
}

// NeedsStart reports whether the node must be started to process work.
func (s PowerState) NeedsStart() bool {
	return s == PowerStateStopped || s == PowerStateStopping
}
