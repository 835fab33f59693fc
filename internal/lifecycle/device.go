package lifecycle

import "fmt"

// Device lifecycle states
const (
	DeviceInventory      = "inventory"
	DeviceAllocated      = "allocated"
	DeviceShipped        = "shipped"
	DeviceDelivered      = "delivered"
	DeviceInstalled      = "installed"
	DeviceCommissioned   = "commissioned"
	DeviceActive         = "active"
	DeviceMaintenance    = "maintenance"
	DeviceDecommissioned = "decommissioned"
)

// IllegalTransitionError rejects a transition outside the declared
// edge set. The stored state is left unchanged.
type IllegalTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition: %s -> %s", e.Entity, e.From, e.To)
}

// deviceTransitions is the declared edge set. decommissioned is
// terminal; allocated may return to inventory, maintenance back to
// active.
var deviceTransitions = map[string][]string{
	DeviceInventory:      {DeviceAllocated},
	DeviceAllocated:      {DeviceShipped, DeviceInventory},
	DeviceShipped:        {DeviceDelivered},
	DeviceDelivered:      {DeviceInstalled},
	DeviceInstalled:      {DeviceCommissioned},
	DeviceCommissioned:   {DeviceActive},
	DeviceActive:         {DeviceMaintenance, DeviceDecommissioned},
	DeviceMaintenance:    {DeviceActive, DeviceDecommissioned},
	DeviceDecommissioned: {},
}

// deviceMilestones maps a target state to the timestamp column stamped
// when the device reaches it. Static table, never derived from input.
var deviceMilestones = map[string]string{
	DeviceAllocated:      "allocated_at",
	DeviceShipped:        "shipped_at",
	DeviceDelivered:      "delivered_at",
	DeviceInstalled:      "installed_at",
	DeviceCommissioned:   "commissioned_at",
	DeviceActive:         "activated_at",
	DeviceDecommissioned: "decommissioned_at",
}

// ValidDeviceState reports whether s is a known lifecycle state.
func ValidDeviceState(s string) bool {
	_, ok := deviceTransitions[s]
	return ok
}

// DeviceSources returns the states a device may be in immediately
// before reaching target. Used to validate inside the write itself.
func DeviceSources(target string) []string {
	var sources []string
	for from, tos := range deviceTransitions {
		for _, to := range tos {
			if to == target {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

// CanTransitionDevice reports whether from -> to is a declared edge.
func CanTransitionDevice(from, to string) bool {
	for _, next := range deviceTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
