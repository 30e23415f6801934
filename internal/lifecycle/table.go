package lifecycle

import (
	"slices"

	"github.com/nerrad567/fleetsync-core/internal/hardware"
)

var transitions = map[hardware.Status][]hardware.Status{
	hardware.StatusDiscovered:   {hardware.StatusProvisioning, hardware.StatusOffline, hardware.StatusRetired},
	hardware.StatusProvisioning: {hardware.StatusOnline, hardware.StatusOffline, hardware.StatusDiscovered},
	hardware.StatusOnline:       {hardware.StatusDegraded, hardware.StatusOffline, hardware.StatusMaintenance},
	hardware.StatusDegraded:     {hardware.StatusOnline, hardware.StatusOffline, hardware.StatusMaintenance},
	hardware.StatusOffline:      {hardware.StatusOnline, hardware.StatusDegraded, hardware.StatusMaintenance, hardware.StatusRetired},
	hardware.StatusMaintenance:  {hardware.StatusOnline, hardware.StatusOffline, hardware.StatusRetired},
	hardware.StatusRetired:      nil,
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to hardware.Status) bool {
	return slices.Contains(transitions[from], to)
}

// Allowed returns the states reachable from from in one step.
func Allowed(from hardware.Status) []hardware.Status {
	return slices.Clone(transitions[from])
}

// Path returns the shortest sequence of steps leading from from to to,
// excluding from itself. ok is false when to is unreachable. A path to the
// current state is empty.
func Path(from, to hardware.Status) ([]hardware.Status, bool) {
	if from == to {
		return nil, true
	}

	prev := map[hardware.Status]hardware.Status{from: ""}
	queue := []hardware.Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range transitions[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				return unwind(prev, from, to), true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func unwind(prev map[hardware.Status]hardware.Status, from, to hardware.Status) []hardware.Status {
	var path []hardware.Status
	for s := to; s != from; s = prev[s] {
		path = append(path, s)
	}
	slices.Reverse(path)
	return path
}
