// Package lifecycle holds the process phase shared by the webhook server and
// its health endpoint.
package lifecycle

import "sync/atomic"

// Phase is where the process is in its lifetime.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseServing
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseServing:
		return "serving"
	case PhaseDraining:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// SetPhase records the current phase. main sets PhaseServing once the listener
// is up and PhaseDraining on SIGINT/SIGTERM.
func SetPhase(p Phase) {
	phase.Store(int32(p))
}

// CurrentPhase returns the phase last set.
func CurrentPhase() Phase {
	return Phase(phase.Load())
}

// IsShuttingDown reports whether the process is draining. /health answers 503
// while true so load balancers stop routing webhooks here.
func IsShuttingDown() bool {
	return CurrentPhase() == PhaseDraining
}
