package harness

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"
)

// Phase is where a scenario is in its lifecycle.
type Phase string

const (
	PhaseInit       Phase = "INIT"
	PhaseScaffolded Phase = "SCAFFOLDED"
	PhaseConfigured Phase = "CONFIGURED"
	PhaseInvoked    Phase = "INVOKED"
	PhaseAsserted   Phase = "ASSERTED"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
)

// IsTerminal reports whether no transition leaves p.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

func isAllowedTransition(from, to Phase) bool {
	if to == PhaseFailed {
		return !from.IsTerminal()
	}
	switch from {
	case PhaseInit:
		return to == PhaseScaffolded
	case PhaseScaffolded, PhaseConfigured:
		return to == PhaseConfigured || to == PhaseInvoked
	case PhaseInvoked:
		return to == PhaseAsserted
	case PhaseAsserted:
		return to == PhaseInvoked || to == PhaseDone
	default:
		return false
	}
}

// phaseTable tracks the live phase of every scenario of a run. Workers update
// their own entries concurrently.
type phaseTable struct {
	phases *xsync.Map[string, Phase]
}

func newPhaseTable() *phaseTable {
	return &phaseTable{phases: xsync.NewMap[string, Phase]()}
}

func (t *phaseTable) start(id string) {
	t.phases.Store(id, PhaseInit)
}

// advance moves id from its current phase to next.
func (t *phaseTable) advance(id string, next Phase) error {
	var err error
	t.phases.Compute(id, func(cur Phase, loaded bool) (Phase, xsync.ComputeOp) {
		if !loaded {
			err = fmt.Errorf("unknown scenario %q", id)
			return cur, xsync.CancelOp
		}
		if !isAllowedTransition(cur, next) {
			err = fmt.Errorf("scenario %q: disallowed transition %s -> %s", id, cur, next)
			return cur, xsync.CancelOp
		}
		return next, xsync.UpdateOp
	})
	return err
}

func (t *phaseTable) get(id string) (Phase, bool) {
	return t.phases.Load(id)
}

// counts returns how many scenarios are in each phase.
func (t *phaseTable) counts() map[Phase]int {
	counts := make(map[Phase]int)
	t.phases.Range(func(_ string, p Phase) bool {
		counts[p]++
		return true
	})
	return counts
}
