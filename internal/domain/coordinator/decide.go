package coordinator

import "github.com/edumarques81/castbridge/internal/domain/renderer"

// Action is the outcome of one evaluation.
type Action int

const (
	ActionNone Action = iota
	ActionPlay
	ActionStop
	// ActionMarkStopped drops the cached state to STOPPED without telling the
	// renderer, for devices that must not receive stop commands.
	ActionMarkStopped
)

func (a Action) String() string {
	switch a {
	case ActionPlay:
		return "play"
	case ActionStop:
		return "stop"
	case ActionMarkStopped:
		return "mark_stopped"
	default:
		return "none"
	}
}

// Decide maps the cached renderer state and the sink occupancy to an action.
func Decide(state renderer.State, occupied bool, rules renderer.RuleSet) Action {
	switch {
	case state == renderer.StatePlaying && !occupied:
		if rules.Has(renderer.DisableDeviceStop) {
			return ActionMarkStopped
		}
		return ActionStop
	case occupied && (state == renderer.StateStopped || state == renderer.StatePaused):
		return ActionPlay
	}
	return ActionNone
}
