// Package control runs calibration and visual servoing sessions: the convergence loop that
// alternates point acquisition, control law evaluation and velocity dispatch, and the session
// state machine that owns it.
package control

// State is the state of a session.
type State int32

// Session states. Converged and Failed are terminal.
const (
	Idle State = iota
	Calibrating
	Calibrated
	Servoing
	Converged
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Calibrating:
		return "calibrating"
	case Calibrated:
		return "calibrated"
	case Servoing:
		return "servoing"
	case Converged:
		return "converged"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal returns true for states that can only be left through a reset.
func (s State) Terminal() bool {
	return s == Converged || s == Failed
}
