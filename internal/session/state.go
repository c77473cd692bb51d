package session

// State is the controller's connection state.
//
//	Idle -> Loading -> Ready | Degraded
//	Ready -> Reconnecting -> Ready
//	Ready | Reconnecting -> Degraded -> Ready
//	any -> Idle on Close
type State int

const (
	Idle State = iota
	Loading
	Ready
	Reconnecting
	Degraded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Reconnecting:
		return "reconnecting"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}
