package session

// State is a lifecycle state of the Controller.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Event drives a state transition.
type Event int

const (
	// EventStart begins a session.
	EventStart Event = iota
	// EventStarted means the engine is initialized and transferring.
	EventStarted
	// EventFailed means startup could not complete.
	EventFailed
	// EventComplete means the engine finished the transfer.
	EventComplete
	// EventInterrupt is an external quit request.
	EventInterrupt
	// EventFatal means the engine reported an unrecoverable runtime error.
	EventFatal
	// EventStopped means the engine acknowledged the stop request.
	EventStopped
	// EventBudgetElapsed means the shutdown budget ran out first.
	EventBudgetElapsed
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventStarted:
		return "started"
	case EventFailed:
		return "failed"
	case EventComplete:
		return "complete"
	case EventInterrupt:
		return "interrupt"
	case EventFatal:
		return "fatal"
	case EventStopped:
		return "stopped"
	case EventBudgetElapsed:
		return "budget_elapsed"
	}
	return "unknown"
}

type transitionKey struct {
	from State
	on   Event
}

// transitions is the complete lifecycle. Pairs missing from the table are
// ignored, which makes repeated completion or interrupt events in Stopping
// no-ops.
var transitions = map[transitionKey]State{
	{Idle, EventStart}: Starting,

	{Starting, EventStarted}: Running,
	{Starting, EventFailed}:  Terminated,

	{Running, EventComplete}:  Stopping,
	{Running, EventInterrupt}: Stopping,
	{Running, EventFatal}:     Stopping,

	{Stopping, EventStopped}:       Terminated,
	{Stopping, EventBudgetElapsed}: Terminated,
}

// Transition returns the state reached from s on e, and false when e does not
// apply in s.
func Transition(s State, e Event) (State, bool) {
	next, ok := transitions[transitionKey{s, e}]
	return next, ok
}
