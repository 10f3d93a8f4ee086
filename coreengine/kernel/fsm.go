package kernel

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned by Transition for a pair with no edge.
var ErrIllegalTransition = errors.New("illegal transition")

// State is a pipeline state.
type State string

const (
	StateRouting      State = "routing"
	StateDirect       State = "direct"
	StateProfiling    State = "profiling"
	StateStrategizing State = "strategizing"
	StateDrafting     State = "drafting"
	StateCritiquing   State = "critiquing"
	StateDone         State = "done"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone
}

// Event drives a transition.
type Event string

const (
	EventRoutedDirect     Event = "routed_direct"
	EventRoutedGenerate   Event = "routed_generate"
	EventReplied          Event = "replied"
	EventProfiled         Event = "profiled"
	EventPlanned          Event = "planned"
	EventDrafted          Event = "drafted"
	EventCritiquePassed   Event = "critique_passed"
	EventCritiqueRejected Event = "critique_rejected"
	EventBudgetExhausted  Event = "budget_exhausted"
)

type edge struct {
	from  State
	event Event
}

var transitions = map[edge]State{
	{StateRouting, EventRoutedDirect}:        StateDirect,
	{StateRouting, EventRoutedGenerate}:      StateProfiling,
	{StateDirect, EventReplied}:              StateDone,
	{StateProfiling, EventProfiled}:          StateStrategizing,
	{StateStrategizing, EventPlanned}:        StateDrafting,
	{StateDrafting, EventDrafted}:            StateCritiquing,
	{StateCritiquing, EventCritiquePassed}:   StateDone,
	{StateCritiquing, EventBudgetExhausted}:  StateDone,
	{StateCritiquing, EventCritiqueRejected}: StateDrafting,
}

// Transition returns the state reached from s on e.
func Transition(s State, e Event) (State, error) {
	if next, ok := transitions[edge{s, e}]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, s, e)
}

// CritiqueEvent picks the event leaving critiquing. A passed critique ends
// the run; otherwise the budget decides between another round and stopping.
func CritiqueEvent(passed bool, count, max int) Event {
	switch {
	case passed:
		return EventCritiquePassed
	case count >= max:
		return EventBudgetExhausted
	default:
		return EventCritiqueRejected
	}
}
