package kernel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from  State
		event Event
		want  State
	}{
		{StateRouting, EventRoutedDirect, StateDirect},
		{StateRouting, EventRoutedGenerate, StateProfiling},
		{StateDirect, EventReplied, StateDone},
		{StateProfiling, EventProfiled, StateStrategizing},
		{StateStrategizing, EventPlanned, StateDrafting},
		{StateDrafting, EventDrafted, StateCritiquing},
		{StateCritiquing, EventCritiquePassed, StateDone},
		{StateCritiquing, EventBudgetExhausted, StateDone},
		{StateCritiquing, EventCritiqueRejected, StateDrafting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransitionIllegal(t *testing.T) {
	tests := []struct {
		from  State
		event Event
	}{
		{StateRouting, EventDrafted},
		{StateProfiling, EventCritiquePassed},
		{StateDrafting, EventCritiqueRejected},
		{StateDone, EventRoutedGenerate},
		{StateDirect, EventProfiled},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			assert.True(t, errors.Is(err, ErrIllegalTransition))
			assert.Equal(t, tt.from, got)
		})
	}
}

func TestOnlyDoneIsTerminal(t *testing.T) {
	for _, s := range []State{StateRouting, StateDirect, StateProfiling, StateStrategizing, StateDrafting, StateCritiquing} {
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, StateDone.Terminal())
}

func TestCritiqueEvent(t *testing.T) {
	tests := []struct {
		name   string
		passed bool
		count  int
		max    int
		want   Event
	}{
		{"passed first round", true, 0, 2, EventCritiquePassed},
		{"passed on last round", true, 2, 2, EventCritiquePassed},
		{"rejected with budget", false, 0, 2, EventCritiqueRejected},
		{"rejected one round left", false, 1, 2, EventCritiqueRejected},
		{"rejected budget spent", false, 2, 2, EventBudgetExhausted},
		{"rejected zero budget", false, 0, 0, EventBudgetExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CritiqueEvent(tt.passed, tt.count, tt.max))
		})
	}
}

// Walking the machine with an always-rejecting critic reaches done after
// exactly max+1 drafting visits.
func TestRejectLoopTerminates(t *testing.T) {
	for max := 0; max <= 4; max++ {
		state := StateDrafting
		count, drafts := 0, 0
		for steps := 0; !state.Terminal(); steps++ {
			require.Less(t, steps, 100)
			var event Event
			switch state {
			case StateDrafting:
				drafts++
				event = EventDrafted
			case StateCritiquing:
				event = CritiqueEvent(false, count, max)
				if event == EventCritiqueRejected {
					count++
				}
			}
			next, err := Transition(state, event)
			require.NoError(t, err)
			state = next
		}
		assert.Equal(t, max+1, drafts, "max=%d", max)
		assert.Equal(t, max, count)
	}
}
