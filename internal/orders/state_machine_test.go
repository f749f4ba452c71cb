package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPathWalk(t *testing.T) {
	walk := []struct {
		event OrderEvent
		want  OrderState
	}{
		{EventSubmitSent, StatePendingSubmit},
		{EventSubmitAccepted, StateOpen},
		{EventPartialFill, StatePartiallyFilled},
		{EventPartialFill, StatePartiallyFilled},
		{EventFullFill, StateFilled},
	}

	state := StatePendingNew
	for _, step := range walk {
		next, ok := NextState(state, step.event)
		require.True(t, ok, "event %s from %s", step.event, state)
		assert.Equal(t, step.want, next)
		state = next
	}
	assert.True(t, state.IsTerminal())
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	events := []OrderEvent{
		EventSubmitSent, EventSubmitAccepted, EventSubmitRejected,
		EventPartialFill, EventFullFill,
		EventCancelRequested, EventCancelConfirmed, EventExpired,
	}
	for _, terminal := range []OrderState{StateFilled, StateCanceled, StateRejected, StateExpired} {
		require.True(t, terminal.IsTerminal())
		for _, event := range events {
			_, ok := NextState(terminal, event)
			assert.False(t, ok, "terminal %s must reject %s", terminal, event)
		}
	}
}

func TestRejectionPaths(t *testing.T) {
	next, ok := NextState(StatePendingNew, EventSubmitRejected)
	require.True(t, ok)
	assert.Equal(t, StateRejected, next)

	next, ok = NextState(StatePendingSubmit, EventSubmitRejected)
	require.True(t, ok)
	assert.Equal(t, StateRejected, next)

	// An open order cannot be submit-rejected.
	_, ok = NextState(StateOpen, EventSubmitRejected)
	assert.False(t, ok)
}

func TestCancellationPaths(t *testing.T) {
	// Before submission, a cancel is immediate.
	next, ok := NextState(StatePendingNew, EventCancelRequested)
	require.True(t, ok)
	assert.Equal(t, StateCanceled, next)

	// Live orders only reach CANCELED on exchange confirmation; requesting
	// the cancel leaves the state unchanged.
	for _, state := range []OrderState{StatePendingSubmit, StateOpen, StatePartiallyFilled} {
		next, ok := NextState(state, EventCancelRequested)
		require.True(t, ok, "from %s", state)
		assert.Equal(t, state, next)

		next, ok = NextState(state, EventCancelConfirmed)
		require.True(t, ok, "from %s", state)
		assert.Equal(t, StateCanceled, next)
	}
}

func TestFillsCanBeatAcknowledgment(t *testing.T) {
	// The feed may deliver fills while the placement response is in flight.
	next, ok := NextState(StatePendingSubmit, EventPartialFill)
	require.True(t, ok)
	assert.Equal(t, StatePartiallyFilled, next)

	next, ok = NextState(StatePendingSubmit, EventFullFill)
	require.True(t, ok)
	assert.Equal(t, StateFilled, next)
}

func TestNoInvalidTransitionSucceeds(t *testing.T) {
	// Spot checks of edges that must not exist.
	invalid := []struct {
		from  OrderState
		event OrderEvent
	}{
		{StatePendingNew, EventSubmitAccepted},
		{StatePendingNew, EventPartialFill},
		{StatePendingNew, EventFullFill},
		{StateOpen, EventSubmitSent},
		{StatePartiallyFilled, EventSubmitAccepted},
	}
	for _, tc := range invalid {
		_, ok := NextState(tc.from, tc.event)
		assert.False(t, ok, "%s must not accept %s", tc.from, tc.event)
	}
}

func TestEventFor(t *testing.T) {
	event, ok := EventFor(StatePendingSubmit, StateOpen)
	require.True(t, ok)
	assert.Equal(t, EventSubmitAccepted, event)

	event, ok = EventFor(StateOpen, StateFilled)
	require.True(t, ok)
	assert.Equal(t, EventFullFill, event)

	event, ok = EventFor(StateOpen, StateCanceled)
	require.True(t, ok)
	assert.Equal(t, EventCancelConfirmed, event)

	event, ok = EventFor(StatePartiallyFilled, StateExpired)
	require.True(t, ok)
	assert.Equal(t, EventExpired, event)

	// No single event crosses from PENDING_NEW to OPEN.
	_, ok = EventFor(StatePendingNew, StateOpen)
	assert.False(t, ok)

	// Terminal states have no outgoing edges.
	_, ok = EventFor(StateFilled, StateOpen)
	assert.False(t, ok)
}

func TestValidStatesCoversTable(t *testing.T) {
	states := ValidStates()
	assert.Len(t, states, 8)
	seen := make(map[OrderState]bool, len(states))
	for _, s := range states {
		seen[s] = true
	}
	for from, edges := range transitions {
		assert.True(t, seen[from], "state %s missing from ValidStates", from)
		for _, to := range edges {
			assert.True(t, seen[to], "state %s missing from ValidStates", to)
		}
	}
}
