package status

import (
	"testing"

	"github.com/matheus3301/rosterd/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Reconciling},
		{Booting, Error},
		{Reconciling, Ready},
		{Reconciling, Degraded},
		{Ready, Degraded},
		{Ready, Reconciling},
		{Degraded, Ready},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			// Walk to the "from" state.
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Reconciling); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "session.status_changed" {
		t.Errorf("event kind = %q, want session.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Reconciling {
		t.Errorf("change = %v -> %v, want BOOTING -> RECONCILING", change.From, change.To)
	}
}

// TestStartupLifecycle walks the normal boot: BOOTING → RECONCILING → READY.
func TestStartupLifecycle(t *testing.T) {
	m := NewMachine(nil)
	for _, s := range []State{Reconciling, Ready} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Ready {
		t.Errorf("final state = %s, want READY", m.Current())
	}
}

// TestDegradedRecovers verifies a dropped batch degrades the daemon and a
// later successful batch brings it back.
func TestDegradedRecovers(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	if !m.TransitionFrom(Degraded, Ready, Reconciling) {
		t.Fatal("READY -> DEGRADED refused")
	}
	if m.TransitionFrom(Degraded, Ready, Reconciling) {
		t.Error("DEGRADED -> DEGRADED reported as a transition")
	}
	if !m.TransitionFrom(Ready, Degraded) {
		t.Fatal("DEGRADED -> READY refused")
	}
	if m.Current() != Ready {
		t.Errorf("state = %s, want READY", m.Current())
	}
}

func TestTransitionFromIgnoresOtherStates(t *testing.T) {
	m := NewMachine(nil)
	if m.TransitionFrom(Ready, Degraded) {
		t.Error("BOOTING accepted a transition guarded on DEGRADED")
	}
	if m.Current() != Booting {
		t.Errorf("state = %s, want BOOTING", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:     {},
		Reconciling: {Reconciling},
		Ready:       {Reconciling, Ready},
		Degraded:    {Reconciling, Degraded},
		Error:       {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
