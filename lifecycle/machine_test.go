package lifecycle

import "testing"

func fireAll(t *testing.T, m *Machine, events ...Event) []Transition {
	t.Helper()
	var out []Transition
	for _, ev := range events {
		tr, ok := m.Fire(ev)
		if !ok {
			t.Fatalf("event %s rejected in state %s", ev, m.State())
		}
		out = append(out, tr)
	}
	return out
}

func TestCentralHappyPathReachesReady(t *testing.T) {
	m := NewMachine()
	trs := fireAll(t, m,
		EventStart,
		EventCandidateFound,
		EventConnected,
		EventServicesFound,
		EventCharacteristicsFound,
		EventSubscribed,
	)

	wantStates := []State{
		StateDiscovering,
		StateConnecting,
		StateDiscoveringServices,
		StateDiscoveringCharacteristics,
		StateSubscribing,
		StateReady,
	}
	wantActions := []Action{
		ActionNone,
		ActionConnect,
		ActionDiscoverServices,
		ActionDiscoverCharacteristics,
		ActionSubscribe,
		ActionActivate,
	}
	for i, tr := range trs {
		if tr.To != wantStates[i] {
			t.Errorf("step %d: To = %s, want %s", i, tr.To, wantStates[i])
		}
		if tr.Action != wantActions[i] {
			t.Errorf("step %d: Action = %s, want %s", i, tr.Action, wantActions[i])
		}
	}
	if m.State() != StateReady {
		t.Errorf("final state = %s, want ready", m.State())
	}
}

func TestPeripheralAcceptPathReachesReady(t *testing.T) {
	m := NewMachine()
	fireAll(t, m, EventAccepted, EventSubscribed)
	if m.State() != StateReady {
		t.Errorf("state = %s, want ready", m.State())
	}
}

func TestEveryFailureCleansUpExactlyOnce(t *testing.T) {
	path := []Event{
		EventStart,
		EventCandidateFound,
		EventConnected,
		EventServicesFound,
		EventCharacteristicsFound,
		EventSubscribed,
	}
	failures := []Event{
		EventConnectFailed,
		EventServiceError,
		EventCharacteristicError,
		EventDisconnected,
		EventLinkInvalidated,
	}

	// Fail after each prefix of the happy path (prefix 0 is Idle).
	for stage := 1; stage <= len(path); stage++ {
		for _, fail := range failures {
			m := NewMachine()
			fireAll(t, m, path[:stage]...)
			before := m.State()

			cleanups := 0
			tr, ok := m.Fire(fail)
			if !ok {
				t.Fatalf("%s in %s rejected", fail, before)
			}
			if tr.To != StateDisconnecting || tr.Action != ActionCleanup {
				t.Fatalf("%s in %s -> %s/%s, want disconnecting/cleanup", fail, before, tr.To, tr.Action)
			}
			cleanups++

			// A burst of follow-up failures must not schedule another cleanup.
			for _, again := range failures {
				if tr, ok := m.Fire(again); ok || tr.Action == ActionCleanup {
					cleanups++
				}
			}
			if cleanups != 1 {
				t.Errorf("%s in %s: %d cleanups, want 1", fail, before, cleanups)
			}

			tr, ok = m.Fire(EventCleanupDone)
			if !ok || tr.To != StateIdle {
				t.Errorf("cleanupDone from %s -> %s ok=%v, want idle", m.State(), tr.To, ok)
			}
		}
	}
}

func TestFailureInIdleIgnored(t *testing.T) {
	m := NewMachine()
	if _, ok := m.Fire(EventDisconnected); ok {
		t.Error("disconnect in idle accepted")
	}
	if m.State() != StateIdle {
		t.Errorf("state = %s, want idle", m.State())
	}
}

func TestOutOfOrderEventsIgnored(t *testing.T) {
	tests := []struct {
		name  string
		setup []Event
		ev    Event
	}{
		{"connected before candidate", []Event{EventStart}, EventConnected},
		{"subscribed while discovering services", []Event{EventStart, EventCandidateFound, EventConnected}, EventSubscribed},
		{"candidate while connecting", []Event{EventStart, EventCandidateFound}, EventCandidateFound},
		{"cleanup done while ready", []Event{EventAccepted, EventSubscribed}, EventCleanupDone},
		{"start twice", []Event{EventStart}, EventStart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			fireAll(t, m, tt.setup...)
			before := m.State()
			if _, ok := m.Fire(tt.ev); ok {
				t.Errorf("%s accepted in %s", tt.ev, before)
			}
			if m.State() != before {
				t.Errorf("state moved %s -> %s", before, m.State())
			}
		})
	}
}

func TestServicesInvalidatedRediscovers(t *testing.T) {
	m := NewMachine()
	fireAll(t, m, EventStart, EventCandidateFound, EventConnected,
		EventServicesFound, EventCharacteristicsFound, EventSubscribed)

	tr, ok := m.Fire(EventServicesInvalidated)
	if !ok || tr.To != StateDiscoveringServices || tr.Action != ActionRediscover {
		t.Fatalf("invalidate from ready = %+v ok=%v", tr, ok)
	}
	fireAll(t, m, EventServicesFound, EventCharacteristicsFound, EventSubscribed)
	if m.State() != StateReady {
		t.Errorf("state = %s, want ready after rediscovery", m.State())
	}
}

func TestStateStrings(t *testing.T) {
	for s := StateIdle; s <= StateDisconnecting; s++ {
		if s.String() == "unknown" {
			t.Errorf("state %d has no name", s)
		}
	}
	for e := EventStart; e <= EventCleanupDone; e++ {
		if e.String() == "unknown" {
			t.Errorf("event %d has no name", e)
		}
	}
}
