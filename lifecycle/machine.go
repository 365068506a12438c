package lifecycle

// Transition is the result of firing one accepted event.
type Transition struct {
	From   State
	To     State
	Event  Event
	Action Action
}

type edge struct {
	from  State
	event Event
}

type target struct {
	to     State
	action Action
}

// Happy path for both roles. The central side walks the full discovery chain;
// the peripheral side enters at Subscribing when a central connects to it and
// becomes Ready once that central arms notifications.
var edges = map[edge]target{
	{StateIdle, EventStart}:                                      {StateDiscovering, ActionNone},
	{StateIdle, EventAccepted}:                                   {StateSubscribing, ActionNone},
	{StateDiscovering, EventCandidateFound}:                      {StateConnecting, ActionConnect},
	{StateConnecting, EventConnected}:                            {StateDiscoveringServices, ActionDiscoverServices},
	{StateDiscoveringServices, EventServicesFound}:               {StateDiscoveringCharacteristics, ActionDiscoverCharacteristics},
	{StateDiscoveringCharacteristics, EventCharacteristicsFound}: {StateSubscribing, ActionSubscribe},
	{StateSubscribing, EventSubscribed}:                          {StateReady, ActionActivate},

	// didModifyServices: the peer changed its GATT table under us.
	{StateDiscoveringCharacteristics, EventServicesInvalidated}: {StateDiscoveringServices, ActionRediscover},
	{StateSubscribing, EventServicesInvalidated}:                {StateDiscoveringServices, ActionRediscover},
	{StateReady, EventServicesInvalidated}:                      {StateDiscoveringServices, ActionRediscover},

	{StateDisconnecting, EventCleanupDone}: {StateIdle, ActionNone},
}

// Machine is the lifecycle of one remote endpoint. It is a pure transition
// table: it performs no I/O and is not safe for concurrent use.
type Machine struct {
	state State
}

// NewMachine returns a machine in Idle.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Fire applies ev. Events that are not valid in the current state are ignored
// and reported with ok=false; in particular a failure that arrives while the
// endpoint is already Disconnecting or Idle does not trigger a second cleanup.
func (m *Machine) Fire(ev Event) (Transition, bool) {
	from := m.state

	if ev.Failure() {
		if !from.Active() {
			return Transition{From: from, To: from, Event: ev}, false
		}
		m.state = StateDisconnecting
		return Transition{From: from, To: StateDisconnecting, Event: ev, Action: ActionCleanup}, true
	}

	t, ok := edges[edge{from, ev}]
	if !ok {
		return Transition{From: from, To: from, Event: ev}, false
	}
	m.state = t.to
	return Transition{From: from, To: t.to, Event: ev, Action: t.action}, true
}
