// Package lifecycle models the per-endpoint connection state machine that
// gates when chunked transfer may run, plus the discovery policy around it:
// candidate filtering, identity dedupe, the connection cap and reconnect
// backoff.
package lifecycle

// State is the lifecycle position of one remote endpoint.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateConnecting
	StateDiscoveringServices
	StateDiscoveringCharacteristics
	StateSubscribing
	StateReady
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringServices:
		return "discoveringServices"
	case StateDiscoveringCharacteristics:
		return "discoveringCharacteristics"
	case StateSubscribing:
		return "subscribing"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether the endpoint holds (or is acquiring) transport
// resources that must be cleaned up on failure.
func (s State) Active() bool {
	return s != StateIdle && s != StateDisconnecting
}

// Event drives the machine.
type Event int

const (
	EventStart Event = iota
	EventCandidateFound
	EventAccepted
	EventConnected
	EventConnectFailed
	EventServicesFound
	EventServiceError
	EventServicesInvalidated
	EventCharacteristicsFound
	EventCharacteristicError
	EventSubscribed
	EventDisconnected
	EventLinkInvalidated
	EventCleanupDone
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventCandidateFound:
		return "candidateFound"
	case EventAccepted:
		return "accepted"
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connectFailed"
	case EventServicesFound:
		return "servicesFound"
	case EventServiceError:
		return "serviceError"
	case EventServicesInvalidated:
		return "servicesInvalidated"
	case EventCharacteristicsFound:
		return "characteristicsFound"
	case EventCharacteristicError:
		return "characteristicError"
	case EventSubscribed:
		return "subscribed"
	case EventDisconnected:
		return "disconnected"
	case EventLinkInvalidated:
		return "linkInvalidated"
	case EventCleanupDone:
		return "cleanupDone"
	default:
		return "unknown"
	}
}

// Failure reports whether e tears the endpoint down.
func (e Event) Failure() bool {
	switch e {
	case EventConnectFailed, EventServiceError, EventCharacteristicError,
		EventDisconnected, EventLinkInvalidated:
		return true
	}
	return false
}

// Action is the side effect the owner must perform after a transition.
type Action int

const (
	ActionNone Action = iota
	ActionConnect
	ActionDiscoverServices
	ActionDiscoverCharacteristics
	ActionSubscribe
	ActionActivate
	ActionRediscover
	ActionCleanup
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionConnect:
		return "connect"
	case ActionDiscoverServices:
		return "discoverServices"
	case ActionDiscoverCharacteristics:
		return "discoverCharacteristics"
	case ActionSubscribe:
		return "subscribe"
	case ActionActivate:
		return "activate"
	case ActionRediscover:
		return "rediscover"
	case ActionCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}
