// Package link defines the contract between the transfer core and the BLE
// transport that carries it.
//
// The core never talks to a radio directly. A transport hands the core a Link
// once a peer has subscribed, drives it through Events, and accepts lifecycle
// commands through Radio. Everything in this package is an interface or a plain
// value so transports (the wire simulator, a hardware adapter, a test fake) can
// be swapped without touching the core.
package link

import (
	"github.com/google/uuid"
)

// Identity is the hardware UUID of a remote device, as reported by the transport.
type Identity string

// Short returns the first 8 characters of the identity for log prefixes.
func (id Identity) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

// Link is the capability surface of one connected, subscribed peer.
//
// Both methods are non-blocking. TrySend returning false is backpressure, not an
// error: the transport must later call Events.CapacityAvailable for the same
// identity. Implementations must copy chunk if they retain it past the call.
type Link interface {
	// MaxChunkSize is the current negotiated maximum bytes per write/notification.
	MaxChunkSize() int

	// TrySend offers one chunk to the transport. false means "not now".
	TrySend(chunk []byte) bool
}

// Advertisement is the subset of an advertising packet the core filters on.
type Advertisement struct {
	LocalName     string
	ServiceUUIDs  []uuid.UUID
	TxPowerLevel  *int
	IsConnectable bool

	// CentralRole is set when the advertiser also scans and dials out. Two
	// nodes that both dial leave the connection to the lower identity.
	CentralRole bool
}

// HasService reports whether the advertisement lists the given service UUID.
func (a Advertisement) HasService(service uuid.UUID) bool {
	for _, s := range a.ServiceUUIDs {
		if s == service {
			return true
		}
	}
	return false
}

// Radio is the command surface the lifecycle drives. Every call starts an
// asynchronous procedure whose outcome arrives later through Events; a returned
// error means the procedure could not even be started.
type Radio interface {
	StartScan(service uuid.UUID) error
	StopScan()
	Connect(id Identity) error
	DiscoverServices(id Identity) error
	DiscoverCharacteristics(id Identity) error
	Subscribe(id Identity) error

	// Cancel unsubscribes every characteristic and drops the connection.
	// It must be idempotent and safe to call for unknown identities.
	Cancel(id Identity)
}

// Events is the inbound side: the transport reports everything that happens on
// the air through these callbacks. Implementations must not block for long;
// the coordinator only enqueues.
type Events interface {
	PowerStateChanged(on bool)
	CandidateDiscovered(id Identity, rssi int, adv Advertisement)

	// Accepted reports an inbound connection from a central (peripheral role).
	Accepted(id Identity)
	Connected(id Identity)
	ConnectFailed(id Identity, err error)
	ServicesFound(id Identity)
	ServiceDiscoveryFailed(id Identity, err error)
	ServicesInvalidated(id Identity)
	CharacteristicsFound(id Identity)
	CharacteristicDiscoveryFailed(id Identity, err error)

	// SubscriptionConfirmed hands over the Link endpoint handle. The handle is
	// valid until Disconnected (or any teardown) for the same identity.
	SubscriptionConfirmed(id Identity, l Link)
	Disconnected(id Identity, err error)

	CapacityAvailable(id Identity)
	BytesReceived(id Identity, data []byte)
}
