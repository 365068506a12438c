package coordinator

import (
	"time"

	"github.com/google/uuid"

	"github.com/user/bluexfer/lifecycle"
	"github.com/user/bluexfer/transfer"
)

// Options configures a Node.
type Options struct {
	// DeviceID is this node's own identity, used for dial tie-breaks and logs.
	DeviceID string

	Roles      Roles
	Central    bool // scan and dial out
	Peripheral bool // accept inbound connections

	Sentinel transfer.Sentinel
	Filter   lifecycle.Filter

	MaxConnections int
	AutoConnect    bool

	// Greeting is sent to every peer that becomes Ready when the sender role
	// is enabled. nil disables it.
	Greeting []byte

	// MaxMessageBytes bounds inbound reassembly. 0 means unbounded.
	MaxMessageBytes int

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	MailboxSize int
}

// DefaultOptions returns a sender+receiver node with both connection sides.
func DefaultOptions(service uuid.UUID) Options {
	return Options{
		Roles:            RolesOf(RoleSender, RoleReceiver),
		Central:          true,
		Peripheral:       true,
		Sentinel:         transfer.DefaultSentinel,
		Filter:           lifecycle.Filter{Service: service, MinRSSI: lifecycle.DefaultMinRSSI},
		MaxConnections:   lifecycle.DefaultMaxConnections,
		AutoConnect:      true,
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     10 * time.Second,
		MailboxSize:      64,
	}
}

func (o *Options) normalize() {
	if len(o.Sentinel) == 0 {
		o.Sentinel = transfer.DefaultSentinel
	}
	if o.MaxConnections < 1 {
		o.MaxConnections = lifecycle.DefaultMaxConnections
	}
	if o.MailboxSize < 1 {
		o.MailboxSize = 64
	}
}
