package wire

import (
	"time"

	"github.com/google/uuid"

	"github.com/user/bluexfer/util"
	"github.com/user/bluexfer/wire/gatt"
	"github.com/user/bluexfer/wire/l2cap"
)

// ConnectionRole is our role on one connection.
type ConnectionRole string

const (
	RoleCentral    ConnectionRole = "central"    // We initiated connection
	RolePeripheral ConnectionRole = "peripheral" // They initiated connection
)

// Timing defaults.
const (
	DefaultMTU                = 185
	DefaultTxQueueDepth       = 8
	DefaultConnectionInterval = 15 * time.Millisecond
	DefaultScanInterval       = time.Second
	DefaultRequestTimeout     = 5 * time.Second
	handshakeTimeout          = 2 * time.Second
)

// Config describes one simulated device.
type Config struct {
	DeviceID   string
	DeviceName string

	// DataDir holds the shared socket directory and per-device state.
	// Empty means util.GetDataDir().
	DataDir string

	Service          uuid.UUID
	RxCharacteristic uuid.UUID
	TxCharacteristic uuid.UUID

	// Advertise makes the device connectable (peripheral side).
	Advertise bool
	// CentralRole is advertised so dual-role peers can agree on who dials.
	CentralRole bool

	// MTU is the ATT MTU this device proposes. The link uses the smaller of
	// both sides' proposals.
	MTU int
	// TxQueueDepth bounds frames queued for the radio per connection. It is
	// rounded up to a power of two.
	TxQueueDepth int
	// ConnectionInterval paces queued frames, one per interval.
	ConnectionInterval time.Duration
	ScanInterval       time.Duration
	RequestTimeout     time.Duration

	// DistanceMeters feeds the simulated RSSI of everything this device sees.
	DistanceMeters float64
	Simulation     *SimulationConfig

	// Journal appends connection events to connection_events.jsonl in the
	// device directory.
	Journal bool
}

// DefaultConfig returns a dual-role device exposing the default transfer
// service.
func DefaultConfig(deviceID string) Config {
	return Config{
		DeviceID:           deviceID,
		DeviceName:         "bluexfer-" + util.ShortHash(deviceID),
		Service:            gatt.DefaultServiceUUID,
		RxCharacteristic:   gatt.DefaultRxUUID,
		TxCharacteristic:   gatt.DefaultTxUUID,
		Advertise:          true,
		CentralRole:        true,
		MTU:                DefaultMTU,
		TxQueueDepth:       DefaultTxQueueDepth,
		ConnectionInterval: DefaultConnectionInterval,
		ScanInterval:       DefaultScanInterval,
		RequestTimeout:     DefaultRequestTimeout,
		DistanceMeters:     1,
	}
}

func (c *Config) normalize() {
	if c.DataDir == "" {
		c.DataDir = util.GetDataDir()
	}
	if c.DeviceName == "" {
		c.DeviceName = "bluexfer-" + util.ShortHash(c.DeviceID)
	}
	if c.Service == uuid.Nil {
		c.Service = gatt.DefaultServiceUUID
	}
	if c.RxCharacteristic == uuid.Nil {
		c.RxCharacteristic = gatt.DefaultRxUUID
	}
	if c.TxCharacteristic == uuid.Nil {
		c.TxCharacteristic = gatt.DefaultTxUUID
	}
	if c.MTU == 0 {
		c.MTU = DefaultMTU
	}
	c.MTU = l2cap.ClampMTU(c.MTU)
	if c.TxQueueDepth < 1 {
		c.TxQueueDepth = DefaultTxQueueDepth
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.DistanceMeters <= 0 {
		c.DistanceMeters = 1
	}
	if c.Simulation == nil {
		c.Simulation = DefaultSimulationConfig()
	}
}

// queueCapacity rounds depth up to the power of two the lock-free queue
// requires, with a floor of 2.
func queueCapacity(depth int) int {
	n := 2
	for n < depth {
		n <<= 1
	}
	return n
}
