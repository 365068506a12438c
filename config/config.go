// Package config holds the settings of one bluexfer node: defaults, a TOML
// file, BLUEXFER_* environment overrides and explicitly set flags, applied in
// that order of increasing precedence.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/bluexfer/coordinator"
	"github.com/user/bluexfer/lifecycle"
	"github.com/user/bluexfer/transfer"
	"github.com/user/bluexfer/wire"
	"github.com/user/bluexfer/wire/gatt"
	"github.com/user/bluexfer/wire/l2cap"
)

// minChunk is the smallest chunk any link can carry (default MTU 23 minus
// the ATT header). The sentinel must fit in it.
const minChunk = l2cap.DefaultMTU - 3

// Payload encodings.
const (
	EncodingRaw   = "raw"
	EncodingProto = "proto"
)

// Config holds CLI configuration for bluexfer.
type Config struct {
	DeviceID   string
	DeviceName string
	DataDir    string

	Central    bool
	Peripheral bool
	Roles      []string

	ServiceUUID               string
	ReceiveCharacteristicUUID string
	SendCharacteristicUUID    string

	Sentinel       string
	RSSIThreshold  int
	MaxConnections int
	AutoConnect    bool

	MTU                int
	TxQueueDepth       int
	ConnectionInterval time.Duration
	ScanInterval       time.Duration
	ReconnectInitial   time.Duration
	ReconnectMax       time.Duration
	MaxMessageBytes    int

	PayloadFile     string
	PayloadEncoding string

	EventsAddr  string
	ArchivePath string

	LogLevel  string
	LogJSON   bool
	DistanceM float64
	Journal   bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Central:                   true,
		Peripheral:                true,
		Roles:                     []string{"sender", "receiver"},
		ServiceUUID:               gatt.DefaultServiceUUID.String(),
		ReceiveCharacteristicUUID: gatt.DefaultRxUUID.String(),
		SendCharacteristicUUID:    gatt.DefaultTxUUID.String(),
		Sentinel:                  string(transfer.DefaultSentinel),
		RSSIThreshold:             lifecycle.DefaultMinRSSI,
		MaxConnections:            lifecycle.DefaultMaxConnections,
		AutoConnect:               true,
		MTU:                       wire.DefaultMTU,
		TxQueueDepth:              wire.DefaultTxQueueDepth,
		ConnectionInterval:        wire.DefaultConnectionInterval,
		ScanInterval:              wire.DefaultScanInterval,
		ReconnectInitial:          500 * time.Millisecond,
		ReconnectMax:              10 * time.Second,
		PayloadEncoding:           EncodingRaw,
		LogLevel:                  "info",
		DistanceM:                 1,
		Journal:                   true,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		c.DeviceID = uuid.NewString()
	}
	if strings.ContainsAny(c.DeviceID, `/\`) {
		return fmt.Errorf("device-id %q must not contain path separators", c.DeviceID)
	}
	if !c.Central && !c.Peripheral {
		return fmt.Errorf("at least one of central or peripheral must be enabled")
	}

	roles, err := coordinator.ParseRoles(c.Roles)
	if err != nil {
		return err
	}
	if roles.Empty() {
		return fmt.Errorf("at least one role (sender, receiver) is required")
	}

	for name, v := range map[string]string{
		"service-uuid": c.ServiceUUID,
		"rx-uuid":      c.ReceiveCharacteristicUUID,
		"tx-uuid":      c.SendCharacteristicUUID,
	} {
		if _, err := uuid.Parse(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Sentinel == "" {
		return fmt.Errorf("sentinel must not be empty")
	}
	if len(c.Sentinel) > minChunk {
		return fmt.Errorf("sentinel is %d bytes, longest allowed is %d", len(c.Sentinel), minChunk)
	}
	if c.RSSIThreshold > 0 || c.RSSIThreshold < -127 {
		return fmt.Errorf("rssi-threshold %d out of range [-127, 0]", c.RSSIThreshold)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max-connections must be at least 1")
	}
	if c.MTU < l2cap.MinMTU || c.MTU > l2cap.MaxMTU {
		return fmt.Errorf("mtu %d out of range [%d, %d]", c.MTU, l2cap.MinMTU, l2cap.MaxMTU)
	}
	if c.TxQueueDepth < 1 {
		return fmt.Errorf("tx-queue-depth must be at least 1")
	}
	if c.ConnectionInterval < 0 {
		return fmt.Errorf("connection interval must not be negative")
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("scan interval must be positive")
	}
	if c.ReconnectInitial <= 0 || c.ReconnectMax < c.ReconnectInitial {
		return fmt.Errorf("reconnect backoff must satisfy 0 < initial <= max")
	}
	if c.MaxMessageBytes < 0 {
		return fmt.Errorf("max-message-bytes must not be negative")
	}
	switch c.PayloadEncoding {
	case "":
		c.PayloadEncoding = EncodingRaw
	case EncodingRaw, EncodingProto:
	default:
		return fmt.Errorf("payload-encoding %q, want raw or proto", c.PayloadEncoding)
	}
	if c.DistanceM <= 0 {
		c.DistanceM = 1
	}
	return nil
}

// WireConfig derives the simulated radio settings. Call Validate first.
func (c Config) WireConfig() wire.Config {
	wc := wire.DefaultConfig(c.DeviceID)
	if c.DeviceName != "" {
		wc.DeviceName = c.DeviceName
	}
	wc.DataDir = c.DataDir
	wc.Service = uuid.MustParse(c.ServiceUUID)
	wc.RxCharacteristic = uuid.MustParse(c.ReceiveCharacteristicUUID)
	wc.TxCharacteristic = uuid.MustParse(c.SendCharacteristicUUID)
	wc.Advertise = c.Peripheral
	wc.CentralRole = c.Central
	wc.MTU = c.MTU
	wc.TxQueueDepth = c.TxQueueDepth
	wc.ConnectionInterval = c.ConnectionInterval
	wc.ScanInterval = c.ScanInterval
	wc.DistanceMeters = c.DistanceM
	wc.Journal = c.Journal
	return wc
}

// NodeOptions derives the coordinator settings. Call Validate first.
func (c Config) NodeOptions() (coordinator.Options, error) {
	roles, err := coordinator.ParseRoles(c.Roles)
	if err != nil {
		return coordinator.Options{}, err
	}
	service := uuid.MustParse(c.ServiceUUID)

	opts := coordinator.DefaultOptions(service)
	opts.DeviceID = c.DeviceID
	opts.Roles = roles
	opts.Central = c.Central
	opts.Peripheral = c.Peripheral
	opts.Sentinel = transfer.Sentinel(c.Sentinel)
	opts.Filter = lifecycle.Filter{Service: service, MinRSSI: c.RSSIThreshold}
	opts.MaxConnections = c.MaxConnections
	opts.AutoConnect = c.AutoConnect
	opts.MaxMessageBytes = c.MaxMessageBytes
	opts.ReconnectInitial = c.ReconnectInitial
	opts.ReconnectMax = c.ReconnectMax
	return opts, nil
}

// configSetter applies values while respecting flag precedence. It only
// applies a value if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setStrings sets a list if not empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int that may legitimately be zero or negative.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int, accepting zero and negatives.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination if valid.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

// setListFromString splits a comma-separated list.
func (s *configSetter) setListFromString(flag, value string, dst *[]string) {
	if value == "" || s.changed[flag] {
		return
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
