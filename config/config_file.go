package config

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML
// friendly. Pointers distinguish "unset" from a zero value.
type FileConfig struct {
	DeviceID   string `toml:"device_id"`
	DeviceName string `toml:"device_name"`
	DataDir    string `toml:"data_dir"`

	Central    *bool    `toml:"central"`
	Peripheral *bool    `toml:"peripheral"`
	Roles      []string `toml:"roles"`

	ServiceUUID               string `toml:"service_uuid"`
	ReceiveCharacteristicUUID string `toml:"receive_characteristic_uuid"`
	SendCharacteristicUUID    string `toml:"send_characteristic_uuid"`

	Sentinel       string `toml:"sentinel"`
	RSSIThreshold  *int   `toml:"rssi_threshold"`
	MaxConnections int    `toml:"max_connections"`
	AutoConnect    *bool  `toml:"auto_connect"`

	MTU                int    `toml:"mtu"`
	TxQueueDepth       int    `toml:"tx_queue_depth"`
	ConnectionInterval string `toml:"connection_interval"`
	ScanInterval       string `toml:"scan_interval"`
	ReconnectInitial   string `toml:"reconnect_initial"`
	ReconnectMax       string `toml:"reconnect_max"`
	MaxMessageBytes    *int   `toml:"max_message_bytes"`

	PayloadFile     string `toml:"payload_file"`
	PayloadEncoding string `toml:"payload_encoding"`

	EventsAddr  string `toml:"events_addr"`
	ArchivePath string `toml:"archive_path"`

	LogLevel  string  `toml:"log_level"`
	LogJSON   *bool   `toml:"log_json"`
	DistanceM float64 `toml:"distance_m"`
	Journal   *bool   `toml:"journal"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.bluexfer/config.toml, or "" without a home
// directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".bluexfer", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("device-id", fc.DeviceID, &cfg.DeviceID)
	s.setString("device-name", fc.DeviceName, &cfg.DeviceName)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("service-uuid", fc.ServiceUUID, &cfg.ServiceUUID)
	s.setString("rx-uuid", fc.ReceiveCharacteristicUUID, &cfg.ReceiveCharacteristicUUID)
	s.setString("tx-uuid", fc.SendCharacteristicUUID, &cfg.SendCharacteristicUUID)
	s.setString("sentinel", fc.Sentinel, &cfg.Sentinel)
	s.setString("payload", fc.PayloadFile, &cfg.PayloadFile)
	s.setString("payload-encoding", fc.PayloadEncoding, &cfg.PayloadEncoding)
	s.setString("events-addr", fc.EventsAddr, &cfg.EventsAddr)
	s.setString("archive", fc.ArchivePath, &cfg.ArchivePath)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setStrings("roles", fc.Roles, &cfg.Roles)

	if err := s.setDuration("connection-interval", fc.ConnectionInterval, &cfg.ConnectionInterval); err != nil {
		return err
	}
	if err := s.setDuration("scan-interval", fc.ScanInterval, &cfg.ScanInterval); err != nil {
		return err
	}
	if err := s.setDuration("reconnect-initial", fc.ReconnectInitial, &cfg.ReconnectInitial); err != nil {
		return err
	}
	if err := s.setDuration("reconnect-max", fc.ReconnectMax, &cfg.ReconnectMax); err != nil {
		return err
	}

	s.setInt("max-connections", fc.MaxConnections, &cfg.MaxConnections)
	s.setInt("mtu", fc.MTU, &cfg.MTU)
	s.setInt("tx-queue-depth", fc.TxQueueDepth, &cfg.TxQueueDepth)
	s.setIntPtr("rssi-threshold", fc.RSSIThreshold, &cfg.RSSIThreshold)
	s.setIntPtr("max-message-bytes", fc.MaxMessageBytes, &cfg.MaxMessageBytes)
	s.setFloat("distance", fc.DistanceM, &cfg.DistanceM)

	s.setBool("central", fc.Central, &cfg.Central)
	s.setBool("peripheral", fc.Peripheral, &cfg.Peripheral)
	s.setBool("auto-connect", fc.AutoConnect, &cfg.AutoConnect)
	s.setBool("log-json", fc.LogJSON, &cfg.LogJSON)
	s.setBool("journal", fc.Journal, &cfg.Journal)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
