package config

import (
	"os"

	"github.com/user/bluexfer/util"
)

// ApplyEnvConfig applies configuration from environment variables
// (BLUEXFER_*). It respects flags that have been explicitly set (changed
// map) and returns an error if any variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("device-id", os.Getenv("BLUEXFER_DEVICE_ID"), &cfg.DeviceID)
	s.setString("device-name", os.Getenv("BLUEXFER_DEVICE_NAME"), &cfg.DeviceName)
	s.setString("data-dir", os.Getenv(util.DataDirEnv), &cfg.DataDir)
	s.setString("service-uuid", os.Getenv("BLUEXFER_SERVICE_UUID"), &cfg.ServiceUUID)
	s.setString("rx-uuid", os.Getenv("BLUEXFER_RECEIVE_CHARACTERISTIC_UUID"), &cfg.ReceiveCharacteristicUUID)
	s.setString("tx-uuid", os.Getenv("BLUEXFER_SEND_CHARACTERISTIC_UUID"), &cfg.SendCharacteristicUUID)
	s.setString("sentinel", os.Getenv("BLUEXFER_SENTINEL"), &cfg.Sentinel)
	s.setString("payload", os.Getenv("BLUEXFER_PAYLOAD_FILE"), &cfg.PayloadFile)
	s.setString("payload-encoding", os.Getenv("BLUEXFER_PAYLOAD_ENCODING"), &cfg.PayloadEncoding)
	s.setString("events-addr", os.Getenv("BLUEXFER_EVENTS_ADDR"), &cfg.EventsAddr)
	s.setString("archive", os.Getenv("BLUEXFER_ARCHIVE_PATH"), &cfg.ArchivePath)
	s.setString("log-level", os.Getenv("BLUEXFER_LOG_LEVEL"), &cfg.LogLevel)
	s.setListFromString("roles", os.Getenv("BLUEXFER_ROLES"), &cfg.Roles)

	if err := s.setDuration("connection-interval", os.Getenv("BLUEXFER_CONNECTION_INTERVAL"), &cfg.ConnectionInterval); err != nil {
		return err
	}
	if err := s.setDuration("scan-interval", os.Getenv("BLUEXFER_SCAN_INTERVAL"), &cfg.ScanInterval); err != nil {
		return err
	}
	if err := s.setDuration("reconnect-initial", os.Getenv("BLUEXFER_RECONNECT_INITIAL"), &cfg.ReconnectInitial); err != nil {
		return err
	}
	if err := s.setDuration("reconnect-max", os.Getenv("BLUEXFER_RECONNECT_MAX"), &cfg.ReconnectMax); err != nil {
		return err
	}

	for _, v := range []struct {
		flag, env string
		dst       *int
	}{
		{"max-connections", "BLUEXFER_MAX_CONNECTIONS", &cfg.MaxConnections},
		{"mtu", "BLUEXFER_MTU", &cfg.MTU},
		{"tx-queue-depth", "BLUEXFER_TX_QUEUE_DEPTH", &cfg.TxQueueDepth},
		{"rssi-threshold", "BLUEXFER_RSSI_THRESHOLD", &cfg.RSSIThreshold},
		{"max-message-bytes", "BLUEXFER_MAX_MESSAGE_BYTES", &cfg.MaxMessageBytes},
	} {
		if err := s.setIntFromString(v.flag, os.Getenv(v.env), v.dst); err != nil {
			return err
		}
	}
	if err := s.setFloatFromString("distance", os.Getenv("BLUEXFER_DISTANCE_M"), &cfg.DistanceM); err != nil {
		return err
	}

	s.setBoolFromString("central", os.Getenv("BLUEXFER_CENTRAL"), &cfg.Central)
	s.setBoolFromString("peripheral", os.Getenv("BLUEXFER_PERIPHERAL"), &cfg.Peripheral)
	s.setBoolFromString("auto-connect", os.Getenv("BLUEXFER_AUTO_CONNECT"), &cfg.AutoConnect)
	s.setBoolFromString("log-json", os.Getenv("BLUEXFER_LOG_JSON"), &cfg.LogJSON)
	s.setBoolFromString("journal", os.Getenv("BLUEXFER_JOURNAL"), &cfg.Journal)

	return nil
}
