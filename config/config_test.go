package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/user/bluexfer/coordinator"
	"github.com/user/bluexfer/wire/gatt"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Sentinel != "/EOM" {
		t.Errorf("Sentinel = %q, want /EOM", cfg.Sentinel)
	}
	if cfg.RSSIThreshold != -80 || cfg.MaxConnections != 10 {
		t.Errorf("RSSIThreshold/MaxConnections = %d/%d, want -80/10", cfg.RSSIThreshold, cfg.MaxConnections)
	}
	if cfg.MTU != 185 || cfg.ConnectionInterval != 15*time.Millisecond {
		t.Errorf("MTU/ConnectionInterval = %d/%v", cfg.MTU, cfg.ConnectionInterval)
	}
	if cfg.ServiceUUID != gatt.DefaultServiceUUID.String() {
		t.Errorf("ServiceUUID = %s", cfg.ServiceUUID)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if _, err := uuid.Parse(cfg.DeviceID); err != nil {
		t.Errorf("generated DeviceID %q is not a UUID", cfg.DeviceID)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"central only", func(c *Config) { c.Peripheral = false }, false},
		{"no side", func(c *Config) { c.Central, c.Peripheral = false, false }, true},
		{"no roles", func(c *Config) { c.Roles = nil }, true},
		{"unknown role", func(c *Config) { c.Roles = []string{"relay"} }, true},
		{"bad service uuid", func(c *Config) { c.ServiceUUID = "not-a-uuid" }, true},
		{"empty sentinel", func(c *Config) { c.Sentinel = "" }, true},
		{"sentinel fills min chunk", func(c *Config) { c.Sentinel = "12345678901234567890" }, false},
		{"sentinel too long", func(c *Config) { c.Sentinel = "123456789012345678901" }, true},
		{"positive rssi", func(c *Config) { c.RSSIThreshold = 5 }, true},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"mtu too small", func(c *Config) { c.MTU = 22 }, true},
		{"mtu too large", func(c *Config) { c.MTU = 518 }, true},
		{"bad encoding", func(c *Config) { c.PayloadEncoding = "xml" }, true},
		{"backoff inverted", func(c *Config) { c.ReconnectMax = time.Millisecond }, true},
		{"path in device id", func(c *Config) { c.DeviceID = "../x" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDerivedSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeviceID = "node-a"
	cfg.Peripheral = false
	cfg.Roles = []string{"receiver"}
	cfg.MTU = 64
	cfg.RSSIThreshold = -70
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	wc := cfg.WireConfig()
	if wc.DeviceID != "node-a" || wc.Advertise || !wc.CentralRole || wc.MTU != 64 {
		t.Errorf("wire config = %+v", wc)
	}
	if wc.Service != gatt.DefaultServiceUUID || wc.TxCharacteristic != gatt.DefaultTxUUID {
		t.Errorf("wire UUIDs = %s %s", wc.Service, wc.TxCharacteristic)
	}

	opts, err := cfg.NodeOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Roles != coordinator.RolesOf(coordinator.RoleReceiver) || opts.Peripheral {
		t.Errorf("options = %+v", opts)
	}
	if opts.Filter.MinRSSI != -70 || opts.Filter.Service != gatt.DefaultServiceUUID {
		t.Errorf("filter = %+v", opts.Filter)
	}
	if string(opts.Sentinel) != "/EOM" {
		t.Errorf("sentinel = %q", opts.Sentinel)
	}
}

func TestApplyFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
device_id = "file-node"
central = false
roles = ["sender"]
rssi_threshold = -65
mtu = 247
connection_interval = "30ms"
max_message_bytes = 4096
payload_encoding = "proto"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}

	cfg := DefaultConfig()
	if err := ApplyFileConfig(&cfg, fc, map[string]bool{"mtu": true}); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.DeviceID != "file-node" || cfg.Central {
		t.Errorf("DeviceID/Central = %q/%v", cfg.DeviceID, cfg.Central)
	}
	if len(cfg.Roles) != 1 || cfg.Roles[0] != "sender" {
		t.Errorf("Roles = %v", cfg.Roles)
	}
	if cfg.RSSIThreshold != -65 || cfg.MaxMessageBytes != 4096 {
		t.Errorf("RSSIThreshold/MaxMessageBytes = %d/%d", cfg.RSSIThreshold, cfg.MaxMessageBytes)
	}
	if cfg.ConnectionInterval != 30*time.Millisecond {
		t.Errorf("ConnectionInterval = %v", cfg.ConnectionInterval)
	}
	if cfg.MTU != 185 {
		t.Errorf("MTU = %d, file overrode an explicitly set flag", cfg.MTU)
	}
	if !cfg.Peripheral || cfg.PayloadEncoding != EncodingProto {
		t.Errorf("Peripheral/PayloadEncoding = %v/%q", cfg.Peripheral, cfg.PayloadEncoding)
	}

	if err := ApplyFileConfig(&cfg, FileConfig{ScanInterval: "soon"}, nil); err == nil {
		t.Error("invalid duration accepted")
	}
	if _, err := LoadFileConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file loaded")
	}
}

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		changed map[string]bool
		check   func(t *testing.T, c Config)
		wantErr bool
	}{
		{
			name: "applies env vars",
			envVars: map[string]string{
				"BLUEXFER_DEVICE_ID":      "env-node",
				"BLUEXFER_ROLES":          "receiver, sender",
				"BLUEXFER_RSSI_THRESHOLD": "-90",
				"BLUEXFER_SCAN_INTERVAL":  "250ms",
				"BLUEXFER_PERIPHERAL":     "false",
				"BLUEXFER_DIR":            "/tmp/bx-env",
			},
			check: func(t *testing.T, c Config) {
				if c.DeviceID != "env-node" || c.RSSIThreshold != -90 || c.ScanInterval != 250*time.Millisecond {
					t.Errorf("config = %+v", c)
				}
				if len(c.Roles) != 2 || c.Roles[0] != "receiver" {
					t.Errorf("Roles = %v", c.Roles)
				}
				if c.Peripheral || c.DataDir != "/tmp/bx-env" {
					t.Errorf("Peripheral/DataDir = %v/%q", c.Peripheral, c.DataDir)
				}
			},
		},
		{
			name:    "respects changed flags",
			envVars: map[string]string{"BLUEXFER_DEVICE_ID": "env-node", "BLUEXFER_MTU": "64"},
			changed: map[string]bool{"device-id": true},
			check: func(t *testing.T, c Config) {
				if c.DeviceID != "" || c.MTU != 64 {
					t.Errorf("DeviceID/MTU = %q/%d", c.DeviceID, c.MTU)
				}
			},
		},
		{
			name:    "invalid duration",
			envVars: map[string]string{"BLUEXFER_RECONNECT_MAX": "later"},
			wantErr: true,
		},
		{
			name:    "invalid int",
			envVars: map[string]string{"BLUEXFER_MAX_CONNECTIONS": "many"},
			wantErr: true,
		},
		{
			name:    "invalid float",
			envVars: map[string]string{"BLUEXFER_DISTANCE_M": "far"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg := DefaultConfig()
			err := ApplyEnvConfig(&cfg, tt.changed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyEnvConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("sentinel = \"#FILE\"\nmtu = 100\nmax_connections = 3\n"), 0644)
	t.Setenv("BLUEXFER_MTU", "120")
	t.Setenv("BLUEXFER_SENTINEL", "#ENV")

	// --sentinel was set on the command line.
	cfg := DefaultConfig()
	cfg.Sentinel = "#FLAG"
	changed := map[string]bool{"sentinel": true}

	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
		t.Fatal(err)
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		t.Fatal(err)
	}

	if cfg.Sentinel != "#FLAG" {
		t.Errorf("Sentinel = %q, want flag value", cfg.Sentinel)
	}
	if cfg.MTU != 120 {
		t.Errorf("MTU = %d, want env value 120", cfg.MTU)
	}
	if cfg.MaxConnections != 3 {
		t.Errorf("MaxConnections = %d, want file value 3", cfg.MaxConnections)
	}
}
