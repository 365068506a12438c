package util

import (
	"os"
	"path/filepath"
)

// DataDirEnv overrides the default data directory.
const DataDirEnv = "BLUEXFER_DIR"

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv(DataDirEnv); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "bluexfer-data")
	}
	return filepath.Join(home, ".bluexfer-data")
}

// GetDeviceDir returns the per-device directory under dataDir (advertising
// data, connection journal).
func GetDeviceDir(dataDir, deviceUUID string) string {
	return filepath.Join(dataDir, deviceUUID)
}

// GetSocketDir returns the directory where Unix domain sockets are stored,
// creating it if needed.
func GetSocketDir(dataDir string) (string, error) {
	socketDir := filepath.Join(dataDir, "sockets")
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return "", err
	}
	return socketDir, nil
}

// ShortHash returns the first 8 characters of an identifier for log prefixes.
func ShortHash(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
