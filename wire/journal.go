package wire

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/logger"
	"github.com/user/bluexfer/util"
)

// JournalFile is the per-device connection event log.
const JournalFile = "connection_events.jsonl"

// ConnectionEvent is one line of the journal.
type ConnectionEvent struct {
	Timestamp  int64             `json:"timestamp"` // nanoseconds since epoch
	Event      string            `json:"event"`
	Role       ConnectionRole    `json:"role,omitempty"`
	RemoteUUID string            `json:"remote_uuid,omitempty"`
	Path       string            `json:"path,omitempty"`
	Error      string            `json:"error,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Journal appends connection events as JSON lines. A disabled journal
// drops everything.
type Journal struct {
	prefix  string
	logPath string
	mutex   sync.Mutex
	enabled bool
}

// NewJournal creates the journal for a device.
func NewJournal(dataDir, deviceID string, enabled bool) *Journal {
	if !enabled {
		return &Journal{}
	}
	return &Journal{
		prefix:  util.ShortHash(deviceID) + " Journal",
		logPath: filepath.Join(util.GetDeviceDir(dataDir, deviceID), JournalFile),
		enabled: true,
	}
}

// Path returns the journal file path, or "" when disabled.
func (j *Journal) Path() string {
	return j.logPath
}

// Log writes one event.
func (j *Journal) Log(event ConnectionEvent) {
	if !j.enabled {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixNano()
	}

	data, err := json.Marshal(event)
	if err != nil {
		logger.Warn(j.prefix, "Failed to marshal connection event: %v", err)
		return
	}

	j.mutex.Lock()
	defer j.mutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.logPath), 0755); err != nil {
		logger.Warn(j.prefix, "Failed to create journal directory: %v", err)
		return
	}
	f, err := os.OpenFile(j.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Warn(j.prefix, "Failed to open connection event log: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		logger.Warn(j.prefix, "Failed to write connection event: %v", err)
	}
}

func (j *Journal) SocketCreated(path string) {
	j.Log(ConnectionEvent{Event: "socket_created", Role: RolePeripheral, Path: path})
}

func (j *Journal) SocketClosed(path string) {
	j.Log(ConnectionEvent{Event: "socket_closed", Role: RolePeripheral, Path: path})
}

func (j *Journal) ConnectionAccepted(remote link.Identity) {
	j.Log(ConnectionEvent{Event: "connection_accepted", Role: RolePeripheral, RemoteUUID: string(remote)})
}

func (j *Journal) ConnectionEstablished(role ConnectionRole, remote link.Identity, path string) {
	j.Log(ConnectionEvent{Event: "connection_established", Role: role, RemoteUUID: string(remote), Path: path})
}

func (j *Journal) ConnectFailed(remote link.Identity, err error) {
	j.Log(ConnectionEvent{Event: "connect_failed", Role: RoleCentral, RemoteUUID: string(remote), Error: errString(err)})
}

func (j *Journal) MTUNegotiated(role ConnectionRole, remote link.Identity, mtu int) {
	j.Log(ConnectionEvent{
		Event:      "mtu_negotiated",
		Role:       role,
		RemoteUUID: string(remote),
		Details:    map[string]string{"mtu": fmt.Sprintf("%d", mtu)},
	})
}

func (j *Journal) Subscribed(role ConnectionRole, remote link.Identity, handle uint16, enabled bool) {
	event := "subscribed"
	if !enabled {
		event = "unsubscribed"
	}
	j.Log(ConnectionEvent{
		Event:      event,
		Role:       role,
		RemoteUUID: string(remote),
		Details:    map[string]string{"handle": fmt.Sprintf("0x%04X", handle)},
	})
}

func (j *Journal) ConnectionClosed(role ConnectionRole, remote link.Identity, err error) {
	j.Log(ConnectionEvent{Event: "connection_closed", Role: role, RemoteUUID: string(remote), Error: errString(err)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
