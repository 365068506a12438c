package coordinator

import (
	"time"

	"github.com/user/bluexfer/lifecycle"
	"github.com/user/bluexfer/link"
)

// EndpointInfo is a point-in-time view of one tracked peer.
type EndpointInfo struct {
	ID        link.Identity   `json:"id"`
	Direction Direction       `json:"direction"`
	State     lifecycle.State `json:"state"`

	MaxChunkSize int `json:"max_chunk_size"`

	Sending    bool `json:"sending"`
	SendOffset int  `json:"send_offset"`
	SendTotal  int  `json:"send_total"`

	ReceiveBuffered int `json:"receive_buffered"`

	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	ChunksSent       int64 `json:"chunks_sent"`
	BytesSent        int64 `json:"bytes_sent"`
	BytesReceived    int64 `json:"bytes_received"`

	ConnectedAt time.Time `json:"connected_at,omitempty"`
}
