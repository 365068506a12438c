package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/bluexfer/config"
	"github.com/user/bluexfer/coordinator"
	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/logger"
)

func newDemoCmd() *cobra.Command {
	base := config.DefaultConfig()
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run two nodes in one process and exchange the payload both ways",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(base)
			return runDemo(cmd.Context(), base, timeout)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&base.PayloadFile, "payload", base.PayloadFile, "file each node sends (default: mock presentation)")
	fs.StringVar(&base.PayloadEncoding, "payload-encoding", base.PayloadEncoding, "raw or proto")
	fs.IntVar(&base.MTU, "mtu", base.MTU, "proposed ATT MTU")
	fs.IntVar(&base.TxQueueDepth, "tx-queue-depth", base.TxQueueDepth, "outstanding chunks per link")
	fs.DurationVar(&base.ConnectionInterval, "connection-interval", base.ConnectionInterval, "pacing between chunks")
	fs.StringVar(&base.EventsAddr, "events-addr", "", "serve the first node's event feed on this address")
	fs.StringVar(&base.LogLevel, "log-level", base.LogLevel, "trace, debug, info, warn or error")
	fs.BoolVar(&base.LogJSON, "log-json", base.LogJSON, "write logs as JSON lines")
	fs.DurationVar(&timeout, "timeout", 15*time.Second, "give up after this long")
	return cmd
}

// demoTally counts deliveries per receiving device.
type demoTally struct {
	mu   sync.Mutex
	got  map[string]int
	done chan struct{}
	want int
}

func (t *demoTally) observer(device string) coordinator.Observer {
	return coordinator.ObserverFuncs{
		MessageReceived: func(link.Identity, []byte) {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.got[device]++
			if len(t.got) == t.want && t.done != nil {
				close(t.done)
				t.done = nil
			}
		},
	}
}

func runDemo(parent context.Context, base config.Config, timeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Short path: Unix socket names are limited to about 100 bytes.
	dir, err := os.MkdirTemp("", "bx")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	done := make(chan struct{})
	tally := &demoTally{got: make(map[string]int), done: done, want: 2}

	var devices []*device
	defer func() {
		for _, d := range devices {
			d.close()
		}
	}()
	for i, name := range []string{"alpha", "beta"} {
		cfg := base
		cfg.DeviceID = uuid.NewString()
		cfg.DeviceName = name
		cfg.DataDir = dir
		cfg.ScanInterval = 50 * time.Millisecond
		cfg.Journal = false
		if i > 0 {
			cfg.EventsAddr = ""
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		d, err := startDevice(ctx, cfg, tally.observer(name))
		if err != nil {
			return err
		}
		devices = append(devices, d)
	}

	select {
	case <-done:
	case <-time.After(timeout):
		return fmt.Errorf("demo: messages not exchanged within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, d := range devices {
		for _, ep := range d.node.Endpoints() {
			logger.Info(d.prefix, "📊 %s %s as %s: sent %d msgs / %d chunks / %d bytes, received %d msgs / %d bytes, chunk %d",
				d.cfg.DeviceName, ep.ID.Short(), ep.Direction, ep.MessagesSent, ep.ChunksSent, ep.BytesSent,
				ep.MessagesReceived, ep.BytesReceived, ep.MaxChunkSize)
		}
	}
	fmt.Println("✅ both devices received the payload")
	return nil
}
