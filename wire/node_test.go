package wire_test

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/user/bluexfer/coordinator"
	"github.com/user/bluexfer/lifecycle"
	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/wire"
	"github.com/user/bluexfer/wire/gatt"
)

type inbox struct {
	mu   sync.Mutex
	msgs map[link.Identity][][]byte
}

func (b *inbox) add(id link.Identity, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgs == nil {
		b.msgs = make(map[link.Identity][][]byte)
	}
	b.msgs[id] = append(b.msgs[id], msg)
}

func (b *inbox) from(id link.Identity) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.msgs[id]...)
}

type device struct {
	radio *wire.Wire
	node  *coordinator.Node
	inbox *inbox
}

func startNode(t *testing.T, dir, id string) *device {
	t.Helper()
	cfg := wire.DefaultConfig(id)
	cfg.DataDir = dir
	cfg.Simulation = wire.PerfectSimulationConfig()
	cfg.MTU = 23
	cfg.TxQueueDepth = 1
	cfg.ConnectionInterval = time.Millisecond
	cfg.ScanInterval = 10 * time.Millisecond

	radio, err := wire.New(cfg)
	if err != nil {
		t.Fatalf("wire.New: %v", err)
	}

	opts := coordinator.DefaultOptions(gatt.DefaultServiceUUID)
	opts.DeviceID = id
	opts.ReconnectInitial = 10 * time.Millisecond
	opts.ReconnectMax = 50 * time.Millisecond

	d := &device{radio: radio, inbox: &inbox{}}
	d.node = coordinator.NewNode(radio, opts, coordinator.ObserverFuncs{
		MessageReceived: d.inbox.add,
	})
	radio.SetEvents(d.node)

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.node.Start(ctx); err != nil {
		t.Fatalf("node start: %v", err)
	}
	if err := radio.Start(); err != nil {
		t.Fatalf("radio start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.node.Close()
		radio.Stop()
	})
	return d
}

func waitReady(t *testing.T, d *device, peer link.Identity) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := d.node.Endpoint(peer); ok && info.State == lifecycle.StateReady {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never became ready", peer)
}

func TestTwoNodesExchangeMessages(t *testing.T) {
	wire.SkipRace(t)
	dir, err := os.MkdirTemp("", "bx")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	a := startNode(t, dir, "node-a")
	b := startNode(t, dir, "node-b")

	// node-a has the lower identity and dials.
	waitReady(t, a, "node-b")
	waitReady(t, b, "node-a")
	if info, _ := a.node.Endpoint("node-b"); info.Direction != coordinator.DirectionCentral {
		t.Errorf("node-a direction = %s, want central", info.Direction)
	}
	if info, _ := b.node.Endpoint("node-a"); info.MaxChunkSize != 20 {
		t.Errorf("chunk size = %d, want 20", info.MaxChunkSize)
	}

	ctx := context.Background()
	toB := bytes.Repeat([]byte("0123456789"), 25)
	toA := bytes.Repeat([]byte("abcdefghij"), 17)
	if err := a.node.SendMessage(ctx, "node-b", toB); err != nil {
		t.Fatalf("send a->b: %v", err)
	}
	if err := b.node.SendMessage(ctx, "node-a", toA); err != nil {
		t.Fatalf("send b->a: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(b.inbox.from("node-a")) > 0 && len(a.inbox.from("node-b")) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := b.inbox.from("node-a"); len(got) != 1 || !bytes.Equal(got[0], toB) {
		t.Errorf("node-b received %q", got)
	}
	if got := a.inbox.from("node-b"); len(got) != 1 || !bytes.Equal(got[0], toA) {
		t.Errorf("node-a received %q", got)
	}
}
