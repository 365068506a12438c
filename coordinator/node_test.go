package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/user/bluexfer/lifecycle"
	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/transfer"
)

func TestCentralReachesReadyAndSends(t *testing.T) {
	h := newHarness(t, testOptions())
	id := link.Identity("11111111-peer")
	l := newFakeLink(10)
	h.readyCentral(id, l)

	payload := bytes.Repeat([]byte("x"), 37)
	if err := h.node.SendMessage(context.Background(), id, payload); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitFor(t, "send complete", func() bool { return len(h.rec.completed()) == 1 })

	frames := l.sent()
	if len(frames) != 5 {
		t.Fatalf("sent %d frames, want 5: %s", len(frames), joinFrames(frames))
	}
	for i, n := range []int{10, 10, 10, 7} {
		if len(frames[i]) != n {
			t.Errorf("frame %d = %d bytes, want %d", i, len(frames[i]), n)
		}
	}
	if !transfer.DefaultSentinel.Matches(frames[4]) {
		t.Errorf("last frame %q is not the sentinel", frames[4])
	}
	if got := h.rec.completed()[0]; got != 37 {
		t.Errorf("OnSendComplete size = %d, want 37", got)
	}

	want := []string{
		"idle>discovering",
		"discovering>connecting",
		"connecting>discoveringServices",
		"discoveringServices>discoveringCharacteristics",
		"discoveringCharacteristics>subscribing",
		"subscribing>ready",
	}
	waitFor(t, "state changes", func() bool { return len(h.rec.transitions(id)) >= len(want) })
	got := h.rec.transitions(id)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}

	info, _ := h.node.Endpoint(id)
	if info.MessagesSent != 1 || info.BytesSent != 37 || info.Direction != DirectionCentral {
		t.Errorf("info = %+v", info)
	}
}

func TestReceiveReassemblesMessages(t *testing.T) {
	h := newHarness(t, testOptions())
	id := link.Identity("11111111-peer")
	h.readyCentral(id, newFakeLink(20))

	for _, f := range []string{"hello ", "world", "/EOM", "again", "/EOM"} {
		h.node.BytesReceived(id, []byte(f))
	}
	waitFor(t, "two messages", func() bool { return len(h.rec.received(id)) == 2 })

	msgs := h.rec.received(id)
	if string(msgs[0]) != "hello world" || string(msgs[1]) != "again" {
		t.Errorf("messages = %q", msgs)
	}
}

func TestBackpressureResumesOnCapacity(t *testing.T) {
	h := newHarness(t, testOptions())
	id := link.Identity("11111111-peer")
	l := newFakeLink(4)
	h.readyCentral(id, l)

	l.setBudget(2)
	if err := h.node.SendMessage(context.Background(), id, []byte("0123456789")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitFor(t, "two frames", func() bool { return len(l.sent()) == 2 })

	err := h.node.SendMessage(context.Background(), id, []byte("second"))
	if !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("second SendMessage = %v, want ErrAlreadyInProgress", err)
	}

	l.setBudget(-1)
	for i := 0; i < 3; i++ {
		h.node.CapacityAvailable(id)
	}
	waitFor(t, "send complete", func() bool { return len(h.rec.completed()) == 1 })
	time.Sleep(20 * time.Millisecond)

	if got := joinFrames(l.sent()); got != "0123|4567|89|/EOM" {
		t.Errorf("frames = %s", got)
	}

	if err := h.node.SendMessage(context.Background(), id, []byte("next")); err != nil {
		t.Errorf("SendMessage after completion: %v", err)
	}
}

func TestSendErrors(t *testing.T) {
	h := newHarness(t, testOptions())
	ctx := context.Background()

	if err := h.node.SendMessage(ctx, "nobody", []byte("x")); !errors.Is(err, ErrUnknownEndpoint) {
		t.Errorf("unknown endpoint = %v", err)
	}

	id := link.Identity("11111111-peer")
	h.node.CandidateDiscovered(id, -50, advertised())
	h.waitState(id, lifecycle.StateConnecting)
	if err := h.node.SendMessage(ctx, id, []byte("x")); !errors.Is(err, ErrNotReady) {
		t.Errorf("send while connecting = %v, want ErrNotReady", err)
	}
}

func TestReceiverOnlyRejectsSend(t *testing.T) {
	opts := testOptions()
	opts.Roles = RolesOf(RoleReceiver)
	h := newHarness(t, opts)
	id := link.Identity("11111111-peer")
	h.readyCentral(id, newFakeLink(20))

	if err := h.node.SendMessage(context.Background(), id, []byte("x")); !errors.Is(err, ErrRoleDisabled) {
		t.Errorf("SendMessage = %v, want ErrRoleDisabled", err)
	}
}

func TestSenderOnlyIgnoresInbound(t *testing.T) {
	opts := testOptions()
	opts.Roles = RolesOf(RoleSender)
	h := newHarness(t, opts)
	id := link.Identity("11111111-peer")
	h.readyCentral(id, newFakeLink(20))

	h.node.BytesReceived(id, []byte("data"))
	h.node.BytesReceived(id, []byte("/EOM"))
	time.Sleep(30 * time.Millisecond)
	if got := h.rec.received(id); len(got) != 0 {
		t.Errorf("sender-only node delivered %q", got)
	}
}

func TestDisconnectDiscardsInFlightState(t *testing.T) {
	h := newHarness(t, testOptions())
	id := link.Identity("11111111-peer")
	l := newFakeLink(4)
	h.readyCentral(id, l)

	l.setBudget(1)
	h.node.SendMessage(context.Background(), id, []byte("abcdefgh"))
	h.node.BytesReceived(id, []byte("partial"))
	waitFor(t, "first frame", func() bool { return len(l.sent()) == 1 })

	h.node.Disconnected(id, errors.New("supervision timeout"))
	h.waitGone(id)

	// A late capacity event for the torn-down endpoint must not send anything.
	l.setBudget(-1)
	h.node.CapacityAvailable(id)
	h.node.BytesReceived(id, []byte("/EOM"))
	time.Sleep(30 * time.Millisecond)

	if n := len(l.sent()); n != 1 {
		t.Errorf("link saw %d frames after teardown, want 1", n)
	}
	if got := h.rec.received(id); len(got) != 0 {
		t.Errorf("partial message delivered: %q", got)
	}
	if n := h.radio.count("cancel:" + string(id)); n != 1 {
		t.Errorf("cancel called %d times, want 1", n)
	}
	waitFor(t, "rescan", func() bool { return h.radio.count("scan") >= 1 && h.node.Scanning() })

	waitFor(t, "idle transition", func() bool {
		got := h.rec.transitions(id)
		return len(got) > 0 && got[len(got)-1] == "disconnecting>idle"
	})
	got := h.rec.transitions(id)
	tail := got[len(got)-2:]
	if tail[0] != "ready>disconnecting" || tail[1] != "disconnecting>idle" {
		t.Errorf("teardown transitions = %v", tail)
	}
}

func TestFailureAtEachStageCleansUpOnce(t *testing.T) {
	type stage struct {
		name    string
		advance func(h *harness, id link.Identity)
		fail    func(n *Node, id link.Identity)
	}
	cause := errors.New("boom")
	stages := []stage{
		{
			name:    "connect",
			advance: func(h *harness, id link.Identity) {},
			fail:    func(n *Node, id link.Identity) { n.ConnectFailed(id, cause) },
		},
		{
			name: "services",
			advance: func(h *harness, id link.Identity) {
				h.node.Connected(id)
				h.waitCall("services:" + string(id))
			},
			fail: func(n *Node, id link.Identity) { n.ServiceDiscoveryFailed(id, cause) },
		},
		{
			name: "characteristics",
			advance: func(h *harness, id link.Identity) {
				h.node.Connected(id)
				h.node.ServicesFound(id)
				h.waitCall("chars:" + string(id))
			},
			fail: func(n *Node, id link.Identity) { n.CharacteristicDiscoveryFailed(id, cause) },
		},
		{
			name: "subscribing",
			advance: func(h *harness, id link.Identity) {
				h.node.Connected(id)
				h.node.ServicesFound(id)
				h.node.CharacteristicsFound(id)
				h.waitCall("subscribe:" + string(id))
			},
			fail: func(n *Node, id link.Identity) { n.Disconnected(id, cause) },
		},
	}

	for _, st := range stages {
		t.Run(st.name, func(t *testing.T) {
			h := newHarness(t, testOptions())
			id := link.Identity("22222222-" + st.name)
			h.node.CandidateDiscovered(id, -50, advertised())
			h.waitCall("connect:" + string(id))
			st.advance(h, id)

			st.fail(h.node, id)
			st.fail(h.node, id)
			h.waitGone(id)
			time.Sleep(20 * time.Millisecond)

			if n := h.radio.count("cancel:" + string(id)); n != 1 {
				t.Errorf("cancel called %d times, want 1", n)
			}
			cleanups := 0
			for _, tr := range h.rec.transitions(id) {
				if tr == "disconnecting>idle" {
					cleanups++
				}
			}
			if cleanups != 1 {
				t.Errorf("reached idle via disconnecting %d times, want 1", cleanups)
			}
		})
	}
}

func TestConnectRejectedSynchronously(t *testing.T) {
	h := newHarness(t, testOptions())
	h.radio.connectErr = errors.New("radio busy")
	id := link.Identity("33333333-peer")

	h.node.CandidateDiscovered(id, -50, advertised())
	h.waitGone(id)
	waitFor(t, "cleanup", func() bool { return h.radio.count("cancel:"+string(id)) == 1 })
}

func TestConnectionCap(t *testing.T) {
	opts := testOptions()
	opts.MaxConnections = 2
	h := newHarness(t, opts)

	a := link.Identity("aaaaaaaa-peer")
	b := link.Identity("bbbbbbbb-peer")
	c := link.Identity("cccccccc-peer")
	h.readyCentral(a, newFakeLink(20))
	h.readyCentral(b, newFakeLink(20))

	waitFor(t, "scan paused", func() bool { return !h.node.Scanning() })

	// A third discovery result is ignored at the cap.
	h.node.CandidateDiscovered(c, -40, advertised())
	time.Sleep(20 * time.Millisecond)
	if h.radio.count("connect:"+string(c)) != 0 {
		t.Fatal("dialed a third peer at the cap")
	}

	// A third connection is refused rather than adopted.
	h.node.Connected(c)
	waitFor(t, "third cancelled", func() bool { return h.radio.count("cancel:"+string(c)) == 1 })
	if _, ok := h.node.Endpoint(c); ok {
		t.Fatal("third endpoint created")
	}
	if n := len(h.node.Endpoints()); n != 2 {
		t.Fatalf("%d endpoints, want 2", n)
	}

	// Inbound connections respect the same cap.
	h.node.Accepted(c)
	waitFor(t, "inbound refused", func() bool { return h.radio.count("cancel:"+string(c)) == 2 })

	// Dropping one peer re-arms discovery and lets the third in.
	h.node.Disconnected(a, errors.New("gone"))
	h.waitGone(a)
	waitFor(t, "rescan", h.node.Scanning)

	h.node.CandidateDiscovered(c, -40, advertised())
	h.waitCall("connect:" + string(c))
}

func TestDiscoveryFilterAndDedupe(t *testing.T) {
	opts := testOptions()
	opts.AutoConnect = false
	h := newHarness(t, opts)

	id := link.Identity("44444444-peer")
	h.node.CandidateDiscovered(id, -95, advertised())
	h.node.CandidateDiscovered("55555555-other", -40, link.Advertisement{})
	for i := 0; i < 5; i++ {
		h.node.CandidateDiscovered(id, -60, advertised())
	}
	time.Sleep(20 * time.Millisecond)

	h.rec.mu.Lock()
	found := append([]link.Identity(nil), h.rec.found...)
	h.rec.mu.Unlock()
	if len(found) != 1 || found[0] != id {
		t.Fatalf("discovered = %v, want just %s once", found, id)
	}
	if h.radio.count("connect:"+string(id)) != 0 {
		t.Fatal("auto-connected with AutoConnect off")
	}

	if err := h.node.Connect(id); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitCall("connect:" + string(id))
	if err := h.node.Connect(id); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v", err)
	}
	if err := h.node.Connect("never-seen"); !errors.Is(err, ErrUnknownEndpoint) {
		t.Errorf("Connect unknown = %v", err)
	}
}

func TestDialTieBreak(t *testing.T) {
	opts := testOptions()
	opts.DeviceID = "88888888-self"
	h := newHarness(t, opts)

	adv := advertised()
	adv.CentralRole = true

	lower := link.Identity("11111111-peer")
	higher := link.Identity("99999999-peer")
	h.node.CandidateDiscovered(lower, -50, adv)
	h.node.CandidateDiscovered(higher, -50, adv)
	h.waitCall("connect:" + string(higher))
	time.Sleep(20 * time.Millisecond)
	if h.radio.count("connect:"+string(lower)) != 0 {
		t.Error("dialed a lower identity that dials us")
	}
}

func TestPeripheralAcceptPath(t *testing.T) {
	opts := testOptions()
	opts.Central = false
	h := newHarness(t, opts)

	id := link.Identity("66666666-central")
	h.node.Accepted(id)
	h.waitState(id, lifecycle.StateSubscribing)
	l := newFakeLink(20)
	h.node.SubscriptionConfirmed(id, l)
	h.waitState(id, lifecycle.StateReady)

	if err := h.node.SendMessage(context.Background(), id, []byte("from peripheral")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitFor(t, "notify", func() bool { return len(l.sent()) == 2 })
	if h.radio.count("scan") != 0 {
		t.Error("peripheral-only node scanned")
	}
	info, _ := h.node.Endpoint(id)
	if info.Direction != DirectionPeripheral {
		t.Errorf("direction = %s", info.Direction)
	}
}

func TestCentralOnlyRefusesInbound(t *testing.T) {
	opts := testOptions()
	opts.Peripheral = false
	h := newHarness(t, opts)
	h.node.Accepted("77777777-central")
	h.waitCall("cancel:77777777-central")
}

func TestGreetingOnReady(t *testing.T) {
	opts := testOptions()
	opts.Greeting = []byte(`{"name":"alice"}`)
	h := newHarness(t, opts)
	id := link.Identity("11111111-peer")
	l := newFakeLink(185)
	h.readyCentral(id, l)

	waitFor(t, "greeting", func() bool { return len(h.rec.completed()) == 1 })
	if got := joinFrames(l.sent()); got != `{"name":"alice"}|/EOM` {
		t.Errorf("frames = %s", got)
	}
}

func TestSetGreetingAppliesToLaterPeers(t *testing.T) {
	h := newHarness(t, testOptions())
	h.node.SetGreeting([]byte("v2"))

	l := newFakeLink(185)
	h.readyCentral("22222222-peer", l)
	waitFor(t, "greeting", func() bool { return len(h.rec.completed()) == 1 })
	if got := joinFrames(l.sent()); got != "v2|/EOM" {
		t.Errorf("frames = %s", got)
	}
}

func TestPowerOffInvalidatesEverything(t *testing.T) {
	h := newHarness(t, testOptions())
	a := link.Identity("aaaaaaaa-peer")
	b := link.Identity("bbbbbbbb-peer")
	h.readyCentral(a, newFakeLink(20))
	h.readyCentral(b, newFakeLink(20))

	h.node.PowerStateChanged(false)
	h.waitGone(a)
	h.waitGone(b)
	if h.node.Scanning() {
		t.Error("scanning while powered off")
	}

	waitFor(t, "teardown events", func() bool {
		return len(h.rec.transitions(a)) >= 8 && len(h.rec.transitions(b)) >= 8
	})
	h.rec.mu.Lock()
	var causes []error
	for _, c := range h.rec.changes {
		if c.To == lifecycle.StateDisconnecting {
			causes = append(causes, c.Cause)
		}
	}
	h.rec.mu.Unlock()
	for _, c := range causes {
		if !errors.Is(c, lifecycle.ErrTransportUnavailable) {
			t.Errorf("teardown cause = %v", c)
		}
	}

	h.node.PowerStateChanged(true)
	waitFor(t, "rescan after power on", h.node.Scanning)
}

func TestServicesInvalidatedDropsInFlight(t *testing.T) {
	h := newHarness(t, testOptions())
	id := link.Identity("11111111-peer")
	h.readyCentral(id, newFakeLink(20))

	h.node.BytesReceived(id, []byte("half"))
	h.node.ServicesInvalidated(id)
	h.waitState(id, lifecycle.StateDiscoveringServices)
	if h.radio.count("services:"+string(id)) != 2 {
		t.Errorf("services discovered %d times, want 2", h.radio.count("services:"+string(id)))
	}

	h.node.ServicesFound(id)
	h.node.CharacteristicsFound(id)
	h.node.SubscriptionConfirmed(id, newFakeLink(20))
	h.waitState(id, lifecycle.StateReady)
	h.node.BytesReceived(id, []byte("/EOM"))
	waitFor(t, "message", func() bool { return len(h.rec.received(id)) == 1 })
	if got := h.rec.received(id)[0]; len(got) != 0 {
		t.Errorf("pre-invalidation bytes leaked into message: %q", got)
	}
}

func TestMaxMessageBytesDropsOversized(t *testing.T) {
	opts := testOptions()
	opts.MaxMessageBytes = 8
	h := newHarness(t, opts)
	id := link.Identity("11111111-peer")
	h.readyCentral(id, newFakeLink(20))

	for _, f := range []string{"12345", "67890", "tail", "/EOM", "ok", "/EOM"} {
		h.node.BytesReceived(id, []byte(f))
	}
	waitFor(t, "message", func() bool { return len(h.rec.received(id)) == 1 })
	time.Sleep(20 * time.Millisecond)
	msgs := h.rec.received(id)
	if len(msgs) != 1 || string(msgs[0]) != "ok" {
		t.Errorf("messages = %q, want [ok]", msgs)
	}

	err := h.node.SendMessage(context.Background(), id, []byte("too long payload"))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized send = %v", err)
	}
}

func TestObserverCanReplyFromCallback(t *testing.T) {
	h := newHarness(t, testOptions())
	id := link.Identity("11111111-peer")
	l := newFakeLink(20)

	h.node.AddObserver(ObserverFuncs{
		MessageReceived: func(from link.Identity, msg []byte) {
			reply := fmt.Sprintf("echo:%s", msg)
			if err := h.node.SendMessage(context.Background(), from, []byte(reply)); err != nil {
				t.Errorf("reply: %v", err)
			}
		},
	})
	h.readyCentral(id, l)

	h.node.BytesReceived(id, []byte("ping"))
	h.node.BytesReceived(id, []byte("/EOM"))
	waitFor(t, "echo", func() bool { return len(l.sent()) == 2 })
	if got := joinFrames(l.sent()); got != "echo:ping|/EOM" {
		t.Errorf("frames = %s", got)
	}
}

func TestCloseFromObserverCallback(t *testing.T) {
	h := newHarness(t, testOptions())
	id := link.Identity("11111111-peer")

	closed := make(chan error, 1)
	h.node.AddObserver(ObserverFuncs{
		MessageReceived: func(link.Identity, []byte) {
			closed <- h.node.Close()
		},
	})
	h.readyCentral(id, newFakeLink(20))

	h.node.BytesReceived(id, []byte("bye"))
	h.node.BytesReceived(id, []byte("/EOM"))
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close from an observer callback did not return")
	}
	waitFor(t, "endpoints cleared", func() bool { return len(h.node.Endpoints()) == 0 })
	if err := h.node.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestCloseTearsDown(t *testing.T) {
	radio := &fakeRadio{}
	n := NewNode(radio, testOptions())
	n.PowerStateChanged(true)
	ctx, cancel := context.WithCancel(context.Background())
	if err := n.Start(ctx); err != nil {
		t.Fatal(err)
	}
	id := link.Identity("11111111-peer")
	n.CandidateDiscovered(id, -50, advertised())
	waitFor(t, "connect", func() bool { return radio.count("connect:"+string(id)) == 1 })

	cancel()
	waitFor(t, "cancel on close", func() bool { return radio.count("cancel:"+string(id)) == 1 })
	waitFor(t, "endpoints cleared", func() bool { return len(n.Endpoints()) == 0 })
	if err := n.SendMessage(context.Background(), id, []byte("x")); !errors.Is(err, ErrUnknownEndpoint) {
		t.Errorf("send after close = %v", err)
	}
	if err := n.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after close = %v", err)
	}
}

func TestRoles(t *testing.T) {
	rs, err := ParseRoles([]string{"sender", "Receiver"})
	if err != nil {
		t.Fatal(err)
	}
	if !rs.Has(RoleSender) || !rs.Has(RoleReceiver) || rs.String() != "sender+receiver" {
		t.Errorf("roles = %s", rs)
	}
	if _, err := ParseRole("relay"); err == nil {
		t.Error("ParseRole accepted unknown role")
	}
	if !Roles(0).Empty() {
		t.Error("zero Roles not empty")
	}
}
