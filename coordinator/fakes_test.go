package coordinator

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/user/bluexfer/lifecycle"
	"github.com/user/bluexfer/link"
)

var testService = uuid.MustParse("E20A39F4-73F5-4BC4-A12F-17D1AD07A961")

// fakeRadio records every command the node issues.
type fakeRadio struct {
	mu         sync.Mutex
	calls      []string
	connectErr error
}

func (r *fakeRadio) record(format string, args ...interface{}) {
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *fakeRadio) StartScan(service uuid.UUID) error {
	r.record("scan")
	return nil
}

func (r *fakeRadio) StopScan() { r.record("stopscan") }

func (r *fakeRadio) Connect(id link.Identity) error {
	r.record("connect:%s", id)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectErr
}

func (r *fakeRadio) DiscoverServices(id link.Identity) error {
	r.record("services:%s", id)
	return nil
}

func (r *fakeRadio) DiscoverCharacteristics(id link.Identity) error {
	r.record("chars:%s", id)
	return nil
}

func (r *fakeRadio) Subscribe(id link.Identity) error {
	r.record("subscribe:%s", id)
	return nil
}

func (r *fakeRadio) Cancel(id link.Identity) { r.record("cancel:%s", id) }

func (r *fakeRadio) count(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == call {
			n++
		}
	}
	return n
}

// fakeLink accepts up to budget frames (negative = unlimited).
type fakeLink struct {
	mu     sync.Mutex
	max    int
	budget int
	frames [][]byte
}

func newFakeLink(max int) *fakeLink {
	return &fakeLink{max: max, budget: -1}
}

func (l *fakeLink) MaxChunkSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max
}

func (l *fakeLink) TrySend(chunk []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.budget == 0 {
		return false
	}
	if l.budget > 0 {
		l.budget--
	}
	l.frames = append(l.frames, append([]byte(nil), chunk...))
	return true
}

func (l *fakeLink) setBudget(n int) {
	l.mu.Lock()
	l.budget = n
	l.mu.Unlock()
}

func (l *fakeLink) sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.frames...)
}

// recorder collects observer callbacks.
type recorder struct {
	mu        sync.Mutex
	changes   []StateChange
	messages  map[link.Identity][][]byte
	completes []int
	found     []link.Identity
}

func newRecorder() *recorder {
	return &recorder{messages: make(map[link.Identity][][]byte)}
}

func (r *recorder) OnLifecycleStateChanged(c StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) OnMessageReceived(id link.Identity, msg []byte) {
	r.mu.Lock()
	r.messages[id] = append(r.messages[id], msg)
	r.mu.Unlock()
}

func (r *recorder) OnSendComplete(id link.Identity, size int) {
	r.mu.Lock()
	r.completes = append(r.completes, size)
	r.mu.Unlock()
}

func (r *recorder) OnCandidateDiscovered(id link.Identity, rssi int, adv link.Advertisement) {
	r.mu.Lock()
	r.found = append(r.found, id)
	r.mu.Unlock()
}

func (r *recorder) received(id link.Identity) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.messages[id]...)
}

func (r *recorder) completed() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.completes...)
}

// transitions returns "from>to" for every change on id.
func (r *recorder) transitions(id link.Identity) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.changes {
		if c.Endpoint == id {
			out = append(out, c.From.String()+">"+c.To.String())
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func advertised() link.Advertisement {
	return link.Advertisement{
		LocalName:     "peer",
		ServiceUUIDs:  []uuid.UUID{testService},
		IsConnectable: true,
	}
}

func testOptions() Options {
	opts := DefaultOptions(testService)
	opts.DeviceID = "00000000-self"
	opts.ReconnectInitial = 0
	return opts
}

type harness struct {
	t     *testing.T
	radio *fakeRadio
	node  *Node
	rec   *recorder
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{t: t, radio: &fakeRadio{}, rec: newRecorder()}
	h.node = NewNode(h.radio, opts, h.rec)
	h.node.PowerStateChanged(true)
	if err := h.node.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { h.node.Close() })
	return h
}

func (h *harness) state(id link.Identity) lifecycle.State {
	info, ok := h.node.Endpoint(id)
	if !ok {
		return lifecycle.StateIdle
	}
	return info.State
}

func (h *harness) waitCall(call string) {
	h.t.Helper()
	waitFor(h.t, call, func() bool { return h.radio.count(call) > 0 })
}

func (h *harness) waitState(id link.Identity, s lifecycle.State) {
	h.t.Helper()
	waitFor(h.t, fmt.Sprintf("%s in %s", id, s), func() bool {
		info, ok := h.node.Endpoint(id)
		return ok && info.State == s
	})
}

func (h *harness) waitGone(id link.Identity) {
	h.t.Helper()
	waitFor(h.t, fmt.Sprintf("%s retired", id), func() bool {
		_, ok := h.node.Endpoint(id)
		return !ok
	})
}

// readyCentral walks id through the full central discovery chain.
func (h *harness) readyCentral(id link.Identity, l link.Link) {
	h.t.Helper()
	h.node.CandidateDiscovered(id, -50, advertised())
	h.waitCall("connect:" + string(id))
	h.node.Connected(id)
	h.waitCall("services:" + string(id))
	h.node.ServicesFound(id)
	h.waitCall("chars:" + string(id))
	h.node.CharacteristicsFound(id)
	h.waitCall("subscribe:" + string(id))
	h.node.SubscriptionConfirmed(id, l)
	h.waitState(id, lifecycle.StateReady)
}

func joinFrames(frames [][]byte) string {
	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = string(f)
	}
	return strings.Join(parts, "|")
}
