package routing

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-router/internal/knx"
	"github.com/nerrad567/gray-logic-router/internal/knxnetip"
)

// fakeTimer is a Timer whose time only moves when the test says so.
type fakeTimer struct {
	mu        sync.Mutex
	active    bool
	repeating bool
	interval  time.Duration
	remaining time.Duration
	arms      []time.Duration
	ch        chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{ch: make(chan time.Time, 1)}
}

func (t *fakeTimer) ArmOnce(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active, t.repeating, t.interval, t.remaining = true, false, d, d
	t.arms = append(t.arms, d)
}

func (t *fakeTimer) ArmRepeating(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active, t.repeating, t.interval, t.remaining = true, true, d, d
	t.arms = append(t.arms, d)
}

func (t *fakeTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active, t.remaining = false, 0
}

func (t *fakeTimer) Fired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.repeating {
		t.remaining = t.interval
		return
	}
	t.active, t.remaining = false, 0
}

func (t *fakeTimer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *fakeTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *fakeTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return nil
	}
	return t.ch
}

// elapse advances the current arming by d without firing it.
func (t *fakeTimer) elapse(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remaining -= d
	if t.remaining < 0 {
		t.remaining = 0
	}
}

func (t *fakeTimer) lastArm() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.arms) == 0 {
		return -1
	}
	return t.arms[len(t.arms)-1]
}

// fixedRand returns v clamped into [0, n).
type fixedRand struct{ v int64 }

func (r fixedRand) Int63n(n int64) int64 {
	if r.v >= n {
		return n - 1
	}
	return r.v
}

// fakeTransport records sends and serves queued datagrams.
type fakeTransport struct {
	mu       sync.Mutex
	bindErr  error
	sendFail bool
	bound    bool
	closed   bool
	ifi      string
	group    net.IP
	port     int
	local    *net.UDPAddr
	queue    []Datagram
	sent     [][]byte
	readable chan struct{}
	errs     chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		readable: make(chan struct{}, 1),
		errs:     make(chan error, 1),
	}
}

func (f *fakeTransport) Bind(ifi *net.Interface, localIP, group net.IP, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bindErr != nil {
		return f.bindErr
	}
	f.bound = true
	f.ifi = ifi.Name
	f.group = group
	f.port = port
	f.local = &net.UDPAddr{IP: localIP, Port: port}
	return nil
}

func (f *fakeTransport) LocalAddr() *net.UDPAddr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeTransport) Readable() <-chan struct{} { return f.readable }

func (f *fakeTransport) Errors() <-chan error { return f.errs }

func (f *fakeTransport) Next() (Datagram, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return Datagram{}, false
	}
	dg := f.queue[0]
	f.queue = f.queue[1:]
	return dg, true
}

func (f *fakeTransport) Send(data []byte, _ net.IP, _ int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendFail {
		return false
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return true
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) push(data []byte, src *net.UDPAddr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, Datagram{Data: data, Source: src})
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

// fakeInterfaces serves a loopback and one Ethernet interface.
type fakeInterfaces struct {
	ifaces []net.Interface
	addrs  map[string][]net.Addr
	err    error
}

func newFakeInterfaces() *fakeInterfaces {
	return &fakeInterfaces{
		ifaces: []net.Interface{
			{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagRunning | net.FlagLoopback | net.FlagMulticast},
			{Index: 2, Name: "eth0", Flags: net.FlagUp | net.FlagRunning | net.FlagMulticast | net.FlagBroadcast},
		},
		addrs: map[string][]net.Addr{
			"lo":   {&net.IPNet{IP: net.IPv4(127, 0, 0, 1), Mask: net.CIDRMask(8, 32)}},
			"eth0": {&net.IPNet{IP: net.IPv4(192, 168, 1, 10), Mask: net.CIDRMask(24, 32)}},
		},
	}
}

func (f *fakeInterfaces) Interfaces() ([]net.Interface, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]net.Interface(nil), f.ifaces...), nil
}

func (f *fakeInterfaces) Addrs(ifi *net.Interface) ([]net.Addr, error) {
	return f.addrs[ifi.Name], nil
}

// eventRecorder collects events delivered to a subscriber.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{notify: make(chan Event, 256)}
}

func (r *eventRecorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.notify <- ev:
	default:
	}
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) count(name string) int {
	n := 0
	for _, ev := range r.all() {
		if ev.EventName() == name {
			n++
		}
	}
	return n
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// waitFor blocks until an event with the given name arrives.
func (r *eventRecorder) waitFor(t *testing.T, name string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.notify:
			if ev.EventName() == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", name)
			return nil
		}
	}
}

// testRig bundles an engine with its fakes.
type testRig struct {
	engine     *Engine
	timer      *fakeTimer
	ifaces     *fakeInterfaces
	transports []*fakeTransport
	events     *eventRecorder
	nextErr    error
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		timer:  newFakeTimer(),
		ifaces: newFakeInterfaces(),
		events: newEventRecorder(),
	}

	e, err := NewEngine(Options{
		NewTransport: func() Transport {
			ft := newFakeTransport()
			ft.bindErr = rig.nextErr
			rig.transports = append(rig.transports, ft)
			return ft
		},
		Interfaces: rig.ifaces,
		Timer:      rig.timer,
		Random:     fixedRand{v: 0},
	})
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	e.Subscribe(rig.events.handle)
	rig.engine = e
	t.Cleanup(e.Stop)
	return rig
}

func (r *testRig) transport() *fakeTransport {
	return r.transports[len(r.transports)-1]
}

func (r *testRig) start(t *testing.T) *fakeTransport {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := r.engine.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	r.events.reset()
	return r.transport()
}

// peer is a remote router address.
var peer = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 3671}

func indicationBytes(t *testing.T, dst knx.Address, hops uint8) []byte {
	t.Helper()
	cemi := knxnetip.LData{
		MessageCode: knxnetip.MessageCodeLDataInd,
		Control1:    knxnetip.DefaultControl1,
		HopCount:    hops,
		Source:      knx.IndividualAddress{Area: 1, Line: 1, Device: 5},
		Destination: dst,
		TPDU:        []byte{0x00, 0x81},
	}
	data, err := knxnetip.NewRoutingIndication(cemi).Encode()
	if err != nil {
		t.Fatalf("encoding indication: %v", err)
	}
	return data
}

func groupDst(main, middle, sub uint8) knx.Address {
	return knx.NewGroup(knx.GroupAddress{Main: main, Middle: middle, Sub: sub})
}

func individualDst(area, line, device uint8) knx.Address {
	return knx.NewIndividual(knx.IndividualAddress{Area: area, Line: line, Device: device})
}

func mustKind(t *testing.T, err error, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
}

func encodeFrame(t *testing.T, f knxnetip.Frame) []byte {
	t.Helper()
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("encoding %v: %v", f.ServiceType(), err)
	}
	return data
}
