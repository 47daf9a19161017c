package routing

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-router/internal/knx"
	"github.com/nerrad567/gray-logic-router/internal/knxnetip"
)

// Options configures a new Engine.
type Options struct {
	// NewTransport creates the socket for each Start. Required.
	NewTransport func() Transport

	// Interfaces lists candidate network interfaces. Defaults to the host's.
	Interfaces InterfaceProvider

	// Clock drives the busy timer and activity timestamps. Defaults to the
	// wall clock.
	Clock clock.Clock

	// Timer overrides the busy timer. Defaults to NewClockTimer(Clock).
	Timer Timer

	// Random provides RandomWait jitter. Defaults to a time-seeded source.
	Random RandomSource

	// Logger receives engine logs. Optional.
	Logger Logger

	// Port is the KNXnet/IP port. Defaults to 3671.
	Port int

	// BusyWaitTime is advertised in self-generated busy frames.
	// Defaults to DefaultBusyWaitTime.
	BusyWaitTime time.Duration
}

// Status is a point-in-time view of the engine for status reporting.
type Status struct {
	State             OperationalState
	RoutingMode       RoutingMode
	IndividualAddress string
	MulticastAddress  string
	Interface         string
	LocalAddress      string
	BusyStage         BusyStage
	BusyCounter       int
	FilterTableSize   int
	LastError         *Error
	Stats             Stats
}

// Engine is a KNXnet/IP multicast router.
type Engine struct {
	logger       Logger
	clock        clock.Clock
	newTransport func() Transport
	interfaces   InterfaceProvider
	port         int
	subs         *subscribers
	stats        engineStats

	mu        sync.Mutex
	state     OperationalState
	lastErr   *Error
	mode      RoutingMode
	table     FilterTable
	own       knx.Address
	ifaceName string
	group     net.IP
	busyWait  time.Duration
	busy      *BusyFlowController

	// Set while started; cleared by Stop.
	transport  Transport
	local      *net.UDPAddr
	boundIface string
	cancel     context.CancelFunc

	counters overloadCounters
	pending  []Event
}

// NewEngine creates an engine in StateNotInit with RouteAll mode, an empty
// filter table, no individual address and the default multicast group.
//
// Parameters:
//   - opts: Engine options; NewTransport is required
//
// Returns:
//   - *Engine: Engine ready to Start
//   - error: If options are invalid
func NewEngine(opts Options) (*Engine, error) {
	if opts.NewTransport == nil {
		return nil, errors.New("routing: NewTransport is required")
	}
	if opts.Interfaces == nil {
		opts.Interfaces = SystemInterfaces()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Timer == nil {
		opts.Timer = NewClockTimer(opts.Clock)
	}
	if opts.Random == nil {
		opts.Random = rand.New(rand.NewSource(opts.Clock.Now().UnixNano())) //nolint:gosec // jitter, not security
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Port == 0 {
		opts.Port = knxnetip.Port
	}
	if opts.BusyWaitTime <= 0 {
		opts.BusyWaitTime = DefaultBusyWaitTime
	}

	return &Engine{
		logger:       opts.Logger,
		clock:        opts.Clock,
		newTransport: opts.NewTransport,
		interfaces:   opts.Interfaces,
		port:         opts.Port,
		subs:         newSubscribers(opts.Logger),
		state:        StateNotInit,
		mode:         RoutingModeRouteAll,
		table:        NewFilterTable(),
		group:        knxnetip.DefaultMulticastGroup(),
		busyWait:     opts.BusyWaitTime,
		busy:         NewBusyFlowController(opts.Timer, opts.Random),
	}, nil
}

// Subscribe registers h for all engine events.
//
// Handlers run synchronously after the engine has released its lock, so
// they may call Engine methods. Events raised by one call are delivered in
// order; handlers may run concurrently when several goroutines use the
// engine.
//
// Returns:
//   - func(): Removes the handler; safe to call more than once
func (e *Engine) Subscribe(h EventHandler) func() {
	return e.subs.add(h)
}

// Start binds the transport and enters StateRouting.
//
// Starting a running engine is a no-op. On failure the engine enters
// StateFailure, emits ErrorOccurred and returns the same error.
func (e *Engine) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.unlockAndDispatch()

	if e.state.IsRunning() {
		return nil
	}
	if old, cancel := e.detach(); old != nil {
		// Left attached by a failure; release it before rejoining.
		cancel()
		if err := old.Close(); err != nil {
			e.logger.Debug("closing failed transport", "error", err)
		}
	}

	ifi, localIP, err := resolveInterface(e.interfaces, e.ifaceName)
	if err != nil {
		return e.raise(ErrorNetwork, "no usable network interface", err)
	}

	t := e.newTransport()
	if err := t.Bind(ifi, localIP, e.group, e.port); err != nil {
		if cerr := t.Close(); cerr != nil {
			e.logger.Debug("closing transport after bind failure", "error", cerr)
		}
		return e.raise(ErrorNetwork, "joining multicast group failed", err)
	}

	e.transport = t
	e.local = t.LocalAddr()
	e.boundIface = ifi.Name
	e.lastErr = nil
	e.busy.Reset()

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.run(loopCtx, t)

	e.logger.Info("routing started",
		"interface", ifi.Name,
		"local_address", localIP.String(),
		"multicast_address", e.group.String(),
		"port", e.port,
	)
	e.setState(StateRouting)
	return nil
}

// Stop cancels the busy timer, closes the transport and enters StateStop.
// Stopping an engine that was never started leaves it in StateNotInit.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.busy.Reset()
	t, cancel := e.detach()
	if e.state != StateNotInit && e.state != StateStop {
		e.setState(StateStop)
	}
	e.unlockAndDispatch()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		if err := t.Close(); err != nil {
			e.logger.Warn("closing transport", "error", err)
		}
		e.logger.Info("routing stopped")
	}
}

// detach clears the transport binding. Caller holds e.mu.
func (e *Engine) detach() (Transport, context.CancelFunc) {
	t, cancel := e.transport, e.cancel
	e.transport, e.cancel, e.local = nil, nil, nil
	e.counters = overloadCounters{}
	return t, cancel
}

// Restart stops and starts the engine.
func (e *Engine) Restart(ctx context.Context) error {
	e.Stop()
	return e.Start(ctx)
}

// run waits for transport and timer activity until ctx is cancelled or the
// transport is detached.
func (e *Engine) run(ctx context.Context, t Transport) {
	for {
		e.mu.Lock()
		if e.transport != t {
			e.mu.Unlock()
			return
		}
		timerC := e.busy.C()
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return

		case <-t.Readable():
			e.handleReadable(t)

		case err, ok := <-t.Errors():
			if !ok {
				return
			}
			e.handleTransportError(t, err)

		case <-timerC:
			e.handleTimer(t)
		}
	}
}

func (e *Engine) handleReadable(t Transport) {
	e.mu.Lock()
	defer e.unlockAndDispatch()

	if e.transport != t {
		return
	}
	e.drain(t)
}

func (e *Engine) handleTransportError(t Transport, err error) {
	e.mu.Lock()
	defer e.unlockAndDispatch()

	if e.transport != t {
		return
	}
	e.raise(ErrorNetwork, "socket error", err)
}

func (e *Engine) handleTimer(t Transport) {
	e.mu.Lock()
	defer e.unlockAndDispatch()

	if e.transport != t {
		return
	}
	if e.busy.Expire() && e.state == StateNeighborBusy {
		e.setState(StateRouting)
	}
}

// SendRoutingIndication multicasts a telegram. Invalid frames are dropped
// and nothing is sent unless the engine is in StateRouting.
//
// Returns:
//   - error: Non-nil only when the transport fails; the engine is then in
//     StateFailure
func (e *Engine) SendRoutingIndication(f *knxnetip.RoutingIndication) error {
	if f == nil {
		return nil
	}
	return e.send(f, func() Event { return IndicationSent{Frame: f} })
}

// SendRoutingBusy multicasts a busy frame. Same rules as
// SendRoutingIndication.
func (e *Engine) SendRoutingBusy(f *knxnetip.RoutingBusy) error {
	if f == nil {
		return nil
	}
	return e.send(f, func() Event { return BusySent{Frame: f} })
}

// SendRoutingLostMessage multicasts a lost message frame. Same rules as
// SendRoutingIndication.
func (e *Engine) SendRoutingLostMessage(f *knxnetip.RoutingLostMessage) error {
	if f == nil {
		return nil
	}
	return e.send(f, func() Event { return LostMessageSent{Frame: f} })
}

// SendRoutingSystemBroadcast multicasts a system broadcast. Same rules as
// SendRoutingIndication.
func (e *Engine) SendRoutingSystemBroadcast(f *knxnetip.RoutingSystemBroadcast) error {
	if f == nil {
		return nil
	}
	return e.send(f, func() Event { return SystemBroadcastSent{Frame: f} })
}

func (e *Engine) send(f knxnetip.Frame, sent func() Event) error {
	data, err := f.Encode()
	if err != nil {
		e.logger.Debug("dropping invalid outgoing frame",
			"service", f.ServiceType().String(),
			"error", err,
		)
		return nil
	}

	e.mu.Lock()
	defer e.unlockAndDispatch()

	if e.state != StateRouting || e.transport == nil {
		return nil
	}
	if !e.transport.Send(data, e.group, e.port) {
		e.stats.sendFailures.Add(1)
		return e.raise(ErrorNetwork, "sending "+f.ServiceType().String()+" failed", nil)
	}
	e.stats.framesSent.Add(1)
	e.stats.lastActivity.Store(e.clock.Now().UnixNano())
	e.emit(sent())
	return nil
}

// SetRoutingMode selects how group telegrams are forwarded.
func (e *Engine) SetRoutingMode(mode RoutingMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
}

// SetFilterTable replaces the filter table used in RoutingModeFilter.
func (e *Engine) SetFilterTable(table FilterTable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.table = table
}

// SetIndividualAddress sets the router's own address, which must be a
// coupler or router address (A.L.0). Any other address raises an
// ErrorKnxRouting error and moves the engine to StateFailure.
func (e *Engine) SetIndividualAddress(addr knx.IndividualAddress) error {
	e.mu.Lock()
	defer e.unlockAndDispatch()

	if !addr.IsCouplerOrRouter() {
		return e.raise(ErrorKnxRouting, "individual address "+addr.String()+" is not a coupler or router address", nil)
	}
	e.own = knx.NewIndividual(addr)
	return nil
}

// SetInterfaceAffinity pins the interface used by the next Start. An empty
// name restores automatic selection.
func (e *Engine) SetInterfaceAffinity(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ifaceName = name
}

// SetMulticastAddress sets the group joined by the next Start. Addresses
// that are not IPv4 multicast are ignored.
//
// Returns:
//   - bool: Whether the address was accepted
func (e *Engine) SetMulticastAddress(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil || !ip4.IsMulticast() {
		e.logger.Debug("ignoring non IPv4 multicast address", "address", ip.String())
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.group = append(net.IP(nil), ip4...)
	return true
}

// SetBusyWaitTime sets the wait time advertised when this router signals
// overload.
func (e *Engine) SetBusyWaitTime(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busyWait = d
}

// State returns the operational state.
func (e *Engine) State() OperationalState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RoutingMode returns the active routing mode.
func (e *Engine) RoutingMode() RoutingMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// FilterTable returns the active filter table.
func (e *Engine) FilterTable() FilterTable {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table
}

// IndividualAddress returns the router's own address and whether it is set.
func (e *Engine) IndividualAddress() (knx.IndividualAddress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.own.Individual(), e.own.IsIndividual()
}

// MulticastAddress returns the configured multicast group.
func (e *Engine) MulticastAddress() net.IP {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append(net.IP(nil), e.group...)
}

// BusyStage returns the busy controller's stage.
func (e *Engine) BusyStage() BusyStage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy.Stage()
}

// BusyCounter returns the busy controller's counter.
func (e *Engine) BusyCounter() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy.Counter()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// Status returns a consistent snapshot of state and configuration.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State:            e.state,
		RoutingMode:      e.mode,
		MulticastAddress: e.group.String(),
		Interface:        e.ifaceName,
		BusyStage:        e.busy.Stage(),
		BusyCounter:      e.busy.Counter(),
		FilterTableSize:  e.table.Len(),
		LastError:        e.lastErr,
		Stats:            e.stats.snapshot(),
	}
	if e.own.IsIndividual() {
		st.IndividualAddress = e.own.String()
	}
	if e.boundIface != "" {
		st.Interface = e.boundIface
	}
	if e.local != nil {
		st.LocalAddress = e.local.String()
	}
	return st
}

// setState records a transition and queues StateChanged. Caller holds e.mu.
func (e *Engine) setState(s OperationalState) {
	if e.state == s {
		return
	}
	prev := e.state
	e.state = s
	e.logger.Debug("routing state changed", "from", prev.String(), "to", s.String())
	e.emit(StateChanged{State: s, Previous: prev})
}

// raise records an error, queues ErrorOccurred and enters StateFailure.
// Caller holds e.mu.
func (e *Engine) raise(kind ErrorKind, msg string, cause error) *Error {
	err := &Error{Kind: kind, Message: msg, Err: cause}
	e.lastErr = err
	e.logger.Error("routing error", "kind", kind.String(), "message", msg, "error", cause)
	e.emit(ErrorOccurred{Err: err})
	e.setState(StateFailure)
	return err
}

// emit queues an event for delivery after the lock is released.
func (e *Engine) emit(ev Event) {
	e.pending = append(e.pending, ev)
}

// unlockAndDispatch releases e.mu and delivers queued events.
func (e *Engine) unlockAndDispatch() {
	events := e.pending
	e.pending = nil
	e.mu.Unlock()
	e.subs.deliver(events)
}
