package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/nerrad567/gray-logic-router/internal/routing"
)

// Socket defaults.
const (
	// MulticastTTL is the TTL of outgoing routing frames.
	MulticastTTL = 60

	// DefaultQueueSize bounds datagrams waiting to be drained.
	DefaultQueueSize = 256

	// readBufferSize holds the largest UDP payload.
	readBufferSize = 65535
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Options configures a Multicast transport.
type Options struct {
	// Logger receives socket logs. Optional.
	Logger routing.Logger

	// QueueSize bounds pending datagrams; excess datagrams are dropped.
	// Default: 256.
	QueueSize int

	// DisableLoopback stops our own frames from being delivered to other
	// KNXnet/IP applications on this host.
	DisableLoopback bool
}

// Stats holds socket counters.
type Stats struct {
	DatagramsRx      uint64
	DatagramsTx      uint64
	DatagramsDropped uint64 // dropped because the queue was full
	ErrorsTotal      uint64
	LastActivity     time.Time
}

// Multicast is a UDP multicast socket implementing routing.Transport.
//
// Thread Safety:
//   - Next, Send, Stats and Close are safe for concurrent use.
type Multicast struct {
	logger    routing.Logger
	queueSize int
	loopback  bool

	mu     sync.Mutex
	conn   net.PacketConn
	pc     *ipv4.PacketConn
	ifi    *net.Interface
	group  net.IP
	local  *net.UDPAddr
	queue  []routing.Datagram
	closed bool

	readable chan struct{}
	errs     chan error
	done     *closeOnce
	wg       sync.WaitGroup

	datagramsRx      atomic.Uint64
	datagramsTx      atomic.Uint64
	datagramsDropped atomic.Uint64
	errorsTotal      atomic.Uint64
	lastActivity     atomic.Int64
}

// NewMulticast creates an unbound transport.
func NewMulticast(opts Options) *Multicast {
	if opts.Logger == nil {
		opts.Logger = discardLogger{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Multicast{
		logger:    opts.Logger,
		queueSize: opts.QueueSize,
		loopback:  !opts.DisableLoopback,
		readable:  make(chan struct{}, 1),
		errs:      make(chan error, 1),
		done:      newCloseOnce(),
	}
}

// Bind opens the socket on port, joins group on ifi and starts the reader.
//
// Parameters:
//   - ifi: Interface to join the group on and send through
//   - localIP: IPv4 address of ifi; own looped-back frames carry it
//   - group: IPv4 multicast group
//   - port: UDP port; 0 picks an ephemeral port
//
// Returns:
//   - error: If the socket cannot be opened or the group cannot be joined
func (m *Multicast) Bind(ifi *net.Interface, localIP, group net.IP, port int) error {
	group4 := group.To4()
	if group4 == nil || !group4.IsMulticast() {
		return fmt.Errorf("%w: %v", ErrNotMulticast, group)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.conn != nil {
		return ErrAlreadyBound
	}

	conn, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", port, err)
	}
	pc := ipv4.NewPacketConn(conn)

	if err := configure(pc, ifi, group4, m.loopback); err != nil {
		_ = conn.Close()
		return err
	}

	boundPort := port
	if udp, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		boundPort = udp.Port
	}

	m.conn = conn
	m.pc = pc
	m.ifi = ifi
	m.group = group4
	m.local = &net.UDPAddr{IP: localIP, Port: boundPort}

	m.wg.Add(1)
	go m.readLoop()

	m.logger.Info("multicast socket bound",
		"interface", ifi.Name,
		"group", group4.String(),
		"local", m.local.String(),
	)
	return nil
}

// configure joins the group and sets the multicast socket options.
func configure(pc *ipv4.PacketConn, ifi *net.Interface, group net.IP, loopback bool) error {
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		return fmt.Errorf("joining %s on %s: %w", group, ifi.Name, err)
	}
	if err := pc.SetMulticastInterface(ifi); err != nil {
		return fmt.Errorf("setting multicast interface %s: %w", ifi.Name, err)
	}
	if err := pc.SetMulticastTTL(MulticastTTL); err != nil {
		return fmt.Errorf("setting multicast TTL: %w", err)
	}
	if err := pc.SetMulticastLoopback(loopback); err != nil {
		return fmt.Errorf("setting multicast loopback: %w", err)
	}
	return nil
}

// LocalAddr implements routing.Transport.
func (m *Multicast) LocalAddr() *net.UDPAddr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

// Readable implements routing.Transport.
func (m *Multicast) Readable() <-chan struct{} { return m.readable }

// Errors implements routing.Transport.
func (m *Multicast) Errors() <-chan error { return m.errs }

// Next implements routing.Transport.
func (m *Multicast) Next() (routing.Datagram, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return routing.Datagram{}, false
	}
	dg := m.queue[0]
	m.queue[0] = routing.Datagram{}
	m.queue = m.queue[1:]
	return dg, true
}

// Send implements routing.Transport.
func (m *Multicast) Send(data []byte, group net.IP, port int) bool {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()

	if pc == nil {
		return false
	}
	if _, err := pc.WriteTo(data, nil, &net.UDPAddr{IP: group, Port: port}); err != nil {
		m.errorsTotal.Add(1)
		m.logger.Warn("multicast send failed", "group", group.String(), "error", err)
		return false
	}
	m.datagramsTx.Add(1)
	m.lastActivity.Store(time.Now().Unix())
	return true
}

// Close leaves the group, closes the socket and waits for the reader.
func (m *Multicast) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn, pc, ifi, group := m.conn, m.pc, m.ifi, m.group
	m.queue = nil
	m.mu.Unlock()

	m.done.Close()
	if conn == nil {
		return nil
	}

	var errs []error
	if err := pc.LeaveGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		errs = append(errs, fmt.Errorf("leaving group: %w", err))
	}
	if err := conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing socket: %w", err))
	}
	m.wg.Wait()
	return errors.Join(errs...)
}

// Stats returns socket counters.
func (m *Multicast) Stats() Stats {
	st := Stats{
		DatagramsRx:      m.datagramsRx.Load(),
		DatagramsTx:      m.datagramsTx.Load(),
		DatagramsDropped: m.datagramsDropped.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
	}
	if ts := m.lastActivity.Load(); ts > 0 {
		st.LastActivity = time.Unix(ts, 0)
	}
	return st
}

// readLoop reads datagrams until the socket is closed. A read error on an
// open socket is reported on Errors and ends the loop.
func (m *Multicast) readLoop() {
	defer m.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, _, src, err := m.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-m.done.Done():
				return
			default:
			}
			m.errorsTotal.Add(1)
			m.reportError(fmt.Errorf("reading multicast socket: %w", err))
			return
		}

		udp, _ := src.(*net.UDPAddr)
		m.enqueue(append([]byte(nil), buf[:n]...), udp)
	}
}

// enqueue adds a datagram and signals readiness.
func (m *Multicast) enqueue(data []byte, src *net.UDPAddr) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if len(m.queue) >= m.queueSize {
		m.mu.Unlock()
		m.datagramsDropped.Add(1)
		m.logger.Debug("receive queue full, dropping datagram", "source", src.String())
		return
	}
	m.queue = append(m.queue, routing.Datagram{Data: data, Source: src})
	m.mu.Unlock()

	m.datagramsRx.Add(1)
	m.lastActivity.Store(time.Now().Unix())

	select {
	case m.readable <- struct{}{}:
	default:
	}
}

func (m *Multicast) reportError(err error) {
	m.logger.Error("multicast socket error", "error", err)
	select {
	case m.errs <- err:
	default:
	}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

// Compile-time check that Multicast implements routing.Transport.
var _ routing.Transport = (*Multicast)(nil)
