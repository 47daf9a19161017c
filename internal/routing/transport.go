package routing

import (
	"fmt"
	"net"
)

// Datagram is one received UDP datagram.
type Datagram struct {
	Data   []byte
	Source *net.UDPAddr
}

// Transport is the multicast socket the Engine routes over.
//
// The Engine creates a fresh Transport for every Start and closes it on Stop.
// Implementations signal pending datagrams on Readable and socket failures
// on Errors; the Engine then drains them with Next from its own goroutine.
type Transport interface {
	// Bind opens the socket on port, joins group on ifi and sets the
	// multicast TTL. localIP is the interface address used as source.
	Bind(ifi *net.Interface, localIP, group net.IP, port int) error

	// LocalAddr returns the address own datagrams arrive from when looped
	// back by the multicast group.
	LocalAddr() *net.UDPAddr

	// Readable receives a value when datagrams are pending.
	Readable() <-chan struct{}

	// Errors delivers asynchronous socket errors.
	Errors() <-chan error

	// Next returns the next pending datagram without blocking.
	Next() (Datagram, bool)

	// Send writes data to group:port and reports success.
	Send(data []byte, group net.IP, port int) bool

	// Close leaves the group and releases the socket.
	Close() error
}

// InterfaceProvider lists network interfaces. The default uses package net.
type InterfaceProvider interface {
	Interfaces() ([]net.Interface, error)
	Addrs(ifi *net.Interface) ([]net.Addr, error)
}

type systemInterfaces struct{}

func (systemInterfaces) Interfaces() ([]net.Interface, error) { return net.Interfaces() }

func (systemInterfaces) Addrs(ifi *net.Interface) ([]net.Addr, error) { return ifi.Addrs() }

// SystemInterfaces returns the InterfaceProvider backed by the host's
// network stack.
func SystemInterfaces() InterfaceProvider { return systemInterfaces{} }

// resolveInterface picks the interface to route on.
//
// With a name, that interface must exist, be up, support multicast and carry
// an IPv4 address. Without one, the first running, multicast-capable,
// non-loopback interface with an IPv4 address is chosen.
func resolveInterface(p InterfaceProvider, name string) (*net.Interface, net.IP, error) {
	ifaces, err := p.Interfaces()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: listing interfaces: %w", ErrNoInterface, err)
	}

	for i := range ifaces {
		ifi := &ifaces[i]
		if name != "" {
			if ifi.Name != name {
				continue
			}
			if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
				return nil, nil, fmt.Errorf("%w: %s is down or not multicast capable", ErrNoInterface, name)
			}
			ip, err := firstIPv4(p, ifi)
			if err != nil {
				return nil, nil, err
			}
			return ifi, ip, nil
		}

		if ifi.Flags&net.FlagLoopback != 0 ||
			ifi.Flags&net.FlagUp == 0 ||
			ifi.Flags&net.FlagRunning == 0 ||
			ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if ip, err := firstIPv4(p, ifi); err == nil {
			return ifi, ip, nil
		}
	}

	if name != "" {
		return nil, nil, fmt.Errorf("%w: interface %q not found", ErrNoInterface, name)
	}
	return nil, nil, ErrNoInterface
}

func firstIPv4(p InterfaceProvider, ifi *net.Interface) (net.IP, error) {
	addrs, err := p.Addrs(ifi)
	if err != nil {
		return nil, fmt.Errorf("%w: addresses of %s: %w", ErrNoInterface, ifi.Name, err)
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no IPv4 address", ErrNoInterface, ifi.Name)
}
