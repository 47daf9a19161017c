// Package transport provides the UDP multicast socket used by the router.
//
// Multicast implements routing.Transport with golang.org/x/net/ipv4: it binds
// the KNXnet/IP port on all IPv4 addresses, joins the routing group on one
// interface and sends with multicast TTL 60. A reader goroutine queues
// received datagrams and signals readiness; the engine drains the queue
// from its own goroutine.
//
// Example:
//
//	t := transport.NewMulticast(transport.Options{Logger: log})
//	if err := t.Bind(ifi, localIP, knxnetip.DefaultMulticastGroup(), knxnetip.Port); err != nil {
//	    return err
//	}
//	defer t.Close()
package transport
