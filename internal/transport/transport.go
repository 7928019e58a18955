// Package transport opens the UDP sockets used by both sides of the exchange.
package transport

import (
	"context"
	"fmt"
	"net"
)

// Listen binds a UDPv4 socket on addr. With reuse set, SO_REUSEADDR is applied
// so a fixed port can be rebound immediately after a previous process exits.
func Listen(ctx context.Context, addr string, reuse bool) (net.PacketConn, error) {
	if addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	lc := net.ListenConfig{}
	if reuse {
		lc.Control = reuseAddrControl
	}
	conn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return conn, nil
}

// ResolvePeer resolves a host:port into a UDPv4 address.
func ResolvePeer(addr string) (*net.UDPAddr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	return udpAddr, nil
}
