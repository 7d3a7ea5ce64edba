package session

import (
	"net"
	"time"

	"github.com/flowline-labs/tsunamigo/internal/errs"
	"github.com/flowline-labs/tsunamigo/internal/wire"
)

// maxBindAttempts bounds the client's StaticPort bind retry loop.
const maxBindAttempts = 256

// primingPacket is the single byte the client sends to let the server learn
// its UDP source (ip, port) under UdpMethodDiscovery.
var primingPacket = []byte{0}

// BindStaticPort opens a UDP socket, trying consecutive ports starting at
// basePort up to maxBindAttempts times, to tolerate multiple local clients
// competing for the same preferred port.
func BindStaticPort(network string, basePort uint16) (*net.UDPConn, uint16, error) {
	port := basePort
	for attempt := 0; attempt < maxBindAttempts; attempt++ {
		addr := &net.UDPAddr{Port: int(port)}
		conn, err := net.ListenUDP(network, addr)
		if err == nil {
			bound := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
			return conn, bound, nil
		}
		port++
	}
	return nil, 0, errs.New(errs.Network, "exhausted bind attempts for static UDP port")
}

// SendPrimingPacket sends the single-byte priming datagram used to trigger
// discovery of the client's UDP endpoint server-side.
func SendPrimingPacket(conn *net.UDPConn, serverAddr *net.UDPAddr) error {
	if _, err := conn.WriteToUDP(primingPacket, serverAddr); err != nil {
		return errs.Wrap(errs.Network, "send UDP priming packet", err)
	}
	return nil
}

// AwaitPrimingPacket blocks, up to timeout, for the client's priming packet
// and returns its source address for the server to send blocks to.
func AwaitPrimingPacket(conn *net.UDPConn, timeout time.Duration) (*net.UDPAddr, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errs.Wrap(errs.Network, "set priming read deadline", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 16)
	_, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, errs.Wrap(errs.Network, "await UDP priming packet", err)
	}
	return addr, nil
}

// ResolveServerDestination returns the UDP address the server should send
// blocks to, given the negotiated UdpMethod and the control-channel peer's
// IP address.
func ResolveServerDestination(method wire.UdpMethod, controlPeerIP net.IP, discovery *net.UDPConn, discoveryTimeout time.Duration) (*net.UDPAddr, error) {
	switch method.Kind {
	case wire.UdpMethodStaticPort:
		return &net.UDPAddr{IP: controlPeerIP, Port: int(method.Port)}, nil
	case wire.UdpMethodDiscovery:
		return AwaitPrimingPacket(discovery, discoveryTimeout)
	default:
		return nil, errs.New(errs.Protocol, "unknown UdpMethod kind")
	}
}
