// Package mcast binds the UDP4 sockets both node kinds need: a receiver
// joins the broadcast group and reads from it; a source sends to the group
// and reads unicast replies on its own bound socket.
package mcast

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// Conn wraps a UDP4 socket joined to a multicast group, with helpers for the
// send/receive shapes the source and receiver each need.
type Conn struct {
	udp   *net.UDPConn
	group *net.UDPAddr
}

// JoinReceiver binds to bindAddr:port, sets SO_REUSEPORT/SO_REUSEADDR so
// multiple local processes can share the group, and joins group on iface
// (nil selects the default multicast-capable interface).
func JoinReceiver(group netip.Addr, port uint16, bindAddr netip.Addr, iface *net.Interface) (*Conn, error) {
	bind := &net.UDPAddr{IP: bindAddr.AsSlice(), Port: int(port)}

	lc := net.ListenConfig{
		Control: reuseAddrAndPort,
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", bind.String())
	if err != nil {
		return nil, fmt.Errorf("mcast: listen %s: %w", bind, err)
	}

	udpConn := pc.(*net.UDPConn)

	groupAddr := &net.UDPAddr{IP: group.AsSlice(), Port: int(port)}

	p := ipv4.NewPacketConn(udpConn)
	if err := p.JoinGroup(iface, groupAddr); err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("mcast: join group %s: %w", group, err)
	}

	return &Conn{udp: udpConn, group: groupAddr}, nil
}

// OpenSource opens the source's socket: joined to the group like a
// receiver's (a source must see group traffic to detect a higher-SID
// takeover, and receivers address their time-sync replies to the group
// port it sends from), with the multicast TTL applied for its own sends.
func OpenSource(bindAddr netip.Addr, group netip.Addr, port uint16, ttl int) (*Conn, error) {
	c, err := JoinReceiver(group, port, bindAddr, nil)
	if err != nil {
		return nil, err
	}

	p := ipv4.NewPacketConn(c.udp)
	if err := p.SetMulticastTTL(ttl); err != nil {
		c.udp.Close()
		return nil, fmt.Errorf("mcast: set ttl: %w", err)
	}

	return c, nil
}

func reuseAddrAndPort(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			sockErr = fmt.Errorf("SO_REUSEPORT: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = fmt.Errorf("SO_REUSEADDR: %w", err)
			return
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Broadcast sends payload to the joined multicast group. It implements
// source.Broadcaster.
func (c *Conn) Broadcast(payload []byte) error {
	_, err := c.udp.WriteToUDP(payload, c.group)
	return err
}

// SendTo unicasts payload back to a specific peer, used for clock-sync and
// stats replies.
func (c *Conn) SendTo(payload []byte, peer *net.UDPAddr) error {
	_, err := c.udp.WriteToUDP(payload, peer)
	return err
}

// ReadFrom blocks until a datagram arrives, returning it and its sender.
// buf should be reused across calls by the caller to avoid allocating on
// the network thread's hot path.
func (c *Conn) ReadFrom(buf []byte) (int, *net.UDPAddr, error) {
	return c.udp.ReadFromUDP(buf)
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.udp.Close()
}
