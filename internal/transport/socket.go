package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Socket is the minimal UDP surface the client and server need (spec §4.7):
// bind, recv-with-timeout, send, close, best-effort SO_RCVBUF and DF-bit
// tuning. It exists so tests can substitute an in-memory fake instead of a
// real kernel socket.
type Socket interface {
	RecvFrom(buf []byte, timeout time.Duration) (n int, addr *net.UDPAddr, err error)
	SendTo(data []byte, addr *net.UDPAddr) error
	LocalAddr() net.Addr
	Close() error
}

// UDPSocket wraps *net.UDPConn, applying the socket options spec §4.7 and
// §6 (`buffer_size`, `df`) describe as best-effort.
type UDPSocket struct {
	conn *net.UDPConn
}

// ListenUDP binds a socket for server use (or a client that wants a fixed
// local port). addr may be ":0" for an ephemeral client port.
func ListenUDP(addr string, recvBufBytes int, df bool) (*UDPSocket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", addr, err)
	}
	s := &UDPSocket{conn: conn}
	if recvBufBytes > 0 {
		_ = s.setRecvBuffer(recvBufBytes) // best-effort, per spec
	}
	if df {
		_ = s.setDontFragment() // best-effort, per spec
	}
	return s, nil
}

// RecvFrom blocks until a datagram arrives, timeout elapses, or the socket
// is closed. A Windows-style ICMP port-unreachable reset on recv is
// swallowed and reported as a plain timeout (spec §4.7: "ConnectionResetError
// on recv is ignored").
func (s *UDPSocket) RecvFrom(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, err
	}
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if errors.Is(err, unix.ECONNRESET) {
			return 0, nil, errTimeout
		}
		return 0, nil, err
	}
	return n, addr, nil
}

var errTimeout = errors.New("transport: recv timeout")

// IsTimeout reports whether err is the sentinel RecvFrom returns on a read
// deadline or a swallowed ICMP reset — both mean "nothing arrived in time".
func IsTimeout(err error) bool {
	if errors.Is(err, errTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *UDPSocket) SendTo(data []byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(data, addr)
	return err
}

func (s *UDPSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

func (s *UDPSocket) Close() error { return s.conn.Close() }

// setRecvBuffer sets SO_RCVBUF via the raw file descriptor, since
// net.UDPConn has no portable setter for an exact byte count.
func (s *UDPSocket) setRecvBuffer(bytes int) error {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// setDontFragment enables PMTUD-style fragmentation avoidance (spec §6's
// `df` option, §9's "MTU discovery: treat kernel MTU as a hint, never a
// guarantee"). Oversized datagrams sent after this is set are dropped with
// ICMP instead of being fragmented in flight.
func (s *UDPSocket) setDontFragment() error {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// PathMTU reads back the kernel's current path-MTU estimate for this
// socket's peer, for `plpmtud` (spec §6): a server may use it to tighten
// `payload_max` dynamically. It returns 0, non-nil if unsupported or the
// socket is unconnected (no single peer to report an MTU for).
func (s *UDPSocket) PathMTU() (int, error) {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var mtu int
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		mtu, sockErr = unix.GetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU)
	})
	if err != nil {
		return 0, err
	}
	return mtu, sockErr
}

// ProbePathMTU reports the kernel's path-MTU estimate toward remote, for a
// server that wants to tighten `payload_max` per-peer (spec §6 `plpmtud`).
// It dials a throwaway connected UDP socket — the server's own listening
// socket receives from many clients at once and IP_MTU is only meaningful
// on a connected socket — reads IP_MTU off it, and closes it immediately.
func ProbePathMTU(remote *net.UDPAddr) (int, error) {
	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	s := &UDPSocket{conn: conn}
	return s.PathMTU()
}
