// Package dnsclient sends a single opaque DNS query to a configured
// upstream resolver and returns the opaque reply, over a direct UDP/TCP
// socket, a bound-source-IP socket, or tunneled through a SOCKS5
// upstream. The message bytes themselves are never unpacked here; the
// callers one layer up (dnsforward and relay) do any parsing they need.
package dnsclient

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/net-reflow/reflow/internal/ruleconf"
	"github.com/net-reflow/reflow/internal/socks5"
)

// ReceiveTimeout bounds every variant's wait for a reply.
const ReceiveTimeout = 10 * time.Second

var ErrShortUDPWrite = errors.New("dnsclient: short UDP write")

// Query sends msg (an opaque wire-format DNS message) to the name
// server described by ns and returns the opaque reply. ns.Egress picks
// the transport: nil or direct, a bound source IP, or a SOCKS5 upstream;
// a reset egress is an error.
func Query(ctx context.Context, ns *ruleconf.NameServer, msg []byte) ([]byte, error) {
	if ns.Egress == nil {
		return queryDirect(ctx, ns.Remote, nil, msg)
	}

	switch ns.Egress.Kind {
	case ruleconf.EgressDirect:
		return queryDirect(ctx, ns.Remote, nil, msg)

	case ruleconf.EgressBind:
		return queryDirect(ctx, ns.Remote, ns.Egress.BindIP, msg)

	case ruleconf.EgressSocks5:
		return queryViaSocks5(ctx, ns.Egress.Socks5Addr, ns.Remote, msg)

	case ruleconf.EgressReset:
		return nil, fmt.Errorf("dnsclient: reset egress cannot reach a name server")

	default:
		return nil, fmt.Errorf("dnsclient: unsupported egress kind %d", ns.Egress.Kind)
	}
}

func queryDirect(ctx context.Context, remote ruleconf.NameServerRemote, bindIP net.IP, msg []byte) ([]byte, error) {
	if remote.Network == "tcp" {
		return queryDirectTCP(ctx, remote.Addr, bindIP, msg)
	}

	return queryDirectUDP(ctx, remote.Addr, bindIP, msg)
}

func queryDirectUDP(ctx context.Context, addr string, bindIP net.IP, msg []byte) ([]byte, error) {
	d := net.Dialer{Timeout: ReceiveTimeout}
	if bindIP != nil {
		d.LocalAddr = &net.UDPAddr{IP: bindIP}
	}

	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return roundTripUDP(conn, msg)
}

func queryDirectTCP(ctx context.Context, addr string, bindIP net.IP, msg []byte) ([]byte, error) {
	d := net.Dialer{Timeout: ReceiveTimeout}
	if bindIP != nil {
		d.LocalAddr = &net.TCPAddr{IP: bindIP}
	}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return roundTripTCPFramed(conn, msg)
}

func roundTripUDP(conn net.Conn, msg []byte) ([]byte, error) {
	n, err := conn.Write(msg)
	if err != nil {
		return nil, err
	}

	if n != len(msg) {
		return nil, ErrShortUDPWrite
	}

	_ = conn.SetReadDeadline(time.Now().Add(ReceiveTimeout))

	buf := make([]byte, 65535)

	n, err = conn.Read(buf)
	if err != nil {
		return nil, err
	}

	return buf[:n], nil
}

// roundTripTCPFramed writes msg with the 2-byte big-endian DNS-over-TCP
// length prefix and reads one length-prefixed reply.
func roundTripTCPFramed(conn net.Conn, msg []byte) ([]byte, error) {
	_ = conn.SetDeadline(time.Now().Add(ReceiveTimeout))

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg))) //nolint:gosec // DNS messages fit in uint16

	if _, err := conn.Write(append(lenBuf[:], msg...)); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}

	replyLen := binary.BigEndian.Uint16(lenBuf[:])
	reply := make([]byte, replyLen)

	if _, err := io.ReadFull(conn, reply); err != nil {
		return nil, err
	}

	return reply, nil
}

// queryViaSocks5 reaches the name server through an upstream SOCKS5
// proxy: UDP via UDP-ASSOCIATE, TCP via a CONNECT tunnel carrying the
// same 2-byte length-prefixed framing as a direct TCP query.
func queryViaSocks5(ctx context.Context, proxyAddr string, remote ruleconf.NameServerRemote, msg []byte) ([]byte, error) {
	if remote.Network == "tcp" {
		return queryViaSocks5TCP(ctx, proxyAddr, remote.Addr, msg)
	}

	return queryViaSocks5UDP(ctx, proxyAddr, remote.Addr, msg)
}

func queryViaSocks5TCP(ctx context.Context, proxyAddr, remoteAddr string, msg []byte) ([]byte, error) {
	host, port, err := splitHostPort(remoteAddr)
	if err != nil {
		return nil, err
	}

	conn, err := socks5.Dial(ctx, proxyAddr, socks5.HostPortToAddress(host, port))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return roundTripTCPFramed(conn, msg)
}

func queryViaSocks5UDP(ctx context.Context, proxyAddr, remoteAddr string, msg []byte) ([]byte, error) {
	host, port, err := splitHostPort(remoteAddr)
	if err != nil {
		return nil, err
	}

	target := socks5.HostPortToAddress(host, port)

	var d net.Dialer

	ctrl, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()

	if err := socks5HandshakeNoAuth(ctrl); err != nil {
		return nil, err
	}

	relayAddr, err := socks5.UDPAssociate(ctrl, socks5.Address{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, err
	}

	udpConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: relayAddr.IP, Port: int(relayAddr.Port)})
	if err != nil {
		return nil, err
	}
	defer udpConn.Close()

	var sendBuf bufferWriter
	if err := socks5.WriteUDPDatagram(&sendBuf, target, msg); err != nil {
		return nil, err
	}

	if _, err := udpConn.Write(sendBuf.buf); err != nil {
		return nil, err
	}

	_ = udpConn.SetReadDeadline(time.Now().Add(ReceiveTimeout))

	recvBuf := make([]byte, 65535)

	n, err := udpConn.Read(recvBuf)
	if err != nil {
		return nil, err
	}

	_, payload, err := socks5.ReadUDPDatagram(recvBuf[:n])
	if err != nil {
		return nil, err
	}

	return payload, nil
}

func socks5HandshakeNoAuth(conn net.Conn) error {
	if _, err := conn.Write([]byte{socks5.Version5, 0x01, socks5.MethodNoAuth}); err != nil {
		return err
	}

	var sel [2]byte
	if _, err := io.ReadFull(conn, sel[:]); err != nil {
		return err
	}

	if sel[0] != socks5.Version5 || sel[1] != socks5.MethodNoAuth {
		return socks5.ErrNoSupportAuth
	}

	return nil
}

func splitHostPort(addr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}

	var port uint16

	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("dnsclient: invalid port %q: %w", portStr, err)
	}

	return host, port, nil
}

type bufferWriter struct {
	buf []byte
}

func (b *bufferWriter) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}
