package socks5

import (
	"context"
	"fmt"
	"io"
	"net"
)

// Dial connects to the SOCKS5 proxy at proxyAddr, negotiates no-auth,
// and issues a CONNECT to target, returning the established tunnel on
// success. The caller owns the returned net.Conn.
func Dial(ctx context.Context, proxyAddr string, target Address) (net.Conn, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, err
	}

	if err := ClientConnect(conn, target); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// ClientConnect runs the client-side CONNECT sequence over an
// already-established TCP connection to a SOCKS5 proxy.
func ClientConnect(conn net.Conn, target Address) error {
	if _, err := conn.Write([]byte{Version5, 0x01, MethodNoAuth}); err != nil {
		return err
	}

	var sel [2]byte
	if _, err := io.ReadFull(conn, sel[:]); err != nil {
		return err
	}

	if sel[0] != Version5 {
		return fmt.Errorf("%w: got 0x%02x", ErrVersionNoSupport, sel[0])
	}

	if sel[1] != MethodNoAuth {
		return ErrNoSupportAuth
	}

	req := []byte{Version5, CmdConnect, 0x00}

	req, err := appendAddress(req, target)
	if err != nil {
		return err
	}

	if _, err := conn.Write(req); err != nil {
		return err
	}

	var hdr [3]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return err
	}

	if hdr[0] != Version5 {
		return fmt.Errorf("%w: got 0x%02x", ErrVersionNoSupport, hdr[0])
	}

	rep := hdr[1]

	boundAddr, err := DecodeAddress(conn)
	if err != nil {
		return err
	}

	_ = boundAddr

	if rep != RepSucceeded {
		return &ReplyError{Code: rep}
	}

	return nil
}

// UDPAssociate performs the UDP ASSOCIATE handshake over ctrl (the
// already-connected control TCP stream to the proxy) and returns the
// proxy-advertised relay address to send/receive datagrams from.
func UDPAssociate(ctrl net.Conn, clientAddr Address) (Address, error) {
	req := []byte{Version5, CmdUDPAssociate, 0x00}

	req, err := appendAddress(req, clientAddr)
	if err != nil {
		return Address{}, err
	}

	if _, err := ctrl.Write(req); err != nil {
		return Address{}, err
	}

	var hdr [3]byte
	if _, err := io.ReadFull(ctrl, hdr[:]); err != nil {
		return Address{}, err
	}

	if hdr[0] != Version5 {
		return Address{}, fmt.Errorf("%w: got 0x%02x", ErrVersionNoSupport, hdr[0])
	}

	rep := hdr[1]

	boundAddr, err := DecodeAddress(ctrl)
	if err != nil {
		return Address{}, err
	}

	if rep != RepSucceeded {
		return Address{}, &ReplyError{Code: rep}
	}

	return boundAddr, nil
}
