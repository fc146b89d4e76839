package socks5

import (
	"fmt"
	"io"
	"net"
)

// Request is a decoded SOCKS5 request (CONNECT/BIND/UDP-ASSOCIATE) from
// a client.
type Request struct {
	Cmd  byte
	Addr Address
}

// ServerHandshake performs method negotiation as the server: it offers
// only MethodNoAuth and rejects any client that doesn't offer it back,
// replying MethodNoAcceptable before returning an error (base spec:
// "Non-goals: SOCKS5 authentication methods").
func ServerHandshake(conn net.Conn) error {
	var verNMethods [2]byte
	if _, err := io.ReadFull(conn, verNMethods[:]); err != nil {
		return err
	}

	if verNMethods[0] != Version5 {
		return fmt.Errorf("%w: got 0x%02x", ErrVersionNoSupport, verNMethods[0])
	}

	methods := make([]byte, verNMethods[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return err
	}

	offered := false

	for _, m := range methods {
		if m == MethodNoAuth {
			offered = true
			break
		}
	}

	if !offered {
		_, _ = conn.Write([]byte{Version5, MethodNoAcceptable})
		return ErrNoSupportAuth
	}

	_, err := conn.Write([]byte{Version5, MethodNoAuth})

	return err
}

// ServerReadRequest reads the CONNECT/BIND/UDP-ASSOCIATE request header
// following a successful handshake.
func ServerReadRequest(conn net.Conn) (*Request, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, err
	}

	if hdr[0] != Version5 {
		return nil, fmt.Errorf("%w: got 0x%02x", ErrVersionNoSupport, hdr[0])
	}

	addr, err := DecodeAddress(conn)
	if err != nil {
		return nil, err
	}

	return &Request{Cmd: hdr[1], Addr: addr}, nil
}

// WriteReply sends a CONNECT/BIND/UDP-ASSOCIATE reply with rep and the
// server-bound address bound (the socket relay bound for the flow, or
// the zero address on failure).
func WriteReply(conn net.Conn, rep byte, bound Address) error {
	buf := []byte{Version5, rep, 0x00}

	encoded, err := appendAddress(buf, bound)
	if err != nil {
		// Even on an address-encoding failure, reply must carry a valid
		// ATYP; fall back to the IPv4 zero address.
		encoded, _ = appendAddress(buf, Address{IP: net.IPv4zero, Port: 0})
	}

	_, err = conn.Write(encoded)

	return err
}

// ZeroBoundAddress is the canonical "don't care" bound address used in
// CONNECT replies, matching common SOCKS5 server practice.
var ZeroBoundAddress = Address{IP: net.IPv4zero, Port: 0}
