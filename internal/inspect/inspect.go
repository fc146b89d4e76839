// Package inspect classifies the first bytes a freshly accepted client
// connection sends, without consuming more than a bounded prefix. The
// captured prefix is returned alongside the classification so the
// caller can forward it verbatim as the first write to the upstream.
package inspect

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/net-reflow/reflow/internal/ruleconf"
)

const (
	// MaxPrefix bounds the inspector buffer; only the first packet (plus
	// one bounded retry read, see Classify) is ever inspected.
	MaxPrefix = 1024

	sshBanner = "SSH-2.0"

	tlsRecordHandshake  = 0x16
	tlsHandshakeClient  = 0x01
	tlsExtensionSNI     = 0x0000
	tlsSNINameTypeHost  = 0x00
	minDiscriminateLen  = 4
)

// Result is the outcome of inspecting a client's first bytes.
type Result struct {
	Protocol ruleconf.Protocol
	Host     string // HTTP Host header
	SNI      string // TLS ClientHello SNI
	Prefix   []byte // captured bytes, to be forwarded verbatim
}

// ErrIncompleteHead is returned when the client closed the connection
// before sending enough bytes to attempt any classification.
var ErrIncompleteHead = fmt.Errorf("client closed with incomplete head")

// Classify reads from conn into a buffer capped at MaxPrefix and
// classifies the result. If the first read returns fewer than
// minDiscriminateLen bytes and the connection is still open, one
// additional bounded read is attempted before giving up and returning
// Unidentified; this is the single bounded retry within one classify
// cycle described in the design notes. Only the first packet (plus that
// one retry) is ever inspected — Classify never waits for a complete
// multi-segment HTTP header block.
func Classify(conn net.Conn, readTimeout time.Duration) (*Result, error) {
	buf := make([]byte, MaxPrefix)

	n, err := readOnce(conn, buf, readTimeout)
	if n == 0 {
		if err != nil && err != io.EOF {
			return nil, err
		}

		return nil, ErrIncompleteHead
	}

	if n < minDiscriminateLen {
		more, _ := readOnce(conn, buf[n:], readTimeout)
		n += more
	}

	return classifyBuffer(buf[:n]), nil
}

func readOnce(conn net.Conn, buf []byte, timeout time.Duration) (int, error) {
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
	}

	n, err := conn.Read(buf)

	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Time{})
	}

	return n, err
}

func classifyBuffer(buf []byte) *Result {
	if bytes.HasPrefix(buf, []byte(sshBanner)) {
		return &Result{Protocol: ruleconf.ProtoSSH, Prefix: buf}
	}

	if len(buf) > 0 && buf[0] == tlsRecordHandshake {
		if sni, ok := parseTLSClientHelloSNI(buf); ok {
			return &Result{Protocol: ruleconf.ProtoTLS, SNI: sni, Prefix: buf}
		}
	}

	if host, ok := parseHTTPHost(buf); ok {
		return &Result{Protocol: ruleconf.ProtoHTTP, Host: host, Prefix: buf}
	}

	return &Result{Protocol: ruleconf.ProtoUnidentified, Prefix: buf}
}

// parseHTTPHost scans for an HTTP/1.x request line followed by a Host
// header, case-insensitively, tolerating a truncated header block (it
// only needs to find the Host line, not every header).
func parseHTTPHost(buf []byte) (string, bool) {
	text := string(buf)

	idx := strings.Index(text, "\r\n")
	if idx < 0 {
		return "", false
	}

	requestLine := text[:idx]
	if !looksLikeHTTPRequestLine(requestLine) {
		return "", false
	}

	lines := strings.Split(text[idx+2:], "\r\n")
	for _, line := range lines {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}

		if strings.EqualFold(strings.TrimSpace(name), "host") {
			return strings.TrimSpace(value), true
		}
	}

	return "", false
}

func looksLikeHTTPRequestLine(line string) bool {
	for _, method := range []string{"GET ", "POST ", "PUT ", "DELETE ", "HEAD ", "OPTIONS ", "PATCH ", "CONNECT ", "TRACE "} {
		if strings.HasPrefix(line, method) {
			return strings.HasSuffix(line, "HTTP/1.0") || strings.HasSuffix(line, "HTTP/1.1")
		}
	}

	return false
}
