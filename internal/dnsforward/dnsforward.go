// Package dnsforward runs the UDP listen loop that classifies each
// incoming DNS query by the first question's domain region and
// forwards it, byte-for-byte, to the matching upstream name server.
// The message is never re-marshaled: only its first question name is
// extracted (via miekg/dns's unpacker) to drive the region lookup: the
// bytes that go out over the wire to the upstream, and the bytes that
// come back to the client, are exactly what was received.
package dnsforward

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	mdns "github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/net-reflow/reflow/internal/dnsclient"
	"github.com/net-reflow/reflow/internal/matcher"
	"github.com/net-reflow/reflow/internal/ruleconf"
)

// ErrNotSingleQuestion rejects any message that doesn't carry exactly
// one question, matching the base spec's opaque single-query framing.
var ErrNotSingleQuestion = errors.New("dnsforward: message does not carry exactly one question")

const maxDatagram = 65535

// Forwarder serves DNS queries on one UDP listener, resolving a
// per-query region against domains and selecting a NameServer from cfg.
type Forwarder struct {
	domains *ruleconf.DNSProxyConfig
	lookup  func(name string) (matcher.RegionTag, bool)
	log     zerolog.Logger
}

// RegionLookup is implemented by *matcher.DomainTrie; kept as an
// interface here so tests can stub it without constructing a trie.
type RegionLookup interface {
	Lookup(name string) (matcher.RegionTag, bool)
}

// New builds a Forwarder over cfg, dispatching region lookups to
// lookupDomain.
func New(cfg *ruleconf.DNSProxyConfig, lookupDomain RegionLookup, log zerolog.Logger) *Forwarder {
	return &Forwarder{
		domains: cfg,
		lookup:  lookupDomain.Lookup,
		log:     log,
	}
}

// Serve listens on cfg.Listen and forwards queries until ctx is
// cancelled or the listener errors.
func (f *Forwarder) Serve(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", f.domains.Listen)
	if err != nil {
		return fmt.Errorf("dnsforward: listen %s: %w", f.domains.Listen, err)
	}
	defer pc.Close()

	go func() {
		<-ctx.Done()
		_ = pc.Close()
	}()

	buf := make([]byte, maxDatagram)

	for {
		n, clientAddr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		query := append([]byte{}, buf[:n]...)

		go f.handleQuery(ctx, pc, clientAddr, query)
	}
}

func (f *Forwarder) handleQuery(ctx context.Context, pc net.PacketConn, clientAddr net.Addr, query []byte) {
	name, err := firstQuestionName(query)
	if err != nil {
		f.log.Debug().Err(err).Str("client", clientAddr.String()).Msg("dropping malformed query")
		return
	}

	ns := f.selectNameServer(name)
	if ns == nil {
		f.log.Warn().Str("name", name).Msg("no upstream configured for region and no default set")
		return
	}

	reply, err := dnsclient.Query(ctx, ns, query)
	if err != nil {
		f.log.Debug().Err(err).Str("name", name).Msg("upstream query failed")
		return
	}

	if _, err := pc.WriteTo(reply, clientAddr); err != nil {
		f.log.Debug().Err(err).Str("client", clientAddr.String()).Msg("reply write failed")
	}
}

func (f *Forwarder) selectNameServer(name string) *ruleconf.NameServer {
	region, ok := f.lookup(name)
	if ok {
		if ns, ok := f.domains.Forward[region]; ok {
			return ns
		}
	}

	return f.domains.Default
}

// firstQuestionName unpacks query far enough to read the question
// section and returns its single name, normalized (lowercased, no
// trailing root dot).
func firstQuestionName(query []byte) (string, error) {
	var msg mdns.Msg
	if err := msg.Unpack(query); err != nil {
		return "", fmt.Errorf("dnsforward: unpack: %w", err)
	}

	if len(msg.Question) != 1 {
		return "", ErrNotSingleQuestion
	}

	return strings.ToLower(strings.TrimSuffix(msg.Question[0].Name, ".")), nil
}
