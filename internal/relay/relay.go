// Package relay implements the SOCKS5-ingress TCP relay: accept a
// client, negotiate SOCKS5, classify the destination's first bytes,
// build the per-flow fingerprint, evaluate the routing tree, and pump
// bytes between client and the chosen egress.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/net-reflow/reflow/internal/dnsclient"
	"github.com/net-reflow/reflow/internal/inspect"
	"github.com/net-reflow/reflow/internal/matcher"
	"github.com/net-reflow/reflow/internal/ruleconf"
	"github.com/net-reflow/reflow/internal/socks5"
)

const (
	idleTimeout  = 500 * time.Second
	copyBufSize  = 2048
	inspectTimeo = 3 * time.Second
)

// Relay serves one SOCKS5 listener, routing flows per cfg.Rule.
type Relay struct {
	cfg     *ruleconf.RelayConfig
	domains *matcher.DomainTrie
	ips     *matcher.IPTable
	dns     *ruleconf.DNSProxyConfig
	log     zerolog.Logger
}

// New builds a Relay. dns may be nil when the config has no dns block,
// in which case domain-form CONNECT targets cannot be resolved: the
// client gets a host-unreachable reply and the connection is closed.
func New(cfg *ruleconf.RelayConfig, domains *matcher.DomainTrie, ips *matcher.IPTable, dns *ruleconf.DNSProxyConfig, log zerolog.Logger) *Relay {
	return &Relay{cfg: cfg, domains: domains, ips: ips, dns: dns, log: log}
}

// Serve accepts connections on the listener until ctx is cancelled,
// handling each on its own goroutine. The errgroup supervises only the
// accept loop and the close-on-cancel goroutine; per-flow goroutines are
// not in the group, so a failing flow never brings down the accept loop.
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}

				return err
			}

			go r.handle(ctx, conn)
		}
	})

	return g.Wait()
}

func (r *Relay) handle(ctx context.Context, client net.Conn) {
	defer client.Close()

	log := r.log.With().Str("client", client.RemoteAddr().String()).Logger()

	if err := socks5.ServerHandshake(client); err != nil {
		log.Debug().Err(err).Msg("socks5 handshake failed")
		return
	}

	req, err := socks5.ServerReadRequest(client)
	if err != nil {
		log.Debug().Err(err).Msg("socks5 request read failed")
		return
	}

	if req.Cmd != socks5.CmdConnect {
		_ = socks5.WriteReply(client, socks5.RepCmdNotSupported, socks5.ZeroBoundAddress)
		log.Debug().Int("cmd", int(req.Cmd)).Msg("unsupported socks5 command")
		return
	}

	targetIP, err := r.resolveTarget(ctx, req.Addr)
	if err != nil {
		_ = socks5.WriteReply(client, socks5.RepHostUnreachable, socks5.ZeroBoundAddress)
		log.Debug().Err(err).Str("target", req.Addr.String()).Msg("resolution failed")
		return
	}

	info := &ruleconf.TrafficInfo{Addr: &net.TCPAddr{IP: targetIP, Port: int(req.Addr.Port)}}

	if req.Addr.Domain != "" {
		if region, ok := r.domains.Lookup(req.Addr.Domain); ok {
			info.DomainRegion, info.HasDomain = region, true
		}
	}

	if region, ok := r.ips.Match(targetIP); ok {
		info.IPRegion, info.HasIP = region, true
	}

	// A CONNECT reply must precede any application data: the client is
	// waiting for it before it starts speaking HTTP/TLS/SSH, so the
	// first-bytes classification can only happen after this point.
	if err := socks5.WriteReply(client, socks5.RepSucceeded, socks5.ZeroBoundAddress); err != nil {
		return
	}

	result, err := inspect.Classify(client, inspectTimeo)
	var prefix []byte

	if err != nil {
		log.Debug().Err(err).Msg("inspection incomplete, routing as unidentified")
		info.Protocol = ruleconf.ProtoUnidentified
	} else {
		info.Protocol = result.Protocol
		info.Host = result.Host
		info.SNI = result.SNI
		prefix = result.Prefix
	}

	if !info.HasDomain {
		host := info.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}

		for _, name := range []string{info.SNI, host} {
			if region, ok := r.domains.Lookup(name); ok {
				info.DomainRegion, info.HasDomain = region, true
				break
			}
		}
	}

	egress, ok := r.cfg.Rule.Eval(info)
	if !ok || egress.Kind == ruleconf.EgressReset {
		log.Debug().Msg("routing decision reset")
		return
	}

	conn, err := r.dialEgress(ctx, egress, info.Addr)
	if err != nil {
		log.Debug().Err(err).Msg("egress dial failed")
		return
	}
	defer conn.Close()

	if len(prefix) > 0 {
		if _, err := conn.Write(prefix); err != nil {
			log.Debug().Err(err).Msg("prefix forward failed")
			return
		}
	}

	pump(client, conn, log)
}

func (r *Relay) resolveTarget(ctx context.Context, addr socks5.Address) (net.IP, error) {
	if addr.IP != nil {
		return addr.IP, nil
	}

	if addr.Domain == "" {
		return nil, fmt.Errorf("relay: address has neither IP nor domain")
	}

	if r.dns == nil {
		return nil, fmt.Errorf("relay: no dns block configured, cannot resolve %q", addr.Domain)
	}

	return resolveViaForwarder(ctx, r.domains, r.dns, addr.Domain)
}

// resolveViaForwarder answers the third resolved Open Question: a
// domain-form CONNECT target is resolved through this process's own
// DNS-forwarder client path, consulting the same domain matcher and
// per-region upstream table the standalone DNS forwarder uses, rather
// than the host system resolver.
func resolveViaForwarder(ctx context.Context, domains *matcher.DomainTrie, dnsCfg *ruleconf.DNSProxyConfig, domain string) (net.IP, error) {
	region, ok := domains.Lookup(domain)

	ns := dnsCfg.Default
	if ok {
		if regional, ok := dnsCfg.Forward[region]; ok {
			ns = regional
		}
	}

	if ns == nil {
		return nil, fmt.Errorf("relay: no upstream name server available for %q", domain)
	}

	query := new(mdns.Msg)
	query.SetQuestion(mdns.Fqdn(domain), mdns.TypeA)
	query.RecursionDesired = true

	packed, err := query.Pack()
	if err != nil {
		return nil, err
	}

	raw, err := dnsclient.Query(ctx, ns, packed)
	if err != nil {
		return nil, err
	}

	reply := new(mdns.Msg)
	if err := reply.Unpack(raw); err != nil {
		return nil, err
	}

	for _, rr := range reply.Answer {
		if a, ok := rr.(*mdns.A); ok {
			return a.A, nil
		}
	}

	for _, rr := range reply.Answer {
		if aaaa, ok := rr.(*mdns.AAAA); ok {
			return aaaa.AAAA, nil
		}
	}

	return nil, fmt.Errorf("relay: no A/AAAA answer for %q", domain)
}

func (r *Relay) dialEgress(ctx context.Context, egress *ruleconf.Egress, addr *net.TCPAddr) (net.Conn, error) {
	switch egress.Kind {
	case ruleconf.EgressDirect:
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr.String())

	case ruleconf.EgressBind:
		d := net.Dialer{LocalAddr: &net.TCPAddr{IP: egress.BindIP}}
		return d.DialContext(ctx, "tcp", addr.String())

	case ruleconf.EgressSocks5:
		return socks5.Dial(ctx, egress.Socks5Addr, socks5.HostPortToAddress(addr.IP.String(), uint16(addr.Port))) //nolint:gosec

	default:
		return nil, fmt.Errorf("relay: unsupported egress kind %d", egress.Kind)
	}
}

// halfCloseWriter is implemented by *net.TCPConn, which is also what
// socks5.Dial returns; it lets one direction finish without tearing down
// the peer direction, which may still be mid-transfer.
type halfCloseWriter interface {
	CloseWrite() error
}

// pump bridges the two half-duplex directions. When one direction
// hits EOF or idleTimeout, only its destination's write side is
// half-closed, so the peer direction keeps draining until its own EOF
// or timeout. Both sockets are fully closed only once both directions
// have finished.
func pump(a, b net.Conn, log zerolog.Logger) {
	done := make(chan struct{}, 2)

	copyDirection := func(dst, src net.Conn, label string) {
		defer func() { done <- struct{}{} }()

		buf := make([]byte, copyBufSize)

		for {
			_ = src.SetReadDeadline(time.Now().Add(idleTimeout))

			n, err := src.Read(buf)
			if n > 0 {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					log.Debug().Err(werr).Str("dir", label).Msg("relay write error")
					return
				}
			}

			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					log.Debug().Err(err).Str("dir", label).Msg("relay read ended")
				}

				if hc, ok := dst.(halfCloseWriter); ok {
					_ = hc.CloseWrite()
				}

				return
			}
		}
	}

	go copyDirection(b, a, "client->egress")
	go copyDirection(a, b, "egress->client")

	<-done
	<-done
	_ = a.Close()
	_ = b.Close()
}
