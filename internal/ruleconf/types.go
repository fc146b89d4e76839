// Package ruleconf holds the parsed-and-compiled configuration graph: the
// egress table, the routing decision tree, and the DNS-forwarder config.
// Values in this package are built once at startup and handed to every
// worker goroutine by read-only pointer; nothing here is mutated after
// Compile returns.
package ruleconf

import (
	"net"

	"github.com/net-reflow/reflow/internal/matcher"
)

// EgressKind tags the variant of an Egress.
type EgressKind int

const (
	EgressDirect EgressKind = iota
	EgressReset
	EgressBind
	EgressSocks5
)

// Egress is the outbound path a routing decision may prescribe.
type Egress struct {
	Kind EgressKind

	// BindFrom: the local IP to bind the egress socket to before connect.
	BindIP net.IP

	// Socks5: the upstream SOCKS5 proxy address (no auth).
	Socks5Addr string
}

var (
	DirectEgress = &Egress{Kind: EgressDirect}
	ResetEgress  = &Egress{Kind: EgressReset}
)

// Protocol is the inspector's classification of a flow's first bytes.
type Protocol string

const (
	ProtoHTTP         Protocol = "http"
	ProtoTLS          Protocol = "tls"
	ProtoSSH          Protocol = "ssh"
	ProtoUnidentified Protocol = "unidentified"
)

// BranchKind tags the variant of a RoutingBranch.
type BranchKind int

const (
	BranchSequential BranchKind = iota
	BranchConditional
	BranchFinal
)

// RoutingBranch is a node of the routing decision tree.
type RoutingBranch struct {
	Kind BranchKind

	// Sequential
	Children []*RoutingBranch

	// Conditional
	Cond *Condition

	// Final
	Action *Egress
}

// CondKind tags the variant of a Condition.
type CondKind int

const (
	CondDomain CondKind = iota
	CondIPAddr
	CondProtocol
	CondPort
)

// Condition dispatches to a child branch based on one facet of
// TrafficInfo. Domain/IPAddr/Protocol dispatch through a map keyed by
// region tag, protocol name, or (for Port) compare a literal.
type Condition struct {
	Kind CondKind

	Map map[string]*RoutingBranch // Domain / IPAddr / Protocol

	PortLiteral uint16 // Port
	PortBranch  *RoutingBranch
}

// TrafficInfo is the ephemeral per-flow fingerprint the Router consults.
type TrafficInfo struct {
	Addr         *net.TCPAddr
	Protocol     Protocol
	Host         string // HTTP Host header, if any
	SNI          string // TLS ClientHello SNI, if any
	DomainRegion matcher.RegionTag
	HasDomain    bool
	IPRegion     matcher.RegionTag
	HasIP        bool
}

// Eval walks the routing tree by structural recursion. A Sequential
// yields the first child that yields something; a Conditional with no
// matching key yields nothing (not an error), letting the enclosing
// Sequential try alternatives; a Final always yields its action.
func (b *RoutingBranch) Eval(info *TrafficInfo) (*Egress, bool) {
	if b == nil {
		return nil, false
	}

	switch b.Kind {
	case BranchFinal:
		return b.Action, true

	case BranchSequential:
		for _, child := range b.Children {
			if action, ok := child.Eval(info); ok {
				return action, true
			}
		}

		return nil, false

	case BranchConditional:
		return b.Cond.eval(info)

	default:
		return nil, false
	}
}

func (c *Condition) eval(info *TrafficInfo) (*Egress, bool) {
	switch c.Kind {
	case CondDomain:
		if !info.HasDomain {
			return nil, false
		}

		branch, ok := c.Map[string(info.DomainRegion)]
		if !ok {
			return nil, false
		}

		return branch.Eval(info)

	case CondIPAddr:
		if !info.HasIP {
			return nil, false
		}

		branch, ok := c.Map[string(info.IPRegion)]
		if !ok {
			return nil, false
		}

		return branch.Eval(info)

	case CondProtocol:
		branch, ok := c.Map[string(info.Protocol)]
		if !ok {
			return nil, false
		}

		return branch.Eval(info)

	case CondPort:
		if info.Addr == nil || uint16(info.Addr.Port) != c.PortLiteral { //nolint:gosec // port always <=65535
			return nil, false
		}

		return c.PortBranch.Eval(info)

	default:
		return nil, false
	}
}

// NameServerRemote is the upstream resolver transport for a DNS region.
type NameServerRemote struct {
	Network string // "udp" or "tcp"
	Addr    string
}

// NameServer is one DNS-forwarding destination: a remote resolver,
// optionally reached through an Egress.
type NameServer struct {
	Remote NameServerRemote
	Egress *Egress // nil means direct, no egress indirection
}

// DNSProxyConfig is the compiled DNS-forwarder configuration.
type DNSProxyConfig struct {
	Listen  string
	Forward map[matcher.RegionTag]*NameServer
	Default *NameServer
}

// RelayConfig is one compiled relay listener.
type RelayConfig struct {
	Listen string
	Rule   *RoutingBranch
}

// Compiled is the full frozen configuration graph handed to every
// worker: matchers, routing trees, egress table, and DNS config.
type Compiled struct {
	DomainMatcher *matcher.DomainTrie
	IPMatcher     *matcher.IPTable
	Relays        []*RelayConfig
	DNS           *DNSProxyConfig
}
