package ruleconf

import (
	"fmt"
	"net"

	"github.com/net-reflow/reflow/internal/matcher"
)

// Compile resolves an AST produced by Parse against the already-loaded
// domain and IP matchers, in topological order: egresses first, then
// rules, then relays and the DNS section, per the base decision-tree
// design (egresses never reference rules; rules never reference other
// rules).
func Compile(ast *astConfig, domains *matcher.DomainTrie, ips *matcher.IPTable) (*Compiled, error) {
	egresses, err := compileEgresses(ast)
	if err != nil {
		return nil, err
	}

	relays := make([]*RelayConfig, 0, len(ast.relays))

	for _, r := range ast.relays {
		ruleAST, ok := ast.rules[r.ruleRef]
		if !ok {
			return nil, fmt.Errorf("line %d: unknown rule %q", r.line, r.ruleRef)
		}

		branch, err := compileBranch(ruleAST, egresses)
		if err != nil {
			return nil, err
		}

		relays = append(relays, &RelayConfig{Listen: r.listen, Rule: branch})
	}

	var dnsConf *DNSProxyConfig

	if ast.dns != nil {
		dnsConf, err = compileDNS(ast.dns, egresses)
		if err != nil {
			return nil, err
		}
	}

	return &Compiled{
		DomainMatcher: domains,
		IPMatcher:     ips,
		Relays:        relays,
		DNS:           dnsConf,
	}, nil
}

func compileEgresses(ast *astConfig) (map[string]*Egress, error) {
	out := make(map[string]*Egress, len(ast.egresses))

	for _, name := range ast.egressOrder {
		eg := ast.egresses[name]

		switch eg.kind {
		case astEgressSocks5:
			out[name] = &Egress{Kind: EgressSocks5, Socks5Addr: eg.addr}

		case astEgressBind:
			ip := net.ParseIP(eg.addr)
			if ip == nil {
				return nil, fmt.Errorf("line %d: invalid bind address %q", eg.line, eg.addr)
			}

			out[name] = &Egress{Kind: EgressBind, BindIP: ip}

		default:
			return nil, fmt.Errorf("line %d: unknown egress kind for %q", eg.line, name)
		}
	}

	return out, nil
}

func compileBranch(b *astBranch, egresses map[string]*Egress) (*RoutingBranch, error) {
	switch b.kind {
	case astDirect:
		return &RoutingBranch{Kind: BranchFinal, Action: DirectEgress}, nil

	case astReset:
		return &RoutingBranch{Kind: BranchFinal, Action: ResetEgress}, nil

	case astRef:
		eg, ok := egresses[b.ref]
		if !ok {
			return nil, fmt.Errorf("line %d: unknown gateway %q", b.line, b.ref)
		}

		return &RoutingBranch{Kind: BranchFinal, Action: eg}, nil

	case astSequential:
		children := make([]*RoutingBranch, 0, len(b.children))

		for _, c := range b.children {
			rb, err := compileBranch(c, egresses)
			if err != nil {
				return nil, err
			}

			children = append(children, rb)
		}

		return &RoutingBranch{Kind: BranchSequential, Children: children}, nil

	case astConditional:
		cond, err := compileCondition(b.cond, egresses)
		if err != nil {
			return nil, err
		}

		return &RoutingBranch{Kind: BranchConditional, Cond: cond}, nil

	default:
		return nil, fmt.Errorf("line %d: unknown branch kind", b.line)
	}
}

func compileCondition(c *astCondition, egresses map[string]*Egress) (*Condition, error) {
	out := &Condition{}

	switch c.kind {
	case astCondDomain:
		out.Kind = CondDomain
	case astCondIPAddr:
		out.Kind = CondIPAddr
	case astCondProtocol:
		out.Kind = CondProtocol
	case astCondPort:
		out.Kind = CondPort

		branch, err := compileBranch(c.portBranch, egresses)
		if err != nil {
			return nil, err
		}

		out.PortLiteral = c.portLiteral
		out.PortBranch = branch

		return out, nil
	default:
		return nil, fmt.Errorf("unknown condition kind")
	}

	out.Map = make(map[string]*RoutingBranch, len(c.entries))

	for _, e := range c.entries {
		branch, err := compileBranch(e.branch, egresses)
		if err != nil {
			return nil, err
		}

		out.Map[e.key] = branch
	}

	return out, nil
}

func compileDNS(ast *astDNS, egresses map[string]*Egress) (*DNSProxyConfig, error) {
	out := &DNSProxyConfig{
		Listen:  ast.listen,
		Forward: make(map[matcher.RegionTag]*NameServer, len(ast.forward)),
	}

	for region, ns := range ast.forward {
		compiled, err := compileNameServer(ns, egresses)
		if err != nil {
			return nil, err
		}

		if region == string(matcher.ElseRegion) {
			out.Default = compiled
			continue
		}

		out.Forward[matcher.RegionTag(region)] = compiled
	}

	if out.Default == nil {
		return nil, fmt.Errorf("line %d: dns forward map requires an else => ... default entry", ast.line)
	}

	return out, nil
}

func compileNameServer(ns *astNameServer, egresses map[string]*Egress) (*NameServer, error) {
	out := &NameServer{
		Remote: NameServerRemote{Network: ns.network, Addr: ns.addr},
	}

	if ns.hasSocks5 {
		out.Egress = &Egress{Kind: EgressSocks5, Socks5Addr: ns.socks5Addr}
	}

	return out, nil
}
