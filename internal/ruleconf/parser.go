package ruleconf

import (
	"fmt"
	"strconv"
)

// reservedWords may not name a rule or egress. Zone names (the entries
// under namezone/ and addrzone/) are not checked against this list.
var reservedWords = map[string]bool{
	"bind": true, "else": true, "socks5": true, "any": true, "cond": true,
}

// Parse tokenizes and parses the DSL source (the "config" file) into an
// unresolved AST. Name references inside branches and relay/dns blocks
// are left as bare identifiers for the compile pass in compile.go to
// resolve.
func Parse(src string) (*astConfig, error) {
	toks := lex(src)
	s := newTokenStream(toks)

	cfg := &astConfig{
		egresses: make(map[string]*astEgress),
		rules:    make(map[string]*astBranch),
	}

	for !s.atEnd() {
		kw, _ := s.next()

		switch kw.text {
		case "egress":
			name, err := parseName(s)
			if err != nil {
				return nil, err
			}

			if _, err := s.expect("="); err != nil {
				return nil, err
			}

			eg, err := parseEgressBody(s)
			if err != nil {
				return nil, err
			}

			if _, dup := cfg.egresses[name]; dup {
				return nil, fmt.Errorf("line %d: duplicate egress name %q", eg.line, name)
			}

			cfg.egresses[name] = eg
			cfg.egressOrder = append(cfg.egressOrder, name)

		case "rule":
			name, err := parseName(s)
			if err != nil {
				return nil, err
			}

			if _, err := s.expect("="); err != nil {
				return nil, err
			}

			branch, err := parseBranch(s)
			if err != nil {
				return nil, err
			}

			if _, dup := cfg.rules[name]; dup {
				return nil, fmt.Errorf("duplicate rule name %q", name)
			}

			cfg.rules[name] = branch

		case "relay":
			relay, err := parseRelay(s)
			if err != nil {
				return nil, err
			}

			cfg.relays = append(cfg.relays, relay)

		case "dns":
			if cfg.dns != nil {
				return nil, fmt.Errorf("line %d: only one dns block is allowed", kw.line)
			}

			dns, err := parseDNS(s)
			if err != nil {
				return nil, err
			}

			cfg.dns = dns

		default:
			return nil, fmt.Errorf("line %d: unexpected top-level item %q", kw.line, kw.text)
		}
	}

	return cfg, nil
}

func parseName(s *tokenStream) (string, error) {
	t, ok := s.next()
	if !ok {
		return "", fmt.Errorf("unexpected end of input, expected a name")
	}

	if reservedWords[t.text] {
		return "", fmt.Errorf("line %d: %q is reserved and cannot name a rule or egress", t.line, t.text)
	}

	return t.text, nil
}

func parseEgressBody(s *tokenStream) (*astEgress, error) {
	t, ok := s.next()
	if !ok {
		return nil, fmt.Errorf("unexpected end of input, expected egress body")
	}

	switch t.text {
	case "socks5":
		addr, ok := s.next()
		if !ok {
			return nil, fmt.Errorf("line %d: socks5 egress requires an address", t.line)
		}

		return &astEgress{kind: astEgressSocks5, line: t.line, addr: addr.text}, nil

	case "bind":
		addr, ok := s.next()
		if !ok {
			return nil, fmt.Errorf("line %d: bind egress requires an IP address", t.line)
		}

		return &astEgress{kind: astEgressBind, line: t.line, addr: addr.text}, nil

	default:
		return nil, fmt.Errorf("line %d: unknown egress kind %q", t.line, t.text)
	}
}

func parseBranch(s *tokenStream) (*astBranch, error) {
	t, ok := s.next()
	if !ok {
		return nil, fmt.Errorf("unexpected end of input, expected a branch")
	}

	switch t.text {
	case "direct":
		return &astBranch{kind: astDirect, line: t.line}, nil

	case "reset":
		return &astBranch{kind: astReset, line: t.line}, nil

	case "any":
		if _, err := s.expect("["); err != nil {
			return nil, err
		}

		var children []*astBranch

		for {
			if next, ok := s.peek(); ok && next.text == "]" {
				break
			}

			child, err := parseBranch(s)
			if err != nil {
				return nil, err
			}

			children = append(children, child)
		}

		if _, err := s.expect("]"); err != nil {
			return nil, err
		}

		return &astBranch{kind: astSequential, line: t.line, children: children}, nil

	case "cond":
		cond, err := parseCondition(s)
		if err != nil {
			return nil, err
		}

		return &astBranch{kind: astConditional, line: t.line, cond: cond}, nil

	default:
		if reservedWords[t.text] {
			return nil, fmt.Errorf("line %d: %q is reserved and cannot be used as an egress reference", t.line, t.text)
		}

		return &astBranch{kind: astRef, line: t.line, ref: t.text}, nil
	}
}

func parseCondition(s *tokenStream) (*astCondition, error) {
	t, ok := s.next()
	if !ok {
		return nil, fmt.Errorf("unexpected end of input, expected a condition")
	}

	switch t.text {
	case "domain":
		entries, err := parseMap(s)
		if err != nil {
			return nil, err
		}

		return &astCondition{kind: astCondDomain, entries: entries}, nil

	case "ip":
		entries, err := parseMap(s)
		if err != nil {
			return nil, err
		}

		return &astCondition{kind: astCondIPAddr, entries: entries}, nil

	case "protocol":
		entries, err := parseMap(s)
		if err != nil {
			return nil, err
		}

		return &astCondition{kind: astCondProtocol, entries: entries}, nil

	case "port":
		if _, err := s.expect("eq"); err != nil {
			return nil, err
		}

		numTok, ok := s.next()
		if !ok {
			return nil, fmt.Errorf("line %d: cond port requires a numeric literal", t.line)
		}

		n, err := strconv.ParseUint(numTok.text, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid port literal %q: %w", numTok.line, numTok.text, err)
		}

		if _, err := s.expect("=>"); err != nil {
			return nil, err
		}

		branch, err := parseBranch(s)
		if err != nil {
			return nil, err
		}

		return &astCondition{kind: astCondPort, portLiteral: uint16(n), portBranch: branch}, nil

	default:
		return nil, fmt.Errorf("line %d: unknown condition kind %q", t.line, t.text)
	}
}

func parseMap(s *tokenStream) ([]astMapEntry, error) {
	if _, err := s.expect("{"); err != nil {
		return nil, err
	}

	var entries []astMapEntry

	for {
		if next, ok := s.peek(); ok && next.text == "}" {
			break
		}

		key, ok := s.next()
		if !ok {
			return nil, fmt.Errorf("unexpected end of input inside map")
		}

		if _, err := s.expect("=>"); err != nil {
			return nil, err
		}

		branch, err := parseBranch(s)
		if err != nil {
			return nil, err
		}

		entries = append(entries, astMapEntry{key: key.text, branch: branch})
	}

	if _, err := s.expect("}"); err != nil {
		return nil, err
	}

	return entries, nil
}

func parseRelay(s *tokenStream) (*astRelay, error) {
	openTok, err := s.expect("{")
	if err != nil {
		return nil, err
	}

	relay := &astRelay{line: openTok.line}

	for {
		next, ok := s.peek()
		if !ok {
			return nil, fmt.Errorf("unexpected end of input inside relay block")
		}

		if next.text == "}" {
			break
		}

		key, _ := s.next()

		if _, err := s.expect("="); err != nil {
			return nil, err
		}

		switch key.text {
		case "resolver":
			v, ok := s.next()
			if !ok {
				return nil, fmt.Errorf("line %d: resolver requires a value", key.line)
			}

			relay.resolver = v.text

		case "listen":
			if _, err := s.expect("socks5"); err != nil {
				return nil, err
			}

			addr, ok := s.next()
			if !ok {
				return nil, fmt.Errorf("line %d: listen requires an address", key.line)
			}

			relay.listen = addr.text

		case "rule":
			name, err := parseName(s)
			if err != nil {
				return nil, err
			}

			relay.ruleRef = name

		default:
			return nil, fmt.Errorf("line %d: unknown relay field %q", key.line, key.text)
		}
	}

	if _, err := s.expect("}"); err != nil {
		return nil, err
	}

	if relay.listen == "" {
		return nil, fmt.Errorf("line %d: relay block requires listen = socks5 <addr>", relay.line)
	}

	if relay.ruleRef == "" {
		return nil, fmt.Errorf("line %d: relay block requires rule = <name>", relay.line)
	}

	return relay, nil
}

func parseDNS(s *tokenStream) (*astDNS, error) {
	openTok, err := s.expect("{")
	if err != nil {
		return nil, err
	}

	dns := &astDNS{line: openTok.line, forward: make(map[string]*astNameServer)}

	for {
		next, ok := s.peek()
		if !ok {
			return nil, fmt.Errorf("unexpected end of input inside dns block")
		}

		if next.text == "}" {
			break
		}

		key, _ := s.next()

		if _, err := s.expect("="); err != nil {
			return nil, err
		}

		switch key.text {
		case "listen":
			if _, err := s.expect("udp"); err != nil {
				return nil, err
			}

			addr, ok := s.next()
			if !ok {
				return nil, fmt.Errorf("line %d: listen requires an address", key.line)
			}

			dns.listen = addr.text

		case "forward":
			if err := parseForwardMap(s, dns); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("line %d: unknown dns field %q", key.line, key.text)
		}
	}

	if _, err := s.expect("}"); err != nil {
		return nil, err
	}

	if dns.listen == "" {
		return nil, fmt.Errorf("line %d: dns block requires listen = udp <addr>", dns.line)
	}

	return dns, nil
}

func parseForwardMap(s *tokenStream, dns *astDNS) error {
	if _, err := s.expect("{"); err != nil {
		return err
	}

	for {
		next, ok := s.peek()
		if !ok {
			return fmt.Errorf("unexpected end of input inside forward map")
		}

		if next.text == "}" {
			break
		}

		region, _ := s.next()

		if _, err := s.expect("=>"); err != nil {
			return err
		}

		ns, err := parseNameServer(s)
		if err != nil {
			return err
		}

		if _, dup := dns.forward[region.text]; dup {
			return fmt.Errorf("line %d: duplicate forward region %q", region.line, region.text)
		}

		dns.forward[region.text] = ns
	}

	_, err := s.expect("}")

	return err
}

func parseNameServer(s *tokenStream) (*astNameServer, error) {
	t, ok := s.next()
	if !ok {
		return nil, fmt.Errorf("unexpected end of input, expected a nameserver")
	}

	ns := &astNameServer{line: t.line}

	if t.text == "socks5" {
		addr, ok := s.next()
		if !ok {
			return nil, fmt.Errorf("line %d: socks5 nameserver egress requires an address", t.line)
		}

		ns.socks5Addr = addr.text
		ns.hasSocks5 = true

		t, ok = s.next()
		if !ok {
			return nil, fmt.Errorf("unexpected end of input, expected udp/tcp after socks5 address")
		}
	}

	switch t.text {
	case "udp", "tcp":
		ns.network = t.text
	default:
		return nil, fmt.Errorf("line %d: expected udp or tcp, got %q", t.line, t.text)
	}

	addr, ok := s.next()
	if !ok {
		return nil, fmt.Errorf("line %d: nameserver requires an address", t.line)
	}

	ns.addr = addr.text

	return ns, nil
}
