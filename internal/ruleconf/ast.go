package ruleconf

// astBranchKind tags the variant of an unresolved parse-time branch.
type astBranchKind int

const (
	astDirect astBranchKind = iota
	astReset
	astRef // bare identifier: an egress name, resolved at compile time
	astSequential
	astConditional
)

type astBranch struct {
	kind astBranchKind
	line int

	ref string // astRef

	children []*astBranch // astSequential

	cond *astCondition // astConditional
}

type astCondKind int

const (
	astCondDomain astCondKind = iota
	astCondIPAddr
	astCondProtocol
	astCondPort
)

type astMapEntry struct {
	key    string
	branch *astBranch
}

type astCondition struct {
	kind astCondKind

	entries []astMapEntry // domain / ip / protocol

	portLiteral uint16 // port
	portBranch  *astBranch
}

type astEgressKind int

const (
	astEgressSocks5 astEgressKind = iota
	astEgressBind
)

type astEgress struct {
	kind astEgressKind
	line int
	addr string // socks5: socket address; bind: IP literal
}

type astNameServer struct {
	line        int
	network     string // "udp" or "tcp"
	addr        string
	socks5Addr  string // non-empty when tunneled through an upstream proxy
	hasSocks5   bool
}

type astRelay struct {
	line     int
	listen   string // socks5 socket address
	ruleRef  string
	resolver string // informational; resolution always goes through the DNS forwarder (see SPEC_FULL §4.6)
}

type astDNS struct {
	line    int
	listen  string
	forward map[string]*astNameServer
}

// astConfig is the full parsed-but-unresolved AST: named egresses and
// rules, plus the relay and DNS items that reference them by name.
type astConfig struct {
	egresses map[string]*astEgress
	egressOrder []string
	rules    map[string]*astBranch
	relays   []*astRelay
	dns      *astDNS
}
