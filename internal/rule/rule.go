// Package rule defines the packet filter rule model, its text encoding and the
// match predicate shared by evaluation and pattern deletion.
package rule

import "fmt"

// Verdict is the action applied to a packet.
type Verdict uint8

const (
	// Permit lets the packet through.
	Permit Verdict = iota
	// Reject drops the packet.
	Reject
)

// String returns the single-letter code used by the rule grammar.
func (v Verdict) String() string {
	switch v {
	case Permit:
		return "P"
	case Reject:
		return "R"
	default:
		return fmt.Sprintf("Verdict(%d)", uint8(v))
	}
}

// ParseVerdict decodes "P" or "R".
func ParseVerdict(s string) (Verdict, error) {
	switch s {
	case "P":
		return Permit, nil
	case "R":
		return Reject, nil
	default:
		return 0, fmt.Errorf("rule: invalid verdict %q (must be P or R): %w", s, ErrInvalidRule)
	}
}

// Protocol is the transport protocol a rule applies to.
type Protocol uint8

const (
	// Any matches every protocol. It is only meaningful on patterns.
	Any Protocol = iota
	TCP
	UDP
	ICMP
)

// String returns the single-letter code used by the rule grammar.
func (p Protocol) String() string {
	switch p {
	case Any:
		return "A"
	case TCP:
		return "T"
	case UDP:
		return "U"
	case ICMP:
		return "I"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// Endpoint is one side of a rule: an IPv4 prefix and a port.
//
// Addresses are host byte order. For concrete addresses Addr is always
// normalized (Addr&Mask == Addr). AnyAddr implies Addr == 0 and Mask == 0.
// The port is ignored for ICMP.
type Endpoint struct {
	Addr    uint32
	Mask    uint32
	Port    uint16
	AnyAddr bool
	AnyPort bool
}

// AnyEndpoint places no constraint on address or port.
var AnyEndpoint = Endpoint{AnyAddr: true, AnyPort: true}

// Host returns a concrete endpoint for a single address and port, the shape
// produced by packet classification.
func Host(addr uint32, port uint16) Endpoint {
	return Endpoint{Addr: addr, Mask: 0xffffffff, Port: port}
}

// Prefix returns an endpoint for addr/bits with the address normalized.
// bits is clamped to 0..32.
func Prefix(addr uint32, bits int, port uint16) Endpoint {
	m := MaskFromBits(bits)
	return Endpoint{Addr: addr & m, Mask: m, Port: port}
}

// WithAnyPort returns a copy of e with the port unconstrained.
func (e Endpoint) WithAnyPort() Endpoint {
	e.Port = 0
	e.AnyPort = true
	return e
}

// Rule is a stored filter rule. The same shape doubles as a packet
// descriptor, in which case Verdict is ignored and no wildcard is set.
type Rule struct {
	Verdict  Verdict
	Protocol Protocol
	Src      Endpoint
	Dst      Endpoint
}

// IsConcrete reports whether r carries no wildcard, i.e. whether it is a
// valid packet descriptor.
func (r Rule) IsConcrete() bool {
	if r.Protocol == Any {
		return false
	}
	if r.Src.AnyAddr || r.Dst.AnyAddr {
		return false
	}
	if r.Protocol != ICMP && (r.Src.AnyPort || r.Dst.AnyPort) {
		return false
	}
	return true
}

// String returns the serialized form without the trailing newline.
func (r Rule) String() string {
	s := Serialize(r)
	return s[:len(s)-1]
}

// MaskFromBits converts a prefix length to a contiguous high-order mask.
func MaskFromBits(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	if bits >= 32 {
		return 0xffffffff
	}
	return 0xffffffff << (32 - bits)
}

// MaskBits returns the number of leading one bits of mask.
func MaskBits(mask uint32) int {
	n := 0
	for mask&0x80000000 != 0 {
		n++
		mask <<= 1
	}
	return n
}
