// Package classify turns raw IPv4 packets into rule descriptors.
package classify

import (
	"encoding/binary"
	"sync"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/plexsphere/myfw/internal/rule"
)

// decoder holds preallocated layers for one packet at a time.
type decoder struct {
	ip4     layers.IPv4
	tcp     layers.TCP
	udp     layers.UDP
	icmp4   layers.ICMPv4
	payload gopacket.Payload
	decoded []gopacket.LayerType
	parser  *gopacket.DecodingLayerParser
}

// Classifier extracts descriptors from packets that start at the IPv4 header,
// which is what the NFQUEUE hook delivers. It is safe for concurrent use.
type Classifier struct {
	decoders sync.Pool
}

// New returns a Classifier.
func New() *Classifier {
	c := &Classifier{}
	c.decoders.New = func() any {
		d := &decoder{decoded: make([]gopacket.LayerType, 0, 4)}
		d.parser = gopacket.NewDecodingLayerParser(
			layers.LayerTypeIPv4,
			&d.ip4, &d.tcp, &d.udp, &d.icmp4, &d.payload,
		)
		d.parser.IgnoreUnsupported = true
		return d
	}
	return c
}

// Classify returns the descriptor for packet. ok is false for anything the
// engine does not evaluate: non-IPv4 traffic, protocols other than TCP, UDP
// and ICMP, fragments without a transport header, and malformed headers.
// Callers treat !ok as an implicit accept.
func (c *Classifier) Classify(packet []byte) (d rule.Rule, ok bool) {
	if len(packet) == 0 || packet[0]>>4 != 4 {
		return rule.Rule{}, false
	}

	dec := c.decoders.Get().(*decoder)
	defer c.decoders.Put(dec)

	// Errors are expected for truncated copies; the layers decoded before
	// the failure are still usable.
	_ = dec.parser.DecodeLayers(packet, &dec.decoded)

	var haveIP, haveTCP, haveUDP bool
	for _, lt := range dec.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			haveIP = true
		case layers.LayerTypeTCP:
			haveTCP = true
		case layers.LayerTypeUDP:
			haveUDP = true
		}
	}
	if !haveIP {
		return rule.Rule{}, false
	}

	src, okSrc := addrOf(dec.ip4.SrcIP)
	dst, okDst := addrOf(dec.ip4.DstIP)
	if !okSrc || !okDst {
		return rule.Rule{}, false
	}

	switch dec.ip4.Protocol {
	case layers.IPProtocolTCP:
		if !haveTCP {
			return rule.Rule{}, false
		}
		return rule.Rule{
			Protocol: rule.TCP,
			Src:      rule.Host(src, uint16(dec.tcp.SrcPort)),
			Dst:      rule.Host(dst, uint16(dec.tcp.DstPort)),
		}, true
	case layers.IPProtocolUDP:
		if !haveUDP {
			return rule.Rule{}, false
		}
		return rule.Rule{
			Protocol: rule.UDP,
			Src:      rule.Host(src, uint16(dec.udp.SrcPort)),
			Dst:      rule.Host(dst, uint16(dec.udp.DstPort)),
		}, true
	case layers.IPProtocolICMPv4:
		return rule.Rule{
			Protocol: rule.ICMP,
			Src:      rule.Host(src, 0),
			Dst:      rule.Host(dst, 0),
		}, true
	default:
		return rule.Rule{}, false
	}
}

// addrOf converts a decoded IPv4 address to host byte order.
func addrOf(ip []byte) (uint32, bool) {
	if len(ip) == 4 {
		return binary.BigEndian.Uint32(ip), true
	}
	return 0, false
}
