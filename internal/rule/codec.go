package rule

import (
	"strconv"
	"strings"
)

// Field names reported in ParseError.
const (
	fieldProtocol = "protocol"
	fieldSource   = "source"
	fieldDest     = "destination"
	fieldVerdict  = "verdict"
)

// cursor walks an immutable rule string. Every read is bounds checked.
type cursor struct {
	s   string
	pos int
}

func (c *cursor) eof() bool { return c.pos >= len(c.s) }

func (c *cursor) peek() byte {
	if c.eof() {
		return 0
	}
	return c.s[c.pos]
}

func (c *cursor) fail(field, reason string) *ParseError {
	return &ParseError{Field: field, Offset: c.pos, Reason: reason}
}

func isBlank(b byte) bool { return b == ' ' || b == '\t' }

// skipBlanks consumes spaces and tabs and returns how many were skipped.
func (c *cursor) skipBlanks() int {
	start := c.pos
	for !c.eof() && isBlank(c.s[c.pos]) {
		c.pos++
	}
	return c.pos - start
}

// separator requires at least one space or tab before the next field.
func (c *cursor) separator(field string) error {
	if c.skipBlanks() == 0 {
		if c.eof() {
			return c.fail(field, "missing field")
		}
		return c.fail(field, "expected space or tab")
	}
	if c.eof() {
		return c.fail(field, "missing field")
	}
	return nil
}

func (c *cursor) expect(b byte, field string) error {
	if c.peek() != b || c.eof() {
		return c.fail(field, "expected '"+string(b)+"'")
	}
	c.pos++
	return nil
}

// number reads between 1 and maxDigits decimal digits and checks the value
// against limit.
func (c *cursor) number(field string, maxDigits int, limit uint32, what string) (uint32, error) {
	start := c.pos
	var v uint32
	for !c.eof() && c.pos-start < maxDigits {
		b := c.s[c.pos]
		if b < '0' || b > '9' {
			break
		}
		v = v*10 + uint32(b-'0')
		c.pos++
	}
	if c.pos == start {
		return 0, c.fail(field, "digit expected")
	}
	if b := c.peek(); b >= '0' && b <= '9' {
		return 0, c.fail(field, what+" has too many digits")
	}
	if v > limit {
		return 0, &ParseError{Field: field, Offset: start, Reason: what + " " + strconv.FormatUint(uint64(v), 10) + " out of range"}
	}
	return v, nil
}

// Parse decodes one rule line:
//
//	protocol WS ip/maskbits:port WS ip/maskbits:port WS verdict
//
// An 'A' address means any address, an 'A' port any port. Concrete addresses
// are masked so the stored rule is normalized. A trailing newline and
// surrounding blanks are accepted; anything else after the verdict is not.
func Parse(text string) (Rule, error) {
	c := &cursor{s: strings.TrimRight(text, " \t\r\n")}
	var r Rule

	c.skipBlanks()
	if c.eof() {
		return Rule{}, c.fail(fieldProtocol, "missing field")
	}
	switch c.peek() {
	case 'A':
		r.Protocol = Any
	case 'T':
		r.Protocol = TCP
	case 'U':
		r.Protocol = UDP
	case 'I':
		r.Protocol = ICMP
	default:
		return Rule{}, c.fail(fieldProtocol, "unknown protocol code")
	}
	c.pos++

	var err error
	if err = c.separator(fieldSource); err != nil {
		return Rule{}, err
	}
	if r.Src, err = c.endpoint(fieldSource); err != nil {
		return Rule{}, err
	}
	if err = c.separator(fieldDest); err != nil {
		return Rule{}, err
	}
	if r.Dst, err = c.endpoint(fieldDest); err != nil {
		return Rule{}, err
	}
	if err = c.separator(fieldVerdict); err != nil {
		return Rule{}, err
	}
	switch c.peek() {
	case 'P':
		r.Verdict = Permit
	case 'R':
		r.Verdict = Reject
	default:
		return Rule{}, c.fail(fieldVerdict, "unknown verdict code")
	}
	c.pos++
	if !c.eof() {
		return Rule{}, c.fail(fieldVerdict, "unexpected trailing data")
	}
	return r, nil
}

// endpoint decodes ip/maskbits:port. A wildcard address may be written as
// "A:port", "A/A:port" or "A/<bits>:port"; the mask is forced to zero.
func (c *cursor) endpoint(field string) (Endpoint, error) {
	var e Endpoint
	if c.peek() == 'A' {
		c.pos++
		e.AnyAddr = true
		if c.peek() == '/' {
			c.pos++
			if c.peek() == 'A' {
				c.pos++
			} else if _, err := c.number(field, 2, 32, "mask"); err != nil {
				return Endpoint{}, err
			}
		}
	} else {
		addr, err := c.address(field)
		if err != nil {
			return Endpoint{}, err
		}
		if err := c.expect('/', field); err != nil {
			return Endpoint{}, err
		}
		if c.peek() == 'A' {
			return Endpoint{}, c.fail(field, "wildcard mask requires wildcard address")
		}
		bits, err := c.number(field, 2, 32, "mask")
		if err != nil {
			return Endpoint{}, err
		}
		e.Mask = MaskFromBits(int(bits))
		e.Addr = addr & e.Mask
	}

	if err := c.expect(':', field); err != nil {
		return Endpoint{}, err
	}
	if c.peek() == 'A' {
		c.pos++
		e.AnyPort = true
	} else {
		port, err := c.number(field, 5, 0xffff, "port")
		if err != nil {
			return Endpoint{}, err
		}
		e.Port = uint16(port)
	}
	if !c.eof() && !isBlank(c.peek()) {
		return Endpoint{}, c.fail(field, "unexpected character after port")
	}
	return e, nil
}

// address decodes four dot separated octets.
func (c *cursor) address(field string) (uint32, error) {
	var addr uint32
	for i := 0; i < 4; i++ {
		if i > 0 {
			if err := c.expect('.', field); err != nil {
				return 0, err
			}
		}
		octet, err := c.number(field, 3, 0xff, "octet")
		if err != nil {
			return 0, err
		}
		addr = addr<<8 | octet
	}
	return addr, nil
}

// Serialize encodes r as one rule line terminated by '\n'. Parse(Serialize(r))
// equals r for every normalized rule.
func Serialize(r Rule) string {
	var b strings.Builder
	b.Grow(48)
	b.WriteString(r.Protocol.String())
	b.WriteByte(' ')
	writeEndpoint(&b, r.Src)
	b.WriteByte(' ')
	writeEndpoint(&b, r.Dst)
	b.WriteByte(' ')
	b.WriteString(r.Verdict.String())
	b.WriteByte('\n')
	return b.String()
}

func writeEndpoint(b *strings.Builder, e Endpoint) {
	if e.AnyAddr {
		b.WriteString("A/0")
	} else {
		b.WriteString(FormatAddr(e.Addr))
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(MaskBits(e.Mask)))
	}
	b.WriteByte(':')
	if e.AnyPort {
		b.WriteByte('A')
	} else {
		b.WriteString(strconv.FormatUint(uint64(e.Port), 10))
	}
}

// FormatAddr renders a host-order IPv4 address in dotted decimal.
func FormatAddr(addr uint32) string {
	var buf [15]byte
	out := buf[:0]
	for i := 3; i >= 0; i-- {
		out = strconv.AppendUint(out, uint64(addr>>(8*uint(i))&0xff), 10)
		if i > 0 {
			out = append(out, '.')
		}
	}
	return string(out)
}
