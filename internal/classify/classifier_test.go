package classify

import (
	"net"
	"sync"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/plexsphere/myfw/internal/rule"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return buf.Bytes()
}

func ipv4(proto layers.IPProtocol, src, dst string) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
}

func tcpPacket(t *testing.T, src string, sport uint16, dst string, dport uint16) []byte {
	t.Helper()
	ip := ipv4(layers.IPProtocolTCP, src, dst)
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), SYN: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return serialize(t, ip, tcp)
}

func TestClassify_TCP(t *testing.T) {
	c := New()
	d, ok := c.Classify(tcpPacket(t, "10.0.0.17", 4444, "10.0.0.5", 80))
	if !ok {
		t.Fatal("Classify() ok = false, want true")
	}
	want := rule.Rule{
		Protocol: rule.TCP,
		Src:      rule.Host(10<<24|17, 4444),
		Dst:      rule.Host(10<<24|5, 80),
	}
	if d != want {
		t.Errorf("Classify() = %+v, want %+v", d, want)
	}
	if !d.IsConcrete() {
		t.Error("descriptor carries a wildcard")
	}
}

func TestClassify_UDP(t *testing.T) {
	c := New()
	ip := ipv4(layers.IPProtocolUDP, "192.168.1.10", "8.8.8.8")
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	d, ok := c.Classify(serialize(t, ip, udp, gopacket.Payload([]byte("query"))))
	if !ok {
		t.Fatal("Classify() ok = false, want true")
	}
	if d.Protocol != rule.UDP || d.Src.Port != 5353 || d.Dst.Port != 53 {
		t.Errorf("Classify() = %s", d)
	}
	if rule.FormatAddr(d.Dst.Addr) != "8.8.8.8" {
		t.Errorf("Dst = %s, want 8.8.8.8", rule.FormatAddr(d.Dst.Addr))
	}
}

func TestClassify_ICMP(t *testing.T) {
	c := New()
	ip := ipv4(layers.IPProtocolICMPv4, "172.16.0.1", "172.16.0.2")
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 7, Seq: 1}
	d, ok := c.Classify(serialize(t, ip, icmp))
	if !ok {
		t.Fatal("Classify() ok = false, want true")
	}
	if d.Protocol != rule.ICMP {
		t.Errorf("Protocol = %v, want ICMP", d.Protocol)
	}
	if d.Src.Port != 0 || d.Dst.Port != 0 {
		t.Errorf("ICMP descriptor has ports %d/%d", d.Src.Port, d.Dst.Port)
	}
}

func TestClassify_Unsupported(t *testing.T) {
	c := New()

	gre := serialize(t, ipv4(layers.IPProtocolGRE, "1.1.1.1", "2.2.2.2"), gopacket.Payload(make([]byte, 8)))

	ip6 := &layers.IPv6{Version: 6, NextHeader: layers.IPProtocolUDP, HopLimit: 64,
		SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::2")}
	udp := &layers.UDP{SrcPort: 1, DstPort: 2}
	if err := udp.SetNetworkLayerForChecksum(ip6); err != nil {
		t.Fatal(err)
	}
	v6 := serialize(t, ip6, udp)

	full := tcpPacket(t, "10.0.0.1", 1, "10.0.0.2", 2)
	truncated := full[:24]

	tests := []struct {
		name   string
		packet []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0x00, 0x01, 0x02}},
		{"short ipv4 header", []byte{0x45, 0x00, 0x00}},
		{"gre", gre},
		{"ipv6", v6},
		{"truncated tcp", truncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d, ok := c.Classify(tt.packet); ok {
				t.Errorf("Classify() = %+v, true; want false", d)
			}
		})
	}
}

func TestClassify_NoStaleLayers(t *testing.T) {
	c := New()
	if _, ok := c.Classify(tcpPacket(t, "10.0.0.1", 1000, "10.0.0.2", 80)); !ok {
		t.Fatal("first packet not classified")
	}
	full := tcpPacket(t, "10.0.0.3", 2000, "10.0.0.4", 443)
	if d, ok := c.Classify(full[:22]); ok {
		t.Errorf("truncated packet classified as %s using stale state", d)
	}
}

func TestClassify_Concurrent(t *testing.T) {
	c := New()
	packet := tcpPacket(t, "10.1.1.1", 1234, "10.2.2.2", 22)
	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				d, ok := c.Classify(packet)
				if !ok || d.Dst.Port != 22 {
					errs <- d.String()
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Errorf("unexpected descriptor %s", e)
	}
}

func TestAddrOf(t *testing.T) {
	if got, ok := addrOf(net.IPv4(10, 0, 0, 17).To4()); !ok || got != 0x0a000011 {
		t.Errorf("addrOf(10.0.0.17) = %#x, %v", got, ok)
	}
	if _, ok := addrOf(net.ParseIP("2001:db8::1")); ok {
		t.Error("addrOf accepted a 16-byte address")
	}
	if _, ok := addrOf(nil); ok {
		t.Error("addrOf accepted an empty address")
	}
}
