package collector

import (
	"context"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	psnet "github.com/shirou/gopsutil/v3/net"
)

func buildTCPPacket(t *testing.T, src, dst string, sport, dport uint16, payload int) gopacket.Packet {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), ACK: true}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(make([]byte, payload))); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func newTestCapture(t *testing.T) *CaptureSource {
	t.Helper()
	table := NewSocketTable()
	table.connections = func(kind string, pid int32) ([]psnet.ConnectionStat, error) {
		return []psnet.ConnectionStat{
			{Laddr: psnet.Addr{IP: "192.168.1.20", Port: 40000}, Uids: []int32{10061}},
		}, nil
	}
	if err := table.Rescan(); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	local := map[string]struct{}{"192.168.1.20": {}}
	return NewCaptureSource([]string{"wlan0"}, local, table)
}

func TestHandlePacketAttributesDirection(t *testing.T) {
	cs := newTestCapture(t)

	out := buildTCPPacket(t, "192.168.1.20", "93.184.216.34", 40000, 443, 100)
	in := buildTCPPacket(t, "93.184.216.34", "192.168.1.20", 443, 40000, 1000)
	cs.handlePacket("wlan0", out)
	cs.handlePacket("wlan0", in)
	cs.handlePacket("wlan0", in)

	counters, err := cs.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(counters) != 1 {
		t.Fatalf("expected 1 counter, got %d", len(counters))
	}
	c := counters[0]
	if c.UID != 10061 || c.Interface != "wlan0" {
		t.Errorf("counter = %+v", c)
	}
	if c.TxBytes != uint64(len(out.Data())) {
		t.Errorf("TxBytes = %d, want %d", c.TxBytes, len(out.Data()))
	}
	if c.RxBytes != 2*uint64(len(in.Data())) {
		t.Errorf("RxBytes = %d, want %d", c.RxBytes, 2*len(in.Data()))
	}
}

func TestHandlePacketUnknownOwner(t *testing.T) {
	cs := newTestCapture(t)

	cs.handlePacket("wlan0", buildTCPPacket(t, "192.168.1.20", "1.1.1.1", 50000, 53, 10))
	cs.handlePacket("wlan0", buildTCPPacket(t, "10.9.9.9", "1.1.1.1", 40000, 53, 10))

	counters, _ := cs.Sample(context.Background())
	if len(counters) != 0 {
		t.Errorf("expected no attributed traffic, got %+v", counters)
	}
	if cs.Unattributed() != 2 {
		t.Errorf("Unattributed = %d, want 2", cs.Unattributed())
	}
}

func TestCaptureStartWithoutDevices(t *testing.T) {
	cs := NewCaptureSource(nil, nil, NewSocketTable())
	if err := cs.Start(context.Background()); err == nil {
		t.Fatal("expected error without devices")
	}
}

func TestWithPcapFilter(t *testing.T) {
	cs := NewCaptureSource([]string{"wlan0"}, nil, NewSocketTable(), WithPcapFilter("not port 22"))
	want := defaultPcapFilter + " and (not port 22)"
	if cs.filter != want {
		t.Errorf("filter = %q, want %q", cs.filter, want)
	}
}
