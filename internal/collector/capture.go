package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/nozo-moto/datamonitor/pkg/types"
)

const (
	defaultSnapLen      int32 = 128
	defaultRescanPeriod       = 2 * time.Second
	defaultPcapFilter         = "(tcp or udp) and not broadcast and not multicast"
)

type counterKey struct {
	uid   int
	iface string
}

// CaptureSource attributes captured packet lengths to the UID owning the
// local end of each flow. Used where the kernel has no per-UID accounting.
type CaptureSource struct {
	devices  []string
	table    *SocketTable
	filter   string
	snapLen  int32
	rescan   time.Duration
	localIPs map[string]struct{}
	logger   *log.Logger

	mu       sync.Mutex
	counters map[counterKey]*types.UIDCounter
	dropped  uint64

	openLive func(device string, snaplen int32, promisc bool, timeout time.Duration) (*pcap.Handle, error)
}

type CaptureOption func(*CaptureSource)

// WithPcapFilter narrows the capture, e.g. "not port 22".
func WithPcapFilter(filter string) CaptureOption {
	return func(cs *CaptureSource) {
		if filter != "" {
			cs.filter = fmt.Sprintf("%s and (%s)", defaultPcapFilter, filter)
		}
	}
}

func WithRescanInterval(d time.Duration) CaptureOption {
	return func(cs *CaptureSource) {
		if d > 0 {
			cs.rescan = d
		}
	}
}

func WithCaptureLogger(l *log.Logger) CaptureOption {
	return func(cs *CaptureSource) {
		if l != nil {
			cs.logger = l
		}
	}
}

func NewCaptureSource(devices []string, localIPs map[string]struct{}, table *SocketTable, opts ...CaptureOption) *CaptureSource {
	cs := &CaptureSource{
		devices:  devices,
		table:    table,
		filter:   defaultPcapFilter,
		snapLen:  defaultSnapLen,
		rescan:   defaultRescanPeriod,
		localIPs: localIPs,
		logger:   log.Default(),
		counters: make(map[counterKey]*types.UIDCounter),
		openLive: pcap.OpenLive,
	}
	for _, opt := range opts {
		opt(cs)
	}
	return cs
}

func (cs *CaptureSource) Name() string {
	return "capture"
}

// Start opens a live capture on every device and keeps the socket table
// fresh until ctx is done.
func (cs *CaptureSource) Start(ctx context.Context) error {
	if len(cs.devices) == 0 {
		return errors.New("no capture devices")
	}
	if err := cs.table.Rescan(); err != nil {
		return err
	}

	handles := make([]*pcap.Handle, 0, len(cs.devices))
	for _, dev := range cs.devices {
		handle, err := cs.openLive(dev, cs.snapLen, false, time.Second)
		if err != nil {
			closeHandles(handles)
			return fmt.Errorf("open capture on %s: %w", dev, err)
		}
		if err := handle.SetBPFFilter(cs.filter); err != nil {
			handle.Close()
			closeHandles(handles)
			return fmt.Errorf("set filter on %s: %w", dev, err)
		}
		handles = append(handles, handle)
	}

	for i, handle := range handles {
		go cs.captureDevice(ctx, cs.devices[i], handle)
	}
	go cs.rescanLoop(ctx)
	return nil
}

func closeHandles(handles []*pcap.Handle) {
	for _, h := range handles {
		h.Close()
	}
}

func (cs *CaptureSource) captureDevice(ctx context.Context, dev string, handle *pcap.Handle) {
	defer handle.Close()

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	source.NoCopy = true
	packets := source.Packets()

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				cs.logger.Printf("capture: %s closed", dev)
				return
			}
			cs.handlePacket(dev, pkt)
		}
	}
}

func (cs *CaptureSource) rescanLoop(ctx context.Context) {
	ticker := time.NewTicker(cs.rescan)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cs.table.Rescan(); err != nil {
				cs.logger.Printf("capture: rescan sockets: %v", err)
			}
		}
	}
}

func (cs *CaptureSource) handlePacket(dev string, pkt gopacket.Packet) {
	var srcIP, dstIP net.IP
	switch nl := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		srcIP, dstIP = nl.SrcIP, nl.DstIP
	case *layers.IPv6:
		srcIP, dstIP = nl.SrcIP, nl.DstIP
	default:
		return
	}

	var srcPort, dstPort uint32
	switch tl := pkt.TransportLayer().(type) {
	case *layers.TCP:
		srcPort, dstPort = uint32(tl.SrcPort), uint32(tl.DstPort)
	case *layers.UDP:
		srcPort, dstPort = uint32(tl.SrcPort), uint32(tl.DstPort)
	default:
		return
	}

	length := uint64(pkt.Metadata().Length)
	if length == 0 {
		length = uint64(len(pkt.Data()))
	}

	src, dst := srcIP.String(), dstIP.String()
	if _, ok := cs.localIPs[src]; ok {
		if uid, ok := cs.table.Lookup(src, srcPort); ok {
			cs.add(uid, dev, 0, length)
			return
		}
	}
	if _, ok := cs.localIPs[dst]; ok {
		if uid, ok := cs.table.Lookup(dst, dstPort); ok {
			cs.add(uid, dev, length, 0)
			return
		}
	}

	cs.mu.Lock()
	cs.dropped++
	cs.mu.Unlock()
}

func (cs *CaptureSource) add(uid int, dev string, rx, tx uint64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	k := counterKey{uid: uid, iface: dev}
	c, ok := cs.counters[k]
	if !ok {
		c = &types.UIDCounter{UID: uid, Interface: dev}
		cs.counters[k] = c
	}
	c.RxBytes += rx
	c.TxBytes += tx
}

// Sample returns a copy of the cumulative counters.
func (cs *CaptureSource) Sample(ctx context.Context) ([]types.UIDCounter, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	out := make([]types.UIDCounter, 0, len(cs.counters))
	for _, c := range cs.counters {
		out = append(out, *c)
	}
	return out, nil
}

// Unattributed counts packets whose local socket had no known owner.
func (cs *CaptureSource) Unattributed() uint64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.dropped
}
