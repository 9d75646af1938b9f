package collector

import (
	"fmt"
	"time"

	"github.com/nozo-moto/datamonitor/pkg/types"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// InterfaceCollector reports device-wide counters per network class.
type InterfaceCollector struct {
	classifier *Classifier
	ioCounters func(pernic bool) ([]psnet.IOCountersStat, error)
	interfaces func() (psnet.InterfaceStatList, error)
}

func NewInterfaceCollector(classifier *Classifier) *InterfaceCollector {
	return &InterfaceCollector{
		classifier: classifier,
		ioCounters: psnet.IOCounters,
		interfaces: psnet.Interfaces,
	}
}

func (ic *InterfaceCollector) Collect() (*types.DeviceTotals, error) {
	counters, err := ic.ioCounters(true)
	if err != nil {
		return nil, fmt.Errorf("failed to get network counters: %w", err)
	}

	totals := &types.DeviceTotals{
		ByClass:   make(map[types.NetworkClass]types.UsageRecord),
		Timestamp: time.Now(),
	}

	for _, counter := range counters {
		class, ok := ic.classifier.Classify(counter.Name)
		if !ok {
			continue
		}

		totals.Interfaces = append(totals.Interfaces, types.InterfaceStats{
			Interface: counter.Name,
			Class:     class,
			BytesRecv: counter.BytesRecv,
			BytesSent: counter.BytesSent,
		})

		rec := totals.ByClass[class]
		rec.RxBytes += counter.BytesRecv
		rec.TxBytes += counter.BytesSent
		totals.ByClass[class] = rec
	}

	return totals, nil
}

// ActiveInterfaces returns the names of up interfaces that belong to a
// network class, suitable as capture devices.
func (ic *InterfaceCollector) ActiveInterfaces() ([]string, error) {
	interfaces, err := ic.interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var active []string
	for _, iface := range interfaces {
		if _, ok := ic.classifier.Classify(iface.Name); !ok {
			continue
		}
		if !hasFlag(iface.Flags, "up") {
			continue
		}
		active = append(active, iface.Name)
	}

	return active, nil
}

// LocalAddrs returns every address assigned to a local interface.
func (ic *InterfaceCollector) LocalAddrs() (map[string]struct{}, error) {
	interfaces, err := ic.interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	addrs := make(map[string]struct{})
	for _, iface := range interfaces {
		for _, a := range iface.Addrs {
			addrs[stripPrefix(a.Addr)] = struct{}{}
		}
	}
	return addrs, nil
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// stripPrefix turns "192.168.1.2/24" into "192.168.1.2".
func stripPrefix(cidr string) string {
	for i := 0; i < len(cidr); i++ {
		if cidr[i] == '/' {
			return cidr[:i]
		}
	}
	return cidr
}
