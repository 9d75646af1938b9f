package types

import (
	"fmt"
	"time"
)

// NetworkClass is the transport category the accounting service tracks separately.
type NetworkClass int

const (
	Cellular NetworkClass = iota
	WLAN
)

// NetworkClasses lists every class in query order.
var NetworkClasses = []NetworkClass{Cellular, WLAN}

func (c NetworkClass) String() string {
	switch c {
	case Cellular:
		return "cellular"
	case WLAN:
		return "wlan"
	}
	return fmt.Sprintf("NetworkClass(%d)", int(c))
}

// Bucket is one usage delta for a UID on a network class over [Start, End).
type Bucket struct {
	UID     int
	Class   NetworkClass
	Start   time.Time
	End     time.Time
	RxBytes uint64
	TxBytes uint64
}

// UsageRecord accumulates counters for one owner while a query runs.
type UsageRecord struct {
	UID     int
	RxBytes uint64
	TxBytes uint64
}

func (r UsageRecord) Total() uint64 {
	return r.RxBytes + r.TxBytes
}

// AppUsageInfo is a resolved per-application usage entry.
type AppUsageInfo struct {
	Package    string `json:"package"`
	Name       string `json:"name"`
	Icon       string `json:"icon,omitempty"`
	RxBytes    uint64 `json:"rx_bytes"`
	TxBytes    uint64 `json:"tx_bytes"`
	TotalBytes uint64 `json:"total_bytes"`
}

// NewAppUsageInfo fills TotalBytes from the two counters.
func NewAppUsageInfo(pkg, name, icon string, rx, tx uint64) AppUsageInfo {
	return AppUsageInfo{
		Package:    pkg,
		Name:       name,
		Icon:       icon,
		RxBytes:    rx,
		TxBytes:    tx,
		TotalBytes: rx + tx,
	}
}

// PackageInfo is one installed application known to a registry.
type PackageInfo struct {
	Package string `yaml:"package"`
	Name    string `yaml:"name"`
	UID     int    `yaml:"uid"`
	Icon    string `yaml:"icon,omitempty"`
}

type Period int

const (
	PastHour Period = iota
	Today
	Yesterday
)

var Periods = []Period{PastHour, Today, Yesterday}

func (p Period) String() string {
	switch p {
	case PastHour:
		return "past-hour"
	case Today:
		return "today"
	case Yesterday:
		return "yesterday"
	}
	return fmt.Sprintf("Period(%d)", int(p))
}

// Label is the human readable form shown in the dashboard.
func (p Period) Label() string {
	switch p {
	case PastHour:
		return "Past Hour"
	case Today:
		return "Today"
	case Yesterday:
		return "Yesterday"
	}
	return p.String()
}

func ParsePeriod(s string) (Period, error) {
	switch s {
	case "past-hour", "hour", "1h":
		return PastHour, nil
	case "today":
		return Today, nil
	case "yesterday":
		return Yesterday, nil
	}
	return 0, fmt.Errorf("unknown period %q", s)
}

// BucketIterator is a cursor over summary buckets. Callers drain it with
// Next/Bucket, check Err, and must Close it.
type BucketIterator interface {
	Next() bool
	Bucket() Bucket
	Err() error
	Close() error
}
