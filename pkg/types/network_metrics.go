package types

import "time"

// InterfaceStats contains cumulative device counters for one interface
type InterfaceStats struct {
	Interface string
	Class     NetworkClass
	BytesRecv uint64
	BytesSent uint64
}

// DeviceTotals sums interface counters per network class
type DeviceTotals struct {
	Interfaces []InterfaceStats
	ByClass    map[NetworkClass]UsageRecord
	Timestamp  time.Time
}

// UIDCounter is a cumulative per-UID counter on a single interface
type UIDCounter struct {
	UID       int
	Interface string
	RxBytes   uint64
	TxBytes   uint64
}
