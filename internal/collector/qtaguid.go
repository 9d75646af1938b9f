package collector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nozo-moto/datamonitor/pkg/types"
	"github.com/spf13/cast"
)

// DefaultQtaguidPath is the kernel's per-UID accounting table.
const DefaultQtaguidPath = "/proc/net/xt_qtaguid/stats"

// QtaguidSource samples cumulative per-UID counters from xt_qtaguid.
type QtaguidSource struct {
	path string
}

func NewQtaguidSource(path string) *QtaguidSource {
	if path == "" {
		path = DefaultQtaguidPath
	}
	return &QtaguidSource{path: path}
}

func (qs *QtaguidSource) Name() string {
	return "qtaguid"
}

// Available reports whether the kernel exposes the table.
func (qs *QtaguidSource) Available() bool {
	_, err := os.Stat(qs.path)
	return err == nil
}

func (qs *QtaguidSource) Sample(ctx context.Context) ([]types.UIDCounter, error) {
	f, err := os.Open(qs.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", qs.path, err)
	}
	defer f.Close()
	return ParseQtaguid(f)
}

// ParseQtaguid reads the stats table. Rows carrying a socket tag duplicate
// the untagged totals and are skipped; foreground and background counter
// sets are merged.
//
//	idx iface acct_tag_hex uid_tag_int cnt_set rx_bytes rx_packets tx_bytes tx_packets ...
func ParseQtaguid(r io.Reader) ([]types.UIDCounter, error) {
	type key struct {
		uid   int
		iface string
	}

	byKey := make(map[key]*types.UIDCounter)
	var order []key

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] == "idx" {
			continue
		}
		if len(fields) < 9 {
			return nil, fmt.Errorf("line %d: expected at least 9 fields, got %d", line, len(fields))
		}

		tag, err := cast.ToUint64E(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: tag: %w", line, err)
		}
		if tag != 0 {
			continue
		}
		uid, err := cast.ToIntE(fields[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: uid: %w", line, err)
		}
		rx, err := cast.ToUint64E(fields[5])
		if err != nil {
			return nil, fmt.Errorf("line %d: rx_bytes: %w", line, err)
		}
		tx, err := cast.ToUint64E(fields[7])
		if err != nil {
			return nil, fmt.Errorf("line %d: tx_bytes: %w", line, err)
		}

		k := key{uid: uid, iface: fields[1]}
		c, ok := byKey[k]
		if !ok {
			c = &types.UIDCounter{UID: uid, Interface: fields[1]}
			byKey[k] = c
			order = append(order, k)
		}
		c.RxBytes += rx
		c.TxBytes += tx
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read qtaguid stats: %w", err)
	}

	counters := make([]types.UIDCounter, 0, len(order))
	for _, k := range order {
		counters = append(counters, *byKey[k])
	}
	return counters, nil
}
