package collector

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// SocketTable maps local socket endpoints to the UID that owns them.
type SocketTable struct {
	mu     sync.RWMutex
	owners map[string]int

	connections func(kind string, pid int32) ([]psnet.ConnectionStat, error)
}

func NewSocketTable() *SocketTable {
	return &SocketTable{
		owners:      make(map[string]int),
		connections: psnet.ConnectionsPid,
	}
}

// Rescan rebuilds the table from the current socket list.
func (st *SocketTable) Rescan() error {
	connections, err := st.connections("inet", 0)
	if err != nil {
		return fmt.Errorf("failed to get connections: %w", err)
	}

	owners := make(map[string]int, len(connections))
	for _, conn := range connections {
		if len(conn.Uids) == 0 || conn.Laddr.Port == 0 {
			continue
		}
		// Real UID is the accounting identity
		owners[endpoint(conn.Laddr.IP, conn.Laddr.Port)] = int(conn.Uids[0])
	}

	st.mu.Lock()
	st.owners = owners
	st.mu.Unlock()
	return nil
}

// Lookup finds the owner of ip:port, falling back to wildcard listeners.
func (st *SocketTable) Lookup(ip string, port uint32) (int, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, candidate := range []string{ip, "0.0.0.0", "::"} {
		if uid, ok := st.owners[endpoint(candidate, port)]; ok {
			return uid, true
		}
	}
	return 0, false
}

func (st *SocketTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.owners)
}

func endpoint(ip string, port uint32) string {
	return net.JoinHostPort(ip, strconv.FormatUint(uint64(port), 10))
}
