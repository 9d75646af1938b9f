package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type procEntry struct {
	uid  int
	name string
	exe  string
}

// ProcessRegistry treats every executable running under a UID as one of
// that UID's packages. The package id is the executable path.
type ProcessRegistry struct {
	ttl  time.Duration
	list func(ctx context.Context) ([]procEntry, error)

	mu       sync.Mutex
	loadedAt time.Time
	byUID    map[int][]string
	names    map[string]string
}

func NewProcessRegistry(ttl time.Duration) *ProcessRegistry {
	return &ProcessRegistry{
		ttl:  ttl,
		list: listProcesses,
	}
}

func listProcesses(ctx context.Context) ([]procEntry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	entries := make([]procEntry, 0, len(procs))
	for _, p := range procs {
		uids, err := p.UidsWithContext(ctx)
		if err != nil || len(uids) == 0 {
			continue
		}
		name, _ := p.NameWithContext(ctx)
		exe, _ := p.ExeWithContext(ctx)
		if name == "" && exe == "" {
			continue
		}
		entries = append(entries, procEntry{uid: int(uids[0]), name: name, exe: exe})
	}
	return entries, nil
}

func (r *ProcessRegistry) refresh(ctx context.Context) error {
	if r.byUID != nil && time.Since(r.loadedAt) < r.ttl {
		return nil
	}

	entries, err := r.list(ctx)
	if err != nil {
		return err
	}

	byUID := make(map[int][]string)
	names := make(map[string]string)
	for _, e := range entries {
		pkg := e.exe
		if pkg == "" {
			pkg = e.name
		}
		if _, seen := names[pkg]; !seen {
			byUID[e.uid] = append(byUID[e.uid], pkg)
		}
		name := e.name
		if name == "" {
			name = filepath.Base(e.exe)
		}
		names[pkg] = name
	}
	for uid := range byUID {
		sort.Strings(byUID[uid])
	}

	r.byUID = byUID
	r.names = names
	r.loadedAt = time.Now()
	return nil
}

func (r *ProcessRegistry) PackagesForUID(ctx context.Context, uid int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(ctx); err != nil {
		return nil, err
	}
	return append([]string(nil), r.byUID[uid]...), nil
}

func (r *ProcessRegistry) DisplayName(ctx context.Context, pkg string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(ctx); err != nil {
		return "", err
	}
	name, ok := r.names[pkg]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, pkg)
	}
	return name, nil
}

// Icon is always empty; processes carry no icon.
func (r *ProcessRegistry) Icon(ctx context.Context, pkg string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(ctx); err != nil {
		return "", err
	}
	if _, ok := r.names[pkg]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, pkg)
	}
	return "", nil
}
