package registry

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/nozo-moto/datamonitor/pkg/types"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk application list.
//
//	apps:
//	  - package: org.mozilla.firefox
//	    name: Firefox
//	    uid: 10061
//	    icon: /usr/share/icons/firefox.png
type Manifest struct {
	Apps []types.PackageInfo `yaml:"apps"`
}

// ManifestRegistry serves package lookups from a static application list.
type ManifestRegistry struct {
	mu       sync.RWMutex
	byUID    map[int][]string
	packages map[string]types.PackageInfo
}

func NewManifestRegistry(apps []types.PackageInfo) *ManifestRegistry {
	r := &ManifestRegistry{}
	r.Replace(apps)
	return r
}

// LoadManifest reads a YAML manifest file.
func LoadManifest(path string) (*ManifestRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	for i, app := range m.Apps {
		if app.Package == "" {
			return nil, fmt.Errorf("parse manifest %s: app %d has no package", path, i)
		}
	}
	return NewManifestRegistry(m.Apps), nil
}

// LoadPackagesList reads an Android style packages.list, one
// "<package> <uid> <debuggable> <data dir> ..." entry per line.
func LoadPackagesList(path string) (*ManifestRegistry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open packages list: %w", err)
	}
	defer f.Close()

	apps, err := ParsePackagesList(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return NewManifestRegistry(apps), nil
}

func ParsePackagesList(r io.Reader) ([]types.PackageInfo, error) {
	var apps []types.PackageInfo
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: missing uid", line)
		}
		uid, err := cast.ToIntE(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: uid: %w", line, err)
		}
		apps = append(apps, types.PackageInfo{Package: fields[0], Name: fields[0], UID: uid})
	}
	return apps, scanner.Err()
}

// Replace swaps the application list, e.g. after the manifest changed.
func (r *ManifestRegistry) Replace(apps []types.PackageInfo) {
	byUID := make(map[int][]string)
	packages := make(map[string]types.PackageInfo, len(apps))
	for _, app := range apps {
		if app.Name == "" {
			app.Name = app.Package
		}
		if _, dup := packages[app.Package]; dup {
			continue
		}
		byUID[app.UID] = append(byUID[app.UID], app.Package)
		packages[app.Package] = app
	}
	for uid := range byUID {
		sort.Strings(byUID[uid])
	}

	r.mu.Lock()
	r.byUID = byUID
	r.packages = packages
	r.mu.Unlock()
}

func (r *ManifestRegistry) PackagesForUID(ctx context.Context, uid int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.byUID[uid]...), nil
}

func (r *ManifestRegistry) DisplayName(ctx context.Context, pkg string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.packages[pkg]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, pkg)
	}
	return app.Name, nil
}

func (r *ManifestRegistry) Icon(ctx context.Context, pkg string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.packages[pkg]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, pkg)
	}
	return app.Icon, nil
}

// Len returns the number of known packages.
func (r *ManifestRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.packages)
}
