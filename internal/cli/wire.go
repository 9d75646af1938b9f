package cli

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/nozo-moto/datamonitor/internal/accounting"
	"github.com/nozo-moto/datamonitor/internal/config"
	"github.com/nozo-moto/datamonitor/internal/permission"
	"github.com/nozo-moto/datamonitor/internal/registry"
	"github.com/nozo-moto/datamonitor/internal/usage"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
)

const processRegistryTTL = 10 * time.Second

// services is the read side: everything needed to answer usage queries.
type services struct {
	checker    *permission.Checker
	reader     *accounting.Reader
	repository *usage.Repository
}

func newServices(cfg *config.Config, logger *log.Logger) (*services, error) {
	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	checker := permission.NewChecker(cfg.DBPath)
	reader := accounting.NewReader(cfg.DBPath)
	aggregator := usage.NewAggregator(reader, reg, checker)
	aggregator.SetLogger(logger)

	return &services{
		checker:    checker,
		reader:     reader,
		repository: usage.NewRepository(aggregator, checker),
	}, nil
}

func (s *services) Close() error {
	return s.reader.Close()
}

// buildRegistry chains the configured package sources: an explicit
// manifest first, then packages.list, then running processes.
func buildRegistry(cfg *config.Config) (registry.Chain, error) {
	var chain registry.Chain

	if cfg.ManifestPath != "" {
		m, err := registry.LoadManifest(cfg.ManifestPath)
		if err != nil {
			return nil, err
		}
		Debug("registry: %d apps from %s", m.Len(), cfg.ManifestPath)
		chain = append(chain, m)
	}

	if cfg.PackagesListPath != "" {
		m, err := registry.LoadPackagesList(cfg.PackagesListPath)
		switch {
		case err == nil:
			Debug("registry: %d packages from %s", m.Len(), cfg.PackagesListPath)
			chain = append(chain, m)
		case errors.Is(err, os.ErrNotExist):
			Debug("registry: no packages list at %s", cfg.PackagesListPath)
		default:
			return nil, err
		}
	}

	if cfg.ProcessRegistry {
		chain = append(chain, registry.NewProcessRegistry(processRegistryTTL))
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("no package registry configured: set manifest_path, packages_list_path or process_registry")
	}
	return chain, nil
}
