package usage

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/nozo-moto/datamonitor/pkg/types"
)

// AccountingService reports summary usage buckets for a network class.
type AccountingService interface {
	QuerySummary(ctx context.Context, class types.NetworkClass, start, end time.Time) (types.BucketIterator, error)
}

// PackageRegistry resolves owner UIDs to installed applications.
type PackageRegistry interface {
	PackagesForUID(ctx context.Context, uid int) ([]string, error)
	DisplayName(ctx context.Context, pkg string) (string, error)
	Icon(ctx context.Context, pkg string) (string, error)
}

// PermissionChecker reports whether usage data may be read.
type PermissionChecker interface {
	HasUsageAccess() bool
}

// Aggregator sums per-UID traffic across network classes and resolves each
// UID to an application. It keeps no state between queries.
type Aggregator struct {
	accounting AccountingService
	registry   PackageRegistry
	permission PermissionChecker
	logger     *log.Logger
}

func NewAggregator(accounting AccountingService, registry PackageRegistry, permission PermissionChecker) *Aggregator {
	return &Aggregator{
		accounting: accounting,
		registry:   registry,
		permission: permission,
		logger:     log.Default(),
	}
}

// SetLogger replaces the logger used for swallowed errors.
func (a *Aggregator) SetLogger(l *log.Logger) {
	if l != nil {
		a.logger = l
	}
}

// Query returns per-application usage in [start, end), largest total first.
//
// Missing permission, any accounting failure, or a cancelled context yields
// an empty result. Owners that cannot be resolved are dropped.
func (a *Aggregator) Query(ctx context.Context, start, end time.Time) []types.AppUsageInfo {
	if !a.permission.HasUsageAccess() {
		return nil
	}

	usage := make(map[int]*types.UsageRecord)
	for _, class := range types.NetworkClasses {
		if err := a.accumulate(ctx, class, start, end, usage); err != nil {
			a.logger.Printf("usage: %s summary failed, discarding results: %v", class, err)
			return nil
		}
	}

	result := make([]types.AppUsageInfo, 0, len(usage))
	for uid, rec := range usage {
		if ctx.Err() != nil {
			return nil
		}
		if rec.Total() == 0 {
			continue
		}
		info, ok := a.resolve(ctx, uid, rec)
		if !ok {
			continue
		}
		result = append(result, info)
	}
	if ctx.Err() != nil {
		return nil
	}

	SortByTotal(result)
	return result
}

func (a *Aggregator) accumulate(ctx context.Context, class types.NetworkClass, start, end time.Time, usage map[int]*types.UsageRecord) error {
	it, err := a.accounting.QuerySummary(ctx, class, start, end)
	if err != nil {
		return fmt.Errorf("query summary: %w", err)
	}

	for it.Next() {
		if err := ctx.Err(); err != nil {
			it.Close()
			return err
		}
		b := it.Bucket()
		rec, ok := usage[b.UID]
		if !ok {
			rec = &types.UsageRecord{UID: b.UID}
			usage[b.UID] = rec
		}
		rec.RxBytes += b.RxBytes
		rec.TxBytes += b.TxBytes
	}
	if err := it.Err(); err != nil {
		it.Close()
		return fmt.Errorf("read buckets: %w", err)
	}
	if err := it.Close(); err != nil {
		return fmt.Errorf("close buckets: %w", err)
	}
	return nil
}

// resolve maps a UID to the first of its packages in lexical order. A UID
// shared by several packages reports all of its traffic under that one.
// Any lookup failure marks the package uninstalled and drops the owner; a
// package without an icon yields an empty handle and no error.
func (a *Aggregator) resolve(ctx context.Context, uid int, rec *types.UsageRecord) (types.AppUsageInfo, bool) {
	pkgs, err := a.registry.PackagesForUID(ctx, uid)
	if err != nil || len(pkgs) == 0 {
		return types.AppUsageInfo{}, false
	}
	pkg := slices.Min(pkgs)

	name, err := a.registry.DisplayName(ctx, pkg)
	if err != nil {
		return types.AppUsageInfo{}, false
	}
	icon, err := a.registry.Icon(ctx, pkg)
	if err != nil {
		return types.AppUsageInfo{}, false
	}
	return types.NewAppUsageInfo(pkg, name, icon, rec.RxBytes, rec.TxBytes), true
}

// SortByTotal orders entries by total bytes descending. Equal totals fall
// back to package then received bytes so the order is stable across calls.
func SortByTotal(list []types.AppUsageInfo) {
	slices.SortFunc(list, func(x, y types.AppUsageInfo) int {
		if c := cmp.Compare(y.TotalBytes, x.TotalBytes); c != 0 {
			return c
		}
		if c := cmp.Compare(x.Package, y.Package); c != 0 {
			return c
		}
		return cmp.Compare(y.RxBytes, x.RxBytes)
	})
}

// TotalBytes sums the totals of a result list.
func TotalBytes(list []types.AppUsageInfo) uint64 {
	var total uint64
	for _, info := range list {
		total += info.TotalBytes
	}
	return total
}
