package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/nozo-moto/datamonitor/pkg/types"
)

// Repository exposes the aggregator through the fixed dashboard periods.
type Repository struct {
	aggregator *Aggregator
	permission PermissionChecker
	now        func() time.Time
}

func NewRepository(aggregator *Aggregator, permission PermissionChecker) *Repository {
	return &Repository{
		aggregator: aggregator,
		permission: permission,
		now:        time.Now,
	}
}

// SetClock overrides the time source.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Repository) HasPermission() bool {
	return r.permission.HasUsageAccess()
}

func (r *Repository) UsageForInterval(ctx context.Context, start, end time.Time) []types.AppUsageInfo {
	return r.aggregator.Query(ctx, start, end)
}

func (r *Repository) PastHourUsage(ctx context.Context) []types.AppUsageInfo {
	return r.ForPeriod(ctx, types.PastHour)
}

func (r *Repository) TodayUsage(ctx context.Context) []types.AppUsageInfo {
	return r.ForPeriod(ctx, types.Today)
}

func (r *Repository) YesterdayUsage(ctx context.Context) []types.AppUsageInfo {
	return r.ForPeriod(ctx, types.Yesterday)
}

func (r *Repository) ForPeriod(ctx context.Context, p types.Period) []types.AppUsageInfo {
	start, end, err := Interval(p, r.now())
	if err != nil {
		return nil
	}
	return r.aggregator.Query(ctx, start, end)
}

// Interval returns the [start, end) window of a period relative to now.
// Today and Yesterday follow calendar days in now's location.
func Interval(p types.Period, now time.Time) (time.Time, time.Time, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch p {
	case types.PastHour:
		return now.Add(-time.Hour), now, nil
	case types.Today:
		return midnight, now, nil
	case types.Yesterday:
		start := time.Date(now.Year(), now.Month(), now.Day()-1, 0, 0, 0, 0, now.Location())
		return start, midnight, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown period %v", p)
}
