package ui

import (
	"context"
	"strings"

	"github.com/nozo-moto/datamonitor/internal/usage"
	"github.com/nozo-moto/datamonitor/pkg/types"
)

// UsageSource is what the dashboard reads usage from.
type UsageSource interface {
	HasPermission() bool
	ForPeriod(ctx context.Context, p types.Period) []types.AppUsageInfo
}

// State is the dashboard model. It is only touched from the UI goroutine.
type State struct {
	Loading       bool
	Usage         []types.AppUsageInfo
	TotalBytes    uint64
	HasPermission bool
	Period        types.Period
	Filter        string

	generation uint64
}

func NewState() *State {
	return &State{Period: types.Today}
}

// BeginLoad marks a load for period p as started and returns its
// generation. Older generations are ignored by FinishLoad.
func (s *State) BeginLoad(p types.Period) uint64 {
	s.generation++
	s.Period = p
	s.Loading = true
	return s.generation
}

// FinishLoad applies a load result. It reports false for stale results.
func (s *State) FinishLoad(gen uint64, hasPermission bool, list []types.AppUsageInfo) bool {
	if gen != s.generation {
		return false
	}
	s.Loading = false
	s.HasPermission = hasPermission
	if !hasPermission {
		list = nil
	}
	s.Usage = list
	s.TotalBytes = usage.TotalBytes(list)
	return true
}

// Visible returns the usage rows matching the filter, in ranking order.
func (s *State) Visible() []types.AppUsageInfo {
	if s.Filter == "" {
		return s.Usage
	}
	needle := strings.ToLower(s.Filter)
	var out []types.AppUsageInfo
	for _, app := range s.Usage {
		if strings.Contains(strings.ToLower(app.Name), needle) ||
			strings.Contains(strings.ToLower(app.Package), needle) {
			out = append(out, app)
		}
	}
	return out
}

// Share returns app's fraction of the period total.
func (s *State) Share(app types.AppUsageInfo) float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(app.TotalBytes) / float64(s.TotalBytes)
}

func bar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
