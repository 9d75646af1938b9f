package ui

import (
	"context"

	"github.com/nozo-moto/datamonitor/internal/usage"
	"github.com/nozo-moto/datamonitor/pkg/format"
	"github.com/nozo-moto/datamonitor/pkg/types"
)

const tilePlaceholder = "Data: --"

// TileLabel is the one-line status summary of today's usage.
func TileLabel(ctx context.Context, src UsageSource) string {
	if !src.HasPermission() {
		return tilePlaceholder
	}
	list := src.ForPeriod(ctx, types.Today)
	if ctx.Err() != nil {
		return tilePlaceholder
	}
	return "Data: " + format.Bytes(usage.TotalBytes(list))
}
