//go:build !linux
// +build !linux

package collector

import "errors"

// ResourceLimiter is a no-op outside Linux
type ResourceLimiter struct{}

// LimitResources fails when limits are requested on non-Linux platforms
func LimitResources(name string, cpuCores float64, memMB int) (*ResourceLimiter, error) {
	if cpuCores <= 0 && memMB <= 0 {
		return &ResourceLimiter{}, nil
	}
	return nil, errors.New("resource limits are only supported on Linux")
}

func (l *ResourceLimiter) Release() error {
	return nil
}
