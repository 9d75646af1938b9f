package registry

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned for packages the registry does not know.
var ErrNotFound = errors.New("package not found")

// Registry resolves owner UIDs to installed packages.
type Registry interface {
	PackagesForUID(ctx context.Context, uid int) ([]string, error)
	DisplayName(ctx context.Context, pkg string) (string, error)
	Icon(ctx context.Context, pkg string) (string, error)
}

// Chain asks each registry in turn and returns the first useful answer.
type Chain []Registry

func (c Chain) PackagesForUID(ctx context.Context, uid int) ([]string, error) {
	var errs []error
	for _, r := range c {
		pkgs, err := r.PackagesForUID(ctx, uid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(pkgs) > 0 {
			return pkgs, nil
		}
	}
	return nil, errors.Join(errs...)
}

func (c Chain) DisplayName(ctx context.Context, pkg string) (string, error) {
	for _, r := range c {
		name, err := r.DisplayName(ctx, pkg)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, pkg)
}

func (c Chain) Icon(ctx context.Context, pkg string) (string, error) {
	for _, r := range c {
		icon, err := r.Icon(ctx, pkg)
		if err == nil {
			return icon, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, pkg)
}
