package accounting

import (
	"context"
	"sync"
	"time"

	"github.com/nozo-moto/datamonitor/pkg/types"
)

// Reader opens the usage database read-only on first use. A dashboard
// started before the recorder picks the database up once it exists.
type Reader struct {
	path string

	mu    sync.Mutex
	store *Store
}

func NewReader(path string) *Reader {
	return &Reader{path: path}
}

func (r *Reader) open() (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		return r.store, nil
	}
	s, err := OpenReadOnly(r.path)
	if err != nil {
		return nil, err
	}
	r.store = s
	return s, nil
}

func (r *Reader) QuerySummary(ctx context.Context, class types.NetworkClass, start, end time.Time) (types.BucketIterator, error) {
	s, err := r.open()
	if err != nil {
		return nil, err
	}
	return s.QuerySummary(ctx, class, start, end)
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}
