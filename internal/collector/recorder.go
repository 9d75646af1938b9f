package collector

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nozo-moto/datamonitor/pkg/types"
	"github.com/robfig/cron"
	"golang.org/x/sync/errgroup"
)

// Source yields cumulative per-UID, per-interface counters.
type Source interface {
	Name() string
	Sample(ctx context.Context) ([]types.UIDCounter, error)
}

// BucketWriter persists recorded buckets.
type BucketWriter interface {
	Insert(ctx context.Context, buckets ...types.Bucket) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder turns periodic counter samples into usage buckets.
type Recorder struct {
	sources    []Source
	classifier *Classifier
	store      BucketWriter
	interval   time.Duration
	retention  time.Duration
	logger     *log.Logger
	now        func() time.Time

	mu       sync.Mutex
	prev     map[string]map[counterKey]types.UIDCounter
	prevTime time.Time

	crontab *cron.Cron
	cancel  context.CancelFunc
}

type RecorderConfig struct {
	Interval  time.Duration
	Retention time.Duration
	Logger    *log.Logger
}

func NewRecorder(store BucketWriter, classifier *Classifier, cfg RecorderConfig, sources ...Source) *Recorder {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Recorder{
		sources:    sources,
		classifier: classifier,
		store:      store,
		interval:   cfg.Interval,
		retention:  cfg.Retention,
		logger:     cfg.Logger,
		now:        time.Now,
		prev:       make(map[string]map[counterKey]types.UIDCounter),
	}
}

// Start primes the counters and schedules a tick every interval.
func (r *Recorder) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	if _, err := r.Tick(ctx); err != nil {
		r.logger.Printf("recorder: initial sample: %v", err)
	}

	r.crontab = cron.New()
	spec := fmt.Sprintf("@every %s", r.interval)
	err := r.crontab.AddFunc(spec, func() {
		n, err := r.Tick(ctx)
		if err != nil {
			r.logger.Printf("recorder: tick: %v", err)
			return
		}
		if n > 0 {
			r.logger.Printf("recorder: wrote %d buckets", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule recorder: %w", err)
	}
	r.crontab.Start()
	return nil
}

func (r *Recorder) Stop() {
	if r.crontab != nil {
		r.crontab.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
}

// Tick samples every source and writes the deltas since the previous tick
// as buckets covering [previous tick, now). A failed sample leaves the
// previous counters in place, so the next tick covers both intervals.
func (r *Recorder) Tick(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	samples := make([][]types.UIDCounter, len(r.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range r.sources {
		g.Go(func() error {
			counters, err := src.Sample(gctx)
			if err != nil {
				return fmt.Errorf("sample %s: %w", src.Name(), err)
			}
			samples[i] = counters
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	primed := !r.prevTime.IsZero()
	next := make(map[string]map[counterKey]types.UIDCounter, len(r.sources))
	grouped := make(map[bucketKey]*types.Bucket)
	for i, src := range r.sources {
		current := make(map[counterKey]types.UIDCounter, len(samples[i]))
		last := r.prev[src.Name()]
		for _, c := range samples[i] {
			k := counterKey{uid: c.UID, iface: c.Interface}
			current[k] = c
			if !primed {
				continue
			}
			class, ok := r.classifier.Classify(c.Interface)
			if !ok {
				continue
			}
			rx, tx := delta(last[k], c)
			if rx == 0 && tx == 0 {
				continue
			}
			bk := bucketKey{uid: c.UID, class: class}
			b, ok := grouped[bk]
			if !ok {
				b = &types.Bucket{UID: c.UID, Class: class, Start: r.prevTime, End: now}
				grouped[bk] = b
			}
			b.RxBytes += rx
			b.TxBytes += tx
		}
		next[src.Name()] = current
	}

	buckets := make([]types.Bucket, 0, len(grouped))
	for _, b := range grouped {
		buckets = append(buckets, *b)
	}
	if err := r.store.Insert(ctx, buckets...); err != nil {
		return 0, err
	}
	r.prev = next
	r.prevTime = now

	if r.retention > 0 {
		if _, err := r.store.Prune(ctx, now.Add(-r.retention)); err != nil {
			r.logger.Printf("recorder: %v", err)
		}
	}
	return len(buckets), nil
}

type bucketKey struct {
	uid   int
	class types.NetworkClass
}

// delta returns the growth of each counter. A counter that went backwards
// was reset, and everything it now holds is new traffic.
func delta(prev, cur types.UIDCounter) (uint64, uint64) {
	rx := cur.RxBytes
	if cur.RxBytes >= prev.RxBytes {
		rx = cur.RxBytes - prev.RxBytes
	}
	tx := cur.TxBytes
	if cur.TxBytes >= prev.TxBytes {
		tx = cur.TxBytes - prev.TxBytes
	}
	return rx, tx
}
