package usage

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/nozo-moto/datamonitor/pkg/types"
)

type fakeIterator struct {
	buckets  []types.Bucket
	pos      int
	err      error
	closeErr error
	closed   int
}

func (it *fakeIterator) Next() bool {
	if it.pos >= len(it.buckets) {
		return false
	}
	it.pos++
	return true
}

func (it *fakeIterator) Bucket() types.Bucket { return it.buckets[it.pos-1] }
func (it *fakeIterator) Err() error           { return it.err }
func (it *fakeIterator) Close() error {
	it.closed++
	return it.closeErr
}

type fakeAccounting struct {
	buckets  map[types.NetworkClass][]types.Bucket
	queryErr map[types.NetworkClass]error
	iterErr  map[types.NetworkClass]error
	closeErr map[types.NetworkClass]error
	opened   []*fakeIterator
}

func (f *fakeAccounting) QuerySummary(ctx context.Context, class types.NetworkClass, start, end time.Time) (types.BucketIterator, error) {
	if err := f.queryErr[class]; err != nil {
		return nil, err
	}
	it := &fakeIterator{
		buckets:  f.buckets[class],
		err:      f.iterErr[class],
		closeErr: f.closeErr[class],
	}
	f.opened = append(f.opened, it)
	return it, nil
}

type fakeRegistry struct {
	packages map[int][]string
	names    map[string]string
	icons    map[string]string
	// iconErrs lists installed packages whose icon cannot be loaded.
	iconErrs map[string]error
}

var errNotInstalled = errors.New("not installed")

func (r *fakeRegistry) PackagesForUID(ctx context.Context, uid int) ([]string, error) {
	return r.packages[uid], nil
}

func (r *fakeRegistry) DisplayName(ctx context.Context, pkg string) (string, error) {
	name, ok := r.names[pkg]
	if !ok {
		return "", errNotInstalled
	}
	return name, nil
}

func (r *fakeRegistry) Icon(ctx context.Context, pkg string) (string, error) {
	if err := r.iconErrs[pkg]; err != nil {
		return "", err
	}
	if _, ok := r.names[pkg]; !ok {
		return "", errNotInstalled
	}
	return r.icons[pkg], nil
}

type fakePermission bool

func (p fakePermission) HasUsageAccess() bool { return bool(p) }

func newTestAggregator(acc *fakeAccounting, reg *fakeRegistry, granted bool) *Aggregator {
	a := NewAggregator(acc, reg, fakePermission(granted))
	a.SetLogger(log.New(io.Discard, "", 0))
	return a
}

func bucket(uid int, class types.NetworkClass, rx, tx uint64) types.Bucket {
	return types.Bucket{UID: uid, Class: class, RxBytes: rx, TxBytes: tx}
}

var (
	testStart = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	testEnd   = testStart.Add(time.Hour)
)

func TestQuerySumsAcrossClasses(t *testing.T) {
	acc := &fakeAccounting{
		buckets: map[types.NetworkClass][]types.Bucket{
			types.Cellular: {bucket(1001, types.Cellular, 500, 200)},
			types.WLAN:     {bucket(1001, types.WLAN, 300, 0)},
		},
	}
	reg := &fakeRegistry{
		packages: map[int][]string{1001: {"com.example.app"}},
		names:    map[string]string{"com.example.app": "Example"},
		icons:    map[string]string{"com.example.app": "example.png"},
	}

	got := newTestAggregator(acc, reg, true).Query(context.Background(), testStart, testEnd)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d: %+v", len(got), got)
	}
	want := types.AppUsageInfo{
		Package:    "com.example.app",
		Name:       "Example",
		Icon:       "example.png",
		RxBytes:    800,
		TxBytes:    200,
		TotalBytes: 1000,
	}
	if got[0] != want {
		t.Errorf("entry = %+v, want %+v", got[0], want)
	}
	for i, it := range acc.opened {
		if it.closed != 1 {
			t.Errorf("iterator %d closed %d times, want 1", i, it.closed)
		}
	}
}

func TestQueryAccumulatesRepeatedBuckets(t *testing.T) {
	acc := &fakeAccounting{
		buckets: map[types.NetworkClass][]types.Bucket{
			types.Cellular: {
				bucket(10, types.Cellular, 1, 2),
				bucket(10, types.Cellular, 3, 4),
				bucket(20, types.Cellular, 100, 0),
			},
			types.WLAN: {
				bucket(10, types.WLAN, 5, 6),
				bucket(20, types.WLAN, 0, 50),
			},
		},
	}
	reg := &fakeRegistry{
		packages: map[int][]string{10: {"a"}, 20: {"b"}},
		names:    map[string]string{"a": "A", "b": "B"},
	}

	got := newTestAggregator(acc, reg, true).Query(context.Background(), testStart, testEnd)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Package != "b" || got[0].TotalBytes != 150 {
		t.Errorf("first = %+v, want b with 150", got[0])
	}
	if got[1].Package != "a" || got[1].RxBytes != 9 || got[1].TxBytes != 12 || got[1].TotalBytes != 21 {
		t.Errorf("second = %+v, want a rx=9 tx=12", got[1])
	}
}

func TestQueryDropsZeroAndUnresolved(t *testing.T) {
	acc := &fakeAccounting{
		buckets: map[types.NetworkClass][]types.Bucket{
			types.Cellular: {
				bucket(1, types.Cellular, 0, 0),
				bucket(2, types.Cellular, 10, 10),
				bucket(3, types.Cellular, 70, 0),
				bucket(4, types.Cellular, 5, 5),
			},
		},
	}
	reg := &fakeRegistry{
		packages: map[int][]string{
			1: {"zero"},
			2: {}, // no packages
			3: {"gone"},
			4: {"ok"},
		},
		names: map[string]string{"zero": "Zero", "ok": "OK"},
		icons: map[string]string{"ok": "icon://ok"},
	}

	got := newTestAggregator(acc, reg, true).Query(context.Background(), testStart, testEnd)
	if len(got) != 1 || got[0].Package != "ok" {
		t.Fatalf("got %+v, want only package ok", got)
	}
	if got[0].Icon != "icon://ok" {
		t.Errorf("Icon = %q, want icon://ok", got[0].Icon)
	}
}

func TestQueryDropsOwnerWhenIconLookupFails(t *testing.T) {
	acc := &fakeAccounting{
		buckets: map[types.NetworkClass][]types.Bucket{
			types.Cellular: {bucket(7, types.Cellular, 100, 0)},
			types.WLAN:     {bucket(8, types.WLAN, 10, 0)},
		},
	}
	reg := &fakeRegistry{
		packages: map[int][]string{7: {"com.gone"}, 8: {"com.plain"}},
		names:    map[string]string{"com.gone": "Gone", "com.plain": "Plain"},
		iconErrs: map[string]error{"com.gone": errNotInstalled},
	}

	got := newTestAggregator(acc, reg, true).Query(context.Background(), testStart, testEnd)
	if len(got) != 1 {
		t.Fatalf("got %+v, want only com.plain", got)
	}
	if got[0].Package != "com.plain" || got[0].Icon != "" {
		t.Errorf("entry = %+v, want com.plain without an icon", got[0])
	}
}

func TestQueryPicksFirstPackageDeterministically(t *testing.T) {
	acc := &fakeAccounting{
		buckets: map[types.NetworkClass][]types.Bucket{
			types.WLAN: {bucket(1000, types.WLAN, 40, 2)},
		},
	}
	reg := &fakeRegistry{
		packages: map[int][]string{1000: {"com.shared.z", "com.shared.a", "com.shared.m"}},
		names: map[string]string{
			"com.shared.a": "Shared A",
			"com.shared.m": "Shared M",
			"com.shared.z": "Shared Z",
		},
	}

	agg := newTestAggregator(acc, reg, true)
	for i := 0; i < 3; i++ {
		got := agg.Query(context.Background(), testStart, testEnd)
		if len(got) != 1 || got[0].Package != "com.shared.a" {
			t.Fatalf("run %d: got %+v, want com.shared.a", i, got)
		}
	}
}

func TestQueryWithoutPermission(t *testing.T) {
	acc := &fakeAccounting{
		buckets: map[types.NetworkClass][]types.Bucket{
			types.Cellular: {bucket(1, types.Cellular, 1, 1)},
		},
	}
	reg := &fakeRegistry{packages: map[int][]string{1: {"a"}}, names: map[string]string{"a": "A"}}

	got := newTestAggregator(acc, reg, false).Query(context.Background(), testStart, testEnd)
	if len(got) != 0 {
		t.Errorf("expected empty result without permission, got %+v", got)
	}
	if len(acc.opened) != 0 {
		t.Errorf("accounting queried %d times without permission", len(acc.opened))
	}
}

func TestQueryAbortsOnAccountingFailure(t *testing.T) {
	denied := errors.New("security: access denied")
	cellular := []types.Bucket{bucket(1, types.Cellular, 100, 100)}
	reg := &fakeRegistry{packages: map[int][]string{1: {"a"}}, names: map[string]string{"a": "A"}}

	tests := []struct {
		name string
		acc  *fakeAccounting
	}{
		{
			name: "open fails on second class",
			acc: &fakeAccounting{
				buckets:  map[types.NetworkClass][]types.Bucket{types.Cellular: cellular},
				queryErr: map[types.NetworkClass]error{types.WLAN: denied},
			},
		},
		{
			name: "open fails on first class",
			acc: &fakeAccounting{
				buckets:  map[types.NetworkClass][]types.Bucket{types.WLAN: cellular},
				queryErr: map[types.NetworkClass]error{types.Cellular: denied},
			},
		},
		{
			name: "iteration fails",
			acc: &fakeAccounting{
				buckets: map[types.NetworkClass][]types.Bucket{types.Cellular: cellular},
				iterErr: map[types.NetworkClass]error{types.WLAN: io.ErrUnexpectedEOF},
			},
		},
		{
			name: "close fails",
			acc: &fakeAccounting{
				buckets:  map[types.NetworkClass][]types.Bucket{types.Cellular: cellular},
				closeErr: map[types.NetworkClass]error{types.Cellular: io.ErrClosedPipe},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestAggregator(tt.acc, reg, true).Query(context.Background(), testStart, testEnd)
			if len(got) != 0 {
				t.Errorf("expected empty result, got %+v", got)
			}
			for i, it := range tt.acc.opened {
				if it.closed != 1 {
					t.Errorf("iterator %d closed %d times, want 1", i, it.closed)
				}
			}
		})
	}
}

func TestQueryCancelledContext(t *testing.T) {
	acc := &fakeAccounting{
		buckets: map[types.NetworkClass][]types.Bucket{
			types.Cellular: {bucket(1, types.Cellular, 1, 1)},
		},
	}
	reg := &fakeRegistry{packages: map[int][]string{1: {"a"}}, names: map[string]string{"a": "A"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := newTestAggregator(acc, reg, true).Query(ctx, testStart, testEnd)
	if len(got) != 0 {
		t.Errorf("expected empty result for cancelled context, got %+v", got)
	}
}

func TestQueryOrderingAndIdempotence(t *testing.T) {
	var cellular, wlan []types.Bucket
	packages := map[int][]string{}
	names := map[string]string{}
	for uid := 1; uid <= 40; uid++ {
		pkg := "pkg." + string(rune('a'+uid%26)) + string(rune('a'+uid/26))
		packages[uid] = []string{pkg}
		names[pkg] = pkg
		cellular = append(cellular, bucket(uid, types.Cellular, uint64(uid*7%13), uint64(uid%5)))
		wlan = append(wlan, bucket(uid, types.WLAN, uint64(uid%3)*100, 0))
	}
	acc := &fakeAccounting{
		buckets: map[types.NetworkClass][]types.Bucket{types.Cellular: cellular, types.WLAN: wlan},
	}
	agg := newTestAggregator(acc, &fakeRegistry{packages: packages, names: names}, true)

	first := agg.Query(context.Background(), testStart, testEnd)
	for i := 1; i < len(first); i++ {
		if first[i-1].TotalBytes < first[i].TotalBytes {
			t.Fatalf("not sorted at %d: %d < %d", i, first[i-1].TotalBytes, first[i].TotalBytes)
		}
	}
	for _, info := range first {
		if info.TotalBytes == 0 {
			t.Errorf("zero-total entry in output: %+v", info)
		}
		if info.TotalBytes != info.RxBytes+info.TxBytes {
			t.Errorf("total mismatch: %+v", info)
		}
	}

	second := agg.Query(context.Background(), testStart, testEnd)
	if len(first) != len(second) {
		t.Fatalf("len differs between calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("entry %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestTotalBytes(t *testing.T) {
	list := []types.AppUsageInfo{
		types.NewAppUsageInfo("a", "A", "", 10, 5),
		types.NewAppUsageInfo("b", "B", "", 1, 1),
	}
	if got := TotalBytes(list); got != 17 {
		t.Errorf("TotalBytes = %d, want 17", got)
	}
	if got := TotalBytes(nil); got != 0 {
		t.Errorf("TotalBytes(nil) = %d, want 0", got)
	}
}
