package exclusion

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/go-cmp/cmp"

	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

type countingLoader struct {
	lists [][]string
	err   error
	calls int
}

func (l *countingLoader) Load(context.Context) ([]string, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	i := l.calls - 1
	if i >= len(l.lists) {
		i = len(l.lists) - 1
	}
	return l.lists[i], nil
}

func newCache(t *testing.T, l Loader, exclusive bool) (*Cache, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))
	c := NewCache(Deps{Log: logger.Nop(), Loader: l, Clock: clock, Exclusive: exclusive})
	return c, clock
}

func TestCacheReloadsAfterTTL(t *testing.T) {
	l := &countingLoader{lists: [][]string{{"A@x.com"}, {"a@x.com", "b@x.com"}}}
	c, clock := newCache(t, l, true)
	ctx := context.Background()

	got, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([]string{"a@x.com"}, got); diff != "" {
		t.Fatalf("first load (-want +got):\n%s", diff)
	}

	clock.Advance(29 * time.Minute)
	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	if l.calls != 1 {
		t.Fatalf("loads before expiry: want=1 got=%d", l.calls)
	}

	clock.Advance(2 * time.Minute)
	got, err = c.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sort.Strings(got)
	if diff := cmp.Diff([]string{"a@x.com", "b@x.com"}, got); diff != "" {
		t.Fatalf("after expiry (-want +got):\n%s", diff)
	}
	if l.calls != 2 {
		t.Fatalf("loads: want=2 got=%d", l.calls)
	}
}

func TestCacheClearAndInfo(t *testing.T) {
	l := &countingLoader{lists: [][]string{{"a@x.com", "b@x.com"}}}
	c, _ := newCache(t, l, true)
	ctx := context.Background()

	if info := c.Info(); !info.Empty {
		t.Fatalf("info before load: want empty got=%+v", info)
	}
	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	info := c.Info()
	if info.Empty || info.Count != 2 || !info.Valid {
		t.Fatalf("info: got=%+v", info)
	}
	if want := info.CachedAt.Add(DefaultTTL); !info.ExpiresAt.Equal(want) {
		t.Fatalf("expires: want=%v got=%v", want, info.ExpiresAt)
	}

	c.Clear()
	if !c.Info().Empty {
		t.Fatalf("info after clear: want empty")
	}
	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	if l.calls != 2 {
		t.Fatalf("loads: want=2 got=%d", l.calls)
	}
}

func TestCacheServesStaleListWhenReloadFails(t *testing.T) {
	l := &countingLoader{lists: [][]string{{"a@x.com"}}}
	c, clock := newCache(t, l, true)
	ctx := context.Background()
	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	l.err = errors.New("bucket unreachable")
	clock.Advance(time.Hour)

	got, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("stale get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("stale list: got=%v", got)
	}
}

func TestCacheBacksOffAfterFailedReload(t *testing.T) {
	l := &countingLoader{lists: [][]string{{"a@x.com"}}}
	c, clock := newCache(t, l, false)
	ctx := context.Background()
	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	l.err = errors.New("bucket unreachable")
	clock.Advance(time.Hour)

	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("stale get: %v", err)
	}
	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("stale get: %v", err)
	}
	if l.calls != 2 {
		t.Fatalf("loads within backoff: want=2 got=%d", l.calls)
	}

	l.err = nil
	clock.Advance(ReloadBackoff)
	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("get after backoff: %v", err)
	}
	if l.calls != 3 {
		t.Fatalf("loads after backoff: want=3 got=%d", l.calls)
	}
	if info := c.Info(); !info.Valid {
		t.Fatalf("info after recovery: want valid got=%+v", info)
	}
}

func TestCacheFirstLoadFailureSurfaces(t *testing.T) {
	c, _ := newCache(t, &countingLoader{err: errors.New("boom")}, true)
	if _, err := c.Filter(context.Background(), []string{"a@x.com"}); err == nil {
		t.Fatalf("want error")
	}
}

func TestFilterModes(t *testing.T) {
	emails := []string{"A@x.com", "b@x.com", "c@x.com"}
	cases := []struct {
		name      string
		exclusive bool
		want      []string
	}{
		{"exclusive keeps only listed", true, []string{"A@x.com", "c@x.com"}},
		{"exclusion list drops listed", false, []string{"b@x.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newCache(t, StaticLoader{"a@x.com", " C@X.COM "}, tc.exclusive)
			got, err := c.Filter(context.Background(), emails)
			if err != nil {
				t.Fatalf("filter: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("filter (-want +got):\n%s", diff)
			}
		})
	}
}

type fakeObjects map[string][]byte

func (f fakeObjects) ReadObject(_ context.Context, bucket, key string) ([]byte, error) {
	b, ok := f[bucket+"/"+key]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func TestObjectLoaderParsesList(t *testing.T) {
	objs := fakeObjects{"cfg/exclusions.txt": []byte("# leadership\na@x.com\n\n b@x.com , c@x.com\n")}
	got, err := ObjectLoader{Reader: objs, Bucket: "cfg", Key: "exclusions.txt"}.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]string{"a@x.com", "b@x.com", "c@x.com"}, got); diff != "" {
		t.Fatalf("parsed (-want +got):\n%s", diff)
	}
	if _, err := (ObjectLoader{Reader: objs, Bucket: "cfg", Key: "missing"}).Load(context.Background()); err == nil {
		t.Fatalf("want error for missing object")
	}
}
