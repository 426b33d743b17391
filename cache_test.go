package entrycache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/entrycache/codec"
	"github.com/unkn0wn-root/entrycache/convert"
	"github.com/unkn0wn-root/entrycache/expiry"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memRecord is an in-memory system of record; it is both Loader and Writer.
type memRecord struct {
	mu        sync.Mutex
	data      map[string]int
	failWrite map[string]bool
	failLoad  error
	failBulk  error // returned by WriteAll/DeleteAll with no failed list

	loads, writes, deletes int
	closes                 int
}

var (
	_ Loader[string, int] = (*memRecord)(nil)
	_ Writer[string, int] = (*memRecord)(nil)
)

func newMemRecord() *memRecord {
	return &memRecord{data: map[string]int{}, failWrite: map[string]bool{}}
}

func (m *memRecord) Load(_ context.Context, k string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.failLoad != nil {
		return 0, false, m.failLoad
	}
	v, ok := m.data[k]
	return v, ok, nil
}

func (m *memRecord) LoadAll(_ context.Context, keys []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.failLoad != nil {
		return nil, m.failLoad
	}
	out := map[string]int{}
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memRecord) Write(_ context.Context, k string, v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failWrite[k] {
		return errBoom
	}
	m.data[k] = v
	return nil
}

func (m *memRecord) Delete(_ context.Context, k string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.failWrite[k] {
		return errBoom
	}
	delete(m.data, k)
	return nil
}

func (m *memRecord) WriteAll(_ context.Context, entries map[string]int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failBulk != nil {
		return nil, m.failBulk
	}
	var failed []string
	for k, v := range entries {
		if m.failWrite[k] {
			failed = append(failed, k)
			continue
		}
		m.data[k] = v
	}
	if len(failed) > 0 {
		return failed, errBoom
	}
	return nil, nil
}

func (m *memRecord) DeleteAll(_ context.Context, keys []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.failBulk != nil {
		return nil, m.failBulk
	}
	var failed []string
	for _, k := range keys {
		if m.failWrite[k] {
			failed = append(failed, k)
			continue
		}
		delete(m.data, k)
	}
	if len(failed) > 0 {
		return failed, errBoom
	}
	return nil, nil
}

func (m *memRecord) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	return nil
}

func (m *memRecord) get(k string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[k]
	return v, ok
}

// recorder listens to every event type.
type recorder struct {
	mu     sync.Mutex
	events []Event[string, int]
}

func (r *recorder) add(evs []Event[string, int]) {
	r.mu.Lock()
	r.events = append(r.events, evs...)
	r.mu.Unlock()
}

func (r *recorder) OnCreated(evs []Event[string, int]) { r.add(evs) }
func (r *recorder) OnUpdated(evs []Event[string, int]) { r.add(evs) }
func (r *recorder) OnRemoved(evs []Event[string, int]) { r.add(evs) }
func (r *recorder) OnExpired(evs []Event[string, int]) { r.add(evs) }

func (r *recorder) snapshot() []Event[string, int] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event[string, int](nil), r.events...)
}

func (r *recorder) types() []EventType {
	var out []EventType
	for _, ev := range r.snapshot() {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type hookRecorder struct {
	NopHooks
	mu       sync.Mutex
	policy   []expiry.Event
	panics   int
	dropped  int
	rejected int
	partial  []string
}

func (h *hookRecorder) ExpiryPolicyFailed(_ string, ev expiry.Event, _ error) {
	h.mu.Lock()
	h.policy = append(h.policy, ev)
	h.mu.Unlock()
}

func (h *hookRecorder) ListenerPanicked(string, EventType, any) {
	h.mu.Lock()
	h.panics++
	h.mu.Unlock()
}

func (h *hookRecorder) AsyncEventsDropped(_ string, _ EventType, n int) {
	h.mu.Lock()
	h.dropped += n
	h.mu.Unlock()
}

func (h *hookRecorder) LoadTaskRejected(string, int) {
	h.mu.Lock()
	h.rejected++
	h.mu.Unlock()
}

func (h *hookRecorder) WritePartial(_ string, op string, _ int, _ error) {
	h.mu.Lock()
	h.partial = append(h.partial, op)
	h.mu.Unlock()
}

type env struct {
	c     *cache[string, int]
	clock *fakeClock
	rec   *recorder
	sor   *memRecord
	hooks *hookRecorder
}

// newTestCache builds a cache with a fake clock, a synchronous recorder
// listener (old values on) and statistics enabled.
func newTestCache(t *testing.T, mutate func(*Options[string, int])) *env {
	t.Helper()
	e := &env{clock: newFakeClock(), rec: &recorder{}, sor: newMemRecord(), hooks: &hookRecorder{}}
	opts := Options[string, int]{
		Name:              t.Name(),
		Clock:             e.clock.Now,
		StatisticsEnabled: true,
		Hooks:             e.hooks,
		Listeners: []ListenerConfig[string, int]{
			{Listener: e.rec, Synchronous: true, OldValueRequired: true},
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := newCache(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	e.c = c
	return e
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options[string, int]{})
	require.Error(t, err)

	_, err = New(Options[string, int]{Name: "x", ReadThrough: true})
	require.Error(t, err)

	_, err = New(Options[string, int]{Name: "x", WriteThrough: true})
	require.Error(t, err)

	_, err = New(Options[string, int]{Name: "x", Listeners: []ListenerConfig[string, int]{{Listener: 42}}})
	require.ErrorIs(t, err, ErrNoListener)
}

func TestPutGetBasics(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, nil)

	_, ok, err := e.c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, e.c.Put(ctx, "a", 1))
	v, ok, err := e.c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	require.NoError(t, e.c.Put(ctx, "a", 2))
	v, _, _ = e.c.Get(ctx, "a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, e.c.Len())

	assert.Equal(t, []EventType{EventCreated, EventUpdated}, e.rec.types())
	up := e.rec.snapshot()[1]
	assert.Equal(t, 2, up.Value)
	assert.Equal(t, 1, up.OldValue)
	assert.True(t, up.HasOldValue)

	ok, err = e.c.ContainsKey(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNilKeyAndValue(t *testing.T) {
	ctx := context.Background()
	c, err := New(Options[*string, *int]{Name: "ptr"})
	require.NoError(t, err)
	defer c.Close(ctx)

	one := 1
	k := "k"
	require.ErrorIs(t, c.Put(ctx, nil, &one), ErrNilKey)
	require.ErrorIs(t, c.Put(ctx, &k, nil), ErrNilValue)
	_, _, err = c.Get(ctx, nil)
	require.ErrorIs(t, err, ErrNilKey)
	_, err = c.ReplaceIfEquals(ctx, &k, nil, &one)
	require.ErrorIs(t, err, ErrNilValue)
	_, err = c.Invoke(ctx, &k, nil)
	require.ErrorIs(t, err, ErrNilProcessor)
	assert.Equal(t, 0, c.Len())
}

type ptrListener struct {
	mu sync.Mutex
	n  int
}

func (l *ptrListener) count(evs []Event[string, *int]) {
	l.mu.Lock()
	l.n += len(evs)
	l.mu.Unlock()
}

func (l *ptrListener) OnCreated(evs []Event[string, *int]) { l.count(evs) }
func (l *ptrListener) OnUpdated(evs []Event[string, *int]) { l.count(evs) }
func (l *ptrListener) OnRemoved(evs []Event[string, *int]) { l.count(evs) }

func TestNilValueRejectedByEveryWrite(t *testing.T) {
	ctx := context.Background()
	l := &ptrListener{}
	c, err := New(Options[string, *int]{
		Name:      "ptr-values",
		Listeners: []ListenerConfig[string, *int]{{Listener: l, Synchronous: true}},
	})
	require.NoError(t, err)
	defer c.Close(ctx)

	writes := map[string]func() error{
		"Put": func() error { return c.Put(ctx, "k", nil) },
		"PutIfAbsent": func() error {
			_, err := c.PutIfAbsent(ctx, "k", nil)
			return err
		},
		"Replace": func() error {
			_, err := c.Replace(ctx, "k", nil)
			return err
		},
		"GetAndPut": func() error {
			_, _, err := c.GetAndPut(ctx, "k", nil)
			return err
		},
		"GetAndReplace": func() error {
			_, _, err := c.GetAndReplace(ctx, "k", nil)
			return err
		},
	}
	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, write(), ErrNilValue)
			assert.Equal(t, 0, c.Len())
			l.mu.Lock()
			assert.Zero(t, l.n)
			l.mu.Unlock()
		})
	}
}

func TestExpiryObservedOnRead(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, func(o *Options[string, int]) {
		o.ExpiryPolicy = expiry.NewCreated[string](time.Second)
	})

	require.NoError(t, e.c.Put(ctx, "k", 7))
	e.clock.Advance(2 * time.Second)

	_, ok, err := e.c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, e.c.Len())
	assert.Equal(t, []EventType{EventCreated, EventExpired}, e.rec.types())
	assert.Equal(t, 7, e.rec.snapshot()[1].Value)

	// the entry is gone; a second read fires nothing new
	_, ok, _ = e.c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Len(t, e.rec.snapshot(), 2)

	st := e.c.Stats()
	assert.EqualValues(t, 1, st.Expirations)
	assert.EqualValues(t, 2, st.Misses)
}

func TestZeroTTLExpiresImmediately(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, func(o *Options[string, int]) {
		o.ExpiryPolicy = expiry.NewCreated[string](0)
	})

	require.NoError(t, e.c.Put(ctx, "k", 1))
	_, ok, err := e.c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []EventType{EventCreated, EventExpired}, e.rec.types())
}

func TestAccessExpiryIsRefreshed(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, func(o *Options[string, int]) {
		o.ExpiryPolicy = expiry.NewAccessed[string](time.Second)
	})

	require.NoError(t, e.c.Put(ctx, "k", 1))
	for i := 0; i < 3; i++ {
		e.clock.Advance(800 * time.Millisecond)
		_, ok, _ := e.c.Get(ctx, "k")
		require.True(t, ok, "read %d", i)
	}
	e.clock.Advance(time.Second)
	_, ok, _ := e.c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestPutOverExpiredEntryFiresExpiredThenCreated(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, func(o *Options[string, int]) {
		o.ExpiryPolicy = expiry.NewCreated[string](time.Second)
	})

	require.NoError(t, e.c.Put(ctx, "k", 1))
	e.clock.Advance(time.Hour)
	e.rec.reset()

	require.NoError(t, e.c.Put(ctx, "k", 2))
	assert.Equal(t, []EventType{EventExpired, EventCreated}, e.rec.types())
}

func TestExpiryPolicyFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, func(o *Options[string, int]) {
		o.ExpiryPolicy = expiry.Func[string](func(ev expiry.Event, _ string) (expiry.Duration, error) {
			if ev == expiry.Accessed {
				panic("nope")
			}
			return expiry.Unchanged, errBoom
		})
	})

	require.NoError(t, e.c.Put(ctx, "k", 1))
	e.clock.Advance(100 * 365 * 24 * time.Hour)
	v, ok, err := e.c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "failed creation expiry falls back to eternal")
	assert.Equal(t, 1, v)

	e.hooks.mu.Lock()
	defer e.hooks.mu.Unlock()
	assert.Equal(t, []expiry.Event{expiry.Created, expiry.Accessed}, e.hooks.policy)
}

func TestReadThrough(t *testing.T) {
	ctx := context.Background()
	sor := newMemRecord()
	sor.data["k"] = 5
	e := newTestCache(t, func(o *Options[string, int]) {
		o.Loader, o.ReadThrough = sor, true
	})

	v, ok, err := e.c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, v)
	assert.Equal(t, []EventType{EventCreated}, e.rec.types())

	_, _, _ = e.c.Get(ctx, "k")
	assert.Equal(t, 1, sor.loads)

	_, ok, err = e.c.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, e.c.Len())

	st := e.c.Stats()
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 2, st.Misses)
}

func TestReadThroughLoaderError(t *testing.T) {
	ctx := context.Background()
	sor := newMemRecord()
	sor.failLoad = errBoom
	e := newTestCache(t, func(o *Options[string, int]) {
		o.Loader, o.ReadThrough = sor, true
	})

	_, _, err := e.c.Get(ctx, "k")
	var le *LoaderError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "k", le.Key)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, e.c.Len())
}

func TestWriteThroughFailureLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	sor := newMemRecord()
	sor.failWrite["bad"] = true
	e := newTestCache(t, func(o *Options[string, int]) {
		o.Writer, o.WriteThrough = sor, true
	})

	err := e.c.Put(ctx, "bad", 1)
	var we *WriterError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "write", we.Op)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, e.c.Len())
	assert.Empty(t, e.rec.snapshot())

	require.NoError(t, e.c.Put(ctx, "good", 1))
	v, ok := sor.get("good")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestConditionalOps(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, nil)
	c := e.c

	ok, err := c.PutIfAbsent(ctx, "k", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = c.PutIfAbsent(ctx, "k", 2)
	assert.False(t, ok)

	ok, _ = c.Replace(ctx, "missing", 1)
	assert.False(t, ok)
	ok, _ = c.Replace(ctx, "k", 3)
	assert.True(t, ok)

	ok, _ = c.ReplaceIfEquals(ctx, "k", 99, 4)
	assert.False(t, ok)
	ok, _ = c.ReplaceIfEquals(ctx, "k", 3, 4)
	assert.True(t, ok)

	old, ok, _ := c.GetAndPut(ctx, "k", 5)
	assert.True(t, ok)
	assert.Equal(t, 4, old)

	old, ok, _ = c.GetAndReplace(ctx, "k", 6)
	assert.True(t, ok)
	assert.Equal(t, 5, old)
	_, ok, _ = c.GetAndReplace(ctx, "missing", 6)
	assert.False(t, ok)

	ok, _ = c.RemoveIfEquals(ctx, "k", 5)
	assert.False(t, ok)
	ok, _ = c.RemoveIfEquals(ctx, "k", 6)
	assert.True(t, ok)

	require.NoError(t, c.Put(ctx, "k", 7))
	old, ok, _ = c.GetAndRemove(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, 7, old)
	ok, _ = c.Remove(ctx, "k")
	assert.False(t, ok)

	assert.Equal(t, []EventType{
		EventCreated, EventUpdated, EventUpdated, EventUpdated, EventUpdated,
		EventRemoved, EventCreated, EventRemoved,
	}, e.rec.types())
}

func TestFailedCompareRefreshesAccessExpiry(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, func(o *Options[string, int]) {
		o.ExpiryPolicy = expiry.NewTouched[string](time.Second)
	})

	require.NoError(t, e.c.Put(ctx, "k", 1))
	e.clock.Advance(800 * time.Millisecond)
	ok, _ := e.c.ReplaceIfEquals(ctx, "k", 2, 3)
	require.False(t, ok)
	e.clock.Advance(800 * time.Millisecond)

	v, ok, _ := e.c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestRemoveDeletesThroughEvenWhenAbsent(t *testing.T) {
	ctx := context.Background()
	sor := newMemRecord()
	sor.data["k"] = 1
	e := newTestCache(t, func(o *Options[string, int]) {
		o.Writer, o.WriteThrough = sor, true
	})

	ok, err := e.c.Remove(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, sor.deletes)
	_, found := sor.get("k")
	assert.False(t, found)
}

func TestStoreByValueDetachesCopies(t *testing.T) {
	ctx := context.Background()
	c, err := New(Options[string, []int]{
		Name:           "by-value",
		ValueConverter: convert.ByValue[[]int]{Codec: codec.JSON[[]int]{}},
	})
	require.NoError(t, err)
	defer c.Close(ctx)

	in := []int{1, 2, 3}
	require.NoError(t, c.Put(ctx, "k", in))
	in[0] = 100

	out, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, out)

	out[1] = 200
	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []int{1, 2, 3}, again)

	ok, err = c.ReplaceIfEquals(ctx, "k", []int{1, 2, 3}, []int{4})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, nil)

	require.NoError(t, e.c.Put(ctx, "a", 1))
	_, _, _ = e.c.Get(ctx, "a")
	_, _, _ = e.c.Get(ctx, "b")
	_, _ = e.c.Remove(ctx, "a")

	st := e.c.Stats()
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 1, st.Misses)
	assert.EqualValues(t, 1, st.Puts)
	assert.EqualValues(t, 1, st.Removals)
	assert.EqualValues(t, 2, st.Gets())
	assert.InDelta(t, 50.0, st.HitPercentage(), 0.001)
	assert.InDelta(t, 50.0, st.MissPercentage(), 0.001)

	e.c.ClearStats()
	assert.Equal(t, Stats{}, e.c.Stats())

	e.c.SetStatisticsEnabled(false)
	_, _, _ = e.c.Get(ctx, "a")
	assert.EqualValues(t, 0, e.c.Stats().Misses)
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sor := newMemRecord()
	c, err := New(Options[string, int]{
		Name:   "closing",
		Loader: sor, ReadThrough: true,
		Writer: sor, WriteThrough: true,
	})
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "k", 1))

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))
	assert.True(t, c.IsClosed())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1, sor.closes, "a collaborator used twice is closed once")

	_, _, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Put(ctx, "k", 1), ErrClosed)
	_, err = c.Iterator(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.RegisterListener(ListenerConfig[string, int]{Listener: &recorder{}})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSameKeyOperationsSerialize(t *testing.T) {
	ctx := context.Background()
	e := newTestCache(t, func(o *Options[string, int]) { o.Listeners = nil })

	incr := func(m MutableEntry[string, int], _ ...any) (any, error) {
		v, _ := m.Value()
		return nil, m.SetValue(v + 1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := e.c.Invoke(ctx, "counter", incr)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	v, _, _ := e.c.Get(ctx, "counter")
	assert.Equal(t, 64*50, v)
	assert.Equal(t, 0, e.c.locks.Len())
}
