package cache

import (
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/source"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePipeline counts runs and can be held open to widen race windows.
type fakePipeline struct {
	runs    atomic.Int64
	gate    chan struct{}
	started chan struct{}
	err     error
}

func (f *fakePipeline) compute(ctx context.Context, src source.Source) (*model.Batch, error) {
	n := f.runs.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.Batch{SourceID: src.ID(), Skipped: int(n)}, nil
}

func TestGetOrCompute_HitWithinTTL(t *testing.T) {
	fp := &fakePipeline{}
	c := New(fp.compute, time.Minute, PolicyBlock, zap.NewNop())
	src := source.NewMemory("a", []byte("one"))

	first, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)
	second, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, c.Recomputes())
}

func TestGetOrCompute_FingerprintChange(t *testing.T) {
	fp := &fakePipeline{}
	c := New(fp.compute, time.Minute, PolicyBlock, zap.NewNop())
	src := source.NewMemory("a", []byte("one"))

	first, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)

	src.Set([]byte("two"))
	second, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, c.Recomputes())
}

func TestGetOrCompute_TTLExpiry(t *testing.T) {
	fp := &fakePipeline{}
	c := New(fp.compute, 10*time.Second, PolicyBlock, zap.NewNop())
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	src := source.NewMemory("a", []byte("one"))

	_, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)

	clock = clock.Add(9 * time.Second)
	_, err = c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.Recomputes())

	clock = clock.Add(time.Second)
	_, err = c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.Recomputes())
}

func TestGetOrCompute_ZeroTTLUsesFingerprintOnly(t *testing.T) {
	fp := &fakePipeline{}
	c := New(fp.compute, 0, PolicyBlock, zap.NewNop())
	clock := time.Now()
	c.now = func() time.Time { return clock }
	src := source.NewMemory("a", []byte("one"))

	_, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)
	clock = clock.Add(24 * time.Hour)
	_, err = c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.Recomputes())
}

func TestGetOrCompute_SingleFlight(t *testing.T) {
	fp := &fakePipeline{gate: make(chan struct{}), started: make(chan struct{}, 64)}
	c := New(fp.compute, time.Minute, PolicyBlock, zap.NewNop())
	src := source.NewMemory("a", []byte("one"))

	const callers = 32
	var wg sync.WaitGroup
	results := make([]*model.Batch, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), src)
		}(i)
	}

	<-fp.started
	// let every caller reach the flight before releasing it
	time.Sleep(50 * time.Millisecond)
	close(fp.gate)
	wg.Wait()

	assert.EqualValues(t, 1, fp.runs.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestGetOrCompute_ChangeDuringFlightRecomputes(t *testing.T) {
	fp := &fakePipeline{gate: make(chan struct{}), started: make(chan struct{}, 4)}
	c := New(fp.compute, time.Minute, PolicyBlock, zap.NewNop())
	src := source.NewMemory("a", []byte("one"))

	first := make(chan *model.Batch, 1)
	go func() {
		b, err := c.GetOrCompute(context.Background(), src)
		assert.NoError(t, err)
		first <- b
	}()
	<-fp.started

	// the running flight read "one"; a caller arriving now sees "two"
	src.Set([]byte("two"))
	second := make(chan *model.Batch, 1)
	go func() {
		b, err := c.GetOrCompute(context.Background(), src)
		assert.NoError(t, err)
		second <- b
	}()
	time.Sleep(50 * time.Millisecond)
	close(fp.gate)

	assert.Equal(t, 1, (<-first).Skipped, "first caller gets the run it started")
	assert.Equal(t, 2, (<-second).Skipped, "second caller gets a run over the new content")
	assert.EqualValues(t, 2, fp.runs.Load())

	want, err := src.Fingerprint()
	require.NoError(t, err)
	e, ok := c.Peek("a")
	require.True(t, ok)
	assert.Equal(t, want, e.Fingerprint)
}

func TestGetOrCompute_StalePolicy(t *testing.T) {
	fp := &fakePipeline{gate: make(chan struct{}, 1), started: make(chan struct{}, 4)}
	c := New(fp.compute, time.Minute, PolicyStale, zap.NewNop())
	src := source.NewMemory("a", []byte("one"))

	fp.gate <- struct{}{}
	old, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)
	<-fp.started

	src.Set([]byte("two"))
	got, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)
	assert.Same(t, old, got, "stale entry served while the refresh is held")

	<-fp.started
	fp.gate <- struct{}{}
	require.Eventually(t, func() bool {
		e, ok := c.Peek("a")
		return ok && e.Batch != old
	}, time.Second, 5*time.Millisecond)

	fresh, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.EqualValues(t, 2, c.Recomputes())
}

func TestGetOrCompute_TimeoutServesLastGoodEntry(t *testing.T) {
	fp := &fakePipeline{gate: make(chan struct{}, 1)}
	c := New(fp.compute, time.Minute, PolicyBlock, zap.NewNop())
	src := source.NewMemory("a", []byte("one"))

	fp.gate <- struct{}{}
	old, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)

	src.Set([]byte("two"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := c.GetOrCompute(ctx, src)
	require.NoError(t, err)
	assert.Same(t, old, got)

	fp.gate <- struct{}{}
	require.Eventually(t, func() bool { return fp.runs.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestGetOrCompute_TimeoutWithoutEntry(t *testing.T) {
	fp := &fakePipeline{gate: make(chan struct{})}
	c := New(fp.compute, time.Minute, PolicyBlock, zap.NewNop())
	defer close(fp.gate)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetOrCompute(ctx, source.NewMemory("a", []byte("one")))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetOrCompute_NotFoundDropsEntry(t *testing.T) {
	fp := &fakePipeline{}
	c := New(fp.compute, time.Minute, PolicyBlock, zap.NewNop())
	src := source.NewMemory("a", []byte("one"))

	_, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)

	src.Remove()
	_, err = c.GetOrCompute(context.Background(), src)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, ok := c.Peek("a")
	assert.False(t, ok)
}

func TestGetOrCompute_ErrorsAreNotCached(t *testing.T) {
	fp := &fakePipeline{err: errors.New("boom")}
	c := New(fp.compute, time.Minute, PolicyBlock, zap.NewNop())
	src := source.NewMemory("a", []byte("one"))

	_, err := c.GetOrCompute(context.Background(), src)
	require.Error(t, err)
	_, err = c.GetOrCompute(context.Background(), src)
	require.Error(t, err)
	assert.EqualValues(t, 2, c.Recomputes())
}

func TestInvalidate(t *testing.T) {
	fp := &fakePipeline{}
	c := New(fp.compute, time.Minute, PolicyBlock, zap.NewNop())
	src := source.NewMemory("a", []byte("one"))

	_, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)
	c.Invalidate("a")
	_, err = c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.Recomputes())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyBlock, p)

	p, err = ParsePolicy("stale")
	require.NoError(t, err)
	assert.Equal(t, PolicyStale, p)

	_, err = ParsePolicy("eventually")
	assert.Error(t, err)
}

func TestWatcher_InvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs.csv")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0644))

	fp := &fakePipeline{}
	c := New(fp.compute, time.Hour, PolicyBlock, zap.NewNop())
	src := source.NewFile(path)
	_, err := c.GetOrCompute(context.Background(), src)
	require.NoError(t, err)

	w, err := NewWatcher(c, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Add(src.ID(), path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, os.WriteFile(path, []byte("two"), 0644))
	assert.Eventually(t, func() bool {
		_, ok := c.Peek(src.ID())
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
