package modelcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localforge/myllm/internal/apierr"
	"github.com/localforge/myllm/internal/engine"
)

type fakeEngine struct {
	name   string
	closed int32
}

func (f *fakeEngine) Generate(ctx context.Context, prompt string, params engine.Params) (<-chan engine.Fragment, error) {
	ch := make(chan engine.Fragment)
	close(ch)
	return ch, nil
}
func (f *fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (f *fakeEngine) Tokenize(text string) ([]int32, error)                    { return nil, nil }
func (f *fakeEngine) Detokenize(tokens []int32) (string, error)                { return "", nil }
func (f *fakeEngine) LastUsage() engine.UsageRecord                           { return engine.UsageRecord{} }
func (f *fakeEngine) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func countingLoader(loadCount *int32) Loader {
	var mu sync.Mutex
	return func(ctx context.Context, name string) (engine.Engine, error) {
		mu.Lock()
		defer mu.Unlock()
		atomic.AddInt32(loadCount, 1)
		return &fakeEngine{name: name}, nil
	}
}

func TestGetOrLoadCachesByName(t *testing.T) {
	var loads int32
	c := New(3, countingLoader(&loads))

	e1, err := c.GetOrLoad(context.Background(), "a")
	require.NoError(t, err)
	c.Release("a")
	e2, err := c.GetOrLoad(context.Background(), "a")
	require.NoError(t, err)
	c.Release("a")

	require.Same(t, e1, e2)
	require.EqualValues(t, 1, loads)
}

func TestGetOrLoadCoalescesConcurrentLoads(t *testing.T) {
	var loads int32
	c := New(3, countingLoader(&loads))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrLoad(context.Background(), "shared")
			require.NoError(t, err)
			c.Release("shared")
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, loads)
}

func TestEvictsLeastRecentlyUsedOverCapacity(t *testing.T) {
	var loads int32
	c := New(2, countingLoader(&loads))

	for _, name := range []string{"a", "b", "c"} {
		_, err := c.GetOrLoad(context.Background(), name)
		require.NoError(t, err)
		c.Release(name)
	}

	require.False(t, c.IsLoaded("a"))
	require.True(t, c.IsLoaded("b"))
	require.True(t, c.IsLoaded("c"))
}

func TestEvictionSparesReferencedEntry(t *testing.T) {
	var loads int32
	c := New(1, countingLoader(&loads))

	held, err := c.GetOrLoad(context.Background(), "a")
	require.NoError(t, err)
	_ = held

	_, err = c.GetOrLoad(context.Background(), "b")
	require.NoError(t, err)
	c.Release("b")

	require.True(t, c.IsLoaded("a"), "referenced entry must survive eviction pressure")
	c.Release("a")
}

func TestUnloadClosesEngine(t *testing.T) {
	var loads int32
	c := New(3, countingLoader(&loads))

	eng, err := c.GetOrLoad(context.Background(), "a")
	require.NoError(t, err)
	c.Release("a")

	require.NoError(t, c.Unload("a"))
	require.False(t, c.IsLoaded("a"))
	require.EqualValues(t, 1, eng.(*fakeEngine).closed)
}

func TestUnloadRefusesInUseEngine(t *testing.T) {
	var loads int32
	c := New(3, countingLoader(&loads))

	_, err := c.GetOrLoad(context.Background(), "a")
	require.NoError(t, err)

	err = c.Unload("a")
	require.Error(t, err)
}

func TestUnloadUnknownNameIsNotFound(t *testing.T) {
	c := New(3, countingLoader(new(int32)))
	err := c.Unload("ghost")
	require.ErrorIs(t, err, apierr.ErrModelNotFound)
}

func TestPreloadDoesNotPinReference(t *testing.T) {
	var loads int32
	c := New(1, countingLoader(&loads))

	require.NoError(t, c.Preload(context.Background(), "a"))
	require.NoError(t, c.Unload("a"))
}

func TestLoaderErrorPropagates(t *testing.T) {
	boom := fmt.Errorf("boom")
	c := New(3, func(ctx context.Context, name string) (engine.Engine, error) { return nil, boom })

	_, err := c.GetOrLoad(context.Background(), "a")
	require.ErrorIs(t, err, boom)
}
