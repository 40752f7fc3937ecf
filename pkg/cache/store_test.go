package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hewenyu/docflow-perf/internal/config"
	"github.com/hewenyu/docflow-perf/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingBackend 所有操作都返回错误
type failingBackend struct{}

var errDown = errors.New("connection refused")

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errDown
}
func (failingBackend) Set(context.Context, string, []byte, time.Duration) error { return errDown }
func (failingBackend) Delete(context.Context, string) (bool, error)             { return false, errDown }
func (failingBackend) DeletePrefix(context.Context, string) (int, error)        { return 0, errDown }
func (failingBackend) Info(context.Context) (BackendInfo, error)                { return BackendInfo{}, errDown }
func (failingBackend) Ping(context.Context) error                               { return errDown }
func (failingBackend) Close() error                                             { return nil }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.KeyPrefix = "test:"
	return New(NewMemoryBackend(), cfg, config.NewNopLogger())
}

func TestStore_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := extraction{DocumentID: "doc-1", Pages: 2}
	require.True(t, s.Set(ctx, "ocr", "doc-1", in, 0, Params{"lang": "en"}))

	var out extraction
	assert.True(t, s.Get(ctx, "ocr", "doc-1", &out, Params{"lang": "en"}))
	assert.Equal(t, in, out)

	// 参数不同视为不同条目
	assert.False(t, s.Get(ctx, "ocr", "doc-1", &out, Params{"lang": "de"}))

	stats := s.Stats(ctx)
	assert.True(t, stats.Enabled)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.InDelta(t, 0.5, stats.MissRate, 1e-9)
	assert.Equal(t, int64(1), stats.KeyCount)
	assert.Greater(t, stats.MemoryUsage, int64(0))
}

func TestStore_KeyPrefixApplied(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := New(backend, Config{KeyPrefix: "app:"}, config.NewNopLogger())

	require.True(t, s.Set(ctx, "ocr", "doc-1", "text", time.Minute, nil))

	_, found, err := backend.Get(ctx, "app:"+Key("ocr", "doc-1", nil))
	require.NoError(t, err)
	assert.True(t, found, "后端key应带有KeyPrefix")
}

func TestStore_ParamSeparatorsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.True(t, s.Set(ctx, "ocr", "doc", "A", time.Minute, Params{"a": "1:b=2"}))

	var out string
	assert.False(t, s.Get(ctx, "ocr", "doc", &out, Params{"a": 1, "b": 2}), "不同的参数组合不应读到同一条目")
	assert.False(t, s.Get(ctx, "ocr", "doc", &out, Params{"a": 1}))
	assert.True(t, s.Get(ctx, "ocr", "doc", &out, Params{"a": "1:b=2"}))
	assert.Equal(t, "A", out)
}

func TestStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	cfg := DefaultConfig()
	cfg.DefaultTTL = time.Minute
	s := New(NewMemoryBackend(WithMemoryClock(clock.Now)), cfg, config.NewNopLogger())

	require.True(t, s.Set(ctx, "ocr", "default", "v", 0, nil), "ttl为0时使用DefaultTTL")
	require.True(t, s.Set(ctx, "ocr", "short", "v", 10*time.Second, nil))

	var out string
	assert.True(t, s.Get(ctx, "ocr", "default", &out, nil))
	assert.True(t, s.Get(ctx, "ocr", "short", &out, nil))

	clock.Advance(11 * time.Second)
	assert.False(t, s.Get(ctx, "ocr", "short", &out, nil), "显式TTL过期后应未命中")
	assert.True(t, s.Get(ctx, "ocr", "default", &out, nil), "DefaultTTL未到期仍应命中")

	clock.Advance(50 * time.Second)
	assert.False(t, s.Get(ctx, "ocr", "default", &out, nil), "DefaultTTL过期后应未命中")

	stats := s.Stats(ctx)
	assert.Equal(t, int64(0), stats.KeyCount, "过期条目应被移除")
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.True(t, s.Set(ctx, "ocr", "doc-1", "text", time.Minute, nil))
	assert.True(t, s.Delete(ctx, "ocr", "doc-1", nil))
	assert.False(t, s.Delete(ctx, "ocr", "doc-1", nil), "删除不存在的条目应返回false")

	var out string
	assert.False(t, s.Get(ctx, "ocr", "doc-1", &out, nil))
}

func TestStore_InvalidateNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, s.Set(ctx, "ocr", id, id, time.Minute, nil))
	}
	require.True(t, s.Set(ctx, "ocr_v2", "a", "a", time.Minute, nil))
	require.True(t, s.Set(ctx, "embed", "a", "a", time.Minute, nil))

	assert.Equal(t, 3, s.InvalidateNamespace(ctx, "ocr"))

	var out string
	assert.False(t, s.Get(ctx, "ocr", "a", &out, nil))
	assert.True(t, s.Get(ctx, "ocr_v2", "a", &out, nil), "其他命名空间不应被清理")
	assert.True(t, s.Get(ctx, "embed", "a", &out, nil))

	assert.Equal(t, 0, s.InvalidateNamespace(ctx, "ocr"))
}

func TestStore_Disabled(t *testing.T) {
	ctx := context.Background()
	s := Disabled(config.NewNopLogger())

	assert.False(t, s.Enabled())
	assert.False(t, s.Set(ctx, "ocr", "doc-1", "text", time.Minute, nil))

	var out string
	assert.False(t, s.Get(ctx, "ocr", "doc-1", &out, nil))
	assert.False(t, s.Delete(ctx, "ocr", "doc-1", nil))
	assert.Equal(t, 0, s.InvalidateNamespace(ctx, "ocr"))

	stats := s.Stats(ctx)
	assert.False(t, stats.Enabled)
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses, "禁用时不统计未命中")

	result, err := s.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, health.StatusUnhealthy, result.Status)
	assert.NoError(t, s.Close())
}

func TestStore_BackendFailuresDegradeToMiss(t *testing.T) {
	ctx := context.Background()
	s := New(failingBackend{}, DefaultConfig(), config.NewNopLogger())

	assert.False(t, s.Set(ctx, "ocr", "doc-1", "text", time.Minute, nil))

	var out string
	assert.False(t, s.Get(ctx, "ocr", "doc-1", &out, nil))
	assert.False(t, s.Delete(ctx, "ocr", "doc-1", nil))
	assert.Equal(t, 0, s.InvalidateNamespace(ctx, "ocr"))

	stats := s.Stats(ctx)
	assert.Equal(t, int64(1), stats.Misses, "后端错误计为未命中")
	assert.Equal(t, int64(0), stats.KeyCount)

	_, err := s.HealthCheck(ctx)
	assert.ErrorIs(t, err, errDown)
}

func TestStore_UndecodableValueIsMiss(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.True(t, s.Set(ctx, "ocr", "doc-1", "plain text", time.Minute, nil))

	var out extraction
	assert.False(t, s.Get(ctx, "ocr", "doc-1", &out, nil), "类型不匹配应视为未命中")
}

func TestStore_UnencodableValueNotStored(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.Set(context.Background(), "ocr", "doc-1", make(chan int), time.Minute, nil))
}

func TestStore_HealthCheckMemory(t *testing.T) {
	s := newTestStore(t)

	result, err := s.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, result.Status)

	// 哨兵key应被清理
	info, err := s.backend.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.KeyCount)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Set(ctx, "ns", "shared", i, time.Minute, nil)
			var out int
			s.Get(ctx, "ns", "shared", &out, nil)
		}(i)
	}
	wg.Wait()

	stats := s.Stats(ctx)
	assert.Equal(t, int64(20), stats.Hits+stats.Misses)
}

func TestMemoize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var calls atomic.Int32
	fn := func(context.Context) (extraction, error) {
		calls.Add(1)
		return extraction{DocumentID: "doc-1", Pages: 7}, nil
	}

	first, err := Memoize(ctx, s, "ocr", "doc-1", time.Minute, nil, fn)
	require.NoError(t, err)
	second, err := Memoize(ctx, s, "ocr", "doc-1", time.Minute, nil, fn)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load(), "第二次调用应命中缓存")
}

func TestMemoize_ErrorNotCached(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var calls atomic.Int32
	fn := func(context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("ocr failed")
	}

	_, err := Memoize(ctx, s, "ocr", "doc-1", time.Minute, nil, fn)
	assert.Error(t, err)
	_, err = Memoize(ctx, s, "ocr", "doc-1", time.Minute, nil, fn)
	assert.Error(t, err)
	assert.Equal(t, int32(2), calls.Load(), "失败结果不应被缓存")
}

func TestMemoize_DisabledAlwaysComputes(t *testing.T) {
	ctx := context.Background()
	s := Disabled(config.NewNopLogger())

	var calls atomic.Int32
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		return "v", nil
	}

	for i := 0; i < 3; i++ {
		v, err := Memoize(ctx, s, "ocr", "doc-1", 0, nil, fn)
		require.NoError(t, err)
		assert.Equal(t, "v", v)
	}
	assert.Equal(t, int32(3), calls.Load())
}
