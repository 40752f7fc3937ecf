package cache

import (
	"context"
	"time"
)

// Memoize 缓存旁路包装：命中时直接返回缓存值，否则执行fn并在成功后写入缓存
//
// 缓存不可用时fn总会被执行，结果与无缓存时一致。
func Memoize[T any](ctx context.Context, s *Store, namespace, identifier string, ttl time.Duration, params Params, fn func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	if s != nil && s.Get(ctx, namespace, identifier, &cached, params) {
		return cached, nil
	}

	value, err := fn(ctx)
	if err != nil {
		return value, err
	}

	if s != nil {
		s.Set(ctx, namespace, identifier, value, ttl, params)
	}
	return value, nil
}
