package store

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const storeTracerName = "huddle.store"

// tracedStore 链路追踪存储装饰器
type tracedStore struct {
	Store
	tracer trace.Tracer
}

// NewTracing 创建带链路追踪的存储实例
func NewTracing(s Store) Store {
	return &tracedStore{
		Store:  s,
		tracer: otel.Tracer(storeTracerName),
	}
}

// traced 包装操作，自动处理 Span
// ErrNotFound 视为未命中，不记为错误
func traced[T any](t *tracedStore, ctx context.Context, operation, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := t.tracer.Start(ctx, operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("store.key", key),
		attribute.String("store.operation", operation),
	)

	start := time.Now()
	result, err := fn(ctx)
	span.SetAttributes(attribute.Int64("store.duration_ms", time.Since(start).Milliseconds()))

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, ErrNotFound):
		span.SetAttributes(attribute.Bool("store.hit", false))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func tracedErr(t *tracedStore, ctx context.Context, operation, key string, fn func(ctx context.Context) error) error {
	_, err := traced(t, ctx, operation, key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (t *tracedStore) Get(ctx context.Context, key string) (string, error) {
	return traced(t, ctx, "store.Get", key, func(ctx context.Context) (string, error) {
		return t.Store.Get(ctx, key)
	})
}

func (t *tracedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return tracedErr(t, ctx, "store.Set", key, func(ctx context.Context) error {
		return t.Store.Set(ctx, key, value, ttl)
	})
}

func (t *tracedStore) Delete(ctx context.Context, keys ...string) error {
	key := ""
	if len(keys) > 0 {
		key = keys[0]
	}
	return tracedErr(t, ctx, "store.Delete", key, func(ctx context.Context) error {
		return t.Store.Delete(ctx, keys...)
	})
}

func (t *tracedStore) Exists(ctx context.Context, key string) (bool, error) {
	return traced(t, ctx, "store.Exists", key, func(ctx context.Context) (bool, error) {
		return t.Store.Exists(ctx, key)
	})
}

func (t *tracedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return traced(t, ctx, "store.TTL", key, func(ctx context.Context) (time.Duration, error) {
		return t.Store.TTL(ctx, key)
	})
}

func (t *tracedStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return tracedErr(t, ctx, "store.Expire", key, func(ctx context.Context) error {
		return t.Store.Expire(ctx, key, ttl)
	})
}

func (t *tracedStore) Incr(ctx context.Context, key string) (int64, error) {
	return traced(t, ctx, "store.Incr", key, func(ctx context.Context) (int64, error) {
		return t.Store.Incr(ctx, key)
	})
}

func (t *tracedStore) IncrWindow(ctx context.Context, key string, limit int64, window time.Duration) (Window, error) {
	return traced(t, ctx, "store.IncrWindow", key, func(ctx context.Context) (Window, error) {
		w, err := t.Store.IncrWindow(ctx, key, limit, window)
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("store.allowed", w.Allowed))
		return w, err
	})
}

func (t *tracedStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	return tracedErr(t, ctx, "store.HSet", key, func(ctx context.Context) error {
		return t.Store.HSet(ctx, key, fields)
	})
}

func (t *tracedStore) HCreate(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	return traced(t, ctx, "store.HCreate", key, func(ctx context.Context) (bool, error) {
		return t.Store.HCreate(ctx, key, fields, ttl)
	})
}

func (t *tracedStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return traced(t, ctx, "store.HGetAll", key, func(ctx context.Context) (map[string]string, error) {
		return t.Store.HGetAll(ctx, key)
	})
}

func (t *tracedStore) HDel(ctx context.Context, key string, fields ...string) error {
	return tracedErr(t, ctx, "store.HDel", key, func(ctx context.Context) error {
		return t.Store.HDel(ctx, key, fields...)
	})
}

func (t *tracedStore) SAdd(ctx context.Context, key string, members ...string) error {
	return tracedErr(t, ctx, "store.SAdd", key, func(ctx context.Context) error {
		return t.Store.SAdd(ctx, key, members...)
	})
}

func (t *tracedStore) SRem(ctx context.Context, key string, members ...string) error {
	return tracedErr(t, ctx, "store.SRem", key, func(ctx context.Context) error {
		return t.Store.SRem(ctx, key, members...)
	})
}

func (t *tracedStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return traced(t, ctx, "store.SMembers", key, func(ctx context.Context) ([]string, error) {
		return t.Store.SMembers(ctx, key)
	})
}

func (t *tracedStore) SCard(ctx context.Context, key string) (int64, error) {
	return traced(t, ctx, "store.SCard", key, func(ctx context.Context) (int64, error) {
		return t.Store.SCard(ctx, key)
	})
}

func (t *tracedStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return traced(t, ctx, "store.SIsMember", key, func(ctx context.Context) (bool, error) {
		return t.Store.SIsMember(ctx, key, member)
	})
}

func (t *tracedStore) HSetIf(ctx context.Context, key string, cond Cond, fields map[string]string) (bool, error) {
	return traced(t, ctx, "store.HSetIf", key, func(ctx context.Context) (bool, error) {
		return t.Store.HSetIf(ctx, key, cond, fields)
	})
}

func (t *tracedStore) HDeleteIf(ctx context.Context, key string, cond Cond) (bool, error) {
	return traced(t, ctx, "store.HDeleteIf", key, func(ctx context.Context) (bool, error) {
		return t.Store.HDeleteIf(ctx, key, cond)
	})
}

func (t *tracedStore) Claim(ctx context.Context, c Claim) (ClaimResult, error) {
	return traced(t, ctx, "store.Claim", c.Set, func(ctx context.Context) (ClaimResult, error) {
		res, err := t.Store.Claim(ctx, c)
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Bool("store.admitted", res.Admitted),
			attribute.Int64("store.count", res.Count),
		)
		return res, err
	})
}

func (t *tracedStore) Release(ctx context.Context, r Release) (ReleaseResult, error) {
	return traced(t, ctx, "store.Release", r.Set, func(ctx context.Context) (ReleaseResult, error) {
		return t.Store.Release(ctx, r)
	})
}

func (t *tracedStore) RemoveIfEmpty(ctx context.Context, setKey string, keys ...string) (bool, error) {
	return traced(t, ctx, "store.RemoveIfEmpty", setKey, func(ctx context.Context) (bool, error) {
		return t.Store.RemoveIfEmpty(ctx, setKey, keys...)
	})
}

func (t *tracedStore) Ping(ctx context.Context) error {
	return tracedErr(t, ctx, "store.Ping", "", func(ctx context.Context) error {
		return t.Store.Ping(ctx)
	})
}
