package logger

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func benchLogger(b *testing.B, opts ...Option) Logger {
	b.Helper()
	base := []Option{
		WithLevel(InfoLevel),
		WithFormat(JSONFormat),
		WithFileOutput(filepath.Join(b.TempDir(), "bench.log")),
		WithCaller(false),
	}
	l, err := NewWithOptions(append(base, opts...)...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = l.Sync() })
	return l
}

// BenchmarkInfoContext 每个入站事件都会走的路径
func BenchmarkInfoContext(b *testing.B) {
	l := benchLogger(b)
	ctx := WithUserID(WithConnID(context.Background(), "c-1"), "alice")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.InfoContext(ctx, "event dispatched", zap.String("event", "send_message"))
		}
	})
}

// BenchmarkDisabled 级别被过滤时的开销
func BenchmarkDisabled(b *testing.B) {
	l := benchLogger(b, WithLevel(ErrorLevel))
	ctx := WithConnID(context.Background(), "c-1")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.DebugContext(ctx, "dropped", zap.String("key", "value"))
		}
	})
}

// BenchmarkSampling 采样开启时的广播日志
func BenchmarkSampling(b *testing.B) {
	l := benchLogger(b, WithSampling(&SamplingConfig{Initial: 100, Thereafter: 100}))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.Info("broadcast", zap.String("room", "lobby"), zap.Int("recipients", 12))
		}
	})
}
