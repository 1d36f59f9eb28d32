package voxgo

import (
	"log/slog"

	"github.com/voxgo/voxgo/cache"
	"github.com/voxgo/voxgo/codec"
)

type options struct {
	maxCuboids       int
	codecOptions     codec.Options
	memoryCacheSize  int
	fillLimit        int
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Manager constructor behavior.
type Option func(*options)

// WithMaxCuboids bounds the number of cuboids kept per cache root. Once
// exceeded, the least recently used cuboids are evicted synchronously.
//
// If maxCuboids <= 0, the default of cache.DefaultMaxCuboids applies.
func WithMaxCuboids(maxCuboids int) Option {
	return func(o *options) {
		o.maxCuboids = maxCuboids
	}
}

// WithCompression selects the block compressor for newly stored cuboids.
// Already-stored blobs decode with whatever they were written with, so
// changing this is safe across restarts.
func WithCompression(c codec.Compression) Option {
	return func(o *options) {
		o.codecOptions.Compression = c
	}
}

// WithoutShuffle disables the byte-shuffle filter ahead of compression.
// Shuffling usually improves ratios on multi-byte voxel data and costs
// little; disable it only when profiling shows it does not pay off.
func WithoutShuffle() Option {
	return func(o *options) {
		o.codecOptions.NoShuffle = true
	}
}

// WithMemoryCacheSize keeps up to n decoded cuboids in memory in front of
// the blob store. 0 (the default) disables the memory tier.
func WithMemoryCacheSize(n int) Option {
	return func(o *options) {
		o.memoryCacheSize = n
	}
}

// WithFillLimit caps the number of cuboids fetched concurrently while
// assembling one request. If n <= 0, the default of 8 applies.
func WithFillLimit(n int) Option {
	return func(o *options) {
		o.fillLimit = n
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &voxgo.BasicMetricsCollector{}
//	dm, _ := voxgo.Open(ctx, origin, dir, voxgo.WithMetricsCollector(metrics))
//	// ... use dm ...
//	stats := metrics.GetStats()
//	fmt.Printf("Gets: %d, hit rate: %.2f\n", stats.GetCount,
//	    float64(stats.GetHits)/float64(stats.GetCount))
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := voxgo.NewJSONLogger(slog.LevelInfo)
//	dm, _ := voxgo.Open(ctx, origin, dir, voxgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		maxCuboids:       cache.DefaultMaxCuboids,
		codecOptions:     codec.DefaultOptions,
		fillLimit:        8,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.fillLimit <= 0 {
		o.fillLimit = 8
	}
	return o
}
