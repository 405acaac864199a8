package engine

import (
	"log/slog"
	"time"
)

// Defaults for the engine's background loops.
const (
	DefaultDispatchInterval  = 500 * time.Millisecond
	DefaultMonitorInterval   = 5 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultDispatchBatch     = 100
)

// Options holds engine configuration.
type Options struct {
	DispatchInterval  time.Duration
	MonitorInterval   time.Duration
	HeartbeatInterval time.Duration
	// LivenessThreshold is how long a worker may stay silent before the
	// monitor declares it dead. Zero means three heartbeat intervals.
	LivenessThreshold time.Duration
	DispatchBatch     int
	Logger            *slog.Logger
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		DispatchInterval:  DefaultDispatchInterval,
		MonitorInterval:   DefaultMonitorInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
		DispatchBatch:     DefaultDispatchBatch,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// WithDispatchInterval sets how often the dispatcher scans the pending backlog.
func WithDispatchInterval(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.DispatchInterval = d
	})
}

// WithMonitorInterval sets how often the liveness monitor sweeps.
func WithMonitorInterval(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.MonitorInterval = d
	})
}

// WithHeartbeatInterval sets the heartbeat cadence workers are expected to
// keep. The default liveness threshold derives from it.
func WithHeartbeatInterval(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.HeartbeatInterval = d
	})
}

// WithLivenessThreshold sets the silence window after which a worker is
// declared dead, overriding the three-heartbeats default.
func WithLivenessThreshold(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.LivenessThreshold = d
	})
}

// WithDispatchBatch bounds how many pending tasks one dispatch pass picks up.
func WithDispatchBatch(n int) Option {
	return optionFunc(func(o *Options) {
		if n > 0 {
			o.DispatchBatch = n
		}
	})
}

// WithLogger sets the structured logger for the engine and its loops.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		o.Logger = logger
	})
}

// Threshold returns the effective liveness threshold.
func (o *Options) Threshold() time.Duration {
	if o.LivenessThreshold > 0 {
		return o.LivenessThreshold
	}
	return 3 * o.HeartbeatInterval
}
