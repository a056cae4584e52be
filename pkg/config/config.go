// Package config provides the unified configuration system for Ballast.
// It defines a single Config structure covering pool sizing, overload
// middleware, monitoring, and distributed coordination, plus named presets
// that map one profile string to a fully wired configuration tree.
//
// Example usage:
//
//	cfg := config.Profile(config.ProfileHigh)
//	cfg.Pool.MaxSize = 200
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// Config is the full configuration tree consumed by the engine.
type Config struct {
	// Name identifies this deployment in logs and fleet snapshots
	Name string `yaml:"name" json:"name"`

	// Pool settings control sizing and scaling of every managed pool
	Pool PoolConfig `yaml:"pool" json:"pool"`

	// Middleware settings control the protective request chain
	Middleware MiddlewareConfig `yaml:"middleware" json:"middleware"`

	// Memory settings control pressure detection and GC strategy
	Memory MemoryConfig `yaml:"memory" json:"memory"`

	// Monitoring settings control the performance monitor
	Monitoring MonitoringConfig `yaml:"monitoring" json:"monitoring"`

	// Distributed settings control fleet coordination
	Distributed DistributedConfig `yaml:"distributed" json:"distributed"`

	// Observability settings control request tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// PoolConfig contains sizing and scaling settings applied to each pool.
type PoolConfig struct {
	// InitialSize is the warm-up size and the shrink floor
	InitialSize int `yaml:"initial_size" json:"initial_size"`
	// MaxSize is the normal capacity ceiling
	MaxSize int `yaml:"max_size" json:"max_size"`
	// EmergencyLimit is the hard ceiling reachable only in emergency mode
	EmergencyLimit int `yaml:"emergency_limit" json:"emergency_limit"`
	// ScaleThreshold is the sustained usage ratio that triggers expansion
	ScaleThreshold float64 `yaml:"scale_threshold" json:"scale_threshold"`
	// ScaleFactor multiplies the current size on expansion
	ScaleFactor float64 `yaml:"scale_factor" json:"scale_factor"`
	// ShrinkThreshold is the sustained usage ratio that triggers shrinking
	ShrinkThreshold float64 `yaml:"shrink_threshold" json:"shrink_threshold"`
	// SustainedChecks is how many consecutive observations count as sustained
	SustainedChecks int `yaml:"sustained_checks" json:"sustained_checks"`
	// CheckInterval is how often the periodic check runs
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
	// MaxHandleReuse retires a handle after this many reuse cycles (0 = unlimited)
	MaxHandleReuse int64 `yaml:"max_handle_reuse" json:"max_handle_reuse"`
	// OverflowStrategy selects the exhaustion policy
	// (elastic_expansion, priority_queue, graceful_fallback, smart_recycle)
	OverflowStrategy string `yaml:"overflow_strategy" json:"overflow_strategy"`
	// ElasticWindow bounds how long an elastic ceiling raise lasts
	ElasticWindow time.Duration `yaml:"elastic_window" json:"elastic_window"`
	// PriorityReserve is the capacity share reserved for high-priority callers
	PriorityReserve float64 `yaml:"priority_reserve" json:"priority_reserve"`
}

// MiddlewareConfig contains overload-protection middleware settings.
type MiddlewareConfig struct {
	LoadShedder    ShedderConfig `yaml:"load_shedder" json:"load_shedder"`
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// ShedderConfig controls the load shedder.
type ShedderConfig struct {
	// Enabled toggles shedding entirely
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Strategy selects the shed policy (priority, random, oldest, adaptive)
	Strategy string `yaml:"strategy" json:"strategy"`
	// Threshold is the load level above which shedding begins
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// BreakerConfig controls per-resource circuit breaking.
type BreakerConfig struct {
	// Enabled toggles circuit breaking entirely
	Enabled bool `yaml:"enabled" json:"enabled"`
	// FailureThreshold opens the circuit after this many failures in the window
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// SuccessThreshold closes a half-open circuit after this many trial successes
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
	// Timeout is how long an open circuit waits before trialing half-open
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Window bounds the failure-counting window
	Window time.Duration `yaml:"window" json:"window"`
	// HalfOpenMaxRequests bounds concurrent trial calls while half-open
	HalfOpenMaxRequests int `yaml:"half_open_max_requests" json:"half_open_max_requests"`
}

// MemoryConfig controls pressure detection and GC strategy.
type MemoryConfig struct {
	// Enabled toggles the memory manager
	Enabled bool `yaml:"enabled" json:"enabled"`
	// PollInterval is how often memory usage is sampled
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// MediumBytes, HighBytes, CriticalBytes are the pressure level thresholds
	MediumBytes   uint64 `yaml:"medium_bytes" json:"medium_bytes"`
	HighBytes     uint64 `yaml:"high_bytes" json:"high_bytes"`
	CriticalBytes uint64 `yaml:"critical_bytes" json:"critical_bytes"`
}

// MonitoringConfig controls the performance monitor.
type MonitoringConfig struct {
	// SampleRate bounds monitoring overhead (0.0-1.0, 1.0 = record everything)
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
	// WindowSize is the rolling window length for aggregates
	WindowSize int `yaml:"window_size" json:"window_size"`
	// CapacityHint is the active-request count treated as full load
	CapacityHint int `yaml:"capacity_hint" json:"capacity_hint"`
	// AlertThresholds trigger warning logs when aggregates cross them
	AlertThresholds AlertThresholds `yaml:"alert_thresholds" json:"alert_thresholds"`
}

// AlertThresholds define when the monitor logs alert-level warnings.
type AlertThresholds struct {
	P99Latency time.Duration `yaml:"p99_latency" json:"p99_latency"`
	ErrorRate  float64       `yaml:"error_rate" json:"error_rate"`
}

// DistributedConfig controls fleet coordination.
type DistributedConfig struct {
	// Coordination selects the backend ("none", "memory", "http")
	Coordination string `yaml:"coordination" json:"coordination"`
	// Namespace isolates fleets sharing one backend
	Namespace string `yaml:"namespace" json:"namespace"`
	// Endpoint is the backend address for the http coordinator
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// HeartbeatInterval is how often instances heartbeat
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	// TTL expires members that stop heartbeating
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// RequestTimeout bounds every backend call
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// ObservabilityConfig controls request tracing.
type ObservabilityConfig struct {
	// TracingEnabled toggles span export for the protective chain
	TracingEnabled bool `yaml:"tracing_enabled" json:"tracing_enabled"`
	// TracingSampleRate is the fraction of traces exported (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// Default returns a Config with production-ready defaults. Specific
// deployments override fields or use a named profile instead.
func Default() *Config {
	return &Config{
		Name: "ballast",
		Pool: PoolConfig{
			InitialSize:      10,
			MaxSize:          100,
			EmergencyLimit:   200,
			ScaleThreshold:   0.8,
			ScaleFactor:      1.5,
			ShrinkThreshold:  0.3,
			SustainedChecks:  3,
			CheckInterval:    time.Second,
			MaxHandleReuse:   10000,
			OverflowStrategy: "graceful_fallback",
			ElasticWindow:    30 * time.Second,
			PriorityReserve:  0.2,
		},
		Middleware: MiddlewareConfig{
			LoadShedder: ShedderConfig{
				Enabled:   true,
				Strategy:  "adaptive",
				Threshold: 0.8,
			},
			CircuitBreaker: BreakerConfig{
				Enabled:             true,
				FailureThreshold:    5,
				SuccessThreshold:    3,
				Timeout:             30 * time.Second,
				Window:              time.Minute,
				HalfOpenMaxRequests: 3,
			},
		},
		Memory: MemoryConfig{
			Enabled:       true,
			PollInterval:  5 * time.Second,
			MediumBytes:   512 << 20,  // 512MB
			HighBytes:     1024 << 20, // 1GB
			CriticalBytes: 1536 << 20, // 1.5GB
		},
		Monitoring: MonitoringConfig{
			SampleRate:   1.0,
			WindowSize:   1024,
			CapacityHint: 256,
			AlertThresholds: AlertThresholds{
				P99Latency: time.Second,
				ErrorRate:  0.1,
			},
		},
		Distributed: DistributedConfig{
			Coordination:      "none",
			Namespace:         "ballast",
			HeartbeatInterval: 5 * time.Second,
			TTL:               15 * time.Second,
			RequestTimeout:    2 * time.Second,
		},
		Observability: ObservabilityConfig{
			TracingEnabled:    false,
			TracingSampleRate: 0.1,
		},
	}
}

// Validate validates the configuration for correctness.
// It checks required fields and ensures values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Pool.InitialSize <= 0 {
		return fmt.Errorf("pool.initial_size must be positive")
	}
	if c.Pool.MaxSize < c.Pool.InitialSize {
		return fmt.Errorf("pool.max_size must be >= pool.initial_size")
	}
	if c.Pool.EmergencyLimit < c.Pool.MaxSize {
		return fmt.Errorf("pool.emergency_limit must be >= pool.max_size")
	}
	if c.Pool.ScaleThreshold <= 0 || c.Pool.ScaleThreshold > 1 {
		return fmt.Errorf("pool.scale_threshold must be in (0,1]")
	}
	if c.Pool.ShrinkThreshold < 0 || c.Pool.ShrinkThreshold >= c.Pool.ScaleThreshold {
		return fmt.Errorf("pool.shrink_threshold must be in [0, scale_threshold)")
	}
	if c.Pool.ScaleFactor <= 1 {
		return fmt.Errorf("pool.scale_factor must be > 1")
	}
	switch c.Pool.OverflowStrategy {
	case "elastic_expansion", "priority_queue", "graceful_fallback", "smart_recycle":
	default:
		return fmt.Errorf("unknown pool.overflow_strategy %q", c.Pool.OverflowStrategy)
	}
	if c.Middleware.LoadShedder.Enabled {
		switch c.Middleware.LoadShedder.Strategy {
		case "priority", "random", "oldest", "adaptive":
		default:
			return fmt.Errorf("unknown load_shedder.strategy %q", c.Middleware.LoadShedder.Strategy)
		}
		if c.Middleware.LoadShedder.Threshold <= 0 || c.Middleware.LoadShedder.Threshold > 1 {
			return fmt.Errorf("load_shedder.threshold must be in (0,1]")
		}
	}
	if c.Middleware.CircuitBreaker.Enabled {
		if c.Middleware.CircuitBreaker.FailureThreshold <= 0 {
			return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
		}
		if c.Middleware.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("circuit_breaker.timeout must be positive")
		}
	}
	if c.Monitoring.SampleRate < 0 || c.Monitoring.SampleRate > 1 {
		return fmt.Errorf("monitoring.sample_rate must be in [0,1]")
	}
	if c.Memory.Enabled {
		if c.Memory.MediumBytes == 0 || c.Memory.HighBytes <= c.Memory.MediumBytes ||
			c.Memory.CriticalBytes <= c.Memory.HighBytes {
			return fmt.Errorf("memory thresholds must satisfy 0 < medium < high < critical")
		}
	}
	switch c.Distributed.Coordination {
	case "", "none", "memory", "http":
	default:
		return fmt.Errorf("unknown distributed.coordination %q", c.Distributed.Coordination)
	}
	if c.Distributed.Coordination == "http" && c.Distributed.Endpoint == "" {
		return fmt.Errorf("distributed.endpoint is required for http coordination")
	}
	if c.Observability.TracingEnabled {
		if c.Observability.TracingSampleRate <= 0 || c.Observability.TracingSampleRate > 1 {
			return fmt.Errorf("observability.tracing_sample_rate must be in (0,1]")
		}
	}
	return nil
}

// CoordinationEnabled returns true if a real coordination backend is configured
func (d *DistributedConfig) CoordinationEnabled() bool {
	return d.Coordination != "" && d.Coordination != "none"
}
