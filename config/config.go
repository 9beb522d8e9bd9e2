// Package config defines the typed knobs an embedding application uses to
// configure the inference kernel, and optional loaders for them. The
// kernel itself never calls these loaders — config LOADING from a
// process environment is an external collaborator (spec §1) — but the
// knob structs and the loaders that populate them follow the teacher's
// pkg/config conventions so a host process can wire them the same way
// it wires every other config tree.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// CircuitBreakerConfig mirrors spec §4.7.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold" env:"CB_FAILURE_THRESHOLD"`
	FailureRate        float64       `yaml:"failure_rate" env:"CB_FAILURE_RATE"`
	WindowSize         int           `yaml:"window_size" env:"CB_WINDOW_SIZE"`
	OpenDuration       time.Duration `yaml:"open_duration" env:"CB_OPEN_DURATION"`
	HalfOpenProbes     int           `yaml:"half_open_probes" env:"CB_HALF_OPEN_PROBES"`
	HalfOpenSuccessMin int           `yaml:"half_open_success_min" env:"CB_HALF_OPEN_SUCCESS_MIN"`
}

// TokenBucketConfig mirrors spec §4.6.
type TokenBucketConfig struct {
	Capacity     float64       `yaml:"capacity" env:"RL_TB_CAPACITY"`
	RefillPeriod time.Duration `yaml:"refill_period" env:"RL_TB_REFILL_PERIOD"`
}

// SlidingWindowConfig mirrors spec §4.6.
type SlidingWindowConfig struct {
	Capacity int           `yaml:"capacity" env:"RL_SW_CAPACITY"`
	Window   time.Duration `yaml:"window" env:"RL_SW_WINDOW"`
}

// SessionPoolConfig mirrors spec §4.5.
type SessionPoolConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent" env:"POOL_MAX_CONCURRENT"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" env:"POOL_IDLE_TIMEOUT"`
	MaxAge        time.Duration `yaml:"max_age" env:"POOL_MAX_AGE"`
	Reuse         bool          `yaml:"reuse" env:"POOL_REUSE"`
	WarmCount     int           `yaml:"warm_count" env:"POOL_WARM_COUNT"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"POOL_SWEEP_INTERVAL"`
}

// RunnerFactoryConfig mirrors spec §4.5.
type RunnerFactoryConfig struct {
	MaxPoolSize     int           `yaml:"max_pool_size" env:"FACTORY_MAX_POOL_SIZE"`
	IdleTTL         time.Duration `yaml:"idle_ttl" env:"FACTORY_IDLE_TTL"`
	SweepInterval   time.Duration `yaml:"sweep_interval" env:"FACTORY_SWEEP_INTERVAL"`
	WarmupOnCreate  bool          `yaml:"warmup_on_create" env:"FACTORY_WARMUP_ON_CREATE"`
}

// LoggingConfig controls the kernel's logging package.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// KernelConfig aggregates every tunable named in spec §4.5-§4.7.
type KernelConfig struct {
	Logging        LoggingConfig        `yaml:"logging"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	TokenBucket    TokenBucketConfig    `yaml:"token_bucket"`
	SlidingWindow  SlidingWindowConfig  `yaml:"sliding_window"`
	SessionPool    SessionPoolConfig    `yaml:"session_pool"`
	RunnerFactory  RunnerFactoryConfig  `yaml:"runner_factory"`
}

// Default returns the defaults named throughout spec §4.5-§4.7.
func Default() *KernelConfig {
	return &KernelConfig{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:   5,
			FailureRate:        0.5,
			WindowSize:         10,
			OpenDuration:       30 * time.Second,
			HalfOpenProbes:     3,
			HalfOpenSuccessMin: 2,
		},
		TokenBucket: TokenBucketConfig{
			Capacity:     60,
			RefillPeriod: time.Minute,
		},
		SlidingWindow: SlidingWindowConfig{
			Capacity: 100,
			Window:   time.Minute,
		},
		SessionPool: SessionPoolConfig{
			MaxConcurrent: 4,
			IdleTimeout:   10 * time.Minute,
			MaxAge:        time.Hour,
			Reuse:         true,
			SweepInterval: 2 * time.Minute,
		},
		RunnerFactory: RunnerFactoryConfig{
			MaxPoolSize:   10,
			IdleTTL:       15 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
	}
}

// Load reads a KernelConfig from a YAML file, starting from Default().
func Load(path string) (*KernelConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kernel config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse kernel config: %w", err)
	}
	return cfg, nil
}

// LoadEnv loads a .env file (if present) then overlays environment
// variables onto Default() using struct `env` tags.
func LoadEnv(dotenvPath string) (*KernelConfig, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load dotenv: %w", err)
		}
	}
	cfg := Default()
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode env config: %w", err)
	}
	return cfg, nil
}
