// Package config defines configuration parsing and capacity derivation.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// Config holds all broker configuration parsed from environment variables.
// The capacity knobs default to zero and are derived from the host at load
// time (see derive), so every value observed by the rest of the program is
// concrete and positive.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Host   string `env:"CILLOW_HOST" envDefault:"127.0.0.1"`
	Port   int    `env:"CILLOW_PORT" envDefault:"5556" validate:"gt=0,lte=65535"`

	// MaxInterpreters caps the total number of interpreter subprocesses.
	// Zero derives min(max(2, NumCPU-1), 8).
	MaxInterpreters int `env:"CILLOW_MAX_INTERPRETERS" validate:"gte=0"`
	// InterpretersPerClient caps interpreters per client identity.
	InterpretersPerClient int `env:"CILLOW_INTERPRETERS_PER_CLIENT" envDefault:"1" validate:"gt=0"`
	// WorkerThreads is the number of request worker goroutines. Zero
	// derives max(2, 2*MaxInterpreters).
	WorkerThreads int `env:"CILLOW_WORKER_THREADS" validate:"gte=0"`
	// QueueSize bounds the request queue. Zero derives WorkerThreads.
	QueueSize int `env:"CILLOW_QUEUE_SIZE" validate:"gte=0"`

	// WorkerBin is the interpreter worker executable, resolved via PATH
	// when not absolute.
	WorkerBin string `env:"CILLOW_WORKER_BIN" envDefault:"cillow-worker"`
	// SpawnTimeout bounds the wait for a freshly spawned worker's READY frame.
	SpawnTimeout time.Duration `env:"CILLOW_SPAWN_TIMEOUT" envDefault:"10s"`
	// ShutdownGrace is how long a terminating worker gets before the
	// termination signal escalates to a kill.
	ShutdownGrace time.Duration `env:"CILLOW_SHUTDOWN_GRACE" envDefault:"5s"`
	// WorkerIdleTimeout reclaims idle workers whose client went silent.
	// Zero disables the sweep.
	WorkerIdleTimeout time.Duration `env:"CILLOW_WORKER_IDLE_TIMEOUT" envDefault:"15m"`

	// MetricsAddr is the listen address for /metrics and /healthz. Empty
	// disables the listener.
	MetricsAddr string `env:"CILLOW_METRICS_ADDR" envDefault:":9090"`
}

// Load parses environment variables into a Config, derives the capacity
// defaults, and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	cfg.derive(runtime.NumCPU())
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load validate: %w", err)
	}
	return cfg, nil
}

// derive fills the zero-valued capacity knobs from the host CPU count.
func (c *Config) derive(numCPU int) {
	if c.MaxInterpreters == 0 {
		c.MaxInterpreters = min(max(2, numCPU-1), 8)
	}
	if c.WorkerThreads == 0 {
		c.WorkerThreads = max(2, 2*c.MaxInterpreters)
	}
	if c.QueueSize == 0 {
		c.QueueSize = c.WorkerThreads
	}
}

// BindAddr is the ZeroMQ endpoint the broker binds.
func (c Config) BindAddr() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }
