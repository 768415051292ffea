// Package config is the ambient, environment-driven configuration
// surface for a running edgehost process: the listen address the
// reactor binds, worker/queue sizing for the bus, the etcd endpoints
// backing the matrix.Cluster a Host joins, and log setup. It is the
// "configuration contract (consumed from outside)" spec.md §6 names
// but leaves unspecified; nothing in reactor/ or bus/ imports this
// package directly, by design (they take plain values and a
// *zap.Logger). Config is consumed by cmd/edgehost, the process
// entrypoint, and by service/example, whose Init loads it.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the process-wide environment configuration. Fields are
// resolved by caarlos0/env from OS environment variables (after an
// optional local .env file is loaded), matching the
// dmitrymomot-foundation env-tag-struct convention.
type Config struct {
	// ListenAddr is the single TCP listen address the host's
	// TcpServer binds (spec.md §6: "the server binds to one listen
	// address").
	ListenAddr string `env:"EDGEHOST_LISTEN_ADDR" envDefault:"0.0.0.0:7000"`

	// EventQueueSize bounds the StackFlow's FIFO (spec.md §3, §7
	// QueueFull).
	EventQueueSize int `env:"EDGEHOST_EVENT_QUEUE_SIZE" envDefault:"1024"`

	// WorkerThreads is reserved for future multi-reactor scaling
	// (spec.md §1 Non-goals: "design permits it but we specify one
	// reactor"); the reactor itself always runs a single EventLoop
	// regardless of this value today.
	WorkerThreads int `env:"EDGEHOST_WORKER_THREADS" envDefault:"1"`

	// LogLevel is one of zap's level names: debug, info, warn, error.
	LogLevel string `env:"EDGEHOST_LOG_LEVEL" envDefault:"info"`

	// LogFile, if non-empty, rotates logs through lumberjack instead
	// of writing to stderr. Empty means stderr only.
	LogFile string `env:"EDGEHOST_LOG_FILE" envDefault:""`

	// LogFileMaxSizeMB is lumberjack's per-file size cap before
	// rotation.
	LogFileMaxSizeMB int `env:"EDGEHOST_LOG_FILE_MAX_SIZE_MB" envDefault:"100"`

	// LogFileMaxBackups is how many rotated files lumberjack retains.
	LogFileMaxBackups int `env:"EDGEHOST_LOG_FILE_MAX_BACKUPS" envDefault:"5"`

	// ClusterName identifies the matrix.Cluster this host joins
	// (see Host.Join in host.go).
	ClusterName string `env:"EDGEHOST_CLUSTER_NAME" envDefault:"edgehost"`

	// EtcdEndpoints is the etcd cluster backing the matrix.Cluster a
	// Host joins (cmd/edgehost's only external dependency).
	EtcdEndpoints []string `env:"EDGEHOST_ETCD_ENDPOINTS" envSeparator:"," envDefault:"127.0.0.1:2379"`

	// MetricsAddr is where cmd/edgehost serves the operational
	// counters endpoint (adapter.NewCountersRouter).
	MetricsAddr string `env:"EDGEHOST_METRICS_ADDR" envDefault:"127.0.0.1:9000"`
}

// Load reads a local .env file if present (ignored if absent — this is
// a convenience for local runs, not a requirement) and parses the
// process environment into a Config.
func Load() (Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("config: load .env: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

// MustLoad calls Load and panics on failure; intended for process
// startup, mirroring the corpus's MustLoad convention for env config.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// NewLogger builds the process's *zap.Logger from cfg: to stderr only,
// or additionally tee'd through a lumberjack-rotated file when LogFile
// is set. This is the one place in the repo that constructs a root
// logger; every other component (EventLoop, TcpServer, StackFlow,
// ChannelManager, ...) takes a *zap.Logger by injection and never
// builds its own.
func NewLogger(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("config: parse log level %q: %w", cfg.LogLevel, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	sink := zapcore.AddSync(os.Stderr)
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogFileMaxSizeMB,
			MaxBackups: cfg.LogFileMaxBackups,
			Compress:   true,
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(rotator))
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller()), nil
}
