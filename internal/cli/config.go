package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ChuLiYu/line-planner/internal/controller"
	"github.com/ChuLiYu/line-planner/internal/metrics"
	"github.com/ChuLiYu/line-planner/internal/planner"
	"github.com/ChuLiYu/line-planner/internal/storage/wal"
	"github.com/ChuLiYu/line-planner/pkg/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Planner struct {
		WorkdayHours  float64      `yaml:"workday_hours" validate:"gt=0,lte=24"`
		LookaheadDays int          `yaml:"lookahead_days" validate:"gte=1,lte=3650"`
		Posts         []types.Post `yaml:"posts" validate:"required,min=1,unique=ID,dive"`
	} `yaml:"planner"`

	WAL struct {
		Path            string `yaml:"path" validate:"required"`
		BufferSize      int    `yaml:"buffer_size" validate:"gte=0"`
		FlushIntervalMs int    `yaml:"flush_interval_ms" validate:"gte=0"`
		SyncOnAppend    bool   `yaml:"sync_on_append"`
		CompressRotated bool   `yaml:"compress_rotated"`
	} `yaml:"wal"`

	Snapshot struct {
		Path            string `yaml:"path" validate:"required"`
		IntervalSeconds int    `yaml:"interval_seconds" validate:"gte=0"`
		Backups         int    `yaml:"backups" validate:"gte=0"`
	} `yaml:"snapshot"`

	Refresh struct {
		IntervalSeconds int `yaml:"interval_seconds" validate:"gte=0"`
		Workers         int `yaml:"workers" validate:"gte=1,lte=256"`
		TimeoutMs       int `yaml:"timeout_ms" validate:"gte=0"`
	} `yaml:"refresh"`

	Server struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port" validate:"gte=1,lte=65535"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port" validate:"gte=1,lte=65535"`
	} `yaml:"metrics"`

	Log struct {
		Level      string `yaml:"level" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" validate:"oneof=text json"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
		MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
		MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`

	Store struct {
		Driver string `yaml:"driver" validate:"omitempty,oneof=sqlite3 postgres mysql"`
		DSN    string `yaml:"dsn" validate:"required_with=Driver"`
		Prefix string `yaml:"prefix"`
	} `yaml:"store"`
}

// DefaultConfig returns the configuration used when a field is not set.
func DefaultConfig() *Config {
	def := planner.DefaultOptions()

	cfg := &Config{}
	cfg.Planner.WorkdayHours = def.WorkdayHours
	cfg.Planner.LookaheadDays = def.LookaheadDays
	cfg.Planner.Posts = def.Posts
	cfg.WAL.Path = "data/planner.wal"
	cfg.WAL.BufferSize = 1000
	cfg.WAL.FlushIntervalMs = 1000
	cfg.Snapshot.Path = "data/planner.snapshot.json"
	cfg.Snapshot.IntervalSeconds = 300
	cfg.Snapshot.Backups = 3
	cfg.Refresh.IntervalSeconds = 60
	cfg.Refresh.Workers = 4
	cfg.Refresh.TimeoutMs = 5000
	cfg.Server.Enabled = true
	cfg.Server.Port = 50051
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9090
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxBackups = 5
	cfg.Log.MaxAgeDays = 30
	return cfg
}

// loadConfig 讀取設定
//
// 順序：預設值 → YAML 檔 → .env 檔 → PLANNER_* 環境變數 → 驗證
//
// 錯誤處理：
//   - YAML 檔不存在或格式錯誤時返回錯誤
//   - .env 檔不存在時略過
func loadConfig(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides paths, ports and logging from PLANNER_* variables.
func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"PLANNER_WAL_PATH":      &cfg.WAL.Path,
		"PLANNER_SNAPSHOT_PATH": &cfg.Snapshot.Path,
		"PLANNER_LOG_LEVEL":     &cfg.Log.Level,
		"PLANNER_LOG_FORMAT":    &cfg.Log.Format,
		"PLANNER_LOG_FILE":      &cfg.Log.File,
		"PLANNER_STORE_DRIVER":  &cfg.Store.Driver,
		"PLANNER_STORE_DSN":     &cfg.Store.DSN,
		"PLANNER_STORE_PREFIX":  &cfg.Store.Prefix,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PLANNER_GRPC_PORT":    &cfg.Server.Port,
		"PLANNER_METRICS_PORT": &cfg.Metrics.Port,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", key, v, err)
		}
		*dst = n
	}
	return nil
}

var validate = validator.New()

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// controllerConfig maps the file configuration onto controller.Config.
func (cfg *Config) controllerConfig(logger *slog.Logger, collector *metrics.Collector) controller.Config {
	opts := planner.DefaultOptions()
	opts.WorkdayHours = cfg.Planner.WorkdayHours
	opts.LookaheadDays = cfg.Planner.LookaheadDays
	opts.Posts = cfg.Planner.Posts

	walOpts := wal.DefaultOptions()
	walOpts.BufferSize = cfg.WAL.BufferSize
	walOpts.FlushInterval = time.Duration(cfg.WAL.FlushIntervalMs) * time.Millisecond
	walOpts.SyncOnAppend = cfg.WAL.SyncOnAppend
	walOpts.CompressRotated = cfg.WAL.CompressRotated

	return controller.Config{
		WALPath:           cfg.WAL.Path,
		SnapshotPath:      cfg.Snapshot.Path,
		WAL:               walOpts,
		SnapshotInterval:  time.Duration(cfg.Snapshot.IntervalSeconds) * time.Second,
		SnapshotBackups:   cfg.Snapshot.Backups,
		RefreshInterval:   time.Duration(cfg.Refresh.IntervalSeconds) * time.Second,
		RefreshWorkers:    cfg.Refresh.Workers,
		ProjectionTimeout: time.Duration(cfg.Refresh.TimeoutMs) * time.Millisecond,
		Planner:           opts,
		Logger:            logger,
		Metrics:           collector,
	}
}

// newLogger builds the slog logger described by the log section.
// The returned closer releases the log file, if any.
func newLogger(cfg *Config, stderr io.Writer) (*slog.Logger, io.Closer) {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if cfg.Log.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
		out = io.MultiWriter(stderr, file)
		closer = file
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
