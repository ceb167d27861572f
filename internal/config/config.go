package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/chu"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"
	"github.com/rakunlabs/tell"
	"github.com/xhit/go-str2duration/v2"
)

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Server      Server      `cfg:"server"`
	Store       Store       `cfg:"store"`
	ObjectStore ObjectStore `cfg:"object_store"`
	Queue       Queue       `cfg:"queue"`
	Signature   Signature   `cfg:"signature"`
	Worker      Worker      `cfg:"worker"`
	Reaper      Reaper      `cfg:"reaper"`
	Auth        Auth        `cfg:"auth"`
	Telemetry   tell.Config `cfg:"telemetry,noprefix"`
}

// Auth configures the short-lived JWT the token endpoint mints (spec §6).
// JWT validation by downstream consumers is out of scope; this repository
// only mints.
type Auth struct {
	JWTSecret string        `cfg:"jwt_secret" log:"-"`
	TokenTTL  time.Duration `cfg:"token_ttl" default:"15m"`
}

type Server struct {
	BasePath string `cfg:"base_path"`
	Port     string `cfg:"port" default:"8080"`
	Host     string `cfg:"host"`
}

// Store configures the Postgres metadata repository. There is no
// in-process fallback outside tests: internal/store/memory is a test
// double only, never selected by configuration.
type Store struct {
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string `cfg:"datasource" log:"-"`
	Schema     string `cfg:"schema"`
	Table      string `cfg:"table" default:"crashvault_migrations"`
}

// ObjectStore selects and configures the blob backend. When Bucket is
// empty the server falls back to the in-memory store, matching the
// teacher's SQLite/memory store fallback idiom for local development.
type ObjectStore struct {
	Bucket          string `cfg:"bucket"`
	Region          string `cfg:"region"`
	Endpoint        string `cfg:"endpoint"`
	AccessKeyID     string `cfg:"access_key_id" log:"-"`
	SecretAccessKey string `cfg:"secret_access_key" log:"-"`
	UsePathStyle    bool   `cfg:"use_path_style"`
}

// Queue selects and configures the processing queue backend. When Addr is
// empty the server falls back to an in-memory channel queue.
type Queue struct {
	Addr     string `cfg:"addr"`
	Password string `cfg:"password" log:"-"`
	DB       int    `cfg:"db"`
	Key      string `cfg:"key" default:"crashvault:jobs"`
}

// Signature configures the crash-signature generator.
type Signature struct {
	SkipPatterns      []string `cfg:"skip_patterns"`
	EndPatterns       []string `cfg:"end_patterns"`
	Delimiter         string   `cfg:"delimiter" default:"|"`
	MaximumFrameCount int      `cfg:"maximum_frame_count" default:"10"`
}

type Worker struct {
	Concurrency int `cfg:"concurrency" default:"4"`
	MaxRetries  int `cfg:"max_retries" default:"5"`
}

// Reaper configures the orphan-blob reconciliation schedule.
type Reaper struct {
	// Schedule is a standard cron expression; hardloop parses it directly.
	Schedule string `cfg:"schedule" default:"0 * * * *"`
	// FailedRetention accepts day units ("7d") str2duration's
	// ParseDuration understands and time.ParseDuration doesn't. Empty
	// disables purging of failed crash rows.
	FailedRetention string `cfg:"failed_retention" default:"168h"`
}

// FailedRetentionDuration resolves Reaper.FailedRetention, returning zero
// when the field is empty (purging disabled).
func (r Reaper) FailedRetentionDuration() (time.Duration, error) {
	if r.FailedRetention == "" {
		return 0, nil
	}
	d, err := str2duration.ParseDuration(r.FailedRetention)
	if err != nil {
		return 0, fmt.Errorf("parse reaper.failed_retention %q: %w", r.FailedRetention, err)
	}
	return d, nil
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("CRASHVAULT_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
