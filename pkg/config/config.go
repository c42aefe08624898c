// Package config loads and hot-reloads the service's configuration:
// global scheduler/timeout settings, the named module profiles consumed
// by pkg/profile, and the target list. An RWMutex-guarded config sits
// behind a reload callback driven by fsnotify and surfaced through
// viper.WatchConfig; the previous config is restored whenever a reload
// fails validation, so a config load never leaves behind a half-decoded
// document.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	defaults "github.com/mcuadros/go-defaults"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/netwatch/tls-certificate-exporter/pkg/apperror"
	"github.com/netwatch/tls-certificate-exporter/pkg/phctx"
	"github.com/netwatch/tls-certificate-exporter/pkg/profile"
)

// EnvPrefix is the prefix recognized for environment variable overrides,
// e.g. TLSCE_SCHEDULER_INTERVAL for scheduler.interval.
const EnvPrefix = "TLSCE"

// TargetTLSConfig is the per-target TLS override block, inlined rather
// than referencing a named module when a target needs one-off settings.
type TargetTLSConfig struct {
	CA                 *profile.FileSource `mapstructure:"ca"`
	Cert               *profile.FileSource `mapstructure:"cert"`
	Key                *profile.FileSource `mapstructure:"key"`
	ServerName         *string             `mapstructure:"server_name"`
	InsecureSkipVerify *bool               `mapstructure:"insecure_skip_verify"`
}

// TargetConfig is one entry of the top-level "targets" list.
type TargetConfig struct {
	Target    string           `mapstructure:"target"`
	Module    string           `mapstructure:"module"`
	Timeout   *time.Duration   `mapstructure:"timeout"`
	Interval  *time.Duration   `mapstructure:"interval"`
	TLSConfig *TargetTLSConfig `mapstructure:"tls_config"`
}

// SchedulerConfig is the "scheduler" block.
type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval" default:"600s"`
}

// FileCaching identifies the file-cache operating mode a config
// document may request. Only FileCachingLazy has observable behavior;
// the others are accepted for config compatibility and rejected at
// load time (see DESIGN.md).
type FileCaching string

const (
	FileCachingPreload FileCaching = "preload"
	FileCachingLazy    FileCaching = "lazy"
	FileCachingNone    FileCaching = "none"
)

// GlobalConfig is the fully-decoded top-level configuration document, as
// described by spec §6.
type GlobalConfig struct {
	Workers        int                              `mapstructure:"workers"`
	DefaultTimeout time.Duration                    `mapstructure:"default_timeout" default:"3s"`
	Scheduler      SchedulerConfig                  `mapstructure:"scheduler"`
	FileCaching    FileCaching                      `mapstructure:"filecaching" default:"lazy"`
	TrustedAnchors []profile.FileSource              `mapstructure:"trusted_anchors"`
	Modules        map[string]profile.ModuleProfile `mapstructure:"modules"`
	Targets        []TargetConfig                   `mapstructure:"targets"`
}

// LoadResult wraps the live, hot-reloadable configuration. It is safe for
// concurrent use: the fsnotify-driven reload callback writes under a
// write lock, while Config and friends read under a read lock.
type LoadResult struct {
	mu     sync.RWMutex
	config GlobalConfig
	err    error
	v      *viper.Viper
	log    *slog.Logger
}

// Load reads configuration from a file named configName under any of
// configPaths, or TLSCE_-prefixed environment variables, decodes it into
// a GlobalConfig, and begins watching the resolved file for changes. An
// optional ".env" in the current directory is loaded first, so its
// values participate as environment overrides. If strict is true, a
// decode or validation error aborts Load; otherwise it is recorded and
// surfaced via HasErrors/Err while the zero-value GlobalConfig stands.
func Load(ctx context.Context, configPaths []string, configName string, strict bool) (*LoadResult, error) {
	if err := godotenv.Load(); err != nil && !isNotExist(err) {
		return nil, apperror.New(apperror.ConfigLoad, err)
	}

	r := &LoadResult{
		v:   phctx.Viper(ctx),
		log: phctx.Logger(ctx),
	}

	if err := r.initialize(configPaths, configName, strict); err != nil {
		return nil, err
	}
	return r, nil
}

// Config returns a copy of the current configuration.
func (r *LoadResult) Config() GlobalConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// HasErrors reports whether the most recent load or reload failed.
func (r *LoadResult) HasErrors() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err != nil
}

// Err returns the most recent load/reload error, if any.
func (r *LoadResult) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

func (r *LoadResult) initialize(configPaths []string, configName string, strict bool) error {
	r.log.Debug("initializing configuration")

	r.v.SetEnvPrefix(EnvPrefix)
	r.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	r.v.AutomaticEnv()
	// AutomaticEnv only overrides keys viper already knows from a config
	// file; binding the scalar settings lets their TLSCE_ variables apply
	// when no file sets them.
	for _, key := range []string{"workers", "default_timeout", "scheduler.interval", "filecaching"} {
		_ = r.v.BindEnv(key)
	}

	if configName == "" {
		configName = "config"
	}
	if configPaths == nil {
		configPaths = []string{".", "/etc/tls-certificate-exporter"}
	}
	for _, p := range configPaths {
		r.v.AddConfigPath(p)
	}
	r.v.SetConfigName(configName)

	if err := r.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			r.log.Info("no configuration file found - using defaults")
		} else {
			r.log.Error("failed to read config", "error", err)
			return apperror.New(apperror.ConfigLoad, err)
		}
	} else {
		r.log.Info("read config", slog.String("file", r.v.ConfigFileUsed()))
		r.v.WatchConfig()
		r.v.OnConfigChange(func(_ fsnotify.Event) {
			r.log.Debug("config change")

			r.mu.Lock()
			prevConfig, prevErr := r.config, r.err
			r.mu.Unlock()

			if err := r.v.ReadInConfig(); err != nil {
				r.log.Error("failed to read config", "error", err)
				return
			}

			if err := r.update(strict); err != nil {
				r.log.Error("config reload rejected, keeping previous configuration", "error", err)
				r.mu.Lock()
				r.config, r.err = prevConfig, prevErr
				r.mu.Unlock()
				return
			}

			r.log.Info("config reloaded")
		})
	}

	if err := r.update(strict); err != nil {
		r.log.Error("failed to load config", "error", err)
		return err
	}

	r.log.Info("config loaded", slog.Int("targets", len(r.Config().Targets)), slog.Int("modules", len(r.Config().Modules)))

	return nil
}

func (r *LoadResult) update(strict bool) error {
	cfg, err := decode(r.v)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		if strict {
			return err
		}
		r.err = err
		return nil
	}

	r.config, r.err = cfg, nil
	return nil
}

func decode(v *viper.Viper) (GlobalConfig, error) {
	var cfg GlobalConfig
	defaults.SetDefaults(&cfg)

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		fileSourceDecodeHook,
	)

	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return GlobalConfig{}, apperror.New(apperror.ConfigLoad, err)
	}

	if err := validate(cfg); err != nil {
		return GlobalConfig{}, err
	}

	return cfg, nil
}

// fileSourceDecodeHook decodes a "trusted_anchors"/"certs"/"key"/"ca"
// entry into a profile.FileSource, accepting either a bare path string
// or a {content: "..."} map per spec §6.
func fileSourceDecodeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(profile.FileSource{}) {
		return data, nil
	}

	switch from.Kind() {
	case reflect.String:
		return profile.FileSource{Path: data.(string)}, nil
	case reflect.Map:
		m, ok := data.(map[string]interface{})
		if !ok {
			return data, nil
		}
		content, ok := m["content"]
		if !ok {
			return data, fmt.Errorf("file source map must set %q", "content")
		}
		switch c := content.(type) {
		case string:
			return profile.FileSource{Content: []byte(c)}, nil
		case []byte:
			return profile.FileSource{Content: c}, nil
		default:
			return data, fmt.Errorf("file source content must be a string")
		}
	default:
		return data, nil
	}
}

func validate(cfg GlobalConfig) error {
	switch cfg.FileCaching {
	case FileCachingLazy:
	case FileCachingPreload, FileCachingNone:
		return apperror.Newf(apperror.ConfigLoad, "filecaching %q is recognized but not implemented; only %q is supported", cfg.FileCaching, FileCachingLazy)
	default:
		return apperror.Newf(apperror.ConfigLoad, "unrecognized filecaching mode %q", cfg.FileCaching)
	}

	for name, m := range cfg.Modules {
		if m.StartTLS == nil {
			continue
		}
		switch *m.StartTLS {
		case profile.StartTLSSmtp, profile.StartTLSImap, profile.StartTLSPop3,
			profile.StartTLSLdap, profile.StartTLSFtp, profile.StartTLSXmpp,
			profile.StartTLSNntp, profile.StartTLSPostgres:
			// recognized dialect name; whether it is actually wired into
			// internal/starttls is decided at probe time, not load time.
		default:
			return apperror.Newf(apperror.ConfigLoad, "module %q: unrecognized starttls dialect %q", name, *m.StartTLS)
		}
	}
	for i, t := range cfg.Targets {
		if t.Target == "" {
			return apperror.Newf(apperror.ConfigLoad, "targets[%d]: target is required", i)
		}
	}
	return nil
}

func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "no such file") || strings.Contains(err.Error(), "cannot find the file")
}
