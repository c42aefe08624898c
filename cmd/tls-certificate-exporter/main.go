package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	slogctx "github.com/veqryn/slog-context"

	"github.com/netwatch/tls-certificate-exporter/internal/cliflags"
	"github.com/netwatch/tls-certificate-exporter/pkg/app"
	"github.com/netwatch/tls-certificate-exporter/pkg/config"
	"github.com/netwatch/tls-certificate-exporter/pkg/phctx"
)

var (
	version string = "snapshot"
	commit  string = "unknown"
	date    string = "unknown"
)

func main() {
	cmd := newRootCmd()
	cmd.Version = fmt.Sprintf("%s-%s (built %s)", version, commit, date)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := phctx.NewViper()

	cmd := &cobra.Command{
		Use:           "tls-certificate-exporter",
		Short:         "Observes TLS certificates presented by configured targets and exports them as Prometheus metrics.",
		SilenceErrors: false,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, v)
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cliflags.BindFlags(cmd, v)
			log := setupLogging(v)
			cmd.SetContext(slogctx.NewCtx(phctx.ContextWithViper(cmd.Context(), v), log))
			return nil
		},
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	flags := cmd.Flags()
	cliflags.AddConfigFlags(flags)
	cliflags.AddListenFlags(flags)
	cliflags.AddLogFlags(flags)
	cliflags.AddTimeoutFlags(flags)
	flags.Bool("oneshot", false, "probe every configured target exactly once, print the results, and exit")

	return cmd
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	log := phctx.Logger(ctx)

	configPaths, configName := cliflags.ConfigPaths(v)
	strict := v.GetBool("strict")

	loaded, err := config.Load(ctx, configPaths, configName, strict)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		return err
	}
	if loaded.HasErrors() {
		log.Error("configuration has errors", "error", loaded.Err())
		if strict {
			return loaded.Err()
		}
	}

	opts := app.Options{
		ListenAddress: v.GetString("listen-address"),
		Oneshot:       v.GetBool("oneshot"),
		Logger:        log,
	}

	return app.Run(ctx, loaded.Config(), opts)
}

func setupLogging(v *viper.Viper) *slog.Logger {
	verbosity := v.GetInt("verbose")
	logFormat := v.GetString("log-format")

	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn - slog.Level(verbosity*4))

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
