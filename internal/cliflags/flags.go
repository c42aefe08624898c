// Package cliflags registers the persistent and command-local flags
// shared across the CLI tree, and binds them into viper so config.Load
// and the rest of the service read settings through one interface
// regardless of whether they came from a flag, the environment, or a
// config file. Flags are registered directly against a pflag.FlagSet
// rather than through a declarative registry — this service has a
// single, fixed flag surface with no plugin-provider flags to compose.
package cliflags

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultLogFormat is the default structured-log handler.
const DefaultLogFormat = "text"

// BindFlags binds all of cmd's local and inherited persistent flags to v,
// so v.GetString("listen-address") etc. reflects whatever the user set.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})
}

// ConfigPaths returns the config-path and config-name flag values, for
// passing straight into config.Load.
func ConfigPaths(v *viper.Viper) (paths []string, name string) {
	return v.GetStringSlice("config-path"), v.GetString("config-name")
}

// AddConfigFlags registers the configuration file location flags.
func AddConfigFlags(flags *pflag.FlagSet) {
	flags.StringSlice("config-path", []string{".", "/etc/tls-certificate-exporter"}, "configuration search paths")
	flags.String("config-name", "config", "configuration file name (without extension)")
	flags.Bool("strict", false, "abort on configuration decode or validation errors instead of logging them and running with the last good (initially empty) configuration")
}

// AddListenFlags registers the metrics-server listen address flag.
func AddListenFlags(flags *pflag.FlagSet) {
	flags.String("listen-address", "127.0.0.1:9880", "address the metrics endpoint listens on")
}

// AddLogFlags registers verbosity and log-format flags.
func AddLogFlags(flags *pflag.FlagSet) {
	flags.CountP("verbose", "v", "increase log verbosity (-v: info, -vv: debug)")
	flags.String("log-format", DefaultLogFormat, "log output format: text or json")
}

// AddTimeoutFlags registers the default per-probe timeout override flag.
func AddTimeoutFlags(flags *pflag.FlagSet) {
	flags.Duration("default-timeout", 3*time.Second, "default per-probe TLS handshake timeout")
}
