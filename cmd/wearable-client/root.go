package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-wearable-proxy/internal/logging"
)

const envPrefix = "WEARABLE_CLIENT_"

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	host      string
	port      int
	serial    string
	baud      int
	timeout   time.Duration
	logFormat string
	logLevel  string

	logger *slog.Logger
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "wearable-client",
		Short: "Talk to a wearable proxy",
		Long: `wearable-client connects to a wearable proxy over TCP or a serial
link and drives the attached device: search, connect, stream sensor
frames, record sessions and change device settings.

Every persistent flag may also be given as WEARABLE_CLIENT_<FLAG>,
for example WEARABLE_CLIENT_HOST=10.0.0.7. Flags win over the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := applyEnv(cmd, os.LookupEnv); err != nil {
				return err
			}
			return opts.setup()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.host, "host", "127.0.0.1", "Proxy host")
	pf.IntVar(&opts.port, "port", 7070, "Proxy TCP port")
	pf.StringVar(&opts.serial, "serial", "", "Reach the proxy over this serial device instead of TCP")
	pf.IntVar(&opts.baud, "baud", 115200, "Serial baud rate")
	pf.DurationVar(&opts.timeout, "timeout", 3*time.Second, "Time allowed for connecting and for each request")
	pf.StringVar(&opts.logFormat, "log-format", "text", "Log format: text|json")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug|info|warn|error")

	cmd.AddCommand(
		discoverCmd(opts),
		searchCmd(opts),
		connectCmd(opts),
		monitorCmd(opts),
		recordCmd(opts),
		pingCmd(opts),
		sensorCmd(opts),
		gestureCmd(opts),
		intervalCmd(opts),
		rotationCmd(opts),
		versionCmd(),
	)
	return cmd
}

// applyEnv fills persistent flags that were not given on the command line
// from WEARABLE_CLIENT_* variables. Empty values are ignored.
func applyEnv(cmd *cobra.Command, lookup func(string) (string, bool)) error {
	for _, name := range []string{"host", "port", "serial", "baud", "timeout", "log-format", "log-level"} {
		f := cmd.Flags().Lookup(name)
		if f == nil || f.Changed {
			continue
		}
		key := envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		v, ok := lookup(key)
		if v = strings.TrimSpace(v); !ok || v == "" {
			continue
		}
		if err := cmd.Flags().Set(name, v); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

func (o *globalOptions) setup() error {
	switch o.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", o.logFormat)
	}
	switch o.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", o.logLevel)
	}
	if o.serial == "" && (o.port <= 0 || o.port > 65535) {
		return fmt.Errorf("port must be in 1..65535 (got %d)", o.port)
	}
	if o.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", o.baud)
	}
	if o.timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	o.logger = logging.New(o.logFormat, logging.ParseLevel(o.logLevel), os.Stderr).With("app", "wearable-client")
	logging.Set(o.logger)
	return nil
}

// target names the proxy for messages.
func (o *globalOptions) target() string {
	if o.serial != "" {
		return o.serial
	}
	return fmt.Sprintf("%s:%d", o.host, o.port)
}
