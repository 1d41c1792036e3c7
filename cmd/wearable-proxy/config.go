package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-wearable-proxy/internal/server"
	"github.com/kstaniek/go-wearable-proxy/internal/wearable"
)

const envPrefix = "WEARABLE_PROXY_"

type appConfig struct {
	listenAddr      string
	link            string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	tick            time.Duration
	networkTO       time.Duration
	keepAlive       time.Duration
	busyPolicy      string
	provider        string
	deviceName      string
	deviceUID       string
	deviceRSSI      int
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
	natsURL         string
	natsSubject     string
	recordPath      string
	sinkBuffer      int
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	fs := flag.CommandLine
	fs.StringVar(&cfg.listenAddr, "listen", ":7070", "TCP listen address (link=tcp)")
	fs.StringVar(&cfg.link, "link", "tcp", "Client link: tcp|serial")
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyUSB0", "Serial device path (link=serial)")
	fs.IntVar(&cfg.baud, "baud", 115200, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	fs.DurationVar(&cfg.tick, "tick", server.DefaultTickInterval, "Session tick interval")
	fs.DurationVar(&cfg.networkTO, "network-timeout", server.DefaultNetworkTimeout, "Per-write network timeout")
	fs.DurationVar(&cfg.keepAlive, "keepalive", 0, "Send a ping after this much idle time (0 disables)")
	fs.StringVar(&cfg.busyPolicy, "busy-policy", "wait", "Second client while one is served: wait|reject")
	fs.StringVar(&cfg.provider, "provider", "debug", "Device provider: debug")
	fs.StringVar(&cfg.deviceName, "device-name", "", "Simulated device name")
	fs.StringVar(&cfg.deviceUID, "device-uid", "", "Simulated device UID (default random)")
	fs.IntVar(&cfg.deviceRSSI, "device-rssi", 0, "Simulated device RSSI in dBm")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the proxy via mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default wearable-proxy-<hostname>)")
	fs.StringVar(&cfg.natsURL, "nats-url", "", "Publish frames and connection events to this NATS server; empty disables")
	fs.StringVar(&cfg.natsSubject, "nats-subject", "wearable.proxy", "NATS subject prefix")
	fs.StringVar(&cfg.recordPath, "record", "", "Record frames and connection events to this sqlite file; empty disables")
	fs.IntVar(&cfg.sinkBuffer, "sink-buffer", 1024, "Per-sink queue length (events)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Explicit flags win over the environment.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate checks values and ranges. It does not open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.link {
	case "tcp":
		if c.listenAddr == "" {
			return errors.New("listen must not be empty for link=tcp")
		}
	case "serial":
		if c.serialDev == "" {
			return errors.New("serial must not be empty for link=serial")
		}
		if c.mdnsEnable {
			return errors.New("mdns-enable requires link=tcp")
		}
	default:
		return fmt.Errorf("invalid link: %s", c.link)
	}
	if _, err := server.ParseBusyPolicy(c.busyPolicy); err != nil {
		return err
	}
	if c.provider != "debug" {
		return fmt.Errorf("invalid provider: %s", c.provider)
	}
	if c.deviceUID != "" && !wearable.ValidUID(c.deviceUID) {
		return fmt.Errorf("invalid device-uid: %s", c.deviceUID)
	}
	if c.deviceRSSI > 0 || c.deviceRSSI < -128 {
		return fmt.Errorf("device-rssi must be in [-128, 0] (got %d)", c.deviceRSSI)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.tick <= 0 {
		return fmt.Errorf("tick must be > 0")
	}
	if c.networkTO <= 0 {
		return fmt.Errorf("network-timeout must be > 0")
	}
	if c.keepAlive < 0 {
		return fmt.Errorf("keepalive must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	if c.sinkBuffer <= 0 {
		return fmt.Errorf("sink-buffer must be > 0 (got %d)", c.sinkBuffer)
	}
	return nil
}

// applyEnvOverrides maps WEARABLE_PROXY_* environment variables to config
// fields unless the corresponding flag was set. Empty values are ignored.
// The first parse error is returned; later variables are still applied.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	fail := func(key string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
		}
	}
	// lookup yields the trimmed value for flag name when the flag was not set
	// and the variable is non-empty. The variable name is derived from the flag.
	lookup := func(name string) (string, string, bool) {
		if _, ok := set[name]; ok {
			return "", "", false
		}
		key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		v, ok := os.LookupEnv(envPrefix + key)
		v = strings.TrimSpace(v)
		return key, v, ok && v != ""
	}
	str := func(name string, dst *string) {
		if _, v, ok := lookup(name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if key, v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if key, v, ok := lookup(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if key, v, ok := lookup(name); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				fail(key, fmt.Errorf("not a boolean: %q", v))
			}
		}
	}

	str("listen", &c.listenAddr)
	str("link", &c.link)
	str("serial", &c.serialDev)
	integer("baud", &c.baud)
	duration("serial-read-timeout", &c.serialReadTO)
	duration("tick", &c.tick)
	duration("network-timeout", &c.networkTO)
	duration("keepalive", &c.keepAlive)
	str("busy-policy", &c.busyPolicy)
	str("provider", &c.provider)
	str("device-name", &c.deviceName)
	str("device-uid", &c.deviceUID)
	integer("device-rssi", &c.deviceRSSI)
	str("log-format", &c.logFormat)
	str("log-level", &c.logLevel)
	duration("log-metrics-interval", &c.logMetricsEvery)
	boolean("mdns-enable", &c.mdnsEnable)
	str("mdns-name", &c.mdnsName)
	str("nats-subject", &c.natsSubject)
	str("record", &c.recordPath)
	integer("sink-buffer", &c.sinkBuffer)
	// Empty values are meaningful here: they disable the endpoint.
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := os.LookupEnv(envPrefix + "METRICS_ADDR"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	if _, ok := set["nats-url"]; !ok {
		if v, ok := os.LookupEnv(envPrefix + "NATS_URL"); ok {
			c.natsURL = strings.TrimSpace(v)
		}
	}
	return firstErr
}
