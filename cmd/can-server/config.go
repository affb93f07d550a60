package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/candump"
	"github.com/kstaniek/go-socketcan/internal/hub"
	"github.com/kstaniek/go-socketcan/internal/linkprofile"
)

type appConfig struct {
	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	policy          hub.BackpressurePolicy
	logMetricsEvery time.Duration
	canIf           string
	canFD           bool
	canReadTO       time.Duration
	errMask         string
	txFilters       string
	clientFilters   string
	txQueue         int
	txPriority      bool
	bitrate         uint
	dataBitrate     uint
	restartMs       int // -1 leaves the driver setting alone
	linkProfile     string
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string

	// filled by validate
	errMaskVal       can.ErrorClass
	txFilterSet      can.Filters
	clientFilterSet  can.Filters
	link             linkprofile.Profile
	linkSetupEnabled bool
}

func defaultConfig() *appConfig {
	return &appConfig{
		listenAddr:   ":20000",
		logFormat:    "text",
		logLevel:     "info",
		hubBuffer:    512,
		hubPolicy:    "drop",
		canIf:        "can0",
		canReadTO:    200 * time.Millisecond,
		errMask:      "all",
		txQueue:      1024,
		restartMs:    -1,
		handshakeTO:  3 * time.Second,
		clientReadTO: 60 * time.Second,
	}
}

func parseFlags() (*appConfig, bool) {
	cfg := defaultConfig()
	fs := flag.CommandLine
	fs.StringVar(&cfg.listenAddr, "listen", cfg.listenAddr, "TCP listen address")
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", cfg.hubBuffer, "Per-client hub buffer (frames)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", cfg.hubPolicy, "Backpressure policy: drop|kick")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.StringVar(&cfg.canIf, "can-if", cfg.canIf, "SocketCAN interface")
	fs.BoolVar(&cfg.canFD, "fd", false, "Enable CAN FD frames on the socket")
	fs.DurationVar(&cfg.canReadTO, "can-read-timeout", cfg.canReadTO, "SocketCAN receive timeout (bounds shutdown latency)")
	fs.StringVar(&cfg.errMask, "err-mask", cfg.errMask, "Error classes to receive: all|none|hex mask")
	fs.StringVar(&cfg.txFilters, "tx-filters", "", "Only transmit client frames matching these filters (id:mask,id~mask)")
	fs.StringVar(&cfg.clientFilters, "client-filters", "", "Only forward bus frames matching these filters to clients")
	fs.IntVar(&cfg.txQueue, "tx-queue", cfg.txQueue, "Transmit queue capacity (frames)")
	fs.BoolVar(&cfg.txPriority, "tx-priority", false, "Transmit queued frames in arbitration order")
	fs.UintVar(&cfg.bitrate, "bitrate", 0, "Configure the interface bit-rate before opening (0 = leave)")
	fs.UintVar(&cfg.dataBitrate, "dbitrate", 0, "Configure the CAN FD data bit-rate (requires -fd)")
	fs.IntVar(&cfg.restartMs, "restart-ms", cfg.restartMs, "Bus-off auto restart delay in ms (-1 = leave)")
	fs.StringVar(&cfg.linkProfile, "link-profile", "", "YAML link profile applied to the interface before opening")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", cfg.handshakeTO, "Client handshake timeout")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", cfg.clientReadTO, "Per-connection read deadline")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default can-server-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Flags set on the command line take precedence over the environment.
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

// validate checks values and ranges and caches the parsed filters, error
// mask and link profile. It does not open devices or listeners.
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
	policy, err := hub.ParsePolicy(c.hubPolicy)
	if err != nil {
		return fmt.Errorf("invalid hub-policy: %w", err)
	}
	c.policy = policy
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.canIf == "" {
		return errors.New("can-if must not be empty")
	}
	if c.canReadTO <= 0 {
		return errors.New("can-read-timeout must be > 0")
	}
	if c.txQueue <= 0 {
		return fmt.Errorf("tx-queue must be > 0 (got %d)", c.txQueue)
	}
	if c.handshakeTO <= 0 {
		return errors.New("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return errors.New("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return errors.New("max-clients must be >= 0")
	}
	if c.restartMs < -1 {
		return fmt.Errorf("restart-ms must be >= -1 (got %d)", c.restartMs)
	}
	if c.dataBitrate > 0 && !c.canFD {
		return errors.New("dbitrate requires fd")
	}
	if c.errMaskVal, err = parseErrMask(c.errMask); err != nil {
		return fmt.Errorf("invalid err-mask: %w", err)
	}
	if c.txFilterSet, err = candump.ParseFilters(c.txFilters); err != nil {
		return fmt.Errorf("invalid tx-filters: %w", err)
	}
	if c.clientFilterSet, err = candump.ParseFilters(c.clientFilters); err != nil {
		return fmt.Errorf("invalid client-filters: %w", err)
	}
	return c.buildLinkProfile()
}

func parseErrMask(s string) (can.ErrorClass, error) {
	if s == "none" || s == "" {
		return 0, nil
	}
	return candump.ParseErrorMask(s)
}

// buildLinkProfile merges -link-profile with the individual link flags;
// flags win. Link setup is skipped when nothing asks for it.
func (c *appConfig) buildLinkProfile() error {
	var p linkprofile.Profile
	if c.linkProfile != "" {
		var err error
		if p, err = linkprofile.Load(c.linkProfile); err != nil {
			return err
		}
		c.linkSetupEnabled = true
	}
	if c.bitrate > 0 {
		p.Bitrate = uint32(c.bitrate)
		p.SamplePoint = 0
		c.linkSetupEnabled = true
	}
	if c.dataBitrate > 0 {
		p.DataBitrate = uint32(c.dataBitrate)
		p.DataSamplePoint = 0
		c.linkSetupEnabled = true
	}
	if c.restartMs >= 0 {
		ms := uint32(c.restartMs)
		p.RestartMs = &ms
		c.linkSetupEnabled = true
	}
	if err := p.Validate(); err != nil {
		return err
	}
	c.link = p
	return nil
}

// applyEnvOverrides maps CAN_SERVER_* environment variables to config fields
// unless the corresponding flag was set explicitly. Empty values are ignored.
// The first parse error is returned after all variables were considered.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	e := envApplier{set: set}
	e.str("listen", "CAN_SERVER_LISTEN", &c.listenAddr)
	e.str("log-format", "CAN_SERVER_LOG_FORMAT", &c.logFormat)
	e.str("log-level", "CAN_SERVER_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		// an empty CAN_SERVER_METRICS disables the endpoint
		if v, ok := os.LookupEnv("CAN_SERVER_METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	e.integer("hub-buffer", "CAN_SERVER_HUB_BUFFER", &c.hubBuffer)
	e.str("hub-policy", "CAN_SERVER_HUB_POLICY", &c.hubPolicy)
	e.duration("log-metrics-interval", "CAN_SERVER_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	e.str("can-if", "CAN_SERVER_IF", &c.canIf)
	e.boolean("fd", "CAN_SERVER_FD", &c.canFD)
	e.duration("can-read-timeout", "CAN_SERVER_CAN_READ_TIMEOUT", &c.canReadTO)
	e.str("err-mask", "CAN_SERVER_ERR_MASK", &c.errMask)
	e.str("tx-filters", "CAN_SERVER_TX_FILTERS", &c.txFilters)
	e.str("client-filters", "CAN_SERVER_CLIENT_FILTERS", &c.clientFilters)
	e.integer("tx-queue", "CAN_SERVER_TX_QUEUE", &c.txQueue)
	e.boolean("tx-priority", "CAN_SERVER_TX_PRIORITY", &c.txPriority)
	e.unsigned("bitrate", "CAN_SERVER_BITRATE", &c.bitrate)
	e.unsigned("dbitrate", "CAN_SERVER_DBITRATE", &c.dataBitrate)
	e.integer("restart-ms", "CAN_SERVER_RESTART_MS", &c.restartMs)
	e.str("link-profile", "CAN_SERVER_LINK_PROFILE", &c.linkProfile)
	e.integer("max-clients", "CAN_SERVER_MAX_CLIENTS", &c.maxClients)
	e.duration("handshake-timeout", "CAN_SERVER_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	e.duration("client-read-timeout", "CAN_SERVER_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	e.boolean("mdns-enable", "CAN_SERVER_MDNS_ENABLE", &c.mdnsEnable)
	e.str("mdns-name", "CAN_SERVER_MDNS_NAME", &c.mdnsName)
	return e.err
}

type envApplier struct {
	set map[string]struct{}
	err error
}

// lookup returns the trimmed value of env unless flag was set on the
// command line or the variable is empty.
func (e *envApplier) lookup(flagName, env string) (string, bool) {
	if _, ok := e.set[flagName]; ok {
		return "", false
	}
	v, ok := os.LookupEnv(env)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envApplier) fail(env string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", env, err)
	}
}

func (e *envApplier) str(flagName, env string, dst *string) {
	if v, ok := e.lookup(flagName, env); ok {
		*dst = v
	}
}

func (e *envApplier) integer(flagName, env string, dst *int) {
	if v, ok := e.lookup(flagName, env); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(env, err)
			return
		}
		*dst = n
	}
}

func (e *envApplier) unsigned(flagName, env string, dst *uint) {
	if v, ok := e.lookup(flagName, env); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			e.fail(env, err)
			return
		}
		*dst = uint(n)
	}
}

func (e *envApplier) duration(flagName, env string, dst *time.Duration) {
	if v, ok := e.lookup(flagName, env); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(env, err)
			return
		}
		*dst = d
	}
}

func (e *envApplier) boolean(flagName, env string, dst *bool) {
	if v, ok := e.lookup(flagName, env); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		default:
			e.fail(env, fmt.Errorf("not a boolean: %q", v))
		}
	}
}
