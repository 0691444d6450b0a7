// Package config manages SMGW daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"net"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/smgw/internal/gateway"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete smgw configuration.
type Config struct {
	Admin     AdminConfig       `koanf:"admin"`
	Metrics   MetricsConfig     `koanf:"metrics"`
	Log       LogConfig         `koanf:"log"`
	Throttle  ThrottleConfig    `koanf:"throttle"`
	MsgSize   int               `koanf:"msgsize"`
	Socket    SocketConfig      `koanf:"socket"`
	Senders   map[string]string `koanf:"senders"`
	Listeners []ListenerConfig  `koanf:"listeners"`
	Agents    AgentsConfig      `koanf:"agents"`
}

// AdminConfig holds the ConnectRPC admin server configuration.
type AdminConfig struct {
	// Addr is the admin listen address (e.g., ":50061"). Empty disables it.
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9101").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// ThrottleConfig holds the throttle parameters shared by all listeners.
type ThrottleConfig struct {
	// Threshold is the number of messages forwarded per Timespan.
	Threshold int `koanf:"threshold"`

	// Timespan is the idle period after which the counter resets (e.g., "30s").
	// A bare number is read as seconds.
	Timespan time.Duration `koanf:"timespan"`
}

// SocketConfig holds UDP socket tuning shared by all listeners.
type SocketConfig struct {
	// RecvBuffer sets SO_RCVBUF in bytes. Zero keeps the kernel default.
	RecvBuffer int `koanf:"recv_buffer"`
}

// ListenerConfig describes one UDP listener.
type ListenerConfig struct {
	// Addr is the bind address in host:port form.
	Addr string `koanf:"addr"`

	// Senders maps nicknames to shared secrets. Global senders are merged
	// on top and win on conflicting nicknames.
	Senders map[string]string `koanf:"senders"`

	// Rcps maps agent names to recipient identifiers.
	Rcps map[string][]string `koanf:"rcps"`

	// Format is the message template. Empty selects the default.
	Format string `koanf:"format"`
}

// MergedSenders returns the listener's senders with globals applied on top.
func (lc ListenerConfig) MergedSenders(global map[string]string) map[string]string {
	merged := make(map[string]string, len(lc.Senders)+len(global))
	maps.Copy(merged, lc.Senders)
	maps.Copy(merged, global)
	return merged
}

// AgentsConfig holds the downstream agent configuration.
type AgentsConfig struct {
	Log      LogAgentConfig      `koanf:"log"`
	Telegram TelegramAgentConfig `koanf:"telegram"`
}

// LogAgentConfig configures the agent that writes messages to the log.
type LogAgentConfig struct {
	Enabled bool `koanf:"enabled"`
}

// TelegramAgentConfig configures the Telegram bot agent.
type TelegramAgentConfig struct {
	Enabled bool `koanf:"enabled"`

	// Token is the bot API token.
	Token string `koanf:"token"` //nolint:gosec // G117: credential loaded from config

	// PollTimeout is the long-poll timeout for updates.
	PollTimeout time.Duration `koanf:"poll_timeout"`

	// RatePerSec limits outbound messages per second.
	RatePerSec int `koanf:"rate_per_sec"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Addr: ":50061",
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Throttle: ThrottleConfig{
			Threshold: gateway.DefaultThrottleThreshold,
			Timespan:  gateway.DefaultThrottleTimespan,
		},
		MsgSize: 4096,
		Agents: AgentsConfig{
			Log: LogAgentConfig{Enabled: true},
			Telegram: TelegramAgentConfig{
				PollTimeout: 10 * time.Second,
				RatePerSec:  3,
			},
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for smgw configuration.
// Variables are named SMGW_<section>_<key>, e.g., SMGW_ADMIN_ADDR.
const envPrefix = "SMGW_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (SMGW_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	SMGW_ADMIN_ADDR                   -> admin.addr
//	SMGW_LOG_LEVEL                    -> log.level
//	SMGW_THROTTLE_TIMESPAN            -> throttle.timespan
//	SMGW_AGENTS_TELEGRAM_TOKEN        -> agents.telegram.token
//	SMGW_AGENTS_TELEGRAM_POLL_TIMEOUT -> agents.telegram.poll_timeout
//	SMGW_SENDERS_ALICE                -> senders.alice
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, unmarshalConf()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// defaultMap is the koanf base layer. Its keys also drive envKeyMapper so
// keys containing underscores survive the env mapping.
func defaultMap(defaults *Config) map[string]any {
	return map[string]any{
		"admin.addr":                   defaults.Admin.Addr,
		"metrics.addr":                 defaults.Metrics.Addr,
		"metrics.path":                 defaults.Metrics.Path,
		"log.level":                    defaults.Log.Level,
		"log.format":                   defaults.Log.Format,
		"throttle.threshold":           defaults.Throttle.Threshold,
		"throttle.timespan":            defaults.Throttle.Timespan.String(),
		"msgsize":                      defaults.MsgSize,
		"socket.recv_buffer":           defaults.Socket.RecvBuffer,
		"agents.log.enabled":           defaults.Agents.Log.Enabled,
		"agents.telegram.enabled":      defaults.Agents.Telegram.Enabled,
		"agents.telegram.token":        defaults.Agents.Telegram.Token,
		"agents.telegram.poll_timeout": defaults.Agents.Telegram.PollTimeout.String(),
		"agents.telegram.rate_per_sec": defaults.Agents.Telegram.RatePerSec,
	}
}

// knownEnvKeys maps SMGW_-stripped, lowercased env names to koanf keys
// whose leaf names contain underscores.
var knownEnvKeys = func() map[string]string {
	keys := make(map[string]string)
	for key := range defaultMap(DefaultConfig()) {
		keys[strings.ReplaceAll(key, ".", "_")] = key
	}
	return keys
}()

// envKeyMapper transforms SMGW_ADMIN_ADDR -> admin.addr.
// Known keys are looked up verbatim; anything else has _ replaced with '.'.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	if key, ok := knownEnvKeys[s]; ok {
		return key
	}
	return strings.ReplaceAll(s, "_", ".")
}

// unmarshalConf mirrors koanf's default decoder with durationHook in front.
func unmarshalConf() koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				durationHook,
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			WeaklyTypedInput: true,
		},
	}
}

// durationHook reads bare numbers as seconds for time.Duration fields, so
// "timespan: 30" means 30s rather than 30ns. Strings with a unit are left
// to StringToTimeDurationHookFunc.
func durationHook(_, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeFor[time.Duration]() {
		return data, nil
	}

	var secs float64
	switch v := data.(type) {
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	case uint64:
		secs = float64(v)
	case float64:
		secs = v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return data, nil
		}
		secs = f
	default:
		return data, nil
	}

	if math.IsNaN(secs) || math.Abs(secs) > maxDurationSeconds {
		return nil, fmt.Errorf("duration %v: %w", data, ErrInvalidDuration)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// maxDurationSeconds is the largest second count a time.Duration holds.
const maxDurationSeconds = float64(math.MaxInt64 / int64(time.Second))

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	for key, val := range defaultMap(defaults) {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidDuration indicates a numeric duration outside time.Duration.
	ErrInvalidDuration = errors.New("duration out of range")

	// ErrShortTimespan indicates a throttle timespan below MinThrottleTimespan.
	ErrShortTimespan = errors.New("throttle.timespan must be at least 1s")

	// ErrInvalidMsgSize indicates a non-positive datagram size.
	ErrInvalidMsgSize = errors.New("msgsize must be > 0")

	// ErrInvalidRecvBuffer indicates a negative socket receive buffer.
	ErrInvalidRecvBuffer = errors.New("socket.recv_buffer must be >= 0")

	// ErrInvalidLogFormat indicates an unrecognized log format.
	ErrInvalidLogFormat = errors.New("log.format must be json or text")

	// ErrNoListeners indicates a configuration without listeners.
	ErrNoListeners = errors.New("at least one listener is required")

	// ErrInvalidListenerAddr indicates a listener address that is not host:port.
	ErrInvalidListenerAddr = errors.New("listener addr must be host:port")

	// ErrDuplicateListenerAddr indicates two listeners on the same address.
	ErrDuplicateListenerAddr = errors.New("duplicate listener addr")

	// ErrNoListenerSenders indicates a listener without senders after merging.
	ErrNoListenerSenders = errors.New("listener has no senders")

	// ErrNoListenerRcps indicates a listener without recipients.
	ErrNoListenerRcps = errors.New("listener has no rcps")

	// ErrUnknownAgent indicates rcps naming an agent that is not enabled.
	ErrUnknownAgent = errors.New("rcps references a disabled or unknown agent")

	// ErrEmptyTelegramToken indicates the telegram agent lacks a token.
	ErrEmptyTelegramToken = errors.New("agents.telegram.token must be set when enabled")

	// ErrInvalidTelegramRate indicates a non-positive telegram send rate.
	ErrInvalidTelegramRate = errors.New("agents.telegram.rate_per_sec must be > 0")
)

// MinThrottleTimespan is the shortest accepted throttle.timespan.
const MinThrottleTimespan = time.Second

// Agent names used in listener rcps.
const (
	AgentLog      = "log"
	AgentTelegram = "telegram"
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.MsgSize <= 0 {
		return ErrInvalidMsgSize
	}

	if cfg.Socket.RecvBuffer < 0 {
		return ErrInvalidRecvBuffer
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q: %w", cfg.Log.Format, ErrInvalidLogFormat)
	}

	throttle := gateway.ThrottleConfig{
		Threshold: cfg.Throttle.Threshold,
		Timespan:  cfg.Throttle.Timespan,
	}
	if err := throttle.Validate(); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	if throttle.Timespan < MinThrottleTimespan {
		return fmt.Errorf("throttle.timespan %s: %w", throttle.Timespan, ErrShortTimespan)
	}

	if cfg.Agents.Telegram.Enabled {
		if cfg.Agents.Telegram.Token == "" {
			return ErrEmptyTelegramToken
		}
		if cfg.Agents.Telegram.RatePerSec <= 0 {
			return ErrInvalidTelegramRate
		}
	}

	return validateListeners(cfg)
}

// EnabledAgents returns the names of the enabled downstream agents.
func (c *Config) EnabledAgents() []string {
	var names []string
	if c.Agents.Log.Enabled {
		names = append(names, AgentLog)
	}
	if c.Agents.Telegram.Enabled {
		names = append(names, AgentTelegram)
	}
	return names
}

// validateListeners checks each listener entry for correctness.
func validateListeners(cfg *Config) error {
	if len(cfg.Listeners) == 0 {
		return ErrNoListeners
	}

	agents := cfg.EnabledAgents()
	seen := make(map[string]struct{}, len(cfg.Listeners))

	for i, lc := range cfg.Listeners {
		if _, _, err := net.SplitHostPort(lc.Addr); err != nil {
			return fmt.Errorf("listeners[%d] addr %q: %w: %w", i, lc.Addr, ErrInvalidListenerAddr, err)
		}

		if _, dup := seen[lc.Addr]; dup {
			return fmt.Errorf("listeners[%d] addr %q: %w", i, lc.Addr, ErrDuplicateListenerAddr)
		}
		seen[lc.Addr] = struct{}{}

		senders := lc.MergedSenders(cfg.Senders)
		if len(senders) == 0 {
			return fmt.Errorf("listeners[%d] %s: %w", i, lc.Addr, ErrNoListenerSenders)
		}
		if _, err := gateway.NewSenderRegistry(senders); err != nil {
			return fmt.Errorf("listeners[%d] %s: %w", i, lc.Addr, err)
		}

		if gateway.NewRecipientMap(lc.Rcps).Len() == 0 {
			return fmt.Errorf("listeners[%d] %s: %w", i, lc.Addr, ErrNoListenerRcps)
		}
		for agent := range lc.Rcps {
			if !slices.Contains(agents, agent) {
				return fmt.Errorf("listeners[%d] %s agent %q: %w", i, lc.Addr, agent, ErrUnknownAgent)
			}
		}

		if _, err := gateway.ParseMessageFormat(lc.Format); err != nil {
			return fmt.Errorf("listeners[%d] %s: %w", i, lc.Addr, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
