// Package config resolves the agent's environment-style settings from the
// process environment, the host runtime's environment, and a framework
// .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/ppiankov/sinkguard/internal/stats"
)

// Prefix is prepended to every key.
const Prefix = "SINKGUARD_"

// Keys, without Prefix.
const (
	KeyDebug                     = "DEBUG"
	KeyLogLevel                  = "LOG_LEVEL"
	KeyBlocking                  = "BLOCKING"
	KeyBlock                     = "BLOCK"
	KeyDisable                   = "DISABLE"
	KeyDiskLogs                  = "DISK_LOGS"
	KeyLocalhostAllowedByDefault = "LOCALHOST_ALLOWED_BY_DEFAULT"
	KeyTrustProxy                = "TRUST_PROXY"
	KeyCollectAPISchema          = "FEATURE_COLLECT_API_SCHEMA"
	KeyToken                     = "TOKEN"
	KeyEndpoint                  = "ENDPOINT"
	KeyRealtimeEndpoint          = "REALTIME_ENDPOINT"
	KeyReportStatsInterval       = "REPORT_STATS_INTERVAL"
	KeyMode                      = "MODE"
	KeyInstances                 = "INSTANCES"
	KeyEngineSHA256              = "ENGINE_SHA256"
)

// Defaults.
const (
	DefaultLogLevel         = "WARN"
	DefaultEndpoint         = "https://guard.sinkguard.dev/"
	DefaultRealtimeEndpoint = "https://runtime.sinkguard.dev/"
)

// Config is the resolved agent configuration.
type Config struct {
	Debug                     bool
	LogLevel                  string
	Blocking                  bool
	Disable                   bool
	DiskLogs                  bool
	LocalhostAllowedByDefault bool
	TrustProxy                bool
	CollectAPISchema          bool
	Token                     string
	Endpoint                  string
	ConfigEndpoint            string
	ReportStatsInterval       int
	Mode                      string
	Instances                 string
	EngineSHA256              string
}

// LookupFunc reads one variable from a host-provided environment.
type LookupFunc func(key string) (string, bool)

// Options controls where Load looks.
type Options struct {
	// EnvFile is the framework .env file. Empty disables it; a missing
	// file is not an error.
	EnvFile string
	// Runtime is the host runtime's environment (e.g. per-vhost
	// variables). Nil disables it.
	Runtime LookupFunc
	// Environ overrides the process environment, for tests.
	Environ LookupFunc
}

var boolDefaults = map[string]bool{
	KeyDebug:                     false,
	KeyBlocking:                  false,
	KeyDisable:                   false,
	KeyDiskLogs:                  false,
	KeyLocalhostAllowedByDefault: true,
	KeyTrustProxy:                true,
	KeyCollectAPISchema:          true,
}

var stringDefaults = map[string]string{
	KeyLogLevel:            DefaultLogLevel,
	KeyToken:               "",
	KeyEndpoint:            DefaultEndpoint,
	KeyRealtimeEndpoint:    DefaultRealtimeEndpoint,
	KeyReportStatsInterval: strconv.Itoa(stats.DefaultInterval),
	KeyMode:                "single-tenant",
	KeyInstances:           "per-thread",
	KeyEngineSHA256:        "",
	KeyBlock:               "",
}

func viperKey(key string) string { return strings.ToLower(Prefix + key) }

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if opts.Environ == nil {
		v.AutomaticEnv()
	}
	for key, def := range stringDefaults {
		v.SetDefault(viperKey(key), def)
	}
	for key, def := range boolDefaults {
		v.SetDefault(viperKey(key), strconv.FormatBool(def))
	}

	if opts.EnvFile != "" {
		v.SetConfigFile(opts.EnvFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", opts.EnvFile, err)
			}
		}
	}

	// Runtime values override the env file but not the process
	// environment, which AutomaticEnv consults first.
	if opts.Runtime != nil {
		layer := make(map[string]any)
		for _, key := range allKeys() {
			if val, ok := opts.Runtime(Prefix + key); ok {
				layer[viperKey(key)] = val
			}
		}
		if len(layer) > 0 {
			if err := v.MergeConfigMap(layer); err != nil {
				return nil, fmt.Errorf("config: merge runtime environment: %w", err)
			}
		}
	}

	get := func(key string) string {
		if opts.Environ != nil {
			if val, ok := opts.Environ(Prefix + key); ok {
				return val
			}
		}
		return v.GetString(viperKey(key))
	}

	cfg := &Config{
		Debug:                     parseBool(get(KeyDebug)),
		LogLevel:                  strings.ToUpper(strings.TrimSpace(get(KeyLogLevel))),
		Disable:                   parseBool(get(KeyDisable)),
		DiskLogs:                  parseBool(get(KeyDiskLogs)),
		LocalhostAllowedByDefault: parseBool(get(KeyLocalhostAllowedByDefault)),
		TrustProxy:                parseBool(get(KeyTrustProxy)),
		CollectAPISchema:          parseBool(get(KeyCollectAPISchema)),
		Token:                     strings.TrimSpace(get(KeyToken)),
		Endpoint:                  get(KeyEndpoint),
		ConfigEndpoint:            get(KeyRealtimeEndpoint),
		ReportStatsInterval:       parseInterval(get(KeyReportStatsInterval)),
		Mode:                      get(KeyMode),
		Instances:                 get(KeyInstances),
		EngineSHA256:              get(KeyEngineSHA256),
	}
	cfg.Blocking = parseBool(get(KeyBlocking)) || parseBool(get(KeyBlock))
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	return cfg, nil
}

// FromEnv loads with the process environment only.
func FromEnv() (*Config, error) {
	return Load(Options{})
}

func allKeys() []string {
	keys := make([]string, 0, len(boolDefaults)+len(stringDefaults))
	for k := range boolDefaults {
		keys = append(keys, k)
	}
	for k := range stringDefaults {
		keys = append(keys, k)
	}
	return keys
}

func parseBool(s string) bool {
	s = strings.TrimSpace(s)
	return s == "1" || strings.EqualFold(s, "true")
}

func parseInterval(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return stats.DefaultInterval
	}
	return stats.ClampInterval(n)
}

// MapLookup adapts a map to LookupFunc.
func MapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// OSLookup is the process environment.
var OSLookup LookupFunc = os.LookupEnv
