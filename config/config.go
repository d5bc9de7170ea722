package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the inspected environment variables.
const EnvPrefix = "REQPROF"

const (
	// ParamEnabled enables profiling at startup.
	ParamEnabled = "enabled"
	// ParamSilent suppresses the per-request start and stop lines.
	ParamSilent = "silent"
	// ParamHistorySize is the number of finished profiles kept in memory.
	ParamHistorySize = "history-size"
	// ParamControlPrefix is the path prefix of the control API.
	ParamControlPrefix = "control-prefix"
	// ParamAddress is the listen address of the server.
	ParamAddress = "address"
	// ParamServiceName is the service name reported to OpenTelemetry.
	ParamServiceName = "service-name"
	// ParamOTLPEndpoint is the OTLP/HTTP collector endpoint; empty disables export.
	ParamOTLPEndpoint = "otlp-endpoint"
	// ParamVerbose enables debug logging.
	ParamVerbose = "verbose"
	// ParamJSON makes the logger log in JSON format.
	ParamJSON = "json"
	// ParamConfigPath provides a file with configuration.
	ParamConfigPath = "config-path"
)

const (
	DefaultEnabled       = false
	DefaultSilent        = true
	DefaultHistorySize   = 100
	DefaultControlPrefix = "/debug/reqprof"
	DefaultAddress       = "127.0.0.1:8080"
	DefaultServiceName   = "reqprof"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Enabled       bool   `mapstructure:"enabled"`
	Silent        bool   `mapstructure:"silent"`
	HistorySize   int    `mapstructure:"history-size"`
	ControlPrefix string `mapstructure:"control-prefix"`
	Address       string `mapstructure:"address"`
	ServiceName   string `mapstructure:"service-name"`
	OTLPEndpoint  string `mapstructure:"otlp-endpoint"`
	Verbose       bool   `mapstructure:"verbose"`
	JSON          bool   `mapstructure:"json"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Enabled:       DefaultEnabled,
		Silent:        DefaultSilent,
		HistorySize:   DefaultHistorySize,
		ControlPrefix: DefaultControlPrefix,
		Address:       DefaultAddress,
		ServiceName:   DefaultServiceName,
	}
}

// InitViper sets up defaults and env var handling for v.
func InitViper(v *viper.Viper) {
	v.SetDefault(ParamEnabled, DefaultEnabled)
	v.SetDefault(ParamSilent, DefaultSilent)
	v.SetDefault(ParamHistorySize, DefaultHistorySize)
	v.SetDefault(ParamControlPrefix, DefaultControlPrefix)
	v.SetDefault(ParamAddress, DefaultAddress)
	v.SetDefault(ParamServiceName, DefaultServiceName)
	v.SetDefault(ParamOTLPEndpoint, "")

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.SetTypeByDefaultValue(true)
	v.AutomaticEnv()
}

// AddFlags adds the configuration flags to fs and binds them to v.
func AddFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.Bool(ParamEnabled, DefaultEnabled, "Enable profiling at startup")
	fs.Bool(ParamSilent, DefaultSilent, "Do not log per-request profiling lines")
	fs.Int(ParamHistorySize, DefaultHistorySize, "Number of finished profiles kept in memory")
	fs.String(ParamControlPrefix, DefaultControlPrefix, "Path prefix of the control API")
	fs.String(ParamAddress, DefaultAddress, "Address to listen on")
	fs.String(ParamServiceName, DefaultServiceName, "Service name reported in traces")
	fs.String(ParamOTLPEndpoint, "", "OTLP/HTTP endpoint to export traces to")
	fs.Bool(ParamVerbose, false, "Verbose")
	fs.Bool(ParamJSON, false, "Log in JSON format")
	fs.String(ParamConfigPath, "", "Path to the configuration file")

	var err error
	fs.VisitAll(func(flag *pflag.Flag) {
		if bindErr := v.BindPFlag(flag.Name, flag); bindErr != nil && err == nil {
			err = bindErr
		}
	})
	return err
}

// Load reads the optional config file named by ParamConfigPath and returns
// the validated configuration.
func Load(v *viper.Viper) (config Config, err error) {
	if path := v.GetString(ParamConfigPath); path != "" {
		v.SetConfigFile(path)
		if err = v.ReadInConfig(); err != nil {
			return config, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, err
	}
	err = config.Validate()
	return
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	if c.HistorySize <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, ParamHistorySize, c.HistorySize)
	}
	if c.ControlPrefix != "" && !strings.HasPrefix(c.ControlPrefix, "/") {
		return fmt.Errorf("%w: %s must start with '/', got %q", ErrInvalidConfig, ParamControlPrefix, c.ControlPrefix)
	}
	return nil
}
