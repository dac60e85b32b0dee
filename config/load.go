package config

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/atrep123/dmx-core/errors"
)

// Load reads configuration from dmx-core.yaml (working directory) if present,
// environment variables with the DMX_ prefix, and built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("dmx-core")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	SetDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; anything else is a real failure.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	SetDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("DMX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the supervisor cannot start with.
func (c *Config) Validate() error {
	switch c.Output.Mode {
	case OutputNull, OutputOLA, OutputEnttec:
	default:
		return errors.Newf("unknown output mode %q", c.Output.Mode)
	}
	if c.Output.Mode == OutputEnttec && c.Enttec.Port == "" {
		return errors.New("enttec output requires enttec.port")
	}
	if c.Fades.TickHz <= 0 {
		return errors.Newf("fades.tick_hz must be positive, got %d", c.Fades.TickHz)
	}
	if c.Ingest.RateLimitPerSec <= 0 {
		return errors.Newf("ingest.rate_limit_per_sec must be positive, got %d", c.Ingest.RateLimitPerSec)
	}
	if c.DMXInput.Enabled && c.DMXInput.Port == "" {
		return errors.New("dmx_input.enabled requires dmx_input.port")
	}
	return nil
}

// OLAMapping converts the string-keyed mapping Viper produces into the
// universe-keyed form the output scheduler consumes. Malformed keys are
// skipped.
func (c *Config) OLAMapping() map[int]int {
	out := make(map[int]int, len(c.OLA.Mapping))
	for k, target := range c.OLA.Mapping {
		u, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[u] = target
	}
	return out
}
