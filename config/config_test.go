package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestDefaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "dmx-core", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, OutputNull, cfg.Output.Mode)
	assert.Equal(t, 44, cfg.OLA.FPS)
	assert.Equal(t, 500, cfg.OLA.TimeoutMS)
	assert.Equal(t, 57600, cfg.Enttec.Baud)
	assert.Equal(t, 5568, cfg.SACN.Port)
	assert.Equal(t, 3000, cfg.SACN.SourceTimeoutMS)
	assert.Equal(t, 44, cfg.Fades.TickHz)
	assert.Equal(t, 60, cfg.Ingest.RateLimitPerSec)
	assert.Equal(t, 900, cfg.Ingest.DedupeTTLSec)
	assert.Equal(t, 4096, cfg.Ingest.DedupeCapacity)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "v1/dmx/cmd", cfg.MQTT.CmdTopic)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Output.Mode = "laser"
	assert.Error(t, cfg.Validate())
}

func TestValidateEnttecNeedsPort(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Output.Mode = OutputEnttec
	cfg.Enttec.Port = ""
	assert.Error(t, cfg.Validate())

	cfg.Enttec.Port = "/dev/ttyUSB0"
	assert.NoError(t, cfg.Validate())
}

func TestValidateTickHz(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Fades.TickHz = 0
	assert.Error(t, cfg.Validate())
}

func TestOLAMapping(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.OLA.Mapping = map[string]int{"0": 5, "7": 9, "junk": 1}
	assert.Equal(t, map[int]int{0: 5, 7: 9}, cfg.OLAMapping())
}
