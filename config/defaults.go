package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dmx-core")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.ws_auth_token", "")
	v.SetDefault("server.ws_send_timeout_ms", 200)
	v.SetDefault("server.ws_inbound_rate", 120)

	// Output defaults
	v.SetDefault("output.mode", string(OutputNull))

	// OLA bridge defaults
	v.SetDefault("ola.base_url", "http://localhost:9090")
	v.SetDefault("ola.fps", 44)
	v.SetDefault("ola.timeout_ms", 500)
	v.SetDefault("ola.mapping", map[string]int{})

	// Enttec defaults
	v.SetDefault("enttec.port", "/dev/ttyUSB0")
	v.SetDefault("enttec.baud", 57600)
	v.SetDefault("enttec.fps", 40)
	v.SetDefault("enttec.reconnect_attempts", 3)

	// sACN receiver defaults
	v.SetDefault("sacn.enabled", false)
	v.SetDefault("sacn.bind_addr", "0.0.0.0")
	v.SetDefault("sacn.port", 5568)
	v.SetDefault("sacn.join_multicast", false)
	v.SetDefault("sacn.universes", "")
	v.SetDefault("sacn.source_timeout_ms", 3000)

	// Fade engine defaults
	v.SetDefault("fades.enabled", true)
	v.SetDefault("fades.tick_hz", 44)

	// Ingest pipeline defaults
	v.SetDefault("ingest.rate_limit_per_sec", 60)
	v.SetDefault("ingest.dedupe_ttl_sec", 15*60)
	v.SetDefault("ingest.dedupe_capacity", 4096)
	v.SetDefault("ingest.dedupe_path", "data/cmd_seen.json")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id_prefix", "dmx-core")
	v.SetDefault("mqtt.keepalive_sec", 30)
	v.SetDefault("mqtt.cmd_topic", "v1/dmx/cmd")
	v.SetDefault("mqtt.state_topic", "v1/dmx/state")
	v.SetDefault("mqtt.lwt_topic", "v1/devices/server/state")

	// Fixture layer defaults
	v.SetDefault("fixtures.enabled", false)
	v.SetDefault("fixtures.profiles_dir", "config/fixtures")
	v.SetDefault("fixtures.patch_file", "config/patch.yaml")
	v.SetDefault("fixtures.watch_files", true)

	// Serial DMX input defaults
	v.SetDefault("dmx_input.enabled", false)
	v.SetDefault("dmx_input.port", "")
	v.SetDefault("dmx_input.baud", 115200)

	// Persistence defaults
	v.SetDefault("data.dir", "data")
}
