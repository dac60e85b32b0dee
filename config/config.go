// Package config holds the DMX core server configuration, loaded with Viper
// from a YAML file and DMX_-prefixed environment variables.
package config

// Config represents the full server configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Output   OutputConfig   `mapstructure:"output"`
	OLA      OLAConfig      `mapstructure:"ola"`
	Enttec   EnttecConfig   `mapstructure:"enttec"`
	SACN     SACNConfig     `mapstructure:"sacn"`
	Fades    FadeConfig     `mapstructure:"fades"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Fixtures FixtureConfig  `mapstructure:"fixtures"`
	DMXInput DMXInputConfig `mapstructure:"dmx_input"`
	Data     DataConfig     `mapstructure:"data"`
}

// AppConfig names the service in logs and MQTT client ids
type AppConfig struct {
	Name string `mapstructure:"name"`
}

// ServerConfig configures the HTTP/WS listener
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	WSAuthToken    string   `mapstructure:"ws_auth_token"` // optional bearer token for /ws
	WSSendTimeout  int      `mapstructure:"ws_send_timeout_ms"`
	WSInboundRate  int      `mapstructure:"ws_inbound_rate"` // per-connection frames/sec guard
}

// OutputMode selects the downstream DMX transport
type OutputMode string

const (
	OutputNull   OutputMode = "null"
	OutputOLA    OutputMode = "ola"
	OutputEnttec OutputMode = "enttec"
)

// OutputConfig selects and tunes the output pipeline
type OutputConfig struct {
	Mode OutputMode `mapstructure:"mode"`
}

// OLAConfig configures the OLA HTTP bridge back-end
type OLAConfig struct {
	BaseURL   string         `mapstructure:"base_url"`
	FPS       int            `mapstructure:"fps"`
	TimeoutMS int            `mapstructure:"timeout_ms"`
	Mapping   map[string]int `mapstructure:"mapping"` // engine universe -> OLA universe
}

// EnttecConfig configures the DMX-USB-PRO serial back-end
type EnttecConfig struct {
	Port              string `mapstructure:"port"`
	Baud              int    `mapstructure:"baud"`
	FPS               int    `mapstructure:"fps"`
	ReconnectAttempts int    `mapstructure:"reconnect_attempts"`
}

// SACNConfig configures the E1.31 receiver
type SACNConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	BindAddr        string `mapstructure:"bind_addr"`
	Port            int    `mapstructure:"port"`
	JoinMulticast   bool   `mapstructure:"join_multicast"`
	Universes       string `mapstructure:"universes"` // CSV with ranges, e.g. "0,1,10-12"; empty accepts all
	SourceTimeoutMS int    `mapstructure:"source_timeout_ms"`
}

// FadeConfig configures the server-side fade engine
type FadeConfig struct {
	Enabled bool `mapstructure:"enabled"`
	TickHz  int  `mapstructure:"tick_hz"`
}

// IngestConfig tunes the command pipeline
type IngestConfig struct {
	RateLimitPerSec int    `mapstructure:"rate_limit_per_sec"`
	DedupeTTLSec    int    `mapstructure:"dedupe_ttl_sec"`
	DedupeCapacity  int    `mapstructure:"dedupe_capacity"`
	DedupePath      string `mapstructure:"dedupe_path"`
}

// MQTTConfig configures the broker connection
type MQTTConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	ClientIDPrefix string `mapstructure:"client_id_prefix"`
	KeepaliveSec   int    `mapstructure:"keepalive_sec"`
	CmdTopic       string `mapstructure:"cmd_topic"`
	StateTopic     string `mapstructure:"state_topic"`
	LWTTopic       string `mapstructure:"lwt_topic"`
}

// FixtureConfig configures the fixture profile layer
type FixtureConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ProfilesDir string `mapstructure:"profiles_dir"`
	PatchFile   string `mapstructure:"patch_file"`
	WatchFiles  bool   `mapstructure:"watch_files"`
}

// DMXInputConfig configures the serial DMX input line
type DMXInputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
	Baud    int    `mapstructure:"baud"`
}

// DataConfig locates persisted state on disk
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}
