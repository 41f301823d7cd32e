package server

type AuthType string

const (
	AuthTypeSecret AuthType = "secret"
	AuthTypeNone   AuthType = ""
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	AuthType   AuthType `yaml:"auth_type"`
	AuthSecret struct {
		Username string `yaml:"username"`
		Secret   string `yaml:"secret"`
	} `yaml:"auth_secret"`
}

type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

type RedisConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Prefix string `yaml:"prefix"`
}

type StoreConfig struct {
	Type  StoreType   `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

// SessionConfig tunes the peer-side session loop.
type SessionConfig struct {
	// ReconnectBackoffMs is the delay before a transport restart.
	ReconnectBackoffMs int `yaml:"reconnect_backoff_ms"`
	// PingIntervalMs is the connectivity probe interval.
	PingIntervalMs int `yaml:"ping_interval_ms"`
}

type PrometheusConfig struct {
	AccessToken string `yaml:"access_token"`
}

type Config struct {
	BaseURL    string           `yaml:"base_url"`
	BindHost   string           `yaml:"bind_host"`
	BindPort   int              `yaml:"bind_port"`
	ICEServers []ICEServer      `yaml:"ice_servers"`
	TLS        TLSConfig        `yaml:"tls"`
	Store      StoreConfig      `yaml:"store"`
	Session    SessionConfig    `yaml:"session"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// ClientConfig is the bootstrap document a peer fetches before joining a
// room.
type ClientConfig struct {
	BaseURL    string          `json:"baseUrl"`
	RoomID     string          `json:"roomId"`
	GatewayURL string          `json:"gatewayUrl"`
	ICEServers []ICEAuthServer `json:"iceServers"`
}
