package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App      AppSettings      `mapstructure:"app"`
	Provider ProviderSettings `mapstructure:"provider"`
	Storage  StorageSettings  `mapstructure:"storage"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Realtime RealtimeSettings `mapstructure:"realtime"`
	Gateway  GatewaySettings  `mapstructure:"gateway"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// AllowedOrigins lists the web app origins permitted to call the
	// agent surface cross-origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ProviderSettings configures the external identity provider endpoints
// and the client registration the agent presents to them.
type ProviderSettings struct {
	AuthorizeURL          string        `mapstructure:"authorize_url"`
	TokenURL              string        `mapstructure:"token_url"`
	EndSessionURL         string        `mapstructure:"end_session_url"`
	ClientID              string        `mapstructure:"client_id"`
	RedirectURI           string        `mapstructure:"redirect_uri"`
	PostLoginRedirect     string        `mapstructure:"post_login_redirect"`
	PostLogoutRedirectURI string        `mapstructure:"post_logout_redirect_uri"`
	Scopes                []string      `mapstructure:"scopes"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`

	// AllowDegradedProofKey permits an unhashed proof-key challenge
	// against providers that reject S256. Off by default; enabling it
	// is logged as a security event on every login.
	AllowDegradedProofKey bool `mapstructure:"allow_degraded_proof_key"`
}

// StorageSettings selects and configures the credential store backend.
type StorageSettings struct {
	Backend  string `mapstructure:"backend"`
	BoltPath string `mapstructure:"bolt_path"`
}

// Credential store backends.
const (
	StorageBackendBolt   = "bolt"
	StorageBackendRedis  = "redis"
	StorageBackendMemory = "memory"
)

// RedisSettings configures the Redis connection used when the redis
// storage backend is selected.
type RedisSettings struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	DB            int           `mapstructure:"db"`
	Password      string        `mapstructure:"password"`
	TLSEnabled    bool          `mapstructure:"tls_enabled"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	CredentialTTL time.Duration `mapstructure:"credential_ttl"`
}

// RealtimeSettings configures the alert stream sockets.
type RealtimeSettings struct {
	BaseURL          string        `mapstructure:"base_url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReconnectFloor   time.Duration `mapstructure:"reconnect_floor"`
	ReconnectCeiling time.Duration `mapstructure:"reconnect_ceiling"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
}

// GatewaySettings configures the synchronous request gateway consumed
// by the surrounding CRUD code.
type GatewaySettings struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PDMS")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.allowed_origins",
		"provider.authorize_url",
		"provider.token_url",
		"provider.end_session_url",
		"provider.client_id",
		"provider.redirect_uri",
		"provider.post_login_redirect",
		"provider.post_logout_redirect_uri",
		"provider.scopes",
		"provider.request_timeout",
		"provider.allow_degraded_proof_key",
		"storage.backend",
		"storage.bolt_path",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"redis.credential_ttl",
		"realtime.base_url",
		"realtime.handshake_timeout",
		"realtime.reconnect_floor",
		"realtime.reconnect_ceiling",
		"realtime.max_message_size",
		"gateway.base_url",
		"gateway.request_timeout",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pdms-agent")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "127.0.0.1")
	v.SetDefault("app.port", 8089)
	v.SetDefault("app.allowed_origins", []string{"http://localhost:5173"})

	v.SetDefault("provider.authorize_url", "http://localhost:8443/realms/pdms/protocol/openid-connect/auth")
	v.SetDefault("provider.token_url", "http://localhost:8443/realms/pdms/protocol/openid-connect/token")
	v.SetDefault("provider.end_session_url", "http://localhost:8443/realms/pdms/protocol/openid-connect/logout")
	v.SetDefault("provider.client_id", "pdms-agent")
	v.SetDefault("provider.redirect_uri", "http://127.0.0.1:8089/callback")
	v.SetDefault("provider.post_login_redirect", "/session")
	v.SetDefault("provider.post_logout_redirect_uri", "http://127.0.0.1:8089/")
	v.SetDefault("provider.scopes", []string{"openid", "profile"})
	v.SetDefault("provider.request_timeout", "10s")
	v.SetDefault("provider.allow_degraded_proof_key", false)

	v.SetDefault("storage.backend", StorageBackendBolt)
	v.SetDefault("storage.bolt_path", "./data/credentials.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "pdms:credentials")
	v.SetDefault("redis.credential_ttl", "0")

	v.SetDefault("realtime.base_url", "ws://localhost:8080/ws")
	v.SetDefault("realtime.handshake_timeout", "10s")
	v.SetDefault("realtime.reconnect_floor", "1s")
	v.SetDefault("realtime.reconnect_ceiling", "30s")
	v.SetDefault("realtime.max_message_size", 1<<20)

	v.SetDefault("gateway.base_url", "http://localhost:8080/api")
	v.SetDefault("gateway.request_timeout", "10s")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "PDMS_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
