package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Log       LogConfig
	Fixtures  FixturesConfig
}

type ServerConfig struct {
	Address string
	Auth    AuthConfig
	Session SessionConfig `mapstructure:"session"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

// SessionConfig controls what happens when an identity that is already
// connected completes a new handshake.
type SessionConfig struct {
	// Mode is "supersede" (new connection wins, old one is closed) or
	// "reject" (new handshake is refused while the identity is online).
	Mode string `mapstructure:"mode"`
}

const (
	SessionModeSupersede = "supersede"
	SessionModeReject    = "reject"
)

type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

type LogConfig struct {
	Level string
}

// FixturesConfig seeds the in-memory identity directory and follow graph so
// the server is usable without an external user store.
type FixturesConfig struct {
	Identities []FixtureIdentity `mapstructure:"identities"`
	Follows    []FixtureFollow   `mapstructure:"follows"`
}

type FixtureIdentity struct {
	ID   int64  `mapstructure:"id"`
	Name string `mapstructure:"name"`
	Role string `mapstructure:"role"`
}

type FixtureFollow struct {
	Follower int64 `mapstructure:"follower"`
	Followed int64 `mapstructure:"followed"`
}
