package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr               string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout  time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel           string        `mapstructure:"log_level" yaml:"log_level"`
	RoomCapacity       int           `mapstructure:"room_capacity" yaml:"room_capacity"`
	MaxMessageBytes    int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`

	// JWTSecret enables join tickets when set.
	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TicketTTL   time.Duration `mapstructure:"ticket_ttl" yaml:"ticket_ttl"`

	// AuditDBPath enables the moderation audit log when set.
	AuditDBPath    string   `mapstructure:"audit_db_path" yaml:"audit_db_path"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		RoomCapacity:       10,
		MaxMessageBytes:    64 << 10,
		RateLimitPerMinute: 600,
		TicketTTL:          time.Hour,
	}
}

// TicketsEnabled reports whether /ws requires a signed join ticket.
func (c Config) TicketsEnabled() bool {
	return c.JWTSecret != ""
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.RoomCapacity != 0 {
		c.RoomCapacity = other.RoomCapacity
	}
	if other.AuditDBPath != "" {
		c.AuditDBPath = other.AuditDBPath
	}
}
