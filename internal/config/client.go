package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

// DefaultICEServers are public STUN servers used when none are configured.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Cipher suite names accepted by the client.
const (
	CipherAESGCM            = "aes-gcm"
	CipherXChaCha20Poly1305 = "xchacha20-poly1305"
)

// ClientConfig holds participant-side settings. It is never written to disk.
type ClientConfig struct {
	ServerURL      string        `mapstructure:"server_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ICEServers     []string      `mapstructure:"ice_servers"`
	TURNUsername   string        `mapstructure:"turn_username"`
	TURNCredential string        `mapstructure:"turn_credential"`
	Cipher         string        `mapstructure:"cipher"`
	Ticket         string        `mapstructure:"ticket"`
	LogLevel       string        `mapstructure:"log_level"`
}

// DefaultClient returns the client defaults.
func DefaultClient() ClientConfig {
	return ClientConfig{
		ServerURL:      "ws://localhost:8080/ws",
		ConnectTimeout: 10 * time.Second,
		ICEServers:     append([]string(nil), DefaultICEServers...),
		Cipher:         CipherAESGCM,
		LogLevel:       "warn",
	}
}

// LoadClient resolves client settings from v, which may already carry bound
// command-line flags. Environment variables use the WIREMESH_CLIENT_ prefix.
func LoadClient(v *viper.Viper) (ClientConfig, error) {
	cfg := DefaultClient()

	v.SetDefault("server_url", cfg.ServerURL)
	v.SetDefault("connect_timeout", cfg.ConnectTimeout)
	v.SetDefault("ice_servers", cfg.ICEServers)
	v.SetDefault("turn_username", "")
	v.SetDefault("turn_credential", "")
	v.SetDefault("cipher", cfg.Cipher)
	v.SetDefault("ticket", "")
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetEnvPrefix("WIREMESH_CLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal client config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	switch c.Cipher {
	case CipherAESGCM, CipherXChaCha20Poly1305:
	default:
		return fmt.Errorf("unknown cipher %q", c.Cipher)
	}
	return nil
}

// WebRTCICEServers converts the configured URLs for the peer engine. TURN
// entries receive the configured credentials.
func (c ClientConfig) WebRTCICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, raw := range c.ICEServers {
		for _, url := range strings.Split(raw, ",") {
			url = strings.TrimSpace(url)
			if url == "" {
				continue
			}
			server := webrtc.ICEServer{URLs: []string{url}}
			if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
				server.Username = c.TURNUsername
				server.Credential = c.TURNCredential
			}
			out = append(out, server)
		}
	}
	return out
}
