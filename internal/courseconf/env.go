package courseconf

import (
	"os"

	"github.com/joho/godotenv"
)

// EnvConfig carries deployment-specific settings that do not belong in the
// course config file: credentials and the optional status event channel.
type EnvConfig struct {
	SSHKeyPath string
	NatsURL    string
}

// ReadEnvConfig overlays values from a .env file (when present) and the
// process environment.
func ReadEnvConfig() *EnvConfig {
	_ = godotenv.Load()

	return &EnvConfig{
		SSHKeyPath: os.Getenv("COURIER_SSH_KEY"),
		NatsURL:    os.Getenv("COURIER_NATS_URL"),
	}
}

// Apply fills config fields left empty by the course file.
func (e *EnvConfig) Apply(cfg *Config) {
	if e.SSHKeyPath != "" && cfg.Storer.SSHKey == "" {
		cfg.Storer.SSHKey = e.SSHKeyPath
	}
}
