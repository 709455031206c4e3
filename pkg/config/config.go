package config

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the daemon configuration, read from CHATSYNC_* environment
// variables (a .env file is honored when present).
type Config struct {
	Debug bool `envconfig:"debug"`

	// Backend endpoints.
	APIBaseURL string `envconfig:"api_base_url" default:"http://localhost:8000/api"`
	WSBaseURL  string `envconfig:"ws_base_url" default:"ws://localhost:8000/api"`

	// Session identity. The engine stays idle until all three are set.
	Token    string `envconfig:"token"`
	UserID   string `envconfig:"user_id"`
	UserName string `envconfig:"user_name"`

	// Local read API.
	Port           int    `envconfig:"port" default:"8090"`
	AllowedOrigins string `envconfig:"cors_allowed_origins"`

	// Optional Postgres archive; empty disables archiving.
	ArchiveDSN string `envconfig:"archive_dsn"`
}

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	c := &Config{}
	if err := envconfig.Process("chatsync", c); err != nil {
		return nil, err
	}
	return c, nil
}
