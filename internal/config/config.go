package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr        string `env:"FARMFISH_API_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`
	SeedCatalog bool   `env:"FARMFISH_STARTUP_SEED_CATALOG" envDefault:"true"`
}

// Load reads configuration from the environment. A bare PORT variable (as
// injected by most PaaS runtimes) overrides the listen address.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	return cfg, nil
}
