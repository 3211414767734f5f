package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	UploadDir      string   `mapstructure:"UPLOAD_DIR"`
	MaxUploadBytes int64    `mapstructure:"MAX_UPLOAD_BYTES"`
	// DefaultActorID is the stand-in reviewer used when a request carries no
	// X-Actor-ID header. It must match a seeded app_user row.
	DefaultActorID string `mapstructure:"DEFAULT_ACTOR_ID"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("MAX_UPLOAD_BYTES", 25*1024*1024)
	v.SetDefault("DEFAULT_ACTOR_ID", "77118899-1111-1111-1111-111111111111")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("UPLOAD_DIR")
	v.BindEnv("MAX_UPLOAD_BYTES")
	v.BindEnv("DEFAULT_ACTOR_ID")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if _, err := uuid.Parse(cfg.DefaultActorID); err != nil {
		return nil, fmt.Errorf("DEFAULT_ACTOR_ID is not a valid UUID: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// DefaultActor returns the parsed default actor UUID. Load guarantees it parses.
func (c *Config) DefaultActor() uuid.UUID {
	id, _ := uuid.Parse(c.DefaultActorID)
	return id
}
