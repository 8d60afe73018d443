package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values
type Config struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	MongoURI  string `mapstructure:"MONGO_URI"`
	MongoDB   string `mapstructure:"MONGO_DB"`
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	RedisDB   int    `mapstructure:"REDIS_DB"`
	JWTSecret string `mapstructure:"JWT_SECRET"`
	Env       string `mapstructure:"ENV"`

	// Engine timing knobs. The defaults are the production values;
	// they are exposed mainly for ops and tests.
	GracePeriodMS  int `mapstructure:"GRACE_PERIOD_MS"`
	PollIntervalMS int `mapstructure:"POLL_INTERVAL_MS"`
	TickIntervalMS int `mapstructure:"TICK_INTERVAL_MS"`
}

// GracePeriod is the reconciliation grace window.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMS) * time.Millisecond
}

// PollInterval is the snapshot poll cadence while the push channel is down.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// TickInterval is the running-step projection cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// Load initializes Viper to read config from env, file, or defaults
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	viper.SetDefault("MONGO_DB", "clinicdesk")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("JWT_SECRET", "change-me-in-production")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("GRACE_PERIOD_MS", 3000)
	viper.SetDefault("POLL_INTERVAL_MS", 5000)
	viper.SetDefault("TICK_INTERVAL_MS", 1000)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return &cfg
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
