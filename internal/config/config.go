package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the process reads from its environment.
type Config struct {
	Addr           string
	DatabasePath   string
	JWTSecret      string
	NATSURL        string // empty disables the notification escalator
	AllowedOrigins []string
	QueueWindow    time.Duration
	QueueGrace     time.Duration
	SweepInterval  time.Duration
	StaleAfter     time.Duration
}

// Load reads configuration from TUTORHUB_* environment variables with
// sensible defaults for local development.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("tutorhub")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("database.path", "tutorhub.db")
	v.SetDefault("jwt.secret", "dev-secret-change-me")
	v.SetDefault("nats.url", "")
	v.SetDefault("allowed.origins", "*")
	v.SetDefault("queue.window", 24*time.Hour)
	v.SetDefault("queue.grace", 60*time.Second)
	v.SetDefault("sweep.interval", 10*time.Minute)
	v.SetDefault("stale.after", 12*time.Hour)

	return &Config{
		Addr:           v.GetString("addr"),
		DatabasePath:   v.GetString("database.path"),
		JWTSecret:      v.GetString("jwt.secret"),
		NATSURL:        v.GetString("nats.url"),
		AllowedOrigins: strings.Split(v.GetString("allowed.origins"), ","),
		QueueWindow:    v.GetDuration("queue.window"),
		QueueGrace:     v.GetDuration("queue.grace"),
		SweepInterval:  v.GetDuration("sweep.interval"),
		StaleAfter:     v.GetDuration("stale.after"),
	}, nil
}
