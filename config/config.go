package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    Server
	Database  Database
	Auth      Auth
	Realtime  Realtime
	RateLimit RateLimit `mapstructure:"rate_limit"`
	CORS      CORS
	Log       Log
}

type Server struct {
	Port string
	Mode string
}

type Database struct {
	Driver string
	DSN    string
}

type Auth struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	ServiceKey string `mapstructure:"service_key"`
}

type Realtime struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongTimeout  time.Duration `mapstructure:"pong_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	TypingRPS    float64       `mapstructure:"typing_rps"`
	TypingBurst  int           `mapstructure:"typing_burst"`
}

type RateLimit struct {
	RPS   float64
	Burst int
}

type CORS struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type Log struct {
	Level       string
	Development bool
}

var ErrMissingJWTSecret = errors.New("auth.jwt_secret is required")

// Load reads .env (when present), then config/<name>.yaml (when present),
// then CHAT_* environment variables, in increasing precedence.
func Load(name string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return Parse(v)
}

func Parse(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8082")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.service_key", "")
	v.SetDefault("realtime.ping_interval", 10*time.Second)
	v.SetDefault("realtime.pong_timeout", 15*time.Second)
	v.SetDefault("realtime.send_buffer", 256)
	v.SetDefault("realtime.typing_rps", 5.0)
	v.SetDefault("realtime.typing_burst", 1)
	v.SetDefault("rate_limit.rps", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("cors.allow_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}
