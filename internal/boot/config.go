package boot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env           string `env:"ENV,default=dev"`
	LogLevel      string `env:"LOG_LEVEL,default=info"`
	DataDirectory string `env:"DATA_DIR,default=./data"`
	Timezone      string `env:"TIMEZONE,default=America/Chicago"`
	Server        struct {
		Port           string   `env:"PORT,default=8080"`
		MetricsAddr    string   `env:"METRICS_ADDR,default=:8081"`
		AllowedOrigins []string `env:"ALLOWED_ORIGINS"`
		Views          string   `env:"VIEWS_DIR,default=internal/render/views"`
	}
	Chat struct {
		SendTimeout       time.Duration `env:"SEND_TIMEOUT,default=5s"`
		WriteWait         time.Duration `env:"WRITE_WAIT,default=10s"`
		PongWait          time.Duration `env:"PONG_WAIT,default=60s"`
		PingInterval      time.Duration `env:"PING_INTERVAL,default=54s"`
		MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
		RateLimitBurst    int           `env:"RATE_LIMIT_BURST,default=5"`
		RateLimitInterval time.Duration `env:"RATE_LIMIT_INTERVAL,default=1s"`
	}

	location *time.Location
}

func Load() (*Config, error) {
	return LoadFrom(context.Background(), envconfig.OsLookuper())
}

func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := &Config{}
	if err := envconfig.ProcessWith(ctx, config, lookuper); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}

	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", config.Timezone, err)
	}
	config.location = location

	if config.Chat.PingInterval >= config.Chat.PongWait {
		return nil, fmt.Errorf("PING_INTERVAL (%s) must be shorter than PONG_WAIT (%s)", config.Chat.PingInterval, config.Chat.PongWait)
	}

	return config, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}

func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDirectory, "chat.db")
}

func (c *Config) ListenAddr() string {
	if strings.HasPrefix(c.Server.Port, ":") {
		return c.Server.Port
	}
	return ":" + c.Server.Port
}
