package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is read from the environment with the YCAP_ prefix. The
// master key is the only required value: without it no client can
// complete a handshake, so refusing to start beats serving nothing.
type Config struct {
	Host          string        `default:"127.0.0.1"`
	Port          int           `default:"1200"`
	Domain        string        `default:"ycap.com"`
	DBPath        string        `split_words:"true" default:"mails.db"`
	MasterKey     string        `split_words:"true" required:"true"`
	ShutdownGrace time.Duration `split_words:"true" default:"5s"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("ycap", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Addr returns the listening endpoint as host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
