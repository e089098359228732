package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/rocketscienceinc/tictactoe-nearby/internal/game"
	"github.com/rocketscienceinc/tictactoe-nearby/internal/nearby/lan"
)

type Config struct {
	LogLevel  string      `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	ServiceID string      `yaml:"service-id" env:"SERVICE_ID" env-default:"tictactoe-nearby"`
	Identity  string      `yaml:"identity" env:"IDENTITY"`
	Board     game.Config `yaml:"board"`
	Redis     Redis       `yaml:"redis"`
	LAN       lan.Config  `yaml:"lan"`
}

type Redis struct {
	Host string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

// Load - reads path, or only the environment when path does not exist.
func Load(path string) (*Config, error) {
	config := &Config{}

	err := cleanenv.ReadConfig(path, config)
	if errors.Is(err, fs.ErrNotExist) {
		err = cleanenv.ReadEnv(config)
	}

	if err != nil {
		return nil, err
	}

	if err = config.Board.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (that *Redis) GetRedisAddr() string {
	if that.Host == "" || that.Port == "" {
		return ""
	}

	return net.JoinHostPort(that.Host, that.Port)
}
