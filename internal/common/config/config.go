package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"restaurant-sync/internal/common/db"
	"restaurant-sync/internal/common/mq"
)

type OrderStore struct {
	BaseURL string `yaml:"base_url"`
}

type Sync struct {
	ReconnectDelaySeconds  int `yaml:"reconnect_delay_seconds"`
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds"`
	FetchTimeoutSeconds    int `yaml:"fetch_timeout_seconds"`
	InboxCap               int `yaml:"inbox_cap"`
}

type App struct {
	Database   db.Config  `yaml:"database"`
	Rabbit     mq.Config  `yaml:"rabbitmq"`
	OrderStore OrderStore `yaml:"order_store"`
	Sync       Sync       `yaml:"sync"`
}

func Load(path string) (App, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return App{}, fmt.Errorf("read config: %w", err)
	}
	var a App
	if err := yaml.Unmarshal(b, &a); err != nil {
		return App{}, fmt.Errorf("parse config: %w", err)
	}
	if a.Database.Port == 0 {
		a.Database.Port = 5432
	}
	if a.Rabbit.Port == 0 {
		a.Rabbit.Port = 5672
	}
	if a.Rabbit.Host == "" {
		return App{}, errors.New("invalid config: missing rabbitmq host")
	}
	return a, nil
}

func FindConfig() (string, error) {
	candidates := []string{"config.yaml", "deploy/config.example.yaml"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}
