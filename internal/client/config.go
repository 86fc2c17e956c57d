package client

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/VinMeld/go-dm/internal/transport"
)

type Config struct {
	CurrentUser       string            `json:"current_user"`
	ServerURL         string            `json:"server_url"`
	Tokens            map[string]string `json:"tokens"` // Map user id -> bearer token
	RegistrationToken string            `json:"registration_token,omitempty"`
	// Cache for index-based access
	LastListedMessages []string `json:"last_listed_messages,omitempty"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{
				Tokens:    make(map[string]string),
				ServerURL: transport.DefaultServerURL,
			}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Tokens == nil {
		cfg.Tokens = make(map[string]string)
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = transport.DefaultServerURL
	}
	return &cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "go-dm", "config.json"), nil
}
