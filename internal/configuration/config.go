package configuration

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

type MongoConfig struct {
	Uri      string `json:"uri" env:"PALAVER_MONGO_URI"`
	Database string `json:"database" env:"PALAVER_MONGO_DATABASE"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port" env:"PALAVER_APP_PORT"`
	SocketPort     int      `json:"socket_port" env:"PALAVER_SOCKET_PORT"`
	SocketRoute    string   `json:"socket_route" env:"PALAVER_SOCKET_ROUTE"`
	AllowedOrigins []string `json:"allowed_origins" env:"PALAVER_ALLOWED_ORIGINS" envSeparator:","`
}

type LiveKitConfig struct {
	ApiKey    string `json:"api_key" env:"LIVEKIT_API_KEY"`
	ApiSecret string `json:"api_secret" env:"LIVEKIT_API_SECRET"`
	Url       string `json:"url" env:"LIVEKIT_URL"`
}

type TypingConfig struct {
	TTLSeconds           int `json:"ttl_seconds" env:"PALAVER_TYPING_TTL_SECONDS"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds" env:"PALAVER_TYPING_SWEEP_SECONDS"`
}

func (t TypingConfig) TTL() time.Duration {
	return time.Duration(t.TTLSeconds) * time.Second
}

func (t TypingConfig) SweepInterval() time.Duration {
	return time.Duration(t.SweepIntervalSeconds) * time.Second
}

type Config struct {
	ChatDatabase MongoConfig   `json:"mongo"`
	Server       ServerConfig  `json:"server"`
	LiveKit      LiveKitConfig `json:"livekit"`
	Typing       TypingConfig  `json:"typing"`
}

func defaultConfig() Config {
	return Config{
		ChatDatabase: MongoConfig{
			Uri:      "mongodb://localhost:27017",
			Database: "palaver",
		},
		Server: ServerConfig{
			AppPort:     8080,
			SocketPort:  8081,
			SocketRoute: "ws",
		},
		Typing: TypingConfig{
			TTLSeconds:           120,
			SweepIntervalSeconds: 60,
		},
	}
}

// LoadConfig reads the JSON file at config_path, then applies
// environment overrides on top. An empty path skips the file and uses
// defaults plus environment only.
func LoadConfig(config_path string) (*Config, error) {
	config := defaultConfig()

	if config_path != "" {
		file, err := os.ReadFile(config_path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return &config, nil
}
