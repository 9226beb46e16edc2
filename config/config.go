package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Database struct {
		Host     string `yaml:"host"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		Port     string `yaml:"port"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`
	Chat struct {
		BaseURL               string `yaml:"base_url"`
		APIKey                string `yaml:"api_key"`
		DefaultModel          string `yaml:"default_model"`
		RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	} `yaml:"chat"`
	Server struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// GlobalConfig is the global configuration instance
var GlobalConfig Config

// RequestTimeout returns the completion call deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Chat.RequestTimeoutSeconds) * time.Second
}

// DSN generates the PostgreSQL DSN from database config
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Database.Host,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.Port,
		c.Database.SSLMode,
	)
}

// LoadConfig reads the YAML configuration file into GlobalConfig and applies
// environment overrides. A .env file next to the process is honored when
// present; secrets like CHAT_API_KEY normally arrive that way.
func LoadConfig(filePath string) error {
	_ = godotenv.Load()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	if v := os.Getenv("CHAT_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Chat.BaseURL == "" {
		cfg.Chat.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Chat.DefaultModel == "" {
		cfg.Chat.DefaultModel = "gpt-4o-mini"
	}
	if cfg.Chat.RequestTimeoutSeconds == 0 {
		cfg.Chat.RequestTimeoutSeconds = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if cfg.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if cfg.Database.DBName == "" {
		return fmt.Errorf("database.dbname is required")
	}
	if cfg.Database.Port == "" {
		return fmt.Errorf("database.port is required")
	}
	if cfg.Chat.APIKey == "" {
		return fmt.Errorf("chat.api_key is required (config or CHAT_API_KEY)")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	return nil
}
