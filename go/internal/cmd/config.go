package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GameAPI struct {
		BaseURL    string `yaml:"base_url"`
		ClientID   string `yaml:"client_id"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"game_api"`

	Observer struct {
		SessionID string `yaml:"session_id"`
		Port      string `yaml:"port"`
		PublicURL string `yaml:"public_url"`
		ShowQR    bool   `yaml:"show_qr"`
	} `yaml:"observer"`

	Narration struct {
		// Backend is one of none, exec, nats.
		Backend    string   `yaml:"backend"`
		Command    string   `yaml:"command"`
		Args       []string `yaml:"args"`
		Subject    string   `yaml:"subject"`
		TimeoutSec int      `yaml:"timeout_sec"`
	} `yaml:"narration"`

	Prefs struct {
		// Backend is one of memory, file, postgres.
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
		Profile string `yaml:"profile"`
	} `yaml:"prefs"`

	NATS struct {
		URL           string `yaml:"url"`
		PublishViews  bool   `yaml:"publish_views"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

func defaultConfig() *Config {
	var c Config
	c.GameAPI.BaseURL = "http://localhost:8000"
	c.GameAPI.ClientID = "mafia-observer"
	c.GameAPI.TimeoutSec = 60
	c.Observer.Port = "8080"
	c.Narration.Backend = "none"
	c.Narration.TimeoutSec = 30
	c.Prefs.Backend = "file"
	c.Prefs.Path = ".mafia-observer/prefs.yaml"
	c.Prefs.Profile = "default"
	c.NATS.SubjectPrefix = "session"
	return &c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// loadConfig reads the optional YAML file at path and then applies
// environment overrides.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.GameAPI.BaseURL = getEnv("GAME_API_URL", config.GameAPI.BaseURL)
	config.GameAPI.ClientID = getEnv("GAME_API_CLIENT_ID", config.GameAPI.ClientID)
	config.GameAPI.TimeoutSec = getEnvAsInt("GAME_API_TIMEOUT_SEC", config.GameAPI.TimeoutSec)
	config.Observer.SessionID = getEnv("SESSION_ID", config.Observer.SessionID)
	config.Observer.Port = getEnv("PORT", config.Observer.Port)
	config.Observer.PublicURL = getEnv("OBSERVER_PUBLIC_URL", config.Observer.PublicURL)
	config.Observer.ShowQR = getEnvAsBool("OBSERVER_SHOW_QR", config.Observer.ShowQR)
	config.Narration.Backend = strings.ToLower(getEnv("NARRATION_BACKEND", config.Narration.Backend))
	config.Narration.Command = getEnv("TTS_COMMAND", config.Narration.Command)
	config.Narration.Subject = getEnv("NARRATION_SUBJECT", config.Narration.Subject)
	config.Prefs.Backend = strings.ToLower(getEnv("PREFS_BACKEND", config.Prefs.Backend))
	config.Prefs.Path = getEnv("PREFS_PATH", config.Prefs.Path)
	config.Prefs.Profile = getEnv("PREFS_PROFILE", config.Prefs.Profile)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)
	config.NATS.PublishViews = getEnvAsBool("NATS_PUBLISH_VIEWS", config.NATS.PublishViews)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Narration.Backend {
	case "none", "exec", "nats":
	default:
		return fmt.Errorf("unknown narration backend %q", c.Narration.Backend)
	}
	if c.Narration.Backend == "exec" && c.Narration.Command == "" {
		return fmt.Errorf("narration backend exec requires a command")
	}

	switch c.Prefs.Backend {
	case "memory", "file", "postgres":
	default:
		return fmt.Errorf("unknown prefs backend %q", c.Prefs.Backend)
	}

	if (c.Narration.Backend == "nats" || c.NATS.PublishViews) && c.NATS.URL == "" {
		return fmt.Errorf("nats url is required for nats narration or view publishing")
	}
	return nil
}

// observerURL is the address printed (and encoded as a QR code) at startup.
func (c *Config) observerURL() string {
	if c.Observer.PublicURL != "" {
		return c.Observer.PublicURL
	}
	return "http://localhost:" + c.Observer.Port + "/api/session"
}
