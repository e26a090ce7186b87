package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	AI      AIConfig      `yaml:"ai"`
	ComfyUI ComfyUIConfig `yaml:"comfyui"`
	Images  ImagesConfig  `yaml:"images"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
}

type AIConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

type ComfyUIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	NegativePrompt string        `yaml:"negative_prompt"`
	Width          int           `yaml:"width"`
	Height         int           `yaml:"height"`
	Steps          int           `yaml:"steps"`
	CFGScale       float64       `yaml:"cfg_scale"`
	Timeout        time.Duration `yaml:"timeout"`
}

type ImagesConfig struct {
	Dir        string `yaml:"dir"`
	MaxEntries int    `yaml:"max_entries"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	if apiKey := os.Getenv("ECHOWEAVER_API_KEY"); apiKey != "" {
		cfg.AI.APIKey = apiKey
	} else if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = apiKey
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Minute
	}
	if c.Server.GenerateTimeout == 0 {
		c.Server.GenerateTimeout = 5 * time.Minute
	}
	if c.AI.Model == "" {
		c.AI.Model = "gpt-4o-mini"
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = 600
	}
	if c.AI.Temperature == 0 {
		c.AI.Temperature = 0.8
	}
	if c.ComfyUI.BaseURL == "" {
		c.ComfyUI.BaseURL = "http://localhost:8188"
	}
	if c.ComfyUI.Width == 0 {
		c.ComfyUI.Width = 1024
	}
	if c.ComfyUI.Height == 0 {
		c.ComfyUI.Height = 1024
	}
	if c.ComfyUI.Steps == 0 {
		c.ComfyUI.Steps = 8
	}
	if c.ComfyUI.CFGScale == 0 {
		c.ComfyUI.CFGScale = 7.0
	}
	if c.ComfyUI.Timeout == 0 {
		c.ComfyUI.Timeout = 300 * time.Second
	}
	if c.Images.Dir == "" {
		c.Images.Dir = "./data/images"
	}
	if c.Images.MaxEntries == 0 {
		c.Images.MaxEntries = 500
	}
}
