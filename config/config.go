package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// StyleConfig controls how the reel looks, not what it is about. One style
// file per channel variant (configs/realistic.yaml, configs/vintage.yaml...).
type StyleConfig struct {
	Name        string `yaml:"name"`
	ImageSuffix string `yaml:"image_suffix"`
	VideoPrompt string `yaml:"video_prompt"`
}

// Config is the full pipeline configuration, loaded once per run and passed
// explicitly into each component. There is no package-level settings global.
type Config struct {
	ChannelName string      `yaml:"channel_name"`
	Style       StyleConfig `yaml:"style"`
	AudioMood   string      `yaml:"audio_mood"`

	// Generation settings.
	ImageRetries int    `yaml:"image_retries"` // gate attempts, total
	StageCount   int    `yaml:"stage_count"`   // stages per scenario
	OutputDir    string `yaml:"output_dir"`

	GenAI struct {
		BaseURL      string `yaml:"base_url"`
		TextModel    string `yaml:"text_model"`
		ImageModel   string `yaml:"image_model"`
		VisionModel  string `yaml:"vision_model"`
		VideoModel   string `yaml:"video_model"`
		AudioModel   string `yaml:"audio_model"`
		PollInterval int    `yaml:"poll_interval_seconds"`
		TaskTimeout  int    `yaml:"task_timeout_minutes"`
	} `yaml:"genai"`

	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"minio"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Publish struct {
		YouTubeEnabled  bool   `yaml:"youtube_enabled"`
		CategoryID      string `yaml:"category_id"`
		Visibility      string `yaml:"visibility"`
		DefaultLanguage string `yaml:"default_language"`
	} `yaml:"publish"`
}

// Load reads and validates a style config file. A .env next to the binary is
// loaded first so API keys can live outside the YAML (local dev only; CI
// injects real env vars).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.ChannelName == "" {
		return nil, fmt.Errorf("config %s: channel_name is required", path)
	}
	if cfg.Style.Name == "" || cfg.Style.ImageSuffix == "" {
		return nil, fmt.Errorf("config %s: style.name and style.image_suffix are required", path)
	}

	// Defaults mirror the production channel setup.
	if cfg.AudioMood == "" {
		cfg.AudioMood = "cinematic, atmospheric"
	}
	if cfg.ImageRetries <= 0 {
		cfg.ImageRetries = 3
	}
	if cfg.StageCount <= 0 {
		cfg.StageCount = 3
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
	if cfg.GenAI.PollInterval <= 0 {
		cfg.GenAI.PollInterval = 3
	}
	if cfg.GenAI.TaskTimeout <= 0 {
		cfg.GenAI.TaskTimeout = 30
	}
	if cfg.Publish.Visibility == "" {
		cfg.Publish.Visibility = "private"
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return cfg, nil
}
