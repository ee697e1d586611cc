package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the service configuration read from config.yaml.
type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	ML struct {
		Variants   map[string]string `yaml:"variants"`
		Confidence string            `yaml:"confidence"`
		Watch      bool              `yaml:"watch"`
		CacheSize  int               `yaml:"cache_size"`
	} `yaml:"ml"`
	Assets struct {
		ImageDir    string `yaml:"image_dir"`
		HeaderImage string `yaml:"header_image"`
		HomeImage   string `yaml:"home_image"`
	} `yaml:"assets"`
	UI struct {
		Language string `yaml:"language"`
	} `yaml:"ui"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Http.Port = 8080
	cfg.Http.Timeout = 30 * time.Second
	cfg.Http.AllowedOrigins = []string{"*"}
	cfg.Http.MaxBodyBytes = 1 << 20
	cfg.Database.Path = "data/predictions.db"
	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMB = 50
	cfg.Log.MaxBackups = 3
	cfg.Log.MaxAgeDays = 28
	cfg.ML.Variants = map[string]string{
		"full":  "model/random_forest.json",
		"top10": "model/random_forest10.json",
	}
	cfg.ML.Confidence = "class0"
	cfg.ML.CacheSize = 8
	cfg.Assets.ImageDir = "img"
	cfg.Assets.HeaderImage = "gambar_ginjal.png"
	cfg.Assets.HomeImage = "Ginjal.png"
	cfg.UI.Language = "id"
	return cfg
}

// Load reads path on top of Default, then applies .env and CKD_* environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if cfg.ML.Variants == nil {
		cfg.ML.Variants = make(map[string]string)
	}
	if v := os.Getenv("CKD_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CKD_PORT: %w", err)
		}
		cfg.Http.Port = port
	}
	if v := os.Getenv("CKD_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CKD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CKD_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("CKD_CONFIDENCE"); v != "" {
		cfg.ML.Confidence = v
	}
	if v := os.Getenv("CKD_MODEL_FULL"); v != "" {
		cfg.ML.Variants["full"] = v
	}
	if v := os.Getenv("CKD_MODEL_TOP10"); v != "" {
		cfg.ML.Variants["top10"] = v
	}
	if v := os.Getenv("CKD_LANG"); v != "" {
		cfg.UI.Language = v
	}
	return nil
}

// Validate checks ranges and enumerated values.
func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.Http.Port)
	}
	switch c.ML.Confidence {
	case "class0", "predicted":
	default:
		return fmt.Errorf("ml.confidence must be class0 or predicted, got %q", c.ML.Confidence)
	}
	if len(c.ML.Variants) == 0 {
		return errors.New("ml.variants is empty")
	}
	if c.ML.CacheSize <= 0 {
		c.ML.CacheSize = 8
	}
	return nil
}
