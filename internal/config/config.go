package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Detection DetectionConfig `yaml:"detection"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Core      CoreConfig      `yaml:"core"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DetectionConfig points at the detection collaborator.
type DetectionConfig struct {
	URL       string        `yaml:"url"`
	ModelName string        `yaml:"model_name"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TrackingConfig points at the tracking collaborator.
type TrackingConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CoreConfig holds the pipeline and scheduler knobs.
type CoreConfig struct {
	// BatchSize bounds memory use and detection payload size per batch.
	BatchSize    int    `yaml:"batch_size"`
	VideoRoot    string `yaml:"video_root"`
	OutputWidth  int    `yaml:"output_width"`
	OutputHeight int    `yaml:"output_height"`
	// PollTimeout is how long the scheduler worker blocks on the queue
	// before re-checking the shutdown signal.
	PollTimeout time.Duration `yaml:"poll_timeout"`
	QueueSize   int           `yaml:"queue_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// Default returns a config with env overrides and defaults applied without
// reading a file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Detection.URL == "" {
		cfg.Detection.URL = "http://127.0.0.1:8003"
	}
	if cfg.Detection.ModelName == "" {
		cfg.Detection.ModelName = "fishy"
	}
	if cfg.Detection.Timeout == 0 {
		cfg.Detection.Timeout = 2 * time.Minute
	}
	if cfg.Tracking.URL == "" {
		cfg.Tracking.URL = "http://127.0.0.1:8001"
	}
	if cfg.Tracking.Timeout == 0 {
		cfg.Tracking.Timeout = 5 * time.Minute
	}
	if cfg.Core.BatchSize == 0 {
		cfg.Core.BatchSize = 50
	}
	if cfg.Core.OutputWidth == 0 {
		cfg.Core.OutputWidth = 640
	}
	if cfg.Core.OutputHeight == 0 {
		cfg.Core.OutputHeight = 360
	}
	if cfg.Core.PollTimeout == 0 {
		cfg.Core.PollTimeout = time.Second
	}
	if cfg.Core.QueueSize == 0 {
		cfg.Core.QueueSize = 256
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VT_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("VT_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("VT_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("VT_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("VT_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("VT_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("VT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("VT_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("VT_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("VT_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("VT_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("VT_DETECTION_URL"); v != "" {
		cfg.Detection.URL = v
	}
	if v := os.Getenv("VT_TRACKING_URL"); v != "" {
		cfg.Tracking.URL = v
	}
	if v := os.Getenv("VT_VIDEO_ROOT"); v != "" {
		cfg.Core.VideoRoot = v
	}
	if v := os.Getenv("VT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Core.BatchSize = n
		}
	}
}
