// Package config loads settings for the segmentation CLI and server from YAML, defaults and
// ANIMEFACE_* environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Hejaii/animeface"
	"github.com/Hejaii/animeface/logging"
)

// EnvPrefix prefixes environment overrides, e.g. ANIMEFACE_REDIS_ADDR.
const EnvPrefix = "ANIMEFACE"

// DefaultPath is the config file New reads.
const DefaultPath = "config.yaml"

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Models   ModelsConfig   `mapstructure:"models"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Output   OutputConfig   `mapstructure:"output"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

type LogConfig struct {
	Mode       string `mapstructure:"mode"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ModelsConfig struct {
	Detector  DetectorConfig  `mapstructure:"detector"`
	Segmenter SegmenterConfig `mapstructure:"segmenter"`
}

type DetectorConfig struct {
	Model         string  `mapstructure:"model"`
	Config        string  `mapstructure:"config"`
	Labels        string  `mapstructure:"labels"`
	InputSize     int     `mapstructure:"input_size"`
	TextThreshold float32 `mapstructure:"text_threshold"`
}

type SegmenterConfig struct {
	ModelType string `mapstructure:"model_type"`
	Encoder   string `mapstructure:"encoder"`
	Decoder   string `mapstructure:"decoder"`
}

type PipelineConfig struct {
	BoxThreshold     float32  `mapstructure:"box_threshold"`
	KernelSize       int      `mapstructure:"kernel_size"`
	LargestComponent []string `mapstructure:"largest_component"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// Load reads configPath on top of the defaults and applies environment overrides. An empty path
// skips the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}

// New loads path, or DefaultPath when path is empty. A missing default file or an unreadable
// file gives the defaults.
func New(path string) *Config {
	if path == "" {
		path = DefaultPath
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	cfg, err := Load(path)
	if err != nil {
		cfg, err = Load("")
		if err != nil {
			return Default()
		}
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.mode", "debug")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("models.detector.model", "")
	v.SetDefault("models.detector.config", "")
	v.SetDefault("models.detector.labels", "")
	v.SetDefault("models.detector.input_size", 640)
	v.SetDefault("models.detector.text_threshold", animeface.DefaultTextThreshold)
	v.SetDefault("models.segmenter.model_type", "vit_h")
	v.SetDefault("models.segmenter.encoder", "")
	v.SetDefault("models.segmenter.decoder", "")

	v.SetDefault("pipeline.box_threshold", animeface.DefaultBoxThreshold)
	v.SetDefault("pipeline.kernel_size", animeface.DefaultKernelSize)
	v.SetDefault("pipeline.largest_component", []string{})

	v.SetDefault("output.dir", "./out")

	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/jpg"})
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Mode:       "debug",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Models: ModelsConfig{
			Detector: DetectorConfig{
				InputSize:     640,
				TextThreshold: animeface.DefaultTextThreshold,
			},
			Segmenter: SegmenterConfig{ModelType: "vit_h"},
		},
		Pipeline: PipelineConfig{
			BoxThreshold:     animeface.DefaultBoxThreshold,
			KernelSize:       animeface.DefaultKernelSize,
			LargestComponent: []string{},
		},
		Output: OutputConfig{Dir: "./out"},
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "localhost:6379",
			TTL:     24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg"},
		},
	}
}

// FileConfig converts the log section for logging.NewWithFile.
func (c LogConfig) FileConfig() logging.FileConfig {
	return logging.FileConfig{
		Filename:   c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DetectorConfig converts the detector section for animeface.NewDetector.
func (c ModelsConfig) DetectorConfig() animeface.DetectorConfig {
	return animeface.DetectorConfig{
		ModelPath:     c.Detector.Model,
		ConfigPath:    c.Detector.Config,
		LabelsPath:    c.Detector.Labels,
		InputSize:     c.Detector.InputSize,
		TextThreshold: c.Detector.TextThreshold,
	}
}

// SegmenterConfig converts the segmenter section for animeface.NewPredictor.
func (c ModelsConfig) SegmenterConfig() animeface.SegmenterConfig {
	return animeface.SegmenterConfig{
		ModelType:   c.Segmenter.ModelType,
		EncoderPath: c.Segmenter.Encoder,
		DecoderPath: c.Segmenter.Decoder,
	}
}

// Options returns the pipeline options of the section.
func (c PipelineConfig) Options(logger *zap.Logger) ([]animeface.Option, error) {
	opts := []animeface.Option{
		animeface.WithLogger(logger),
		animeface.WithBoxThreshold(c.BoxThreshold),
		animeface.WithKernelSize(c.KernelSize),
	}
	var largest []animeface.Part
	for _, name := range c.LargestComponent {
		part, ok := animeface.ParsePart(name)
		if !ok {
			return nil, errors.Errorf("largest_component: unknown part %q", name)
		}
		largest = append(largest, part)
	}
	if len(largest) > 0 {
		opts = append(opts, animeface.WithLargestComponent(largest...))
	}
	return opts, nil
}
