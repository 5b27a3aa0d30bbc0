package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. FACEGATE_LOG_LEVEL.
const EnvPrefix = "FACEGATE"

// Config is the complete runtime configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
	File   string `mapstructure:"file"`
}

// DBConfig holds the PostgreSQL connection. URL wins over the individual fields.
type DBConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// WorkerConfig holds the Python model worker settings.
type WorkerConfig struct {
	Python             string  `mapstructure:"python"`
	Script             string  `mapstructure:"script"`
	Model              string  `mapstructure:"model"`
	DetectionThreshold float64 `mapstructure:"detection_threshold"`
	JPEGQuality        int     `mapstructure:"jpeg_quality"`
}

// PipelineConfig holds the recognition settings.
type PipelineConfig struct {
	Threshold float64       `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CropSize  int           `mapstructure:"crop_size"`
}

// CaptureConfig holds the ffmpeg frame source settings.
type CaptureConfig struct {
	NthFrame int     `mapstructure:"nth_frame"`
	FPS      float64 `mapstructure:"fps"`
}

// MetricsConfig holds the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from defaults, an optional file, the environment
// and finally any flags bound by key.
func Load(configPath string, flags map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Debugf("Config loaded from %s", configPath)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindLegacyEnv(v)

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("db.url", "")
	v.SetDefault("db.host", "")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.username", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "facegate")

	v.SetDefault("worker.python", "python3")
	v.SetDefault("worker.script", "python/worker.py")
	v.SetDefault("worker.model", "buffalo_l")
	v.SetDefault("worker.detection_threshold", 0.5)
	v.SetDefault("worker.jpeg_quality", 90)

	v.SetDefault("pipeline.threshold", 0.7)
	v.SetDefault("pipeline.timeout", "5s")
	v.SetDefault("pipeline.crop_size", 160)

	v.SetDefault("capture.nth_frame", 5)
	v.SetDefault("capture.fps", 0)

	v.SetDefault("metrics.addr", "")
}

// bindLegacyEnv keeps the POSTGRES_* variables of existing deployments working.
// The FACEGATE_ form takes precedence when both are set.
func bindLegacyEnv(v *viper.Viper) {
	legacy := map[string]string{
		"db.host":     "POSTGRES_HOST",
		"db.port":     "POSTGRES_PORT",
		"db.username": "POSTGRES_USER",
		"db.password": "POSTGRES_PASSWORD",
		"db.name":     "POSTGRES_DB",
	}
	for key, env := range legacy {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, env)
	}
}

// ConnString returns the PostgreSQL URL for the store.
func (c DBConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}

	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/" + c.Name,
	}
	if c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
	}
	return u.String()
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log.format %q: must be text or json", c.Log.Format))
	}
	if c.Pipeline.Threshold < -1 || c.Pipeline.Threshold > 1 {
		errs = append(errs, fmt.Errorf("invalid pipeline.threshold: must be between -1.0 and 1.0, got %f", c.Pipeline.Threshold))
	}
	if c.Pipeline.Timeout < 0 {
		errs = append(errs, fmt.Errorf("invalid pipeline.timeout: must be >= 0, got %s", c.Pipeline.Timeout))
	}
	if c.Pipeline.CropSize < 0 {
		errs = append(errs, fmt.Errorf("invalid pipeline.crop_size: must be >= 0, got %d", c.Pipeline.CropSize))
	}
	if c.Capture.NthFrame < 1 {
		errs = append(errs, fmt.Errorf("invalid capture.nth_frame: must be >= 1, got %d", c.Capture.NthFrame))
	}
	if c.Capture.FPS < 0 {
		errs = append(errs, fmt.Errorf("invalid capture.fps: must be >= 0, got %f", c.Capture.FPS))
	}
	if c.Worker.JPEGQuality < 1 || c.Worker.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("invalid worker.jpeg_quality: must be between 1 and 100, got %d", c.Worker.JPEGQuality))
	}
	return errors.Join(errs...)
}
