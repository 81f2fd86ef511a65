package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is read from the working directory when no path is given.
const DefaultFileName = "simdrive.yaml"

// DefaultEnvFile is loaded into the process environment when present.
const DefaultEnvFile = ".env"

// Supported simulator backends.
const (
	BackendSynthetic = "synthetic"
	BackendSimctl    = "simctl"
)

// Config captures the user-adjustable knobs for simdrive.
type Config struct {
	Device      DeviceConfig     `yaml:"device"`
	Input       InputConfig      `yaml:"input"`
	Recording   RecordingConfig  `yaml:"recording"`
	Screenshots ScreenshotConfig `yaml:"screenshots"`
	Catalog     CatalogConfig    `yaml:"catalog"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Logging     LoggingConfig    `yaml:"logging"`

	// Source indicates where the configuration originated (defaults or a file path).
	Source string `yaml:"-"`
}

// DeviceConfig selects the backend and bounds device calls.
type DeviceConfig struct {
	Backend       string        `yaml:"backend"`
	DeviceSetPath string        `yaml:"device_set_path"`
	DefaultUDID   string        `yaml:"default_udid"`
	OpenTimeout   time.Duration `yaml:"open_timeout"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
}

// InputConfig controls keystroke timing and the login macro.
type InputConfig struct {
	KeyDwell       time.Duration `yaml:"key_dwell"`
	KeyEdgeTimeout time.Duration `yaml:"key_edge_timeout"`
	LoginDelay     time.Duration `yaml:"login_delay"`
}

// RecordingConfig configures video capture.
type RecordingConfig struct {
	Dir           string        `yaml:"dir"`
	FPS           int           `yaml:"fps"`
	Width         int           `yaml:"width"`
	Height        int           `yaml:"height"`
	FFmpegBinary  string        `yaml:"ffmpeg_binary"`
	Codec         string        `yaml:"codec"`
	QueueSize     int           `yaml:"queue_size"`
	FinishTimeout time.Duration `yaml:"finish_timeout"`
}

// ScreenshotConfig configures still captures.
type ScreenshotConfig struct {
	Dir string `yaml:"dir"`
}

// CatalogConfig controls the capture index.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig controls the Prometheus endpoint served while recording.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the baseline configuration used when no overrides are supplied.
func Default() Config {
	backend := BackendSynthetic
	if runtime.GOOS == "darwin" {
		backend = BackendSimctl
	}
	return Config{
		Device: DeviceConfig{
			Backend:     backend,
			OpenTimeout: 10 * time.Second,
			CallTimeout: 5 * time.Second,
		},
		Input: InputConfig{
			KeyDwell:       10 * time.Millisecond,
			KeyEdgeTimeout: time.Second,
			LoginDelay:     2 * time.Second,
		},
		Recording: RecordingConfig{
			FPS:           30,
			FFmpegBinary:  "ffmpeg",
			Codec:         "libx264",
			QueueSize:     8,
			FinishTimeout: 30 * time.Second,
		},
		Catalog: CatalogConfig{
			Enabled: true,
			Path:    filepath.Join(os.TempDir(), "simdrive", "catalog.db"),
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Source: "<defaults>",
	}
}

// LookupEnvFunc resolves environment variables.
type LookupEnvFunc func(string) (string, bool)

// Load reads .env (when present), the configuration file and SIMDRIVE_*
// overrides. When path is empty, ./simdrive.yaml is read if it exists.
func Load(path string) (Config, error) {
	if err := LoadEnvFiles(DefaultEnvFile); err != nil {
		return Default(), err
	}
	return LoadWith(path, os.LookupEnv)
}

// LoadEnvFiles loads dotenv files into the process environment, skipping
// missing ones. Variables already set are not overwritten.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load env file %q: %w", f, err)
		}
	}
	return nil
}

// LoadWith is Load with an explicit environment and without dotenv files.
func LoadWith(path string, lookup LookupEnvFunc) (Config, error) {
	cfg := Default()

	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}

	file, err := os.Open(candidate)
	switch {
	case err == nil:
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("decode config file %q: %w", candidate, err)
		}
		cfg.Source = candidate
	case errors.Is(err, os.ErrNotExist):
		if explicit {
			return cfg, fmt.Errorf("config file %q not found", candidate)
		}
	default:
		return cfg, fmt.Errorf("open config file %q: %w", candidate, err)
	}

	if lookup != nil {
		if err := cfg.applyEnv(lookup); err != nil {
			return cfg, err
		}
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup LookupEnvFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("SIMDRIVE_BACKEND", &c.Device.Backend)
	str("SIMDRIVE_DEVICE_SET", &c.Device.DeviceSetPath)
	str("SIMDRIVE_UDID", &c.Device.DefaultUDID)
	str("SIMDRIVE_RECORDING_DIR", &c.Recording.Dir)
	str("SIMDRIVE_SCREENSHOT_DIR", &c.Screenshots.Dir)
	str("SIMDRIVE_FFMPEG", &c.Recording.FFmpegBinary)
	str("SIMDRIVE_CATALOG_PATH", &c.Catalog.Path)
	str("SIMDRIVE_METRICS_ADDR", &c.Metrics.Address)
	str("SIMDRIVE_LOG_LEVEL", &c.Logging.Level)
	str("SIMDRIVE_LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup("SIMDRIVE_FPS"); ok && strings.TrimSpace(v) != "" {
		fps, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("SIMDRIVE_FPS: invalid integer value %q", v)
		}
		c.Recording.FPS = fps
	}
	if v, ok := lookup("SIMDRIVE_CATALOG"); ok && strings.TrimSpace(v) != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("SIMDRIVE_CATALOG: invalid boolean value %q", v)
		}
		c.Catalog.Enabled = enabled
	}
	return nil
}

// Validate ensures essential configuration values are present and sensible.
func (c Config) Validate() error {
	switch c.Device.Backend {
	case BackendSynthetic, BackendSimctl:
	default:
		return fmt.Errorf("device.backend %q is not supported", c.Device.Backend)
	}
	if c.Device.OpenTimeout <= 0 {
		return errors.New("device.open_timeout must be positive")
	}
	if c.Device.CallTimeout <= 0 {
		return errors.New("device.call_timeout must be positive")
	}
	if c.Input.KeyDwell < 0 {
		return errors.New("input.key_dwell must not be negative")
	}
	if c.Input.KeyEdgeTimeout <= 0 {
		return errors.New("input.key_edge_timeout must be positive")
	}
	if c.Input.LoginDelay < 0 {
		return errors.New("input.login_delay must not be negative")
	}

	if c.Recording.FPS <= 0 || c.Recording.FPS > 120 {
		return errors.New("recording.fps must be between 1 and 120")
	}
	if c.Recording.Width < 0 || c.Recording.Height < 0 || (c.Recording.Width == 0) != (c.Recording.Height == 0) {
		return errors.New("recording.width and recording.height must both be set or both be zero")
	}
	if strings.TrimSpace(c.Recording.FFmpegBinary) == "" {
		return errors.New("recording.ffmpeg_binary must not be empty")
	}
	if c.Recording.QueueSize <= 0 {
		return errors.New("recording.queue_size must be positive")
	}
	if c.Catalog.Enabled && strings.TrimSpace(c.Catalog.Path) == "" {
		return errors.New("catalog.path must not be empty when the catalog is enabled")
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Address) == "" {
		return errors.New("metrics.address must not be empty when metrics are enabled")
	}

	if _, err := NormalizeLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := NormalizeFormat(c.Logging.Format); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalize() {
	defaults := Default()

	c.Device.Backend = strings.ToLower(strings.TrimSpace(c.Device.Backend))
	if c.Device.Backend == "" {
		c.Device.Backend = defaults.Device.Backend
	}
	c.Device.DefaultUDID = strings.TrimSpace(c.Device.DefaultUDID)
	if strings.TrimSpace(c.Recording.Codec) == "" {
		c.Recording.Codec = defaults.Recording.Codec
	}
	if c.Recording.FinishTimeout <= 0 {
		c.Recording.FinishTimeout = defaults.Recording.FinishTimeout
	}
	if dir := strings.TrimSpace(c.Recording.Dir); dir != "" {
		c.Recording.Dir = filepath.Clean(dir)
	}
	if dir := strings.TrimSpace(c.Screenshots.Dir); dir != "" {
		c.Screenshots.Dir = filepath.Clean(dir)
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = defaults.Logging.Format
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// NormalizeLogLevel validates and lowercases known logging levels.
func NormalizeLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeFormat validates and canonicalizes logging format identifiers.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return "json", nil
	case "console", "text":
		return "console", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}
