package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Stream     StreamConfig     `yaml:"stream"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Vision     VisionConfig     `yaml:"vision"`
	MinIO      MinIOConfig      `yaml:"minio"`
	NATS       NATSConfig       `yaml:"nats"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type StreamConfig struct {
	URL              string        `yaml:"url"`
	ReadChunkSize    int           `yaml:"read_chunk_size"`
	MaxFrameBytes    int           `yaml:"max_frame_bytes"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`

	// TranscodeFPS and TranscodeWidth apply to ffmpeg-backed sources; 0 keeps the input.
	TranscodeFPS   int `yaml:"transcode_fps"`
	TranscodeWidth int `yaml:"transcode_width"`
}

// ClockTime is a 12-hour wall clock time as entered by the operator.
type ClockTime struct {
	Hour   int    `yaml:"hour" json:"hour"`
	Minute int    `yaml:"minute" json:"minute"`
	AmPm   string `yaml:"am_pm" json:"am_pm"`
}

type AttendanceConfig struct {
	StartTime             ClockTime     `yaml:"start_time"`
	EndTime               ClockTime     `yaml:"end_time"`
	AutoDetection         *bool         `yaml:"auto_detection"`
	DateOverride          string        `yaml:"date_override"` // "use-current" or YYYY-MM-DD
	MinMatchConfidence    int           `yaml:"min_match_confidence"`
	DetectionInterval     time.Duration `yaml:"detection_interval"`
	RolloverCheckInterval time.Duration `yaml:"rollover_check_interval"`
	Timezone              string        `yaml:"timezone"`
}

// AutoDetectionEnabled reports the configured toggle, defaulting to on.
func (a AttendanceConfig) AutoDetectionEnabled() bool {
	return a.AutoDetection == nil || *a.AutoDetection
}

// Location resolves the configured timezone, falling back to the host's.
func (a AttendanceConfig) Location() (*time.Location, error) {
	if a.Timezone == "" || a.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

type VisionConfig struct {
	ModelsDir              string  `yaml:"models_dir"`
	DetectionThreshold     float64 `yaml:"detection_threshold"`
	MatchDistanceThreshold float64 `yaml:"match_distance_threshold"`
	IntraOpThreads         int     `yaml:"intra_op_threads"`
}

type MinIOConfig struct {
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Bucket      string `yaml:"bucket"`
	UseSSL      bool   `yaml:"use_ssl"`
	FacesPrefix string `yaml:"faces_prefix"`
}

// NATSConfig configures event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
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
	return Parse(data)
}

// Parse decodes YAML config bytes, then applies env overrides, defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside the session.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port must be in 1-65535")
	}
	if err := validateClock("attendance.start_time", c.Attendance.StartTime); err != nil {
		return err
	}
	if err := validateClock("attendance.end_time", c.Attendance.EndTime); err != nil {
		return err
	}
	if c.Attendance.MinMatchConfidence < 0 || c.Attendance.MinMatchConfidence > 100 {
		return fmt.Errorf("invalid config: attendance.min_match_confidence must be in 0-100")
	}
	if c.Vision.MatchDistanceThreshold <= 0 || c.Vision.MatchDistanceThreshold > 1 {
		return fmt.Errorf("invalid config: vision.match_distance_threshold must be in (0,1]")
	}
	if _, err := c.Attendance.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func validateClock(field string, t ClockTime) error {
	if t.Hour < 1 || t.Hour > 12 {
		return fmt.Errorf("invalid config: %s.hour must be in 1-12", field)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("invalid config: %s.minute must be in 0-59", field)
	}
	if p := strings.ToUpper(t.AmPm); p != "AM" && p != "PM" {
		return fmt.Errorf("invalid config: %s.am_pm must be AM or PM", field)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Stream.ReadChunkSize == 0 {
		cfg.Stream.ReadChunkSize = 32 * 1024
	}
	if cfg.Stream.MaxFrameBytes == 0 {
		cfg.Stream.MaxFrameBytes = 10 * 1024 * 1024
	}
	if cfg.Stream.ReconnectBackoff == 0 {
		cfg.Stream.ReconnectBackoff = 5 * time.Second
	}
	if cfg.Stream.DialTimeout == 0 {
		cfg.Stream.DialTimeout = 10 * time.Second
	}
	if cfg.Attendance.StartTime == (ClockTime{}) {
		cfg.Attendance.StartTime = ClockTime{Hour: 8, Minute: 0, AmPm: "AM"}
	}
	if cfg.Attendance.EndTime == (ClockTime{}) {
		cfg.Attendance.EndTime = ClockTime{Hour: 9, Minute: 0, AmPm: "AM"}
	}
	if cfg.Attendance.DateOverride == "" {
		cfg.Attendance.DateOverride = "use-current"
	}
	if cfg.Attendance.MinMatchConfidence == 0 {
		cfg.Attendance.MinMatchConfidence = 50
	}
	if cfg.Attendance.DetectionInterval == 0 {
		cfg.Attendance.DetectionInterval = time.Second
	}
	if cfg.Attendance.RolloverCheckInterval == 0 {
		cfg.Attendance.RolloverCheckInterval = time.Minute
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.MatchDistanceThreshold == 0 {
		cfg.Vision.MatchDistanceThreshold = 0.6
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "attendance"
	}
	if cfg.MinIO.FacesPrefix == "" {
		cfg.MinIO.FacesPrefix = "faces/"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "attendance"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ATT_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ATT_STREAM_URL"); v != "" {
		cfg.Stream.URL = v
	}
	if v := os.Getenv("ATT_RECONNECT_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Stream.ReconnectBackoff = d
		}
	}
	if v := os.Getenv("ATT_AUTO_DETECTION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Attendance.AutoDetection = &b
		}
	}
	if v := os.Getenv("ATT_DATE_OVERRIDE"); v != "" {
		cfg.Attendance.DateOverride = v
	}
	if v := os.Getenv("ATT_TIMEZONE"); v != "" {
		cfg.Attendance.Timezone = v
	}
	if v := os.Getenv("ATT_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("ATT_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("ATT_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("ATT_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("ATT_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("ATT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ATT_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ATT_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ATT_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("ATT_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("ATT_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ATT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
