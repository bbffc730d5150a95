package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/semmidev/backupd/internal/domain"
)

const EnvPrefix = "BACKUPD"

type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Store         StoreConfig         `mapstructure:"store"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Producer      ProducerConfig      `mapstructure:"producer"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	Timezone string `mapstructure:"timezone"`
	WorkDir  string `mapstructure:"work_dir"`
}

type StoreConfig struct {
	Driver      string        `mapstructure:"driver"`
	Path        string        `mapstructure:"path"`
	DSN         string        `mapstructure:"dsn"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type SchedulerConfig struct {
	// Tick and RetentionSchedule are 6-field cron specs with seconds.
	Tick              string        `mapstructure:"tick"`
	DueWindow         time.Duration `mapstructure:"due_window"`
	DedupWindow       time.Duration `mapstructure:"dedup_window"`
	RetentionSchedule string        `mapstructure:"retention_schedule"`
}

type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	QueueSize    int           `mapstructure:"queue_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type ProducerConfig struct {
	PgDumpPath      string        `mapstructure:"pg_dump_path"`
	MySQLDumpPath   string        `mapstructure:"mysqldump_path"`
	SQLite3Path     string        `mapstructure:"sqlite3_path"`
	PostgresTimeout time.Duration `mapstructure:"postgres_timeout"`
	MySQLTimeout    time.Duration `mapstructure:"mysql_timeout"`
	SQLiteTimeout   time.Duration `mapstructure:"sqlite_timeout"`
	HelperImage     string        `mapstructure:"helper_image"`
}

type TelegramConfig struct {
	APIEndpoint          string        `mapstructure:"api_endpoint"`
	MaxFileSize          int64         `mapstructure:"max_file_size"`
	UploadConnectTimeout time.Duration `mapstructure:"upload_connect_timeout"`
	UploadWriteTimeout   time.Duration `mapstructure:"upload_write_timeout"`
	UploadReadTimeout    time.Duration `mapstructure:"upload_read_timeout"`
	TextConnectTimeout   time.Duration `mapstructure:"text_connect_timeout"`
	TextTimeout          time.Duration `mapstructure:"text_timeout"`
	RatePerSecond        float64       `mapstructure:"rate_per_second"`
	Burst                int           `mapstructure:"burst"`
}

type RetentionConfig struct {
	ExecutionLogDays int `mapstructure:"execution_log_days"`
}

type ArchiveConfig struct {
	RetentionDays int             `mapstructure:"retention_days"`
	Targets       []ArchiveTarget `mapstructure:"targets"`
}

type ArchiveTarget struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"`
	Enabled bool   `mapstructure:"enabled"`

	// Local
	Path string `mapstructure:"path"`

	// Google Drive
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	FolderID        string `mapstructure:"folder_id"`

	// AWS S3 and compatible stores
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Prefix       string `mapstructure:"prefix"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// Label names the target in logs.
func (t ArchiveTarget) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Type
}

type ObservabilityConfig struct {
	HTTPAddr     string `mapstructure:"http_addr"`
	APIToken     string `mapstructure:"api_token"` // guards /api; required off loopback
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

type CatalogConfig struct {
	Sources      []SourceConfig      `mapstructure:"sources"`
	Destinations []DestinationConfig `mapstructure:"destinations"`
	Jobs         []JobConfig         `mapstructure:"jobs"`
}

type SourceConfig struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`

	// Database
	DBType   string `mapstructure:"db_type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DBName   string `mapstructure:"db_name"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// Volume
	VolumeName string `mapstructure:"volume_name"`
}

func (s SourceConfig) Source() domain.Source {
	return domain.Source{
		Name:     s.Name,
		Kind:     domain.SourceKind(s.Type),
		Engine:   domain.Engine(s.DBType),
		Host:     s.Host,
		Port:     s.Port,
		Database: s.DBName,
		User:     s.Username,
		Password: s.Password,
		Volume:   s.VolumeName,
	}
}

type DestinationConfig struct {
	Name     string `mapstructure:"name"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

func (d DestinationConfig) Destination() domain.Destination {
	return domain.Destination{Name: d.Name, BotToken: d.BotToken, ChatID: d.ChatID}
}

type JobConfig struct {
	Name         string `mapstructure:"name"`
	Source       string `mapstructure:"source"`
	Destination  string `mapstructure:"destination"`
	Schedule     string `mapstructure:"schedule"`
	OutputFormat string `mapstructure:"output_format"`
	Active       *bool  `mapstructure:"active"`
}

// Job references its source and destination by name only.
func (j JobConfig) Job() domain.Job {
	active := true
	if j.Active != nil {
		active = *j.Active
	}
	format := domain.OutputFormat(j.OutputFormat)
	if format == "" {
		format = domain.FormatTarGz
	}
	return domain.Job{
		Name:         j.Name,
		Source:       domain.Source{Name: j.Source},
		Destination:  domain.Destination{Name: j.Destination},
		Schedule:     j.Schedule,
		OutputFormat: format,
		IsActive:     active,
	}
}

// Load reads the YAML file at path, overlaid with BACKUPD_* environment
// variables. Variables from envFiles are exported first; missing env files
// are ignored. An empty path runs on defaults and the environment alone.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v)
}

// Watch re-reads path on every change and hands valid configurations to
// onChange. Invalid edits are reported through onError and skipped.
func Watch(path string, onChange func(*Config), onError func(error)) error {
	if path == "" {
		return errors.New("config watch requires a config file")
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func loadEnvFiles(files []string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "backupd")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_file", "")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("app.work_dir", "")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/backupd.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.busy_timeout", "5s")

	v.SetDefault("scheduler.tick", "0 * * * * *")
	v.SetDefault("scheduler.due_window", "70s")
	v.SetDefault("scheduler.dedup_window", "2m")
	v.SetDefault("scheduler.retention_schedule", "0 0 3 * * *")

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.retry_backoff", "60s")

	v.SetDefault("producer.pg_dump_path", "pg_dump")
	v.SetDefault("producer.mysqldump_path", "mysqldump")
	v.SetDefault("producer.sqlite3_path", "sqlite3")
	v.SetDefault("producer.postgres_timeout", "1h")
	v.SetDefault("producer.mysql_timeout", "1h")
	v.SetDefault("producer.sqlite_timeout", "30m")
	v.SetDefault("producer.helper_image", "alpine:latest")

	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.max_file_size", 50*1024*1024)
	v.SetDefault("telegram.upload_connect_timeout", "60s")
	v.SetDefault("telegram.upload_write_timeout", "300s")
	v.SetDefault("telegram.upload_read_timeout", "300s")
	v.SetDefault("telegram.text_connect_timeout", "30s")
	v.SetDefault("telegram.text_timeout", "60s")
	v.SetDefault("telegram.rate_per_second", 1.0)
	v.SetDefault("telegram.burst", 3)

	v.SetDefault("retention.execution_log_days", 30)
	v.SetDefault("archive.retention_days", 0)

	v.SetDefault("observability.http_addr", "127.0.0.1:9090")
	v.SetDefault("observability.api_token", "")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_insecure", false)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.App.Location(); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}

	if c.Scheduler.Tick == "" {
		return fmt.Errorf("scheduler.tick is required")
	}
	if c.Scheduler.DueWindow <= 0 || c.Scheduler.DedupWindow <= 0 {
		return fmt.Errorf("scheduler.due_window and scheduler.dedup_window must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must not be negative")
	}
	if c.Retention.ExecutionLogDays <= 0 {
		return fmt.Errorf("retention.execution_log_days must be positive")
	}

	if c.Observability.HTTPAddr != "" && c.Observability.APIToken == "" && !isLoopback(c.Observability.HTTPAddr) {
		return fmt.Errorf("observability.api_token is required when http_addr %q is not a loopback address", c.Observability.HTTPAddr)
	}

	for i, t := range c.Archive.Targets {
		if err := t.validate(); err != nil {
			return fmt.Errorf("archive.targets[%d]: %w", i, err)
		}
	}

	return c.Catalog.validate()
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Location resolves the timezone used for cron evaluation.
func (a AppConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(a.Timezone)
}

func (t ArchiveTarget) validate() error {
	if !t.Enabled {
		return nil
	}
	switch t.Type {
	case "local":
		if t.Path == "" {
			return fmt.Errorf("path is required for local targets")
		}
	case "s3":
		if t.Bucket == "" {
			return fmt.Errorf("bucket is required for s3 targets")
		}
	case "gdrive":
		if t.CredentialsFile == "" {
			return fmt.Errorf("credentials_file is required for gdrive targets")
		}
	default:
		return fmt.Errorf("unknown target type %q", t.Type)
	}
	return nil
}

func (c CatalogConfig) validate() error {
	sources := map[string]bool{}
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("catalog.sources[%d]: name is required", i)
		}
		if sources[s.Name] {
			return fmt.Errorf("catalog.sources[%d]: duplicate name %q", i, s.Name)
		}
		sources[s.Name] = true

		switch domain.SourceKind(s.Type) {
		case domain.SourceDatabase:
			switch domain.Engine(s.DBType) {
			case domain.EnginePostgreSQL, domain.EngineMySQL, domain.EngineSQLite:
			default:
				return fmt.Errorf("catalog.sources[%d]: unsupported db_type %q", i, s.DBType)
			}
		case domain.SourceVolume:
			if s.VolumeName == "" {
				return fmt.Errorf("catalog.sources[%d]: volume_name is required", i)
			}
		default:
			return fmt.Errorf("catalog.sources[%d]: unsupported type %q", i, s.Type)
		}
	}

	destinations := map[string]bool{}
	for i, d := range c.Destinations {
		if d.Name == "" || d.BotToken == "" || d.ChatID == "" {
			return fmt.Errorf("catalog.destinations[%d]: name, bot_token and chat_id are required", i)
		}
		if destinations[d.Name] {
			return fmt.Errorf("catalog.destinations[%d]: duplicate name %q", i, d.Name)
		}
		destinations[d.Name] = true
	}

	jobs := map[string]bool{}
	for i, j := range c.Jobs {
		if j.Name == "" || j.Schedule == "" {
			return fmt.Errorf("catalog.jobs[%d]: name and schedule are required", i)
		}
		if jobs[j.Name] {
			return fmt.Errorf("catalog.jobs[%d]: duplicate name %q", i, j.Name)
		}
		jobs[j.Name] = true

		if !sources[j.Source] {
			return fmt.Errorf("catalog.jobs[%d]: unknown source %q", i, j.Source)
		}
		if !destinations[j.Destination] {
			return fmt.Errorf("catalog.jobs[%d]: unknown destination %q", i, j.Destination)
		}
		if j.OutputFormat != "" && !domain.OutputFormat(j.OutputFormat).Valid() {
			return fmt.Errorf("catalog.jobs[%d]: output_format must be sql or tar.gz", i)
		}
	}

	return nil
}

func (c *Config) GetEnabledArchiveTargets() []ArchiveTarget {
	var enabled []ArchiveTarget
	for _, target := range c.Archive.Targets {
		if target.Enabled {
			enabled = append(enabled, target)
		}
	}
	return enabled
}
