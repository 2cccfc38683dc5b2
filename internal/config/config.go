package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every runtime setting of the daemon and the admin CLI.
// Keys map 1:1 to upper-case environment variables (OLLAMA_URL, DB_DRIVER, ...).
type Config struct {
	Port       string `mapstructure:"port"`
	GinMode    string `mapstructure:"gin_mode"`
	CORSOrigin string `mapstructure:"cors_origin"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	DBDriver   string `mapstructure:"db_driver"`
	DBHost     string `mapstructure:"db_host"`
	DBPort     string `mapstructure:"db_port"`
	DBUser     string `mapstructure:"db_user"`
	DBPassword string `mapstructure:"db_password"`
	DBName     string `mapstructure:"db_name"`
	DBSSLMode  string `mapstructure:"db_sslmode"`
	SQLitePath string `mapstructure:"sqlite_path"`

	OllamaURL        string        `mapstructure:"ollama_url"`
	OllamaModel      string        `mapstructure:"ollama_model"`
	OllamaEmbedModel string        `mapstructure:"ollama_embed_model"`
	EmbedTimeout     time.Duration `mapstructure:"embed_timeout"`
	GenerateTimeout  time.Duration `mapstructure:"generate_timeout"`

	VectorBackend    string `mapstructure:"vector_backend"`
	QdrantHost       string `mapstructure:"qdrant_host"`
	QdrantPort       int    `mapstructure:"qdrant_port"` // gRPC port
	QdrantUseTLS     bool   `mapstructure:"qdrant_use_tls"`
	QdrantAPIKey     string `mapstructure:"qdrant_api_key"`
	QdrantCollection string `mapstructure:"qdrant_collection"`
	EmbedDimension   int    `mapstructure:"embed_dimension"`
	ContextLimit     int    `mapstructure:"context_limit"`

	DockerEnabled bool   `mapstructure:"docker_enabled"`
	DockerHost    string `mapstructure:"docker_host"`

	// ProxmoxSnapshotFile is a YAML/JSON inventory of nodes and VMs; empty disables Proxmox.
	ProxmoxSnapshotFile string `mapstructure:"proxmox_snapshot_file"`

	KnowledgeDir string `mapstructure:"knowledge_dir"`

	FactInterval        time.Duration `mapstructure:"fact_interval"`
	DetectInterval      time.Duration `mapstructure:"detect_interval"`
	DetectWindow        time.Duration `mapstructure:"detect_window"`
	LogCollectInterval  time.Duration `mapstructure:"log_collect_interval"`
	LogCompressInterval time.Duration `mapstructure:"log_compress_interval"`
	LogRetention        time.Duration `mapstructure:"log_retention"`
	SummaryRetention    time.Duration `mapstructure:"summary_retention"`
	SummaryMaxLines     int           `mapstructure:"summary_max_lines"`
}

var defaults = map[string]interface{}{
	"port":        "8080",
	"gin_mode":    "debug",
	"cors_origin": "http://localhost:5173",

	"log_level": "INFO",
	"log_file":  "logs/labsage.log",

	"db_driver":   "postgres",
	"db_host":     "localhost",
	"db_port":     "5432",
	"db_user":     "labsage",
	"db_password": "",
	"db_name":     "labsage",
	"db_sslmode":  "disable",
	"sqlite_path": "data/labsage.db",

	"ollama_url":         "http://localhost:11434",
	"ollama_model":       "llama3.1:8b",
	"ollama_embed_model": "nomic-embed-text",
	"embed_timeout":      "30s",
	"generate_timeout":   "120s",

	"vector_backend":    "qdrant",
	"qdrant_host":       "localhost",
	"qdrant_port":       6334,
	"qdrant_use_tls":    false,
	"qdrant_api_key":    "",
	"qdrant_collection": "labsage_memory",
	"embed_dimension":   768,
	"context_limit":     3,

	"docker_enabled": true,
	"docker_host":    "unix:///var/run/docker.sock",

	"proxmox_snapshot_file": "",

	"knowledge_dir": "knowledge",

	"fact_interval":         "60s",
	"detect_interval":       "60s",
	"detect_window":         "10m",
	"log_collect_interval":  "30s",
	"log_compress_interval": "1h",
	"log_retention":         "2160h",
	"summary_retention":     "8760h",
	"summary_max_lines":     1000,
}

// Loader reads configuration from .env, an optional YAML file and the environment.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a viper instance with defaults. configFile may be empty.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
	}
	return &Loader{v: v}
}

// Load resolves the configuration. A missing .env or config file is not an error.
func (l *Loader) Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	if l.v.ConfigFileUsed() != "" {
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls onChange with the re-read configuration whenever the config file
// changes. Invalid revisions are ignored.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg Config
		if err := l.v.Unmarshal(&cfg); err != nil {
			return
		}
		if cfg.Validate() != nil {
			return
		}
		onChange(&cfg)
	})
	l.v.WatchConfig()
}

// Load is a shortcut for NewLoader(os.Getenv("CONFIG_FILE")).Load().
func Load() (*Config, error) {
	return NewLoader(os.Getenv("CONFIG_FILE")).Load()
}

// Validate checks the settings that would otherwise fail deep inside a cycle.
func (c *Config) Validate() error {
	var errs []string

	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("db_driver must be postgres or sqlite, got %q", c.DBDriver))
	}
	switch c.VectorBackend {
	case "qdrant", "database", "memory":
	default:
		errs = append(errs, fmt.Sprintf("vector_backend must be qdrant, database or memory, got %q", c.VectorBackend))
	}
	if c.VectorBackend == "qdrant" && (c.QdrantPort <= 0 || c.QdrantPort > 65535) {
		errs = append(errs, fmt.Sprintf("qdrant_port must be a valid port, got %d", c.QdrantPort))
	}
	if c.EmbedDimension <= 0 {
		errs = append(errs, "embed_dimension must be positive")
	}
	if c.SummaryMaxLines <= 0 {
		errs = append(errs, "summary_max_lines must be positive")
	}

	durations := map[string]time.Duration{
		"fact_interval":         c.FactInterval,
		"detect_interval":       c.DetectInterval,
		"detect_window":         c.DetectWindow,
		"log_collect_interval":  c.LogCollectInterval,
		"log_compress_interval": c.LogCompressInterval,
		"log_retention":         c.LogRetention,
		"summary_retention":     c.SummaryRetention,
		"embed_timeout":         c.EmbedTimeout,
		"generate_timeout":      c.GenerateTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be a positive duration", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// PostgresDSN builds the DSN in the key=value form the pgx driver accepts.
func (c *Config) PostgresDSN() string {
	return c.postgresDSN(c.DBName)
}

// MaintenanceDSN points at the built-in "postgres" database, used to create DBName.
func (c *Config) MaintenanceDSN() string {
	return c.postgresDSN("postgres")
}

func (c *Config) postgresDSN(dbName string) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, dbName, c.DBPort, c.DBSSLMode)
}
