// Package config provides configuration loading and structs for the tagihan server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Retention RetentionConfig `yaml:"retention"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	MaxUploadMB        int64         `yaml:"max_upload_mb"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
}

// StorageConfig holds filesystem locations for staged uploads and document indexes.
type StorageConfig struct {
	StagingDir string `yaml:"staging_dir"`
	IndexDir   string `yaml:"index_dir"`
}

// DatabaseConfig selects the relational store. Driver "sqlite3" uses Path; driver "pgx" uses the
// host/port/user/password/name parameters.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	Path         string `yaml:"path"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// DSN returns the connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == DriverPostgres {
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
	}
	return d.Path
}

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// LLMConfig holds Vertex AI Gemini settings.
type LLMConfig struct {
	ProjectID       string        `yaml:"project_id"`
	Region          string        `yaml:"region"`
	Model           string        `yaml:"model"`
	CredentialsFile string        `yaml:"credentials_file"`
	Temperature     float32       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
}

// EmbeddingConfig holds ONNX embedder settings.
type EmbeddingConfig struct {
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// IndexConfig holds chunking and retrieval settings for document indexes.
type IndexConfig struct {
	ChunkSize      int     `yaml:"chunk_size"`
	ChunkOverlap   int     `yaml:"chunk_overlap"`
	TopK           int     `yaml:"top_k"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	// ContentAddressedIDs derives segment ids from file content instead of random uuids, so
	// re-uploading the same file yields the same document id.
	ContentAddressedIDs bool `yaml:"content_addressed_ids"`
}

// RetentionConfig controls expiry of invoices and their indexes.
type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled"`
	MaxAge   time.Duration `yaml:"max_age"`
	Interval time.Duration `yaml:"interval"`
}

// InboxConfig configures the watched drop directory. Empty Directory disables it.
type InboxConfig struct {
	Directory        string `yaml:"directory"`
	Role             string `yaml:"role"`
	ArchiveDirectory string `yaml:"archive_directory"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	cfg.expandPaths(filepath.Dir(path))
	return &cfg, nil
}

// Default returns a config with every default applied, relative paths resolved against dir.
func Default(dir string) *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.expandPaths(dir)
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports configuration values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite3"))
		}
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("database.host and database.name are required for pgx"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q (supported: sqlite3, pgx)", c.Database.Driver))
	}
	if c.Index.ChunkSize <= 0 {
		errs = append(errs, errors.New("index.chunk_size must be positive"))
	}
	if c.Index.ChunkOverlap >= c.Index.ChunkSize {
		errs = append(errs, errors.New("index.chunk_overlap must be smaller than index.chunk_size"))
	}
	if c.Inbox.Directory != "" && c.Inbox.Role != "vendor" && c.Inbox.Role != "buyer" {
		errs = append(errs, fmt.Errorf("inbox.role must be vendor or buyer, got %q", c.Inbox.Role))
	}
	return errors.Join(errs...)
}

func (c *Config) expandPaths(configDir string) {
	c.Storage.StagingDir = expandPath(c.Storage.StagingDir, configDir)
	c.Storage.IndexDir = expandPath(c.Storage.IndexDir, configDir)
	c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	if c.Database.Driver == DriverSQLite {
		c.Database.Path = expandPath(c.Database.Path, configDir)
	}
	if c.Inbox.Directory != "" {
		c.Inbox.Directory = expandPath(c.Inbox.Directory, configDir)
	}
	if c.Inbox.ArchiveDirectory != "" {
		c.Inbox.ArchiveDirectory = expandPath(c.Inbox.ArchiveDirectory, configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
