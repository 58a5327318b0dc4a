package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
  request_timeout: 30s
database:
  path: "test.db"
llm:
  project_id: "acme-invoices"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("request_timeout = %v, want 30s", cfg.Server.RequestTimeout)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("driver should default to sqlite3, got %q", cfg.Database.Driver)
	}
	if cfg.LLM.ProjectID != "acme-invoices" {
		t.Errorf("project_id = %q", cfg.LLM.ProjectID)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  staging_dir: "./tmp/uploads"
  index_dir: "./data/indices"
database:
  path: "./data/db/invoices.db"
inbox:
  directory: "./inbox"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "db", "invoices.db"); cfg.Database.Path != want {
		t.Errorf("database.path = %s, want %s", cfg.Database.Path, want)
	}
	if want := filepath.Join(dir, "tmp", "uploads"); cfg.Storage.StagingDir != want {
		t.Errorf("staging_dir = %s, want %s", cfg.Storage.StagingDir, want)
	}
	if want := filepath.Join(dir, "inbox"); cfg.Inbox.Directory != want {
		t.Errorf("inbox.directory = %s, want %s", cfg.Inbox.Directory, want)
	}
	if cfg.Inbox.Role != "buyer" {
		t.Errorf("inbox.role should default to buyer, got %q", cfg.Inbox.Role)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Port != 8000 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.LLM.Model != "gemini-1.5-flash" {
		t.Errorf("default model: got %s", cfg.LLM.Model)
	}
	if cfg.Retention.MaxAge != 7*24*time.Hour {
		t.Errorf("default retention: got %v", cfg.Retention.MaxAge)
	}
	if cfg.Index.KeywordWeight+cfg.Index.SemanticWeight != 1.0 {
		t.Errorf("weights should sum to 1, got %f + %f", cfg.Index.KeywordWeight, cfg.Index.SemanticWeight)
	}
	if len(cfg.Server.CORSAllowedOrigins) != 1 || cfg.Server.CORSAllowedOrigins[0] != "*" {
		t.Errorf("cors origins: got %v", cfg.Server.CORSAllowedOrigins)
	}
}

func TestApplyDefaults_postgres(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: DriverPostgres, Host: "db", Name: "invoices", User: "u", Password: "p"}}
	ApplyDefaults(cfg)
	if cfg.Database.Port != 5432 || cfg.Database.SSLMode != "disable" {
		t.Errorf("postgres defaults: %+v", cfg.Database)
	}
	if cfg.Database.Path != "" {
		t.Errorf("postgres should not get a sqlite path, got %q", cfg.Database.Path)
	}
	want := "postgres://u:p@db:5432/invoices?sslmode=disable"
	if got := cfg.Database.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	t.Run("defaults_are_valid", func(t *testing.T) {
		cfg := Default(t.TempDir())
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() = %v", err)
		}
	})
	t.Run("unknown_driver", func(t *testing.T) {
		cfg := Default(t.TempDir())
		cfg.Database.Driver = "mysql"
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "unknown database driver") {
			t.Errorf("Validate() = %v", err)
		}
	})
	t.Run("overlap_not_smaller_than_size", func(t *testing.T) {
		cfg := Default(t.TempDir())
		cfg.Index.ChunkOverlap = cfg.Index.ChunkSize
		if err := cfg.Validate(); err == nil {
			t.Error("expected overlap error")
		}
	})
	t.Run("bad_inbox_role", func(t *testing.T) {
		cfg := Default(t.TempDir())
		cfg.Inbox.Directory = "/tmp/inbox"
		cfg.Inbox.Role = "admin"
		if err := cfg.Validate(); err == nil {
			t.Error("expected inbox role error")
		}
	})
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "GOOGLE_CLOUD_PROJECT=from-dotenv\nINVOICE_DB_DRIVER=pgx\nINVOICE_DB_HOST=db.internal\nINVOICE_DB_NAME=invoices\n"
	if err := os.WriteFile(envFile, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables already present in the environment.
	t.Setenv("INVOICE_DB_PORT", "6543")
	t.Setenv("INVOICE_DB_HOST", "db.explicit")
	t.Setenv("TAGIHAN_DEBUG", "true")
	for _, k := range []string{"GOOGLE_CLOUD_PROJECT", "INVOICE_DB_DRIVER", "INVOICE_DB_NAME"} {
		t.Setenv(k, "") // restores the original value after the test
		_ = os.Unsetenv(k)
	}

	cfg := Default(dir)
	if err := LoadEnv(cfg, envFile); err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("driver = %q, want pgx", cfg.Database.Driver)
	}
	if cfg.Database.Host != "db.explicit" {
		t.Errorf("host = %q, want db.explicit", cfg.Database.Host)
	}
	if cfg.Database.Port != 6543 {
		t.Errorf("port = %d, want 6543", cfg.Database.Port)
	}
	if cfg.LLM.ProjectID != "from-dotenv" {
		t.Errorf("project = %q, want from-dotenv", cfg.LLM.ProjectID)
	}
	if !cfg.Debug {
		t.Error("TAGIHAN_DEBUG=true should enable debug")
	}
}

func TestLoadEnv_missingEnvFileIgnored(t *testing.T) {
	cfg := Default(t.TempDir())
	if err := LoadEnv(cfg, filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:   ServerConfig{Host: "localhost", Port: 9090},
		Database: DatabaseConfig{Driver: DriverSQLite, Path: "/tmp/invoices.db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Database.Path != "/tmp/invoices.db" {
		t.Errorf("loaded database path: got %s", loaded.Database.Path)
	}
}
