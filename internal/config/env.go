package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envOverrides lists the environment variables that take precedence over the YAML file.
// Credentials are expected here rather than in the config file.
type envOverrides struct {
	Debug *bool `envconfig:"TAGIHAN_DEBUG"`

	ProjectID       string `envconfig:"GOOGLE_CLOUD_PROJECT"`
	Region          string `envconfig:"GOOGLE_CLOUD_REGION"`
	CredentialsFile string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
	Model           string `envconfig:"GEMINI_MODEL"`

	DBDriver   string `envconfig:"INVOICE_DB_DRIVER"`
	DBPath     string `envconfig:"INVOICE_DB_PATH"`
	DBHost     string `envconfig:"INVOICE_DB_HOST"`
	DBPort     int    `envconfig:"INVOICE_DB_PORT"`
	DBUser     string `envconfig:"INVOICE_DB_USERNAME"`
	DBPassword string `envconfig:"INVOICE_DB_PASSWORD"`
	DBName     string `envconfig:"INVOICE_DB_NAME"`
	DBSSLMode  string `envconfig:"INVOICE_DB_SSLMODE"`
}

// LoadEnv loads the given .env files (".env" when none are given; missing files are ignored) and
// applies environment overrides to cfg. Defaults are re-applied so a driver switch picks up its
// own defaults.
func LoadEnv(cfg *Config, envFiles ...string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}

	if env.Debug != nil {
		cfg.Debug = *env.Debug
	}
	setString(&cfg.LLM.ProjectID, env.ProjectID)
	setString(&cfg.LLM.Region, env.Region)
	setString(&cfg.LLM.CredentialsFile, env.CredentialsFile)
	setString(&cfg.LLM.Model, env.Model)

	setString(&cfg.Database.Driver, env.DBDriver)
	setString(&cfg.Database.Path, env.DBPath)
	setString(&cfg.Database.Host, env.DBHost)
	if env.DBPort != 0 {
		cfg.Database.Port = env.DBPort
	}
	setString(&cfg.Database.User, env.DBUser)
	setString(&cfg.Database.Password, env.DBPassword)
	setString(&cfg.Database.Name, env.DBName)
	setString(&cfg.Database.SSLMode, env.DBSSLMode)

	ApplyDefaults(cfg)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
