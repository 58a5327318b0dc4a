package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 120 * time.Second
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 20
	}
	if cfg.Server.CORSAllowedOrigins == nil {
		cfg.Server.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Storage.StagingDir == "" {
		cfg.Storage.StagingDir = "./data/temp_uploads"
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = "./data/indices"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.Driver == DriverSQLite && cfg.Database.Path == "" {
		cfg.Database.Path = "./data/db/invoices.db"
	}
	if cfg.Database.Driver == DriverPostgres {
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.LLM.Region == "" {
		cfg.LLM.Region = "us-central1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gemini-1.5-flash"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "./data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Index.ChunkSize == 0 {
		cfg.Index.ChunkSize = 256
	}
	if cfg.Index.ChunkOverlap == 0 {
		cfg.Index.ChunkOverlap = 32
	}
	if cfg.Index.TopK == 0 {
		cfg.Index.TopK = 4
	}
	if cfg.Index.KeywordWeight == 0 && cfg.Index.SemanticWeight == 0 {
		cfg.Index.KeywordWeight = 0.3
		cfg.Index.SemanticWeight = 0.7
	}
	if cfg.Retention.MaxAge == 0 {
		cfg.Retention.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.Retention.Interval == 0 {
		cfg.Retention.Interval = time.Hour
	}
	if cfg.Inbox.Directory != "" && cfg.Inbox.Role == "" {
		cfg.Inbox.Role = "buyer"
	}
}
