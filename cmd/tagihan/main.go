// Package main is the Tagihan CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/tagihan/internal/cli"
	"github.com/hyperjump/tagihan/internal/config"
	"github.com/hyperjump/tagihan/internal/embedding"
	"github.com/hyperjump/tagihan/internal/export"
	"github.com/hyperjump/tagihan/internal/fileid"
	"github.com/hyperjump/tagihan/internal/indexer"
	"github.com/hyperjump/tagihan/internal/invoice"
	"github.com/hyperjump/tagihan/internal/llm"
	"github.com/hyperjump/tagihan/internal/parser"
	"github.com/hyperjump/tagihan/internal/repository"
	"github.com/hyperjump/tagihan/internal/retention"
	"github.com/hyperjump/tagihan/internal/search"
	"github.com/hyperjump/tagihan/internal/server"
	"github.com/hyperjump/tagihan/internal/staging"
	"github.com/hyperjump/tagihan/internal/watcher"
	"github.com/hyperjump/tagihan/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/tagihan/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists, and when neither exists the built-in defaults are used with
// relative paths resolved against the current directory. Environment overrides (and .env) are
// applied last. Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	cfg, resolved, err := loadConfigFile(path)
	if err != nil {
		return nil, "", err
	}
	if err := config.LoadEnv(cfg); err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

func loadConfigFile(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		cwd, err := os.Getwd()
		if err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) && err == nil {
			return config.Default(cwd), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "process":
		runProcess()
	case "ask":
		runAsk()
	case "list":
		runList()
	case "export":
		runExport()
	case "cleanup":
		runCleanup()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("tagihan version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads the config, builds the logger and initializes components. Any failure exits.
func setup(configPath string, debug, withModel bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(context.Background(), cfg, logger, withModel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (pipeline stages, inbox events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug, true)
	defer logger.Sync()
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inboxWatcher *watcher.Watcher
	if cfg.Inbox.Directory != "" {
		inbox := watcher.NewInbox(components.Service, cfg.Inbox.Role, cfg.Inbox.ArchiveDirectory, logger)
		inboxWatcher = watcher.NewWatcher(
			cfg.Inbox.Directory,
			parser.SupportedExtensions,
			func(path string) {
				// Failures are logged and archived by the inbox.
				_, _ = inbox.Handle(ctx, path)
			},
			watcher.WithLogger(logger),
		)
		if err := inboxWatcher.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		go inboxWatcher.SyncExistingFiles()
		logger.Info("inbox watcher started",
			zap.String("dir", inboxWatcher.Dir()),
			zap.String("role", cfg.Inbox.Role),
		)
	}

	if cfg.Retention.Enabled {
		janitor := components.janitor(cfg, logger)
		go janitor.Run(ctx)
		logger.Info("retention enabled",
			zap.Duration("max_age", cfg.Retention.MaxAge),
			zap.Duration("interval", cfg.Retention.Interval),
		)
	}

	srv := server.NewServer(
		components.Service,
		components.Gateway,
		components.Repository,
		components.Indexer,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	if inboxWatcher != nil {
		inboxWatcher.Stop()
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = srv.Stop(stopCtx)
}

func runProcess() {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	role := fs.String("role", "buyer", "who the invoice is processed for: vendor or buyer")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tagihan process [flags] <file>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	_, logger, components := setup(*configPath, *debug, true)
	defer logger.Sync()
	defer components.Close()

	inv, err := components.Service.ProcessInvoice(context.Background(), invoice.Upload{
		Filename: filepath.Base(path),
		Body:     f,
	}, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Processing failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteInvoice(os.Stdout, inv, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// buildQuestion joins all positional args with spaces so multi-word questions work the same
// with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the positional arguments to
// the front of the slice so that flag.Parse() sees them. Go's flag package stops at the first
// non-flag argument, so "tagihan ask what is due -doc abc" would otherwise leave -doc unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "", "server URL (empty = answer directly from the local index)")
	docID := fs.String("doc", "", "document id returned by process or upload")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	question := buildQuestion(fs.Args())
	if question == "" || strings.TrimSpace(*docID) == "" {
		fmt.Fprintln(os.Stderr, "Usage: tagihan ask -doc <id> <question>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var answer string
	if *serverURL != "" {
		answer, err = askViaHTTP(*serverURL, *docID, question)
	} else {
		_, logger, components := setup(*configPath, *debug, true)
		defer logger.Sync()
		defer components.Close()
		answer, err = components.Gateway.Answer(context.Background(), *docID, question)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteAnswer(os.Stdout, *docID, answer, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func askViaHTTP(serverURL, docID, question string) (string, error) {
	form := url.Values{"query": {question}, "doc_id": {docID}}
	resp, err := http.PostForm(strings.TrimRight(serverURL, "/")+"/ask_chat", form)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return body.Response, nil
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	offset := fs.Int("offset", 0, "number of invoices to skip")
	limit := fs.Int("limit", 20, "maximum number of invoices to show")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	_, logger, components := setup(*configPath, false, false)
	defer logger.Sync()
	defer components.Close()

	invoices, err := components.Repository.List(context.Background(), *offset, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteInvoices(os.Stdout, invoices, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	out := fs.String("o", "invoices.xlsx", "output spreadsheet path")
	_ = fs.Parse(os.Args[2:])

	_, logger, components := setup(*configPath, false, false)
	defer logger.Sync()
	defer components.Close()

	invoices, err := repository.ListAll(context.Background(), components.Repository)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", *out, err)
		os.Exit(1)
	}
	if err := export.WriteInvoicesXLSX(f, invoices); err != nil {
		_ = f.Close()
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %d invoices to %s\n", len(invoices), *out)
}

func runCleanup() {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	maxAge := fs.Duration("max-age", 0, "delete invoices older than this (default: retention.max_age)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, false, false)
	defer logger.Sync()
	defer components.Close()

	if *maxAge > 0 {
		cfg.Retention.MaxAge = *maxAge
	}
	res, err := components.janitor(cfg, logger).Sweep(context.Background())
	fmt.Printf("Deleted %d invoices and %d indexes\n", res.Invoices, res.Indexes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup incomplete: %v\n", err)
		os.Exit(1)
	}
}

type statusResponse struct {
	Invoices       int64  `json:"invoices"`
	Indexes        int    `json:"indexes"`
	DiskUsageBytes *int64 `json:"disk_usage_bytes,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "", "server URL (empty = read the local database and indexes)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		_, logger, components := setup(*configPath, false, false)
		defer logger.Sync()
		defer components.Close()
		count, err := components.Repository.Count(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count invoices failed: %v\n", err)
			os.Exit(1)
		}
		manifests, err := components.Indexer.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "List indexes failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{Invoices: count, Indexes: len(manifests)}
		if diskBytes, err := components.Indexer.DiskUsage(); err == nil {
			status.DiskUsageBytes = &diskBytes
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("invoices:           %d   # stored invoice records\n", status.Invoices)
		fmt.Printf("indexes:            %d   # document indexes on disk\n", status.Indexes)
		if status.DiskUsageBytes != nil {
			fmt.Printf("disk_usage_bytes:   %d   # index directory size\n", *status.DiskUsageBytes)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services. Model, Engine, Service and Gateway are nil when the
// command does not need the language model.
type Components struct {
	Repository *repository.SQLRepository
	Embedder   embedding.Embedder
	Indexer    *indexer.Indexer
	Model      *llm.Gemini
	Engine     *search.Engine
	Service    *invoice.Service
	Gateway    *invoice.Gateway
}

func (c *Components) Close() {
	if c.Repository != nil {
		_ = c.Repository.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Model != nil {
		_ = c.Model.Close()
	}
}

func (c *Components) janitor(cfg *config.Config, logger *zap.Logger) *retention.Janitor {
	return retention.NewJanitor(c.Repository, c.Indexer, cfg.Retention.MaxAge, cfg.Retention.Interval,
		retention.WithLogger(logger))
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withModel bool) (*Components, error) {
	repo, err := repository.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	c := &Components{Repository: repo}

	c.Embedder = embedding.New(embedding.Options{
		ModelPath:  cfg.Embedding.ModelPath,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	}, logger)
	c.Indexer = indexer.NewIndexer(cfg.Storage.IndexDir, c.Embedder, cfg.Index.ChunkSize, cfg.Index.ChunkOverlap,
		indexer.WithLogger(logger))

	if !withModel {
		return c, nil
	}

	model, err := llm.NewGemini(ctx, cfg.LLM, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize model: %w", err)
	}
	c.Model = model
	c.Engine = search.NewEngine(c.Indexer, model, search.Options{
		TopK:           cfg.Index.TopK,
		KeywordWeight:  cfg.Index.KeywordWeight,
		SemanticWeight: cfg.Index.SemanticWeight,
	}, logger)

	p := parser.New(
		parser.WithTranscriber(model),
		parser.WithAssigner(fileid.New(cfg.Index.ContentAddressedIDs)),
		parser.WithLogger(logger),
	)
	stager := staging.NewStager(cfg.Storage.StagingDir)
	logger.Debug("pipeline ready",
		zap.String("staging_dir", stager.Dir()),
		zap.String("index_dir", c.Indexer.Root()),
		zap.String("model", cfg.LLM.Model),
	)
	c.Service = invoice.NewService(
		stager,
		p,
		c.Indexer,
		c.Engine,
		repo,
		invoice.WithLogger(logger),
	)
	c.Gateway = invoice.NewGateway(c.Engine, logger)
	return c, nil
}

func printUsage() {
	fmt.Println(`tagihan - Invoice extraction and question answering

Usage:
  tagihan server [flags]                 Start the HTTP server (and inbox watcher when configured)
  tagihan process [flags] <file>         Extract an invoice from a PDF or image
  tagihan ask [flags] -doc <id> <text>   Ask a question about a processed document
  tagihan list [flags]                   List stored invoices, newest first
  tagihan export [flags]                 Write all invoices to an .xlsx spreadsheet
  tagihan cleanup [flags]                Delete invoices and indexes past retention
  tagihan status [flags]                 Show invoice/index counts
  tagihan version                        Show version
  tagihan help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/tagihan/config.yaml, or ./config.yaml)

Server Flags:
  --debug            Enable debug logging (pipeline stages, inbox events, etc.)

Process Flags:
  --role string      vendor or buyer (default: buyer)
  --output string    Output format: text or json (default: text)

Ask Flags:
  --doc string       Document id
  --server string    Server URL. Empty answers directly from the local index.
  --output string    Output format: text or json (default: text)

List Flags:
  --offset int       Invoices to skip (default: 0)
  --limit int        Invoices to show (default: 20)
  --output string    Output format: text or json (default: text)

Export Flags:
  -o string          Output path (default: invoices.xlsx)

Cleanup Flags:
  --max-age duration Override retention.max_age (e.g. 72h)

Status Flags:
  --server string    Server URL. Empty reads the local database and indexes.
  --output string    Output format: text or json (default: text)

Environment:
  GOOGLE_CLOUD_PROJECT, GOOGLE_CLOUD_REGION, GOOGLE_APPLICATION_CREDENTIALS, GEMINI_MODEL
  INVOICE_DB_DRIVER (sqlite3|pgx), INVOICE_DB_PATH, INVOICE_DB_HOST, INVOICE_DB_PORT,
  INVOICE_DB_USERNAME, INVOICE_DB_PASSWORD, INVOICE_DB_NAME, INVOICE_DB_SSLMODE, TAGIHAN_DEBUG

Examples:
  tagihan server
  tagihan process --role vendor invoice.pdf
  tagihan ask -doc 3f2a... when is this invoice due
  tagihan list --output json
  tagihan export -o march.xlsx
  tagihan cleanup --max-age 72h`)
}
