// Package server provides the HTTP API for invoice upload, chat and invoice listing.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/tagihan/internal/config"
	"github.com/hyperjump/tagihan/internal/invoice"
	"github.com/hyperjump/tagihan/internal/models"
	"github.com/hyperjump/tagihan/pkg/utils"
)

// InvoiceProcessor runs an upload through the invoice pipeline.
type InvoiceProcessor interface {
	ProcessInvoice(ctx context.Context, upload invoice.Upload, role string) (*models.Invoice, error)
}

// ChatAnswerer answers questions about a processed invoice.
type ChatAnswerer interface {
	Answer(ctx context.Context, docID, question string) (string, error)
}

// InvoiceStore reads stored invoices.
type InvoiceStore interface {
	Get(ctx context.Context, docID string) (*models.Invoice, error)
	List(ctx context.Context, offset, limit int) ([]*models.Invoice, error)
	Count(ctx context.Context) (int64, error)
}

// IndexStats reports on the document index store.
type IndexStats interface {
	List() ([]*models.IndexManifest, error)
	DiskUsage() (int64, error)
}

// Server is the HTTP server for the invoice API.
type Server struct {
	processor InvoiceProcessor
	chat      ChatAnswerer
	invoices  InvoiceStore
	indexes   IndexStats
	config    *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	processor InvoiceProcessor,
	chat ChatAnswerer,
	invoices InvoiceStore,
	indexes IndexStats,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		processor: processor,
		chat:      chat,
		invoices:  invoices,
		indexes:   indexes,
		config:    cfg,
		logger:    utils.OrNop(logger),
	}
}

// Handler returns the router with all middleware and routes.
func (s *Server) Handler() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	origins := s.config.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Timeout(timeout))

	r.Post("/upload", s.handleUpload)
	r.Post("/ask_chat", s.handleAskChat)
	r.Get("/invoices", s.handleListInvoices)
	r.Get("/invoices/export", s.handleExportInvoices)
	r.Get("/invoices/{id}", s.handleGetInvoice)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
