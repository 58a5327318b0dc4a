package invoice

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tagihan/internal/indexer"
	"github.com/hyperjump/tagihan/internal/llm"
	"github.com/hyperjump/tagihan/internal/models"
	"github.com/hyperjump/tagihan/internal/parser"
	"github.com/hyperjump/tagihan/internal/staging"
	"github.com/hyperjump/tagihan/pkg/utils"
)

//go:generate mockgen -source=service.go -destination=mock_deps_test.go -package=invoice

// Stager writes uploads to the staging area and removes them again.
type Stager interface {
	Stage(r io.Reader, filename string) (string, error)
	Remove(path string) error
}

// Parser turns a staged file into page segments.
type Parser interface {
	Parse(ctx context.Context, path string) ([]*models.Segment, error)
}

// IndexBuilder builds and discards per-document indexes.
type IndexBuilder interface {
	Build(ctx context.Context, segments []*models.Segment, source string) (string, error)
	Delete(docID string) error
}

// QueryEngine answers a prompt against one document index.
type QueryEngine interface {
	Query(ctx context.Context, docID, prompt string) (string, error)
}

// Repository persists extracted invoices.
type Repository interface {
	Create(ctx context.Context, inv *models.Invoice) error
}

// Upload is an incoming invoice file.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Service runs the invoice pipeline.
type Service struct {
	stager Stager
	parser Parser
	index  IndexBuilder
	engine QueryEngine
	repo   Repository
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the clock used for the extraction date and CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the pipeline service.
func NewService(stager Stager, p Parser, index IndexBuilder, engine QueryEngine, repo Repository, opts ...Option) *Service {
	s := &Service{
		stager: stager,
		parser: p,
		index:  index,
		engine: engine,
		repo:   repo,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// ProcessInvoice stages the upload, indexes it, extracts the invoice fields for role and stores
// the result. The role is checked before anything touches the filesystem. The staged file is
// removed however processing ends, and an index built by this call is discarded when a later step
// fails. Errors are *StageError values matching one of the package error kinds.
func (s *Service) ProcessInvoice(ctx context.Context, upload Upload, role string) (*models.Invoice, error) {
	r, err := models.ParseRole(role)
	if err != nil {
		return nil, fail(StageValidate, ErrInvalidUserType, err)
	}
	start := time.Now()
	log := s.logger.With(zap.String("file", upload.Filename), zap.String("role", string(r)))

	path, err := s.stager.Stage(upload.Body, upload.Filename)
	if err != nil {
		kind := ErrPersistence
		if errors.Is(err, staging.ErrInvalidFilename) {
			kind = ErrEmptyOrUnsupportedDocument
		}
		return nil, s.failed(log, fail(StageStage, kind, err))
	}
	defer func() {
		if err := s.stager.Remove(path); err != nil {
			log.Warn("failed to remove staged file", zap.String("path", path), zap.Error(err))
		}
	}()
	stageDone(log, StageStage, start)

	segments, err := s.parser.Parse(ctx, path)
	if err != nil {
		kind := ErrEmptyOrUnsupportedDocument
		if errors.Is(err, parser.ErrTranscription) {
			kind = ErrExtractionUnavailable
		}
		return nil, s.failed(log, fail(StageParse, kind, err))
	}
	if len(segments) == 0 {
		return nil, s.failed(log, fail(StageParse, ErrEmptyOrUnsupportedDocument, parser.ErrEmpty))
	}
	stageDone(log, StageParse, start, zap.Int("segments", len(segments)))

	source, err := staging.SanitizeFilename(upload.Filename)
	if err != nil {
		source = upload.Filename
	}
	docID, err := s.index.Build(ctx, segments, source)
	if err != nil {
		return nil, s.failed(log, fail(StageIndex, indexErrorKind(err), err))
	}
	log = log.With(zap.String("doc_id", docID))
	stageDone(log, StageIndex, start)

	inv, serr := s.extract(ctx, docID, r, log, start)
	if serr == nil {
		inv.SourceFile = source
		if err := s.repo.Create(ctx, inv); err != nil {
			serr = fail(StagePersist, ErrPersistence, err)
		}
	}
	if serr != nil {
		if err := s.index.Delete(docID); err != nil {
			log.Warn("failed to discard index", zap.Error(err))
		}
		return nil, s.failed(log, serr)
	}
	stageDone(log, StagePersist, start)

	log.Info("invoice processed", zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return inv, nil
}

func (s *Service) extract(ctx context.Context, docID string, role models.Role, log *zap.Logger, start time.Time) (*models.Invoice, *StageError) {
	now := s.now()
	raw, err := s.engine.Query(ctx, docID, llm.ExtractionPrompt(now.Format(llm.DateLayout), role))
	if err != nil {
		return nil, fail(StageExtract, ErrExtractionUnavailable, err)
	}
	stageDone(log, StageExtract, start)

	fields, err := CleanJSONResponse(raw)
	if err != nil {
		log.Debug("unparseable model response", zap.String("response", utils.Truncate(raw, 200)))
		return nil, fail(StageNormalize, ErrMalformedLLMResponse, err)
	}
	inv := Normalize(fields, log)
	inv.DocumentID = docID
	inv.UserType = role
	inv.CreatedAt = now.UTC()
	stageDone(log, StageNormalize, start)
	return inv, nil
}

func (s *Service) failed(log *zap.Logger, err *StageError) error {
	log.Error("invoice processing failed", zap.String("stage", string(err.Stage)), zap.Error(err))
	return err
}

func stageDone(log *zap.Logger, stage Stage, start time.Time, fields ...zap.Field) {
	fields = append(fields,
		zap.String("stage", string(stage)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	log.Debug("invoice stage", fields...)
}

func indexErrorKind(err error) error {
	switch {
	case errors.Is(err, indexer.ErrNoSegments):
		return ErrEmptyOrUnsupportedDocument
	case errors.Is(err, indexer.ErrExists):
		return ErrPersistence
	default:
		return ErrExtractionUnavailable
	}
}
