// Package parser turns staged invoice files into ordered text segments.
package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/tagihan/internal/fileid"
	"github.com/hyperjump/tagihan/internal/models"
	"github.com/hyperjump/tagihan/pkg/utils"
)

var (
	// ErrUnsupported is returned for file types the parser cannot handle.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrEmpty is returned when a document yields no text.
	ErrEmpty = errors.New("document has no extractable text")
	// ErrUnreadable is returned when a file is corrupt or cannot be decoded.
	ErrUnreadable = errors.New("document could not be read")
	// ErrTranscription is returned when the transcription service fails.
	ErrTranscription = errors.New("transcription failed")
)

// SupportedExtensions lists the accepted file extensions (lowercase, without the dot).
var SupportedExtensions = []string{"pdf", "jpeg", "jpg", "png"}

var mimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
}

// Transcriber reads the text out of an image or a scanned PDF.
type Transcriber interface {
	Transcribe(ctx context.Context, mimeType string, data []byte) (string, error)
}

// Parser extracts segments from PDFs and images.
type Parser struct {
	ids         fileid.Assigner
	transcriber Transcriber
	logger      *zap.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithTranscriber enables image and scanned-PDF support.
func WithTranscriber(t Transcriber) Option {
	return func(p *Parser) { p.transcriber = t }
}

// WithAssigner sets how segment ids are chosen. Defaults to random uuids.
func WithAssigner(a fileid.Assigner) Option {
	return func(p *Parser) { p.ids = a }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// New returns a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{ids: fileid.Random{}}
	for _, o := range opts {
		o(p)
	}
	p.logger = utils.OrNop(p.logger)
	return p
}

// Supported reports whether path has one of the SupportedExtensions.
func Supported(path string) bool {
	_, ok := mimeTypes[extension(path)]
	return ok
}

// Parse reads the file at path and returns its non-blank segments in page order.
func (p *Parser) Parse(ctx context.Context, path string) ([]*models.Segment, error) {
	ext := extension(path)
	mimeType, ok := mimeTypes[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, filepath.Ext(path))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(content) == 0 {
		return nil, ErrEmpty
	}

	var pages []string
	if ext == "pdf" {
		pages, err = extractPDF(content)
		if err != nil {
			return nil, err
		}
		if !hasText(pages) && p.transcriber != nil {
			p.logger.Debug("pdf has no text layer, transcribing", zap.String("file", filepath.Base(path)))
			pages, err = p.transcribe(ctx, mimeType, content)
		}
	} else {
		if p.transcriber == nil {
			return nil, fmt.Errorf("%w: image %q needs a transcriber", ErrUnsupported, filepath.Base(path))
		}
		pages, err = p.transcribe(ctx, mimeType, content)
	}
	if err != nil {
		return nil, err
	}

	segments := p.segments(content, pages, filepath.Base(path), ext)
	if len(segments) == 0 {
		return nil, ErrEmpty
	}
	return segments, nil
}

func (p *Parser) transcribe(ctx context.Context, mimeType string, content []byte) ([]string, error) {
	text, err := p.transcriber.Transcribe(ctx, mimeType, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	return []string{text}, nil
}

// segments builds one segment per page that carries text. Page numbers stay those of the source.
func (p *Parser) segments(content []byte, pages []string, fileName, ext string) []*models.Segment {
	var out []*models.Segment
	for i, text := range pages {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		page := i + 1
		out = append(out, &models.Segment{
			ID:   p.ids.SegmentID(content, page),
			Page: page,
			Text: text,
			Metadata: map[string]string{
				"file_name":  fileName,
				"file_type":  ext,
				"page_label": strconv.Itoa(page),
			},
		})
	}
	return out
}

func hasText(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}

func extension(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
