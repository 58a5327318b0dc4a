// Package indexer builds, persists and reloads the per-document indexes used for retrieval.
//
// Each document lives in its own directory under the index root:
//
//	<root>/<document id>/manifest.json   chunk texts and metadata
//	<root>/<document id>/vectors.bin     chunk embeddings
//	<root>/<document id>/keyword/        Bleve index over chunk texts
//
// An index is written once into a temporary directory and renamed into place, so readers never see
// a partially built index and an existing index is never overwritten.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/tagihan/internal/embedding"
	"github.com/hyperjump/tagihan/internal/keyword"
	"github.com/hyperjump/tagihan/internal/models"
	"github.com/hyperjump/tagihan/internal/vector"
	"github.com/hyperjump/tagihan/pkg/utils"
)

var (
	// ErrNotFound is returned when no usable index exists for a document id.
	ErrNotFound = errors.New("document index not found")
	// ErrExists is returned when building an index for an id that already has one.
	ErrExists = errors.New("document index already exists")
	// ErrNoSegments is returned when Build is given nothing to index.
	ErrNoSegments = errors.New("no segments to index")
)

const (
	manifestFile = "manifest.json"
	vectorsFile  = "vectors.bin"
	keywordDir   = "keyword"
	buildPrefix  = ".build-"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidID reports whether id can name a document index.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// Indexer builds and loads document indexes under one root directory.
type Indexer struct {
	root     string
	embedder embedding.Embedder
	chunker  *Chunker
	now      func() time.Time
	logger   *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithClock overrides the time source used for manifest timestamps.
func WithClock(now func() time.Time) IndexerOption {
	return func(idx *Indexer) { idx.now = now }
}

// NewIndexer creates an indexer storing indexes under root.
func NewIndexer(root string, embedder embedding.Embedder, chunkSize, chunkOverlap int, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		root:     root,
		embedder: embedder,
		chunker:  NewChunker(chunkSize, chunkOverlap),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// Root returns the index root directory.
func (idx *Indexer) Root() string {
	return idx.root
}

// Build indexes the segments of one document and returns its id, which is the id of the first
// segment. source is recorded in the manifest for reference only.
func (idx *Indexer) Build(ctx context.Context, segments []*models.Segment, source string) (string, error) {
	if len(segments) == 0 {
		return "", ErrNoSegments
	}
	docID := segments[0].ID
	if !ValidID(docID) {
		return "", fmt.Errorf("invalid document id %q", docID)
	}
	if idx.Exists(docID) {
		return "", fmt.Errorf("%w: %s", ErrExists, docID)
	}
	start := time.Now()

	chunks := idx.chunker.ChunkAll(segments)
	if len(chunks) == 0 {
		return "", ErrNoSegments
	}
	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
		ids[i] = ch.ID
	}
	embeddings, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return "", fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if err := os.MkdirAll(idx.root, 0755); err != nil {
		return "", fmt.Errorf("create index root: %w", err)
	}
	tmp := filepath.Join(idx.root, buildPrefix+uuid.New().String())
	if err := os.Mkdir(tmp, 0755); err != nil {
		return "", fmt.Errorf("create build dir: %w", err)
	}
	defer os.RemoveAll(tmp) // no-op after a successful rename

	vecIndex, err := vector.NewMemoryIndex(idx.embedder.Dimensions())
	if err != nil {
		return "", err
	}
	if err := vecIndex.Add(ctx, ids, embeddings); err != nil {
		return "", fmt.Errorf("failed to index vectors: %w", err)
	}
	if err := vecIndex.Save(filepath.Join(tmp, vectorsFile)); err != nil {
		return "", fmt.Errorf("failed to save vectors: %w", err)
	}

	kw, err := keyword.NewBleveIndex(filepath.Join(tmp, keywordDir))
	if err != nil {
		return "", err
	}
	if err := kw.IndexChunks(ctx, chunks); err != nil {
		_ = kw.Close()
		return "", fmt.Errorf("failed to index keywords: %w", err)
	}
	if err := kw.Close(); err != nil {
		return "", fmt.Errorf("close keyword index: %w", err)
	}

	manifest := &models.IndexManifest{
		DocumentID: docID,
		SourceFile: source,
		CreatedAt:  idx.now().UTC(),
		Dimensions: idx.embedder.Dimensions(),
		Segments:   len(segments),
		Chunks:     chunks,
	}
	if err := writeManifest(filepath.Join(tmp, manifestFile), manifest); err != nil {
		return "", err
	}

	if err := os.Rename(tmp, idx.dir(docID)); err != nil {
		if idx.Exists(docID) {
			return "", fmt.Errorf("%w: %s", ErrExists, docID)
		}
		return "", fmt.Errorf("publish index: %w", err)
	}
	idx.logger.Debug("document indexed",
		zap.String("doc_id", docID),
		zap.Int("segments", len(segments)),
		zap.Int("chunks", len(chunks)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return docID, nil
}

// Load opens the stored index of docID. Unknown, malformed or empty indexes are ErrNotFound.
// The caller must Close the returned index.
func (idx *Indexer) Load(ctx context.Context, docID string) (*DocumentIndex, error) {
	if !ValidID(docID) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, docID)
	}
	dir := idx.dir(docID)
	manifest, err := readManifest(filepath.Join(dir, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, docID)
		}
		return nil, err
	}
	if len(manifest.Chunks) == 0 {
		return nil, fmt.Errorf("%w: %s has no chunks", ErrNotFound, docID)
	}

	vecIndex, err := vector.NewMemoryIndex(manifest.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, docID, err)
	}
	if err := vecIndex.Load(filepath.Join(dir, vectorsFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no vectors", ErrNotFound, docID)
		}
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	kwPath := filepath.Join(dir, keywordDir)
	if _, err := os.Stat(kwPath); err != nil {
		return nil, fmt.Errorf("%w: %s has no keyword index", ErrNotFound, docID)
	}
	kw, err := keyword.OpenBleveIndex(kwPath)
	if err != nil {
		return nil, err
	}
	return newDocumentIndex(manifest, vecIndex, kw), nil
}

// Exists reports whether a published index directory exists for docID.
func (idx *Indexer) Exists(docID string) bool {
	if !ValidID(docID) {
		return false
	}
	info, err := os.Stat(idx.dir(docID))
	return err == nil && info.IsDir()
}

// Delete removes the index of docID. Deleting a missing index is not an error.
func (idx *Indexer) Delete(docID string) error {
	if !ValidID(docID) {
		return fmt.Errorf("%w: %q", ErrNotFound, docID)
	}
	if err := os.RemoveAll(idx.dir(docID)); err != nil {
		return fmt.Errorf("delete index %s: %w", docID, err)
	}
	idx.logger.Debug("document index deleted", zap.String("doc_id", docID))
	return nil
}

// List returns the manifests of all published indexes, oldest first. Directories without a
// readable manifest are skipped.
func (idx *Indexer) List() ([]*models.IndexManifest, error) {
	entries, err := os.ReadDir(idx.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index root: %w", err)
	}
	var out []*models.IndexManifest
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || !ValidID(e.Name()) {
			continue
		}
		m, err := readManifest(filepath.Join(idx.root, e.Name(), manifestFile))
		if err != nil {
			idx.logger.Debug("skipping index without manifest", zap.String("dir", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Expired returns the ids of indexes created before cutoff.
func (idx *Indexer) Expired(cutoff time.Time) ([]string, error) {
	manifests, err := idx.List()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range manifests {
		if m.CreatedAt.Before(cutoff) {
			ids = append(ids, m.DocumentID)
		}
	}
	return ids, nil
}

// Search embeds query and returns the k nearest chunks of doc.
func (idx *Indexer) Search(ctx context.Context, doc *DocumentIndex, query string, k int) ([]*vector.VectorResult, error) {
	emb, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return doc.Vectors.Search(ctx, emb, k)
}

func (idx *Indexer) dir(docID string) string {
	return filepath.Join(idx.root, docID)
}

func writeManifest(path string, m *models.IndexManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func readManifest(path string) (*models.IndexManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m models.IndexManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}
