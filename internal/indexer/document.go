package indexer

import (
	"errors"

	"github.com/hyperjump/tagihan/internal/keyword"
	"github.com/hyperjump/tagihan/internal/models"
	"github.com/hyperjump/tagihan/internal/vector"
)

// DocumentIndex is a loaded, read-only document index.
type DocumentIndex struct {
	Manifest *models.IndexManifest
	Vectors  vector.VectorIndex
	Keywords keyword.KeywordIndex
	byID     map[string]*models.Chunk
}

func newDocumentIndex(m *models.IndexManifest, v vector.VectorIndex, k keyword.KeywordIndex) *DocumentIndex {
	byID := make(map[string]*models.Chunk, len(m.Chunks))
	for _, c := range m.Chunks {
		byID[c.ID] = c
	}
	return &DocumentIndex{Manifest: m, Vectors: v, Keywords: k, byID: byID}
}

// ID returns the document id.
func (d *DocumentIndex) ID() string {
	return d.Manifest.DocumentID
}

// Chunks returns the chunks in document order.
func (d *DocumentIndex) Chunks() []*models.Chunk {
	return d.Manifest.Chunks
}

// Chunk looks up a chunk by id.
func (d *DocumentIndex) Chunk(id string) (*models.Chunk, bool) {
	c, ok := d.byID[id]
	return c, ok
}

// Close releases the keyword and vector indexes.
func (d *DocumentIndex) Close() error {
	return errors.Join(d.Keywords.Close(), d.Vectors.Close())
}
