// Package keyword provides keyword (BM25) search over the chunks of one document.
package keyword

import (
	"context"

	"github.com/hyperjump/tagihan/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// PhraseBoost multiplies the score of chunks where the query terms appear together (e.g. 1.5).
	// Use 1.0 for no boost.
	PhraseBoost float64
	// Fuzziness is the maximum Levenshtein edit distance per term (0 disables fuzzy matching).
	// OCR output often misreads a character or two, so 1 is a useful setting for scanned invoices.
	Fuzziness int
}

// KeywordIndex defines keyword search operations.
type KeywordIndex interface {
	IndexChunks(ctx context.Context, chunks []*models.Chunk) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit. ID is the chunk ID.
type KeywordResult struct {
	ID    string
	Score float64
}
