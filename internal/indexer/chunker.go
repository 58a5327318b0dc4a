package indexer

import (
	"fmt"
	"strings"

	"github.com/hyperjump/tagihan/internal/models"
)

// Chunker splits segment text into overlapping word-based chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits the segment text into chunks with overlapping windows. Chunk ids are
// "<segment id>_<n>", with n counted from start so indexes stay unique across a document.
func (c *Chunker) Chunk(seg *models.Segment, start int) []*models.Chunk {
	words := strings.Fields(Preprocess(seg.Text))
	if len(words) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = 1
	}
	chunks := make([]*models.Chunk, 0, len(words)/step+1)
	n := start
	for i := 0; i < len(words); i += step {
		end := i + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, &models.Chunk{
			ID:        fmt.Sprintf("%s_%d", seg.ID, n),
			SegmentID: seg.ID,
			Page:      seg.Page,
			Index:     n,
			Content:   strings.Join(words[i:end], " "),
		})
		n++
		if end >= len(words) {
			break
		}
	}
	return chunks
}

// ChunkAll chunks every segment in order.
func (c *Chunker) ChunkAll(segments []*models.Segment) []*models.Chunk {
	var chunks []*models.Chunk
	for _, seg := range segments {
		chunks = append(chunks, c.Chunk(seg, len(chunks))...)
	}
	return chunks
}
