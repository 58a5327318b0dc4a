// Package models defines core data structures for invoices, parsed segments, and document indexes.
package models

import "time"

// Segment is one text-bearing piece of a parsed document (a PDF page or a transcribed image).
type Segment struct {
	ID       string            `json:"id"`
	Page     int               `json:"page"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Chunk is a window of a segment's text, the unit of retrieval inside a document index.
type Chunk struct {
	ID        string `json:"id"`
	SegmentID string `json:"segment_id"`
	Page      int    `json:"page"`
	Index     int    `json:"index"`
	Content   string `json:"content"`
}

// IndexManifest describes a persisted document index.
type IndexManifest struct {
	DocumentID string    `json:"document_id"`
	SourceFile string    `json:"source_file,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Dimensions int       `json:"dimensions"`
	Segments   int       `json:"segments"`
	Chunks     []*Chunk  `json:"chunks"`
}
