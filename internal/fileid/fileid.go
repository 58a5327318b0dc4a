// Package fileid assigns ids to parsed document segments. The first segment's id doubles as the
// document id, so the ids must be safe to use as a directory name.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"
)

// Assigner hands out segment ids for one document.
type Assigner interface {
	// SegmentID returns the id of the segment at page (1-based) of a document whose raw bytes are
	// content.
	SegmentID(content []byte, page int) string
}

// Random assigns a fresh uuid to every segment.
type Random struct{}

// SegmentID returns a new random uuid.
func (Random) SegmentID(_ []byte, _ int) string {
	return uuid.New().String()
}

// ContentAddressed derives ids from the file content and the page number, so the same file always
// yields the same ids.
type ContentAddressed struct{}

// SegmentID returns the hex sha256 of content followed by the page number, truncated to 32 chars.
func (ContentAddressed) SegmentID(content []byte, page int) string {
	h := sha256.New()
	h.Write(content)
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(page)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// New returns ContentAddressed when contentAddressed is set and Random otherwise.
func New(contentAddressed bool) Assigner {
	if contentAddressed {
		return ContentAddressed{}
	}
	return Random{}
}
