package indexer

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hyperjump/tagihan/pkg/utils"
)

// hyphenBreak matches a word split across lines by PDF layout ("amo-\nunt").
var hyphenBreak = regexp.MustCompile(`(\p{L})-\s*\n\s*(\p{Ll})`)

// Preprocess normalizes extracted text for indexing: joins words hyphenated across line breaks,
// drops control and zero-width characters, and collapses whitespace.
func Preprocess(text string) string {
	text = hyphenBreak.ReplaceAllString(text, "$1$2")
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff':
			return -1
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, text)
	return utils.CollapseSpace(text)
}
