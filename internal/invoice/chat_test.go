package invoice_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hyperjump/tagihan/internal/indexer"
	"github.com/hyperjump/tagihan/internal/invoice"
)

type fakeChat struct {
	answer string
	err    error
	calls  int
}

func (f *fakeChat) Chat(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.answer, f.err
}

func TestGateway_Answer(t *testing.T) {
	tests := []struct {
		name      string
		docID     string
		engine    *fakeChat
		want      string
		wantErr   error
		wantCalls int
	}{
		{
			name:      "answer",
			docID:     "seg-1",
			engine:    &fakeChat{answer: "The amount due is 100.00."},
			want:      "The amount due is 100.00.",
			wantCalls: 1,
		},
		{
			name:    "blank id",
			docID:   "  ",
			engine:  &fakeChat{},
			wantErr: invoice.ErrDocumentNotFound,
		},
		{
			name:    "path traversal id",
			docID:   "../etc",
			engine:  &fakeChat{},
			wantErr: invoice.ErrDocumentNotFound,
		},
		{
			name:      "unknown document",
			docID:     "missing",
			engine:    &fakeChat{err: fmt.Errorf("load: %w", indexer.ErrNotFound)},
			wantErr:   invoice.ErrDocumentNotFound,
			wantCalls: 1,
		},
		{
			name:      "model down",
			docID:     "seg-1",
			engine:    &fakeChat{err: errors.New("503")},
			wantErr:   invoice.ErrExtractionUnavailable,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := invoice.NewGateway(tt.engine, nil)
			got, err := g.Answer(context.Background(), tt.docID, "How much is due?")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, got)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, tt.wantCalls, tt.engine.calls)
		})
	}
}
