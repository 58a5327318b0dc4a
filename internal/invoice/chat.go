package invoice

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/tagihan/internal/indexer"
	"github.com/hyperjump/tagihan/pkg/utils"
)

// ChatEngine answers a question from one document index.
type ChatEngine interface {
	Chat(ctx context.Context, docID, question string) (string, error)
}

// Gateway answers follow-up questions about processed invoices.
type Gateway struct {
	engine ChatEngine
	logger *zap.Logger
}

// NewGateway creates a chat gateway.
func NewGateway(engine ChatEngine, logger *zap.Logger) *Gateway {
	return &Gateway{engine: engine, logger: utils.OrNop(logger)}
}

// Answer answers question using only the index of docID. An unknown document yields
// ErrDocumentNotFound; any other failure ErrExtractionUnavailable.
func (g *Gateway) Answer(ctx context.Context, docID, question string) (string, error) {
	docID = strings.TrimSpace(docID)
	if docID == "" || !indexer.ValidID(docID) {
		return "", fail(StageChat, ErrDocumentNotFound, nil)
	}
	answer, err := g.engine.Chat(ctx, docID, question)
	if err != nil {
		if errors.Is(err, indexer.ErrNotFound) {
			return "", fail(StageChat, ErrDocumentNotFound, err)
		}
		g.logger.Warn("chat failed", zap.String("document_id", docID), zap.Error(err))
		return "", fail(StageChat, ErrExtractionUnavailable, err)
	}
	return answer, nil
}
