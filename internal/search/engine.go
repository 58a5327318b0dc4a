package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/tagihan/internal/indexer"
	"github.com/hyperjump/tagihan/internal/keyword"
	"github.com/hyperjump/tagihan/internal/llm"
	"github.com/hyperjump/tagihan/internal/models"
	"github.com/hyperjump/tagihan/internal/vector"
	"github.com/hyperjump/tagihan/pkg/utils"
)

// IndexStore loads document indexes and runs semantic search over them. *indexer.Indexer
// implements it.
type IndexStore interface {
	Load(ctx context.Context, docID string) (*indexer.DocumentIndex, error)
	Search(ctx context.Context, doc *indexer.DocumentIndex, query string, k int) ([]*vector.VectorResult, error)
}

// Options tunes retrieval.
type Options struct {
	TopK           int
	KeywordWeight  float64
	SemanticWeight float64
	// Keyword holds the options passed to every keyword search.
	Keyword *keyword.SearchOptions
}

// Engine answers prompts against one document index at a time.
type Engine struct {
	store  IndexStore
	model  llm.Model
	opts   Options
	logger *zap.Logger
}

// NewEngine creates an engine. TopK defaults to 4.
func NewEngine(store IndexStore, model llm.Model, opts Options, logger *zap.Logger) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	return &Engine{store: store, model: model, opts: opts, logger: utils.OrNop(logger)}
}

// Retrieve returns the k chunks of doc most relevant to query. Keyword and semantic search run
// concurrently; when neither finds anything the first k chunks in document order are returned.
func (e *Engine) Retrieve(ctx context.Context, doc *indexer.DocumentIndex, query string, k int) ([]*models.Chunk, error) {
	if k <= 0 {
		k = e.opts.TopK
	}
	candidates := k * 4

	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []*vector.VectorResult
	)
	g, gctx := errgroup.WithContext(ctx)
	if e.opts.KeywordWeight > 0 {
		g.Go(func() error {
			results, err := doc.Keywords.Search(gctx, query, candidates, e.opts.Keyword)
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			keywordResults = results
			return nil
		})
	}
	if e.opts.SemanticWeight > 0 {
		g.Go(func() error {
			results, err := e.store.Search(gctx, doc, query, candidates)
			if err != nil {
				return fmt.Errorf("semantic search failed: %w", err)
			}
			semanticResults = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := Fuse(NormalizeKeywordScores(keywordResults), NormalizeSemanticScores(semanticResults),
		e.opts.KeywordWeight, e.opts.SemanticWeight)
	chunks := make([]*models.Chunk, 0, k)
	for _, r := range fused {
		if len(chunks) == k {
			break
		}
		if r.Score <= 0 {
			break
		}
		if c, ok := doc.Chunk(r.ChunkID); ok {
			chunks = append(chunks, c)
		}
	}
	if len(chunks) == 0 {
		all := doc.Chunks()
		if len(all) > k {
			all = all[:k]
		}
		chunks = append(chunks, all...)
	}
	return chunks, nil
}

// Query loads docID, retrieves the chunks relevant to prompt and asks the model to answer prompt
// from them.
func (e *Engine) Query(ctx context.Context, docID, prompt string) (string, error) {
	contextText, err := e.retrieveContext(ctx, docID, prompt)
	if err != nil {
		return "", err
	}
	start := time.Now()
	answer, err := e.model.Complete(ctx, llm.QAPrompt(contextText, prompt))
	if err != nil {
		return "", fmt.Errorf("llm completion: %w", err)
	}
	e.logger.Debug("query answered", zap.String("doc_id", docID), zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return answer, nil
}

// Chat answers one follow-up question about docID. No conversation state is kept between calls.
func (e *Engine) Chat(ctx context.Context, docID, question string) (string, error) {
	contextText, err := e.retrieveContext(ctx, docID, question)
	if err != nil {
		return "", err
	}
	answer, err := e.model.Chat(ctx, llm.ChatSystemPrompt(contextText), nil, question)
	if err != nil {
		return "", fmt.Errorf("llm chat: %w", err)
	}
	return answer, nil
}

// retrieveContext loads the index (never the model) first, so an unknown document fails without
// any model call.
func (e *Engine) retrieveContext(ctx context.Context, docID, query string) (string, error) {
	doc, err := e.store.Load(ctx, docID)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			e.logger.Warn("failed to close document index", zap.String("doc_id", docID), zap.Error(cerr))
		}
	}()
	chunks, err := e.Retrieve(ctx, doc, query, e.opts.TopK)
	if err != nil {
		return "", err
	}
	passages := make([]llm.Passage, len(chunks))
	for i, c := range chunks {
		passages[i] = llm.Passage{Page: c.Page, Text: c.Content}
	}
	return llm.FormatContext(passages), nil
}
