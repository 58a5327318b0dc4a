//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/tagihan/pkg/utils"
)

var onnxInputNames = []string{"input_ids", "attention_mask", "token_type_ids"}

var (
	ortOnce sync.Once
	ortErr  error
)

// onnxTensors are bound to the session once; each call overwrites the inputs in place.
type onnxTensors struct {
	inputs []*ort.Tensor[int64]
	output *ort.Tensor[float32]
}

func newONNXTensors(maxTokens, dimensions int) (*onnxTensors, error) {
	t := &onnxTensors{}
	shape := ort.NewShape(1, int64(maxTokens))
	for _, name := range onnxInputNames {
		in, err := ort.NewEmptyTensor[int64](shape)
		if err != nil {
			t.destroy()
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		t.inputs = append(t.inputs, in)
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		t.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	t.output = out
	return t, nil
}

func (t *onnxTensors) bind() (inputs, outputs []ort.ArbitraryTensor) {
	for _, in := range t.inputs {
		inputs = append(inputs, in)
	}
	return inputs, []ort.ArbitraryTensor{t.output}
}

func (t *onnxTensors) load(ids ...[]int64) {
	for i, in := range t.inputs {
		copy(in.GetData(), ids[i])
	}
}

func (t *onnxTensors) destroy() {
	for _, in := range t.inputs {
		_ = in.Destroy()
	}
	t.inputs = nil
	if t.output != nil {
		_ = t.output.Destroy()
		t.output = nil
	}
}

// ONNXEmbedder runs a sentence-transformer model through ONNX Runtime. It requires CGO and the
// onnxruntime shared library. Calls are serialized because the tensors are shared.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	tensors    *onnxTensors
	tokenizer  Tokenizer
	cache      *EmbeddingCache
	dimensions int
	maxTokens  int
}

// NewONNXEmbedder loads the model at modelPath, whose pooled output must be named "output".
func NewONNXEmbedder(modelPath string, dimensions, maxTokens, cacheSize int) (*ONNXEmbedder, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("onnx model: %w", err)
	}
	ortOnce.Do(func() { ortErr = ort.InitializeEnvironment() })
	if ortErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", ortErr)
	}

	tensors, err := newONNXTensors(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	inputs, outputs := tensors.bind()
	session, err := ort.NewAdvancedSession(modelPath, onnxInputNames, []string{"output"}, inputs, outputs, nil)
	if err != nil {
		tensors.destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEmbedder{
		session:    session,
		tensors:    tensors,
		tokenizer:  &SimpleTokenizer{},
		cache:      NewEmbeddingCache(cacheSize),
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed returns the unit-length embedding of text, from the cache when possible.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("embedder is closed")
	}

	e.tensors.load(e.tokenizer.Tokenize(text, e.maxTokens))
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	vec := make([]float32, e.dimensions)
	copy(vec, e.tensors.output.GetData())
	utils.NormalizeL2(vec)
	e.cache.Set(text, vec)
	return vec, nil
}

func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close releases the session and its tensors. Embed fails afterwards.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.tensors.destroy()
	return err
}
