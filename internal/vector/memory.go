package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// fileMagic starts every saved index; the trailing byte is the format version.
var fileMagic = [4]byte{'T', 'G', 'V', 1}

// maxIDLen bounds chunk id lengths read from disk so a corrupt file cannot force a huge allocation.
const maxIDLen = 1 << 12

var errDimensions = errors.New("vector dimension mismatch")

type entry struct {
	id  string
	vec []float32
}

// MemoryIndex is an exhaustive inner-product index. One invoice yields a handful of chunks, so a
// linear scan is exact and fast enough.
type MemoryIndex struct {
	mu         sync.RWMutex
	dimensions int
	entries    []entry
}

func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &MemoryIndex{dimensions: dimensions}, nil
}

func (m *MemoryIndex) checkDims(v []float32) error {
	if len(v) != m.dimensions {
		return fmt.Errorf("%w: got %d, expected %d", errDimensions, len(v), m.dimensions)
	}
	return nil
}

// Add stores copies of vectors under ids. Either every vector is added or none is.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("got %d ids for %d vectors", len(ids), len(vectors))
	}
	batch := make([]entry, len(ids))
	for i, v := range vectors {
		if err := m.checkDims(v); err != nil {
			return err
		}
		batch[i] = entry{id: ids[i], vec: append([]float32(nil), v...)}
	}
	m.mu.Lock()
	m.entries = append(m.entries, batch...)
	m.mu.Unlock()
	return nil
}

// Search returns the k entries with the highest inner product. Ties keep insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := m.checkDims(query); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}
	results := make([]*VectorResult, 0, len(m.entries))
	for _, e := range m.entries {
		results = append(results, &VectorResult{ID: e.id, Score: InnerProduct(query, e.vec)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results[:min(k, len(results))], nil
}

// Save writes the index to path, creating the parent directory.
// Layout (little endian): magic, dimensions u32, count u32, then per entry id length u32, id,
// and the vector as float32s.
func (m *MemoryIndex) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	m.mu.RLock()
	err = m.encode(w)
	m.mu.RUnlock()
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	return nil
}

func (m *MemoryIndex) encode(w io.Writer) error {
	header := []any{fileMagic, uint32(m.dimensions), uint32(len(m.entries))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, e := range m.entries {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.id))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, e.id); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, e.vec); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the contents with the index saved at path. The file's dimensions must match.
// On any error (a missing file wraps os.ErrNotExist) the index is left unchanged.
func (m *MemoryIndex) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	entries, err := m.decode(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("read index file %s: %w", path, err)
	}
	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) decode(r io.Reader) ([]entry, error) {
	var header struct {
		Magic      [4]byte
		Dimensions uint32
		Count      uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header.Magic != fileMagic {
		return nil, errors.New("not a vector index file")
	}
	if int(header.Dimensions) != m.dimensions {
		return nil, fmt.Errorf("%w: file has %d, index expects %d", errDimensions, header.Dimensions, m.dimensions)
	}
	entries := make([]entry, 0, min(header.Count, 1<<16))
	for i := uint32(0); i < header.Count; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, err
		}
		if idLen > maxIDLen {
			return nil, fmt.Errorf("corrupt index: id length %d", idLen)
		}
		id := make([]byte, idLen)
		if _, err := io.ReadFull(r, id); err != nil {
			return nil, err
		}
		vec := make([]float32, m.dimensions)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, err
		}
		entries = append(entries, entry{id: string(id), vec: vec})
	}
	return entries, nil
}

func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Close is a no-op; the index holds no external resources.
func (m *MemoryIndex) Close() error {
	return nil
}
