package embedding

import (
	"reflect"
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("hello world", 10)
	if len(ids) != 10 {
		t.Errorf("len(ids)=%d", len(ids))
	}
	if ids[0] != 101 {
		t.Errorf("expected CLS 101, got %d", ids[0])
	}
	if ids[3] != 102 {
		t.Errorf("expected SEP after two words, got %d", ids[3])
	}
	if attn[0] != 1 || attn[3] != 1 || attn[4] != 0 {
		t.Errorf("unexpected attention mask %v", attn)
	}
	for _, id := range ids[1:3] {
		if id < 1000 {
			t.Errorf("word id %d collides with special tokens", id)
		}
	}
}

func TestSimpleTokenizer_truncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("a b c d e f g h", 4)
	if len(ids) != 4 {
		t.Fatalf("len(ids)=%d", len(ids))
	}
	if ids[3] != 102 || attn[3] != 1 {
		t.Errorf("last slot should be SEP, got %v", ids)
	}
}

func TestSplitWords(t *testing.T) {
	got := SplitWords("  Invoice INV-001, Total: $1,250.00 ")
	want := []string{"invoice", "inv", "001", "total", "1", "250", "00"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitWords = %v, want %v", got, want)
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
	if SplitWords(" -- ") != nil {
		t.Error("punctuation only should return nil")
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("abc") == HashString("abd") {
		t.Error("different strings should hash differently")
	}
	if HashString("anything") < 0 {
		t.Error("hash should be non-negative")
	}
}
