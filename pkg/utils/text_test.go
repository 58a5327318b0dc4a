package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
}

func TestStringValue(t *testing.T) {
	if StringValue(nil) != "" {
		t.Error("nil should give empty string")
	}
	s := "INV-1"
	if StringValue(&s) != "INV-1" {
		t.Errorf("got %q", StringValue(&s))
	}
}

func TestCollapseSpace(t *testing.T) {
	if got := CollapseSpace("  Due \n\t date  "); got != "Due date" {
		t.Errorf("got %q", got)
	}
}
