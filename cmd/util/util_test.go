package util

import (
	"strings"
	"testing"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("Line longer than %d characters: %q", Wrap, line)
		}
	}

	if got := WrapString("short text"); got != "short text" {
		t.Errorf("Expected short text to be unchanged, got %q", got)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a, b,,c ,")
	if strings.Join(got, "|") != "a|b|c" {
		t.Errorf("Unexpected split result %v", got)
	}
	if len(SplitList("")) != 0 {
		t.Errorf("Expected empty list for empty input")
	}
}
