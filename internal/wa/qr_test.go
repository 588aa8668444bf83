package wa

import (
	"strings"
	"testing"
)

func TestRenderQR(t *testing.T) {
	out, err := RenderQR("2@abcdef,ghijkl,mnopqr")
	if err != nil {
		t.Fatalf("RenderQR() error = %v", err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 10 {
		t.Fatalf("got %d lines, want a full code", len(lines))
	}
	width := len([]rune(lines[0]))
	for i, l := range lines {
		if n := len([]rune(l)); n != width {
			t.Errorf("line %d has %d runes, want %d", i, n, width)
		}
	}
	if !strings.ContainsAny(out, "█▀▄") {
		t.Error("no blocks rendered")
	}
}
