package llmgateway

import (
	"strings"
	"testing"
)

func TestTruncateToTokensHead(t *testing.T) {
	long := strings.Repeat("word ", 10000)
	out, truncated := TruncateToTokens(long, 8000)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if !strings.HasPrefix(long, out) {
		t.Fatal("expected head truncation to preserve prefix")
	}
}

func TestTruncateToTokensNoop(t *testing.T) {
	short := "hello world"
	out, truncated := TruncateToTokens(short, 8000)
	if truncated {
		t.Fatal("did not expect truncation")
	}
	if out != short {
		t.Fatalf("got %q", out)
	}
}

func TestEmbeddingTruncateLimit(t *testing.T) {
	if got := EmbeddingTruncateLimit(false); got != 8000 {
		t.Fatalf("got %d", got)
	}
	if got := EmbeddingTruncateLimit(true); got != 128 {
		t.Fatalf("got %d", got)
	}
}
