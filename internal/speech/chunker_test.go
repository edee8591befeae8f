package speech

import (
	"strings"
	"testing"
)

func feed(t *testing.T, c *Chunker, tokens ...string) []Chunk {
	t.Helper()
	var out []Chunk
	for _, tok := range tokens {
		if chunk, ok := c.Add(tok); ok {
			out = append(out, chunk)
		}
	}
	return out
}

func TestChunkerFlushesOnSentenceEnd(t *testing.T) {
	c := NewChunker(3, 20, "en")

	chunks := feed(t, c, "The ", "sky ", "is ", "blue. ", "More ", "text")
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if got := strings.TrimSpace(chunks[0].Display); got != "The sky is blue." {
		t.Fatalf("Display = %q", chunks[0].Display)
	}

	rest, ok := c.Flush()
	if !ok {
		t.Fatalf("Flush() returned no chunk")
	}
	if got := strings.TrimSpace(rest.Display); got != "More text" {
		t.Fatalf("flushed Display = %q", rest.Display)
	}
}

func TestChunkerHoldsBelowMinTokens(t *testing.T) {
	c := NewChunker(3, 20, "en")
	if _, ok := c.Add("No. "); ok {
		t.Fatalf("single short sentence should not flush below min tokens")
	}
}

func TestChunkerDoesNotSplitOnAbbreviationDot(t *testing.T) {
	c := NewChunker(2, 20, "en")
	chunks := feed(t, c, "See ", "e.g. ", "this ", "case. ")
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1 (abbreviation dot must not end the sentence)", len(chunks))
	}
	if got := strings.TrimSpace(chunks[0].Display); got != "See e.g. this case." {
		t.Fatalf("Display = %q", chunks[0].Display)
	}
}

func TestChunkerForceFlushAtBoundary(t *testing.T) {
	c := NewChunker(2, 5, "en")

	// Comma after the third token marks a boundary; the sixth token trips
	// the max and flushes up to the boundary only.
	chunks := feed(t, c, "one ", "two ", "three, ", "four ", "five ", "six ")
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if got := strings.TrimSpace(chunks[0].Display); got != "one two three," {
		t.Fatalf("Display = %q", chunks[0].Display)
	}

	rest, ok := c.Flush()
	if !ok {
		t.Fatalf("Flush() returned no chunk")
	}
	if got := strings.TrimSpace(rest.Display); got != "four five six" {
		t.Fatalf("flushed Display = %q", rest.Display)
	}
}

func TestChunkTextRoundTrip(t *testing.T) {
	// "Hello there." sits below the default minimum token count, so it rides
	// along until the question mark; the final sentence flushes on its own.
	text := "Hello there. How are you today? I am fine."
	chunks := ChunkText(text, "en")
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2: %+v", len(chunks), chunks)
	}

	var rebuilt strings.Builder
	for _, ch := range chunks {
		rebuilt.WriteString(ch.Display)
	}
	if rebuilt.String() != text {
		t.Fatalf("display chunks do not reassemble input: %q", rebuilt.String())
	}
}

func TestChunkerClear(t *testing.T) {
	c := NewChunker(2, 20, "en")
	c.Add("partial ")
	c.Clear()
	if _, ok := c.Flush(); ok {
		t.Fatalf("Flush() after Clear() should be empty")
	}
}

func TestSplitTokensPreservesSpacing(t *testing.T) {
	text := "a  b\tc"
	if got := strings.Join(SplitTokens(text), ""); got != text {
		t.Fatalf("SplitTokens rejoin = %q, want %q", got, text)
	}
	if got := SplitTokens(""); got != nil {
		t.Fatalf("SplitTokens(\"\") = %v, want nil", got)
	}
}
