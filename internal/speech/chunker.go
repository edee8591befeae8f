package speech

import "strings"

// Chunk is one unit of reply text ready for display and synthesis. Display
// keeps the model's spelling; Speech is normalized for the synthesizer.
type Chunk struct {
	Display string
	Speech  string
}

// Chunker buffers streamed reply tokens and emits logical chunks at sentence
// or clause boundaries so synthesis can start before the full reply exists.
//
// Flush rules, in priority order:
//   - a sentence terminator once minTokens was reached flushes everything,
//     unless the trailing dot belongs to a known abbreviation;
//   - commas and coordinating conjunctions mark a fallback boundary;
//   - a buffer past maxTokens flushes at the last boundary, or wholesale.
type Chunker struct {
	minTokens int
	maxTokens int
	lang      string

	buf      []string
	boundary int
}

var chunkConjunctions = map[string]struct{}{
	"and": {}, "but": {}, "or": {}, "nor": {}, "for": {}, "yet": {}, "so": {},
}

// NewChunker builds a chunker for the given language. Non-positive limits
// fall back to defaults tuned for one-breath speech segments.
func NewChunker(minTokens, maxTokens int, lang string) *Chunker {
	if minTokens <= 0 {
		minTokens = 3
	}
	if maxTokens <= minTokens {
		maxTokens = 20
	}
	return &Chunker{
		minTokens: minTokens,
		maxTokens: maxTokens,
		lang:      lang,
		boundary:  -1,
	}
}

// Add appends one streamed token and reports a completed chunk when a flush
// condition is met.
func (c *Chunker) Add(token string) (Chunk, bool) {
	c.buf = append(c.buf, token)
	idx := len(c.buf)
	stripped := strings.TrimSpace(token)

	if idx >= c.minTokens {
		if strings.HasSuffix(stripped, "?") || strings.HasSuffix(stripped, "!") {
			return c.pop(idx), true
		}
		if strings.HasSuffix(stripped, ".") && !isAbbreviationToken(stripped, c.lang) {
			return c.pop(idx), true
		}
	}

	low := strings.ToLower(strings.TrimRight(stripped, ",:;"))
	if strings.HasSuffix(stripped, ",") {
		c.boundary = idx
	}
	if _, ok := chunkConjunctions[low]; ok {
		c.boundary = idx - 1
	}

	if idx >= c.maxTokens {
		if c.boundary > 0 {
			return c.pop(c.boundary), true
		}
		return c.pop(idx), true
	}

	return Chunk{}, false
}

// Flush drains whatever remains in the buffer.
func (c *Chunker) Flush() (Chunk, bool) {
	if len(c.buf) == 0 {
		return Chunk{}, false
	}
	return c.pop(len(c.buf)), true
}

// Clear discards buffered tokens, used when a turn is interrupted.
func (c *Chunker) Clear() {
	c.buf = nil
	c.boundary = -1
}

func (c *Chunker) pop(n int) Chunk {
	tokens := c.buf[:n]
	c.buf = c.buf[n:]
	if c.boundary <= n {
		c.boundary = -1
	} else {
		c.boundary -= n
	}

	display := strings.Join(tokens, "")
	speech := NormalizeForSpeech(strings.TrimSpace(display), c.lang)
	return Chunk{Display: display, Speech: speech}
}

// isAbbreviationToken reports whether a dot-terminated token is a known
// abbreviation for the language, in which case the dot is not a sentence end.
func isAbbreviationToken(token, lang string) bool {
	table, ok := abbreviations[lang]
	if !ok {
		table = abbreviations["en"]
	}
	_, ok = expandToken(token, table)
	return ok
}

// SplitTokens cuts a complete text into space-preserving tokens suitable for
// Add, so a non-streaming reply can reuse the same chunking rules.
func SplitTokens(text string) []string {
	if text == "" {
		return nil
	}
	var tokens []string
	start := 0
	inSpace := false
	for i, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inSpace = true
			continue
		}
		if inSpace {
			tokens = append(tokens, text[start:i])
			start = i
			inSpace = false
		}
	}
	tokens = append(tokens, text[start:])
	return tokens
}

// ChunkText runs a complete reply through the chunker in one go.
func ChunkText(text string, lang string) []Chunk {
	c := NewChunker(0, 0, lang)
	var out []Chunk
	for _, token := range SplitTokens(text) {
		if chunk, ok := c.Add(token); ok {
			out = append(out, chunk)
		}
	}
	if chunk, ok := c.Flush(); ok {
		out = append(out, chunk)
	}
	return out
}
