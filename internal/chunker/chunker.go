package chunker

import "strings"

// Config controls chunking behavior.
type Config struct {
	MaxTokens     int // Token budget per chunk.
	OverlapTokens int // Tokens carried over between consecutive chunks.
}

// DefaultConfig returns sensible defaults for sentence-embedding models
// with a ~512 token context.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     400,
		OverlapTokens: 50,
	}
}

// Chunk is a token-bounded passage of a page body, the unit of embedding
// and retrieval.
type Chunk struct {
	Index       int    // Zero-based position within the page.
	Text        string // The passage text.
	HeadingPath string // Enclosing headings, e.g. "Install > Configure".
	TokenCount  int    // Approximate token count of Text.
}

// Split breaks a markdown page body into ordered, overlapping,
// token-bounded chunks. Chunk indices are contiguous from zero. An empty
// or whitespace-only body produces no chunks. A single indivisible block
// larger than the budget is emitted as its own chunk rather than dropped.
func Split(body string, cfg Config) []Chunk {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	if strings.TrimSpace(body) == "" {
		return nil
	}

	units := parseBlocks(body)
	headings := extractHeadings(units)

	var chunks []Chunk
	var parts []string
	carry := ""      // overlap text prepended to the next chunk
	chunkStart := -1 // byte offset of the current chunk's first unit
	currentTokens := 0

	flush := func(withOverlap bool) {
		if len(parts) == 0 {
			return
		}
		text := strings.Join(parts, "\n\n")
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Text:        text,
			HeadingPath: headingPathAt(headings, chunkStart),
			TokenCount:  CountTokens(text),
		})
		if withOverlap {
			carry = overlapText(text, cfg.OverlapTokens)
		} else {
			carry = ""
		}
		parts = parts[:0]
		chunkStart = -1
		currentTokens = 0
	}

	add := func(u unit) {
		if len(parts) == 0 {
			chunkStart = u.start
			if carry != "" {
				parts = append(parts, carry)
				currentTokens = CountTokens(carry)
				carry = ""
			}
		}
		parts = append(parts, u.text)
		currentTokens += CountTokens(u.text)
	}

	for _, u := range units {
		if u.isHeading {
			// Chunks never span a heading boundary, and no overlap is
			// carried across one: each section stands on its own.
			flush(false)
			add(u)
			continue
		}

		tokens := CountTokens(u.text)
		if tokens > cfg.MaxTokens {
			// A single unit over budget still goes out whole, with no
			// overlap on either side; truncating would silently drop
			// content.
			flush(false)
			carry = ""
			add(u)
			flush(false)
			continue
		}
		if currentTokens+tokens > cfg.MaxTokens && currentTokens > 0 {
			flush(true)
		}
		add(u)
	}
	flush(false)

	return chunks
}
