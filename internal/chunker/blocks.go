package chunker

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// unit is a block-level piece of the source document: a paragraph, a list
// item, a code fence, or a heading line. Start is the byte offset of the
// unit's first character in the original body, which is what heading-path
// resolution keys on.
type unit struct {
	text      string
	start     int
	isHeading bool
	level     int
}

// heading is a markdown heading with its byte offset. Offsets let the
// chunker resolve which headings are in scope for a chunk even when the
// same heading text appears elsewhere in the document.
type heading struct {
	level int
	text  string
	start int
}

// parseBlocks walks the goldmark AST and flattens the body into ordered
// block units. Anything goldmark does not recognize comes back as a
// paragraph, so malformed markdown degrades to plain text instead of
// failing.
func parseBlocks(body string) []unit {
	src := []byte(body)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	var units []unit
	cursor := 0
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		units = collectBlock(n, src, cursor, units)
		if len(units) > 0 {
			last := units[len(units)-1]
			if end := last.start + len(last.text); end > cursor {
				cursor = end
			}
		}
	}
	return units
}

// collectBlock appends the units for a single top-level block. Lists are
// broken into one unit per item so the chunker can split between them.
// cursor is the byte offset just past the last emitted unit, which is
// where recovery starts for blocks that carry no line segments.
func collectBlock(n ast.Node, src []byte, cursor int, units []unit) []unit {
	switch node := n.(type) {
	case *ast.Heading:
		start, stop, ok := blockSpan(n, src)
		if !ok {
			// A bare marker line ("###") has no inline text and no line
			// segments; keep its characters as plain text.
			return appendBareLines(n, src, cursor, units)
		}
		// Re-include the "#" marker prefix so chunk text reproduces the
		// source line, not just the heading's inner text.
		start = lineStart(src, start)
		return append(units, unit{
			text:      strings.TrimRight(string(src[start:stop]), "\n"),
			start:     start,
			isHeading: true,
			level:     node.Level,
		})

	case *ast.List:
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			start, stop, ok := itemSpan(item, src)
			if !ok {
				continue
			}
			start = lineStart(src, start)
			units = append(units, unit{
				text:  strings.TrimRight(string(src[start:stop]), "\n"),
				start: start,
			})
		}
		return units

	case *ast.FencedCodeBlock:
		start, stop, ok := blockSpan(n, src)
		if !ok {
			// An empty code block has no interior lines; the fence
			// markers themselves still need to survive.
			return appendBareLines(n, src, cursor, units)
		}
		// Lines() covers only the fence interior; extend to the fence
		// markers so the code block survives round-trip intact.
		start = lineStart(src, prevLineStart(src, start))
		stop = lineEnd(src, stop)
		return append(units, unit{
			text:  strings.TrimRight(string(src[start:stop]), "\n"),
			start: start,
		})

	default:
		// Containers like blockquotes carry no lines of their own; fall
		// back to the span of their descendants so no content is dropped.
		start, stop, ok := blockSpan(n, src)
		if !ok {
			start, stop, ok = spanDeep(n, src)
		}
		if !ok {
			// Leaf blocks with no lines at all, thematic breaks mainly.
			return appendBareLines(n, src, cursor, units)
		}
		return append(units, unit{
			text:  strings.TrimRight(string(src[start:stop]), "\n"),
			start: start,
		})
	}
}

// appendBareLines recovers the source text of a block goldmark gives no
// line segments for. Thematic breaks, empty code fences, and bare
// heading markers all parse this way; their lines sit between the end
// of the previous emitted unit and the next block that has lines.
func appendBareLines(n ast.Node, src []byte, cursor int, units []unit) []unit {
	start, stop, ok := bareLineSpan(src, cursor, nextSpanStart(n, src))
	if !ok {
		return units
	}
	return append(units, unit{
		text:  strings.TrimRight(string(src[start:stop]), "\n"),
		start: start,
	})
}

// bareLineSpan finds the next run of non-blank lines in src[pos:bound],
// returning the [start, stop) range of the run.
func bareLineSpan(src []byte, pos, bound int) (int, int, bool) {
	if bound > len(src) {
		bound = len(src)
	}
	for pos < bound && len(bytes.TrimSpace(src[pos:lineEnd(src, pos)])) == 0 {
		pos = lineEnd(src, pos)
	}
	if pos >= bound {
		return 0, 0, false
	}
	stop := lineEnd(src, pos)
	for stop < bound && len(bytes.TrimSpace(src[stop:lineEnd(src, stop)])) > 0 {
		stop = lineEnd(src, stop)
	}
	if stop > bound {
		stop = bound
	}
	return pos, stop, true
}

// nextSpanStart returns the byte offset of the first following sibling
// that has resolvable source lines, or len(src) when none does. It
// bounds bare-line recovery so a line-less block never swallows its
// neighbor's text.
func nextSpanStart(n ast.Node, src []byte) int {
	for sib := n.NextSibling(); sib != nil; sib = sib.NextSibling() {
		s, _, ok := blockSpan(sib, src)
		if !ok {
			s, _, ok = spanDeep(sib, src)
		}
		if ok {
			return lineStart(src, s)
		}
	}
	return len(src)
}

// spanDeep returns the source range covered by a node's descendant
// blocks.
func spanDeep(n ast.Node, src []byte) (int, int, bool) {
	start, stop := -1, -1
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		s, e, ok := blockSpan(c, src)
		if !ok {
			s, e, ok = spanDeep(c, src)
		}
		if !ok {
			continue
		}
		if start < 0 || s < start {
			start = s
		}
		if e > stop {
			stop = e
		}
	}
	if start < 0 {
		return 0, 0, false
	}
	return start, stop, true
}

// blockSpan returns the [start, stop) byte range covered by a block's
// source lines.
func blockSpan(n ast.Node, src []byte) (int, int, bool) {
	lines := n.Lines()
	if lines == nil || lines.Len() == 0 {
		return 0, 0, false
	}
	first := lines.At(0)
	last := lines.At(lines.Len() - 1)
	return first.Start, last.Stop, true
}

// itemSpan returns the source range of a list item, spanning all of its
// child blocks.
func itemSpan(item ast.Node, src []byte) (int, int, bool) {
	start, stop := -1, -1
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		s, e, ok := blockSpan(c, src)
		if !ok {
			s, e, ok = spanDeep(c, src)
		}
		if !ok {
			continue
		}
		if start < 0 || s < start {
			start = s
		}
		if e > stop {
			stop = e
		}
	}
	if start < 0 {
		return 0, 0, false
	}
	return start, stop, true
}

// lineStart walks back from pos to the start of the line containing pos.
func lineStart(src []byte, pos int) int {
	for pos > 0 && src[pos-1] != '\n' {
		pos--
	}
	return pos
}

// prevLineStart returns the start of the line preceding the line that
// contains pos. Used to reach a fenced code block's opening marker.
func prevLineStart(src []byte, pos int) int {
	ls := lineStart(src, pos)
	if ls == 0 {
		return 0
	}
	return lineStart(src, ls-1)
}

// lineEnd advances pos to just past the end of its line (including the
// newline when present). Used to reach a fenced code block's closing
// marker.
func lineEnd(src []byte, pos int) int {
	for pos < len(src) && src[pos] != '\n' {
		pos++
	}
	if pos < len(src) {
		pos++
	}
	return pos
}

// extractHeadings pulls the heading units out of the block sequence.
func extractHeadings(units []unit) []heading {
	var hs []heading
	for _, u := range units {
		if !u.isHeading {
			continue
		}
		// Trim only the marker run and surrounding whitespace. Content
		// that itself starts with "#", like "# #1 Priority", stays.
		hs = append(hs, heading{
			level: u.level,
			text:  strings.TrimSpace(strings.TrimLeft(u.text, "#")),
			start: u.start,
		})
	}
	return hs
}

// headingPathAt builds the hierarchical heading path in scope at the given
// byte offset, e.g. "Install > Configure". A heading starting exactly at
// the offset counts as in scope, so a chunk that opens with a heading line
// is attributed to that heading. Deeper levels extend the path; a heading
// at the same or a shallower level pops back before appending.
func headingPathAt(headings []heading, offset int) string {
	var path []string
	currentLevel := 0
	for _, h := range headings {
		if h.start > offset {
			break
		}
		if h.level <= currentLevel {
			depth := h.level - 1
			if depth < 0 {
				depth = 0
			}
			if depth > len(path) {
				depth = len(path)
			}
			path = path[:depth]
		}
		path = append(path, h.text)
		currentLevel = h.level
	}
	return strings.Join(path, " > ")
}
