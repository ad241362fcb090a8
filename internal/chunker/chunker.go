package chunker

import (
	"strings"

	"github.com/dshills/codegraph-mcp/internal/config"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// Chunker splits prose documents into embedding-sized chunks.
//
// Chunk char length stays within [MinChunkChars, MaxChunkChars] except for a
// document's final chunk, which may be shorter. Small adjacent paragraphs are
// merged up to the minimum; an oversized paragraph is split into windows that
// share exactly OverlapChars characters so no semantic unit is silently cut.
type Chunker struct {
	minChars int
	maxChars int
	overlap  int
	strategy string
}

// New creates a Chunker from resolved chunking settings
func New(cfg config.ChunkingSettings) *Chunker {
	return &Chunker{
		minChars: cfg.MinChunkChars,
		maxChars: cfg.MaxChunkChars,
		overlap:  cfg.OverlapChars,
		strategy: cfg.Strategy,
	}
}

// paragraph is a contiguous text block with its offset in the source document
type paragraph struct {
	text  string
	start int
}

// ChunkDocument splits a document's content into chunks tagged with the
// collection name and the heading path active at each chunk's position.
func (c *Chunker) ChunkDocument(docPath, collection, content string) []*types.DocumentChunk {
	if c.strategy == config.StrategyFixed {
		return c.chunkFixed(docPath, collection, content)
	}
	return c.chunkParagraphs(docPath, collection, content)
}

// chunkParagraphs merges small paragraphs and splits oversized ones,
// respecting heading boundaries
func (c *Chunker) chunkParagraphs(docPath, collection, content string) []*types.DocumentChunk {
	var chunks []*types.DocumentChunk
	var headings []string
	var buf []paragraph
	bufLen := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		parts := make([]string, len(buf))
		for i, p := range buf {
			parts[i] = p.text
		}
		text := strings.Join(parts, "\n\n")
		chunks = append(chunks, c.newChunk(docPath, collection, headings, text, buf[0].start))
		buf = buf[:0]
		bufLen = 0
	}

	for _, p := range splitParagraphs(content) {
		if level, title, ok := parseHeading(p.text); ok {
			// A heading closes the current chunk and updates the path, so
			// chunks never span sections.
			flush()
			headings = truncateHeadings(headings, level)
			headings = append(headings, title)
			continue
		}

		if len(p.text) > c.maxChars {
			flush()
			chunks = append(chunks, c.splitOversized(docPath, collection, headings, p)...)
			continue
		}

		joined := bufLen
		if joined > 0 {
			joined += 2 // paragraph separator
		}
		joined += len(p.text)

		if len(buf) > 0 && joined > c.maxChars {
			flush()
			joined = len(p.text)
		}

		buf = append(buf, p)
		bufLen = joined

		if bufLen >= c.minChars {
			flush()
		}
	}

	// Final partial chunk may be shorter than the minimum
	flush()

	return chunks
}

// splitOversized cuts one paragraph into max-sized windows whose adjacent
// edges share exactly overlap characters; every window stays at or above
// the minimum chunk size
func (c *Chunker) splitOversized(docPath, collection string, headings []string, p paragraph) []*types.DocumentChunk {
	var chunks []*types.DocumentChunk

	off := 0
	for {
		end := off + c.maxChars
		if end >= len(p.text) {
			chunks = append(chunks, c.newChunk(docPath, collection, headings, p.text[off:], p.start+off))
			return chunks
		}
		// If the remainder after this window would land below the
		// minimum, pull the window back so the final chunk sits at it.
		if rest := len(p.text) - (end - c.overlap); rest < c.minChars {
			if adjusted := len(p.text) - c.minChars + c.overlap; adjusted-off >= c.minChars {
				end = adjusted
			}
		}
		chunks = append(chunks, c.newChunk(docPath, collection, headings, p.text[off:end], p.start+off))
		off = end - c.overlap
	}
}

// chunkFixed slices the raw document into fixed max-sized windows with overlap
func (c *Chunker) chunkFixed(docPath, collection, content string) []*types.DocumentChunk {
	if content == "" {
		return nil
	}
	return c.splitOversized(docPath, collection, nil, paragraph{text: content, start: 0})
}

func (c *Chunker) newChunk(docPath, collection string, headings []string, text string, start int) *types.DocumentChunk {
	chunk := &types.DocumentChunk{
		DocPath:     docPath,
		Collection:  collection,
		StartChar:   start,
		EndChar:     start + len(text),
		HeadingPath: append([]string(nil), headings...),
		Text:        text,
	}
	chunk.ComputeContentHash()
	return chunk
}

// splitParagraphs splits content on blank lines, preserving source offsets
func splitParagraphs(content string) []paragraph {
	var paras []paragraph
	offset := 0

	for _, block := range strings.Split(content, "\n\n") {
		trimmed := strings.TrimSpace(block)
		if trimmed != "" {
			lead := strings.Index(block, trimmed)
			paras = append(paras, paragraph{text: trimmed, start: offset + lead})
		}
		offset += len(block) + 2
	}

	return paras
}

// parseHeading recognizes a markdown ATX heading line
func parseHeading(text string) (level int, title string, ok bool) {
	if !strings.HasPrefix(text, "#") || strings.ContainsRune(text, '\n') {
		return 0, "", false
	}
	level = 0
	for level < len(text) && text[level] == '#' {
		level++
	}
	if level > 6 || level >= len(text) || text[level] != ' ' {
		return 0, "", false
	}
	return level, strings.TrimSpace(text[level:]), true
}

// truncateHeadings pops the heading stack down to the parent of level
func truncateHeadings(headings []string, level int) []string {
	if level-1 < len(headings) {
		return headings[:level-1]
	}
	return headings
}
