// Package chunk splits extracted document pages into overlapping text
// chunks with structural metadata. Prose is split hierarchically on
// paragraph, line, sentence, and word boundaries; [Table] blocks are kept
// intact within a larger table budget and never straddle prose chunks.
package chunk

import (
	"strings"

	"github.com/doclens/doclens/internal/config"
	"github.com/doclens/doclens/internal/loader"
	"github.com/doclens/doclens/internal/ragerr"
)

// Piece is one emitted chunk before embedding. The pipeline assigns the
// global 0-based chunk index from the slice position.
type Piece struct {
	Text string
	// PageNumber is the page of the chunk's first character.
	PageNumber int
	// SectionTitle is inherited from the last page that defined one.
	SectionTitle string
	HasTable     bool
}

// Chunker converts page streams into chunk streams. Stateless and safe for
// concurrent use.
type Chunker struct {
	chunkSize        int
	overlap          int
	tableChunkSize   int
	keepTablesIntact bool
}

// New builds a Chunker from the chunking configuration.
func New(cfg config.ChunkingConfig) *Chunker {
	return &Chunker{
		chunkSize:        cfg.ChunkSize,
		overlap:          cfg.ChunkOverlap,
		tableChunkSize:   cfg.TableChunkSize,
		keepTablesIntact: cfg.KeepTablesIntact,
	}
}

// separators tried in order when splitting prose. The first separator
// whose segments all fit the budget wins; oversized segments fall through
// to the next, ending at a hard character cut.
var separators = []string{"\n\n", "\n", ". ", "? ", "! ", " "}

// block is an intermediate unit: a run of prose or one table, tagged with
// its originating page.
type block struct {
	text    string
	page    int
	section string
	isTable bool
}

// ChunkPages splits the page stream into chunks in reading order.
func (c *Chunker) ChunkPages(pages []loader.Page) ([]Piece, error) {
	blocks := c.collectBlocks(pages)

	var pieces []Piece
	var carry overlapCarry

	for _, b := range blocks {
		if b.isTable {
			// Tables never merge with surrounding prose; drop the overlap
			// carry so prose after the table starts fresh.
			carry = overlapCarry{}
			pieces = append(pieces, c.chunkTable(b)...)
			continue
		}
		pieces = append(pieces, c.chunkProse(b, &carry)...)
	}

	if len(pieces) == 0 {
		return nil, ragerr.New(ragerr.KindChunking, "document produced no chunks")
	}
	return pieces, nil
}

// collectBlocks walks the pages splitting each into prose and table blocks,
// carrying the section title forward across pages that define none.
func (c *Chunker) collectBlocks(pages []loader.Page) []block {
	var blocks []block
	section := ""

	for _, p := range pages {
		if p.SectionTitle != "" {
			section = p.SectionTitle
		}
		text := p.Text
		for {
			open := strings.Index(text, loader.TableOpen)
			if open < 0 {
				blocks = appendProse(blocks, text, p.Number, section)
				break
			}
			closeIdx := strings.Index(text[open:], loader.TableClose)
			if closeIdx < 0 {
				// Unterminated marker: treat the rest as prose.
				blocks = appendProse(blocks, text, p.Number, section)
				break
			}
			end := open + closeIdx + len(loader.TableClose)

			blocks = appendProse(blocks, text[:open], p.Number, section)
			blocks = append(blocks, block{text: text[open:end], page: p.Number, section: section, isTable: true})
			text = text[end:]
		}
	}
	return blocks
}

func appendProse(blocks []block, text string, page int, section string) []block {
	if strings.TrimSpace(text) == "" {
		return blocks
	}
	return append(blocks, block{text: strings.Trim(text, "\n"), page: page, section: section})
}

// overlapCarry is the tail of the previous prose chunk, prepended verbatim
// to the next one. Its page is the page of its first character, which
// becomes the next chunk's page when overlap crosses a page boundary.
type overlapCarry struct {
	text string
	page int
}

// chunkProse splits one prose block and packs the segments into chunks of
// at most chunkSize characters with the configured overlap between
// neighbors. The overlap tail of the final chunk is handed back through
// carry so a following prose block continues it across the page boundary.
func (c *Chunker) chunkProse(b block, carry *overlapCarry) []Piece {
	segments := splitRecursive(b.text, c.chunkSize, separators)

	var pieces []Piece
	var cur strings.Builder
	curPage := b.page
	// fresh is true once cur holds material not yet emitted in any chunk;
	// a bare overlap tail alone never becomes a chunk of its own.
	fresh := false

	if carry.text != "" {
		cur.WriteString(carry.text)
		cur.WriteByte('\n')
		curPage = carry.page
		carry.text = ""
	}

	for _, seg := range segments {
		if cur.Len() > 0 && cur.Len()+len(seg) > c.chunkSize {
			if fresh {
				pieces = append(pieces, Piece{
					Text:         strings.TrimSpace(cur.String()),
					PageNumber:   curPage,
					SectionTitle: b.section,
				})
				tail := overlapTail(cur.String(), c.overlap)
				cur.Reset()
				cur.WriteString(tail)
				curPage = b.page
				fresh = false
			}
			// A near-budget segment after the overlap tail: sacrifice the
			// overlap rather than exceed the chunk budget.
			if cur.Len()+len(seg) > c.chunkSize {
				cur.Reset()
			}
		}
		if cur.Len() == 0 {
			curPage = b.page
		}
		cur.WriteString(seg)
		fresh = true
	}

	if fresh && strings.TrimSpace(cur.String()) != "" {
		pieces = append(pieces, Piece{
			Text:         strings.TrimSpace(cur.String()),
			PageNumber:   curPage,
			SectionTitle: b.section,
		})
		carry.text = overlapTail(cur.String(), c.overlap)
		carry.page = b.page
	}

	return pieces
}

// overlapTail returns the last n characters of text, snapped forward to a
// rune boundary so the overlap region is valid UTF-8 and appears verbatim
// in both neighbors.
func overlapTail(text string, n int) string {
	if n <= 0 || len(text) <= n {
		if n <= 0 {
			return ""
		}
		return text
	}
	cut := len(text) - n
	for cut < len(text) && !isRuneStart(text[cut]) {
		cut++
	}
	return text[cut:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// splitRecursive cuts text into segments no longer than budget. It tries
// each separator in order, keeping the separator attached to the preceding
// segment; pieces still over budget recurse into finer separators, and a
// hard cut is the last resort.
func splitRecursive(text string, budget int, seps []string) []string {
	if len(text) <= budget {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardSplit(text, budget)
	}

	parts := splitKeep(text, seps[0])
	if len(parts) == 1 {
		// Separator absent; try the next one.
		return splitRecursive(text, budget, seps[1:])
	}

	var out []string
	for _, p := range parts {
		if len(p) <= budget {
			out = append(out, p)
		} else {
			out = append(out, splitRecursive(p, budget, seps[1:])...)
		}
	}
	return out
}

// splitKeep splits on sep, keeping sep at the end of each piece so that
// concatenating the pieces reproduces the input exactly.
func splitKeep(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	// SplitAfter can leave a trailing empty piece when text ends with sep.
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// hardSplit cuts at budget boundaries, never inside a UTF-8 sequence.
func hardSplit(text string, budget int) []string {
	var out []string
	for len(text) > budget {
		cut := budget
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = budget
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// chunkTable emits a table block as one chunk when it fits the table
// budget, otherwise splits it on row boundaries, repeating the header row
// in every piece.
func (c *Chunker) chunkTable(b block) []Piece {
	budget := c.tableChunkSize
	if !c.keepTablesIntact {
		budget = c.chunkSize
	}

	if len(b.text) <= budget {
		return []Piece{{
			Text:         strings.TrimSpace(b.text),
			PageNumber:   b.page,
			SectionTitle: b.section,
			HasTable:     true,
		}}
	}

	header, rows := tableRows(b.text)
	frame := len(loader.TableOpen) + len(loader.TableClose) + len(header) + 3 // newlines

	var pieces []Piece
	var cur []string
	flush := func() {
		if len(cur) == 0 {
			return
		}
		text := loader.TableOpen + "\n" + header + "\n" + strings.Join(cur, "\n") + "\n" + loader.TableClose
		pieces = append(pieces, Piece{
			Text:         text,
			PageNumber:   b.page,
			SectionTitle: b.section,
			HasTable:     true,
		})
		cur = nil
	}

	size := frame
	for _, row := range rows {
		if len(cur) > 0 && size+len(row)+1 > budget {
			flush()
			size = frame
		}
		cur = append(cur, row)
		size += len(row) + 1
	}
	flush()

	return pieces
}

// tableRows strips the [Table] frame and returns the header row and the
// remaining data rows.
func tableRows(text string) (header string, rows []string) {
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, loader.TableOpen)
	body = strings.TrimSuffix(body, loader.TableClose)
	body = strings.Trim(body, "\n")

	lines := strings.Split(body, "\n")
	if len(lines) == 0 {
		return "", nil
	}
	return lines[0], lines[1:]
}
