package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doclens/doclens/internal/config"
	"github.com/doclens/doclens/internal/loader"
)

func testChunker(size, overlap, tableSize int) *Chunker {
	return New(config.ChunkingConfig{
		ChunkSize:        size,
		ChunkOverlap:     overlap,
		TableChunkSize:   tableSize,
		KeepTablesIntact: true,
	})
}

func TestChunkShortPageSingleChunk(t *testing.T) {
	c := testChunker(1024, 200, 2048)
	pages := []loader.Page{{Number: 1, Text: "The backup window is 02:00-04:00 UTC.\n\nRPO is 15 minutes."}}

	pieces, err := c.ChunkPages(pages)
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, 1, pieces[0].PageNumber)
	assert.Contains(t, pieces[0].Text, "02:00-04:00")
	assert.False(t, pieces[0].HasTable)
}

func TestChunkExactlyAtBudgetNotSplit(t *testing.T) {
	c := testChunker(200, 40, 400)
	text := strings.Repeat("a", 200)

	pieces, err := c.ChunkPages([]loader.Page{{Number: 1, Text: text}})
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, text, pieces[0].Text)
}

func TestChunkRespectsBudget(t *testing.T) {
	c := testChunker(300, 60, 600)
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "Sentence number %d carries a bit of filler text. ", i)
	}

	pieces, err := c.ChunkPages([]loader.Page{{Number: 1, Text: sb.String()}})
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p.Text), 300)
		assert.NotEmpty(t, strings.TrimSpace(p.Text))
	}
}

func TestChunkOverlapAppearsInBothNeighbors(t *testing.T) {
	c := testChunker(300, 60, 600)
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "word%03d ", i)
	}
	// Two paragraphs so the paragraph separator wins first.
	text := sb.String() + "\n\n" + sb.String()

	pieces, err := c.ChunkPages([]loader.Page{{Number: 1, Text: text}})
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)

	for i := 1; i < len(pieces); i++ {
		prev, cur := pieces[i-1].Text, pieces[i].Text
		// The head of each chunk is the tail of its predecessor.
		head := cur
		if len(head) > 30 {
			head = head[:30]
		}
		assert.Contains(t, prev, strings.TrimSpace(head),
			"chunk %d should start with overlap from chunk %d", i, i-1)
	}
}

func TestChunkRoundTripReconstruction(t *testing.T) {
	c := testChunker(250, 50, 500)
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&sb, "token%03d ", i)
	}
	original := sb.String()

	pieces, err := c.ChunkPages([]loader.Page{{Number: 1, Text: original}})
	require.NoError(t, err)

	// Strip each chunk's leading overlap (the previous chunk's tail) and
	// concatenate; the result must reproduce the original token stream.
	var rebuilt strings.Builder
	var prev string
	for _, p := range pieces {
		text := p.Text
		if prev != "" {
			// Find the longest suffix of prev that prefixes text.
			for n := min(len(prev), len(text)); n > 0; n-- {
				if strings.HasSuffix(prev, text[:n]) {
					text = text[n:]
					break
				}
			}
		}
		rebuilt.WriteString(text)
		rebuilt.WriteByte(' ')
		prev = p.Text
	}

	normalize := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	assert.Equal(t, normalize(original), normalize(rebuilt.String()))
}

func TestChunkTableKeptIntact(t *testing.T) {
	c := testChunker(200, 40, 2048)
	table := loader.TableOpen + "\nh1 | h2\nv1 | v2\nv3 | v4\n" + loader.TableClose
	text := "Some prose before the table.\n" + table + "\nAnd prose after."

	pieces, err := c.ChunkPages([]loader.Page{{Number: 1, Text: text}})
	require.NoError(t, err)
	require.Len(t, pieces, 3)

	assert.False(t, pieces[0].HasTable)
	assert.True(t, pieces[1].HasTable)
	assert.False(t, pieces[2].HasTable)
	assert.Contains(t, pieces[1].Text, "h1 | h2")
	assert.Contains(t, pieces[1].Text, loader.TableClose)
	assert.NotContains(t, pieces[0].Text, "|")
}

func TestChunkOversizedTableSplitsOnRowsWithHeader(t *testing.T) {
	c := testChunker(200, 40, 300)

	var rows []string
	for i := 0; i < 30; i++ {
		rows = append(rows, fmt.Sprintf("value-%02d | metric-%02d | detail-%02d", i, i, i))
	}
	table := loader.TableOpen + "\ncol-a | col-b | col-c\n" + strings.Join(rows, "\n") + "\n" + loader.TableClose

	pieces, err := c.ChunkPages([]loader.Page{{Number: 2, Text: table}})
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)

	for i, p := range pieces {
		assert.True(t, p.HasTable)
		assert.Equal(t, 2, p.PageNumber)
		assert.True(t, strings.HasPrefix(p.Text, loader.TableOpen), "piece %d keeps the frame", i)
		assert.True(t, strings.HasSuffix(p.Text, loader.TableClose), "piece %d keeps the frame", i)
		assert.Contains(t, p.Text, "col-a | col-b | col-c", "piece %d repeats the header", i)
	}

	// Every data row survives in exactly one piece.
	all := strings.Join(collectTexts(pieces), "\n")
	for _, row := range rows {
		assert.Equal(t, 1, strings.Count(all, row))
	}
}

func TestChunkSectionTitleInherited(t *testing.T) {
	c := testChunker(1024, 200, 2048)
	pages := []loader.Page{
		{Number: 1, Text: "Intro prose on page one.", SectionTitle: "Introduction"},
		{Number: 2, Text: "Continuation prose on page two with no heading."},
	}

	pieces, err := c.ChunkPages(pages)
	require.NoError(t, err)
	for _, p := range pieces {
		assert.Equal(t, "Introduction", p.SectionTitle)
	}
}

func TestChunkPageNumberTracksFirstCharacter(t *testing.T) {
	// No overlap: each page starts its own chunk on its own page.
	c := testChunker(1024, 0, 2048)
	pages := []loader.Page{
		{Number: 1, Text: "Page one prose."},
		{Number: 2, Text: "Page two prose."},
	}

	pieces, err := c.ChunkPages(pages)
	require.NoError(t, err)
	require.Len(t, pieces, 2)
	assert.Equal(t, 1, pieces[0].PageNumber)
	assert.Equal(t, 2, pieces[1].PageNumber)
}

func TestChunkOverlapCrossingPageKeepsEarlierPage(t *testing.T) {
	c := testChunker(300, 60, 600)
	long := strings.Repeat("alpha beta gamma delta. ", 20) // ~480 chars
	pages := []loader.Page{
		{Number: 1, Text: long},
		{Number: 2, Text: "Page two continues the discussion with more prose."},
	}

	pieces, err := c.ChunkPages(pages)
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)

	// The chunk that begins with page one's overlap tail and continues
	// into page two is attributed to page one.
	last := pieces[len(pieces)-1]
	assert.Contains(t, last.Text, "Page two continues")
	assert.Equal(t, 1, last.PageNumber)
}

func TestChunkEmptyPagesFail(t *testing.T) {
	c := testChunker(1024, 200, 2048)
	_, err := c.ChunkPages([]loader.Page{{Number: 1, Text: "   \n  "}})
	require.Error(t, err)
}

func TestSplitRecursiveParagraphFirst(t *testing.T) {
	text := "first paragraph here\n\nsecond paragraph here\n\nthird paragraph here"
	segs := splitRecursive(text, 25, separators)
	for _, s := range segs {
		assert.LessOrEqual(t, len(s), 25)
	}
	assert.Equal(t, text, strings.Join(segs, ""))
}

func TestSplitRecursiveHardCutLastResort(t *testing.T) {
	text := strings.Repeat("x", 95)
	segs := splitRecursive(text, 30, separators)
	assert.Equal(t, text, strings.Join(segs, ""))
	for _, s := range segs {
		assert.LessOrEqual(t, len(s), 30)
	}
}

func TestHardSplitRuneSafe(t *testing.T) {
	text := strings.Repeat("é", 40) // two bytes per rune
	segs := hardSplit(text, 33)
	assert.Equal(t, text, strings.Join(segs, ""))
	for _, s := range segs {
		for _, r := range s {
			assert.NotEqual(t, '�', r)
		}
	}
}

func collectTexts(pieces []Piece) []string {
	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = p.Text
	}
	return out
}
