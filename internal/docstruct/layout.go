package docstruct

import (
	"sort"
	"strings"

	"cardispatch/internal"
)

type line struct {
	page   int
	column int
	tokens []Token
	bbox   internal.BBox
	text   string
}

// clusterLines groups tokens into lines: sorted by (page, top, x0), a token
// joins the current line while its top stays within yTol of the line's top.
func clusterLines(tokens []Token, yTol float64) []line {
	if len(tokens) == 0 {
		return nil
	}
	sorted := make([]Token, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.BBox.Y0 != b.BBox.Y0 {
			return a.BBox.Y0 < b.BBox.Y0
		}
		return a.BBox.X0 < b.BBox.X0
	})

	lines := make([]line, 0, len(sorted)/4)
	cur := line{page: sorted[0].Page, tokens: []Token{sorted[0]}, bbox: sorted[0].BBox}
	for _, t := range sorted[1:] {
		if t.Page == cur.page && t.BBox.Y0-cur.bbox.Y0 <= yTol {
			cur.tokens = append(cur.tokens, t)
			cur.bbox = cur.bbox.Union(t.BBox)
			continue
		}
		lines = append(lines, finishLine(cur))
		cur = line{page: t.Page, tokens: []Token{t}, bbox: t.BBox}
	}
	lines = append(lines, finishLine(cur))
	return lines
}

func finishLine(l line) line {
	sort.SliceStable(l.tokens, func(i, j int) bool {
		return l.tokens[i].BBox.X0 < l.tokens[j].BBox.X0
	})
	parts := make([]string, 0, len(l.tokens))
	for _, t := range l.tokens {
		parts = append(parts, t.Text)
	}
	l.text = strings.Join(parts, " ")
	return l
}

// columnSplits finds vertical split positions for one page: distinct line
// start positions are sorted and a gap wider than gapRatio of the page width
// marks a column boundary. No gap means a single column.
func columnSplits(lines []line, pageWidth, gapRatio float64) []float64 {
	if len(lines) < 2 || pageWidth <= 0 {
		return nil
	}
	xs := make([]float64, 0, len(lines))
	for _, l := range lines {
		xs = append(xs, l.bbox.X0)
	}
	sort.Float64s(xs)

	minGap := pageWidth * gapRatio
	var splits []float64
	for i := 1; i < len(xs); i++ {
		if xs[i]-xs[i-1] > minGap {
			splits = append(splits, (xs[i]+xs[i-1])/2)
		}
	}
	return splits
}

func columnFor(x float64, splits []float64) int {
	col := 0
	for _, s := range splits {
		if x > s {
			col++
		}
	}
	return col
}

// assemble turns raw tokens into ordered text blocks: lines are clustered,
// columns detected per page, and consecutive lines within a column merged
// until a vertical gap exceeds blockGap. Reading order runs page by page,
// column by column, top to bottom.
func assemble(tokens []Token, pages []internal.PageDim, yTol, gapRatio, blockGap float64) ([]internal.TextBlock, string) {
	lines := clusterLines(tokens, yTol)

	byPage := make(map[int][]line)
	for _, l := range lines {
		byPage[l.page] = append(byPage[l.page], l)
	}

	var blocks []internal.TextBlock
	for page := 0; page < len(pages); page++ {
		pageLines := byPage[page]
		if len(pageLines) == 0 {
			continue
		}
		splits := columnSplits(pageLines, pages[page].Width, gapRatio)
		for i := range pageLines {
			pageLines[i].column = columnFor(pageLines[i].bbox.X0, splits)
		}
		sort.SliceStable(pageLines, func(i, j int) bool {
			if pageLines[i].column != pageLines[j].column {
				return pageLines[i].column < pageLines[j].column
			}
			return pageLines[i].bbox.Y0 < pageLines[j].bbox.Y0
		})

		var cur []line
		flush := func() {
			if len(cur) > 0 {
				blocks = append(blocks, blockFromLines(cur, page))
			}
			cur = nil
		}
		for _, l := range pageLines {
			if len(cur) > 0 {
				prev := cur[len(cur)-1]
				if l.column != prev.column || l.bbox.Y0-prev.bbox.Y1 > blockGap {
					flush()
				}
			}
			cur = append(cur, l)
		}
		flush()
	}

	raw := make([]string, 0, len(blocks))
	for i := range blocks {
		blocks[i].ID = i
		blocks[i].ReadingOrder = i
		raw = append(raw, blocks[i].Text)
	}
	return blocks, strings.Join(raw, "\n")
}

func blockFromLines(lines []line, page int) internal.TextBlock {
	bbox := lines[0].bbox
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		bbox = bbox.Union(l.bbox)
		parts = append(parts, l.text)
	}
	text := strings.Join(parts, "\n")
	return internal.TextBlock{
		PageIndex:   page,
		Text:        text,
		BBox:        bbox,
		ColumnIndex: lines[0].column,
		Type:        blockType(lines),
	}
}

func blockType(lines []line) internal.BlockType {
	if len(lines) != 1 {
		return internal.BlockText
	}
	t := lines[0].text
	if len(strings.Fields(t)) <= 4 && t == strings.ToUpper(t) && strings.IndexFunc(t, isLetter) >= 0 {
		return internal.BlockHeading
	}
	return internal.BlockText
}

func isLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}
