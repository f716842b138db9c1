package docstruct

import (
	"strings"
	"testing"

	"cardispatch/internal"
)

func tok(page int, text string, x0, y0, x1, y1 float64) Token {
	return Token{Page: page, Text: text, BBox: internal.BBox{X0: x0, Y0: y0, X1: x1, Y1: y1}}
}

func TestClusterLinesGroupsByTop(t *testing.T) {
	tokens := []Token{
		tok(0, "VIN:", 50, 100, 80, 110),
		tok(0, "1HGCM82633A123456", 90, 101.5, 220, 111),
		tok(0, "Lot", 50, 130, 70, 140),
	}
	lines := clusterLines(tokens, 3.0)
	if len(lines) != 2 {
		t.Fatalf("lines=%d, want 2", len(lines))
	}
	if lines[0].text != "VIN: 1HGCM82633A123456" {
		t.Fatalf("line text %q", lines[0].text)
	}
}

func TestColumnSplitDetection(t *testing.T) {
	// Two columns on a 612pt page: starts at 40 and 340, gap 300 > 15%.
	var tokens []Token
	for i := 0; i < 5; i++ {
		y := float64(100 + i*20)
		tokens = append(tokens, tok(0, "left", 40, y, 120, y+10))
		tokens = append(tokens, tok(0, "right", 340, y, 420, y+10))
	}
	pages := []internal.PageDim{{Width: 612, Height: 792}}
	blocks, _ := assemble(tokens, pages, 3.0, 0.15, 14.0)

	if len(blocks) != 2 {
		t.Fatalf("blocks=%d, want 2 (one per column)", len(blocks))
	}
	if blocks[0].ColumnIndex != 0 || blocks[1].ColumnIndex != 1 {
		t.Fatalf("columns %d,%d", blocks[0].ColumnIndex, blocks[1].ColumnIndex)
	}
	// Left column reads before right regardless of interleaved y positions.
	if !strings.Contains(blocks[0].Text, "left") || !strings.Contains(blocks[1].Text, "right") {
		t.Fatalf("column text mixed: %q / %q", blocks[0].Text, blocks[1].Text)
	}
}

func TestReadingOrderAndBBoxInvariants(t *testing.T) {
	tokens := []Token{
		tok(1, "second-page", 40, 50, 120, 60),
		tok(0, "first-page", 40, 700, 120, 710),
		tok(0, "top", 40, 50, 80, 60),
	}
	pages := []internal.PageDim{{Width: 612, Height: 792}, {Width: 612, Height: 792}}
	blocks, raw := assemble(tokens, pages, 3.0, 0.15, 14.0)

	for i, b := range blocks {
		if b.ReadingOrder != i {
			t.Fatalf("block %d reading order %d", i, b.ReadingOrder)
		}
		if !b.BBox.Valid() {
			t.Fatalf("block %d degenerate bbox %+v", i, b.BBox)
		}
	}
	if blocks[0].Text != "top" || blocks[len(blocks)-1].Text != "second-page" {
		t.Fatalf("unexpected order: %q", raw)
	}
}

func TestBlockSplitOnVerticalGap(t *testing.T) {
	tokens := []Token{
		tok(0, "para1-line1", 40, 100, 150, 110),
		tok(0, "para1-line2", 40, 112, 150, 122),
		tok(0, "para2-line1", 40, 200, 150, 210),
	}
	pages := []internal.PageDim{{Width: 612, Height: 792}}
	blocks, _ := assemble(tokens, pages, 3.0, 0.15, 14.0)
	if len(blocks) != 2 {
		t.Fatalf("blocks=%d, want 2", len(blocks))
	}
	if blocks[0].Text != "para1-line1\npara1-line2" {
		t.Fatalf("block text %q", blocks[0].Text)
	}
}

func TestHeadingDetection(t *testing.T) {
	tokens := []Token{
		tok(0, "VEHICLE", 40, 50, 100, 62),
		tok(0, "RELEASE", 105, 50, 160, 62),
	}
	pages := []internal.PageDim{{Width: 612, Height: 792}}
	blocks, _ := assemble(tokens, pages, 3.0, 0.15, 14.0)
	if len(blocks) != 1 || blocks[0].Type != internal.BlockHeading {
		t.Fatalf("blocks=%+v", blocks)
	}
}

func TestPercentBox(t *testing.T) {
	doc := internal.DocumentStructure{
		Pages:  []internal.PageDim{{Width: 612, Height: 792}},
		Blocks: []internal.TextBlock{{PageIndex: 0, BBox: internal.BBox{X0: 61.2, Y0: 79.2, X1: 306, Y1: 396}}},
	}
	pct := doc.PercentBox(doc.Blocks[0])
	if pct.X0 != 10 || pct.Y0 != 10 || pct.X1 != 50 || pct.Y1 != 50 {
		t.Fatalf("pct=%+v", pct)
	}
}
