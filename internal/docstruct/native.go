package docstruct

import (
	"math"

	pdf "github.com/ledongthuc/pdf"

	"cardispatch/internal"
)

// Token is one word with page coordinates in points, top-left origin.
type Token struct {
	Page int
	Text string
	BBox internal.BBox
}

const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
	minGlyphHeight    = 6.0
)

func nativeTokens(r *pdf.Reader) ([]Token, []internal.PageDim) {
	tokens := make([]Token, 0, 256)
	pages := make([]internal.PageDim, 0, r.NumPage())

	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		dim := pageDim(p)
		pages = append(pages, dim)
		if p.V.IsNull() {
			continue
		}
		content := p.Content()
		tokens = append(tokens, wordsFromTexts(content.Text, i-1, dim.Height)...)
	}

	return tokens, pages
}

func pageDim(p pdf.Page) internal.PageDim {
	dim := internal.PageDim{Width: defaultPageWidth, Height: defaultPageHeight}
	if p.V.IsNull() {
		return dim
	}
	mb := p.V.Key("MediaBox")
	if mb.IsNull() || mb.Len() < 4 {
		return dim
	}
	w := mb.Index(2).Float64() - mb.Index(0).Float64()
	h := mb.Index(3).Float64() - mb.Index(1).Float64()
	if w > 0 && h > 0 {
		dim.Width, dim.Height = w, h
	}
	return dim
}

// wordsFromTexts merges the reader's per-glyph text runs into word tokens.
// PDF coordinates are bottom-left origin; output is top-left.
func wordsFromTexts(texts []pdf.Text, pageIndex int, pageHeight float64) []Token {
	out := make([]Token, 0, len(texts)/4)

	var cur *Token
	var curEnd, curBaseline, curSize float64

	flush := func() {
		if cur != nil && cur.Text != "" {
			out = append(out, *cur)
		}
		cur = nil
	}

	for _, t := range texts {
		if isSpace(t.S) {
			flush()
			continue
		}
		size := t.FontSize
		if size < minGlyphHeight {
			size = minGlyphHeight
		}
		box := internal.BBox{
			X0: t.X,
			Y0: pageHeight - t.Y - size,
			X1: t.X + t.W,
			Y1: pageHeight - t.Y,
		}
		if box.X1 <= box.X0 {
			box.X1 = box.X0 + size*0.5
		}

		sameBaseline := cur != nil && math.Abs(t.Y-curBaseline) <= 0.5
		gap := t.X - curEnd
		joinable := sameBaseline && gap >= -0.5 && gap <= maxWordGap(curSize)

		if joinable {
			cur.Text += t.S
			cur.BBox = cur.BBox.Union(box)
		} else {
			flush()
			cur = &Token{Page: pageIndex, Text: t.S, BBox: box}
			curBaseline = t.Y
			curSize = size
		}
		curEnd = box.X1
	}
	flush()

	return out
}

func maxWordGap(fontSize float64) float64 {
	g := fontSize * 0.25
	if g < 1.0 {
		g = 1.0
	}
	return g
}

func isSpace(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' && r != ' ' {
			return false
		}
	}
	return true
}
