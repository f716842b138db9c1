package docstruct

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"cardispatch/internal"
)

// parseHOCR extracts word tokens from Tesseract hOCR output. Coordinates in
// hOCR are image pixels; scale converts them back to page points.
func parseHOCR(hocr string, page int, scale float64) ([]Token, error) {
	doc, err := html.Parse(strings.NewReader(hocr))
	if err != nil {
		return nil, err
	}

	var tokens []Token
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "ocrx_word") {
			box, ok := bboxFromTitle(attr(n, "title"), scale)
			text := strings.TrimSpace(nodeText(n))
			if ok && text != "" && box.Valid() {
				tokens = append(tokens, Token{Page: page, Text: text, BBox: box})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return tokens, nil
}

// bboxFromTitle parses the hOCR title property list, e.g.
// "bbox 369 180 486 220; x_wconf 95".
func bboxFromTitle(title string, scale float64) (internal.BBox, bool) {
	for _, part := range strings.Split(title, ";") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) != 5 || fields[0] != "bbox" {
			continue
		}
		vals := make([]float64, 4)
		for i := 0; i < 4; i++ {
			n, err := strconv.Atoi(fields[i+1])
			if err != nil {
				return internal.BBox{}, false
			}
			vals[i] = float64(n) * scale
		}
		return internal.BBox{X0: vals[0], Y0: vals[1], X1: vals[2], Y1: vals[3]}, true
	}
	return internal.BBox{}, false
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
	}
	return b.String()
}
