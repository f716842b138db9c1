package docstruct

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/otiai10/gosseract/v2"
)

// OCREngine recovers word tokens with coordinates from scanned pages.
// Implementations must honor ctx cancellation; a timed-out run is recoverable
// and the caller falls back to native text.
type OCREngine interface {
	RecognizePages(ctx context.Context, pdfPath string, pages []int) ([]Token, error)
}

// Tesseract rasterizes pages with an external pdftoppm binary and runs
// gosseract over the page images, reading word boxes from hOCR output.
type Tesseract struct {
	Binary   string
	Language string
	DPI      int
	Timeout  time.Duration
}

func NewTesseract(binary, language string, dpi int, timeout time.Duration) *Tesseract {
	if binary == "" {
		binary = "pdftoppm"
	}
	if language == "" {
		language = "eng"
	}
	if dpi <= 0 {
		dpi = 200
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Tesseract{Binary: binary, Language: language, DPI: dpi, Timeout: timeout}
}

func (t *Tesseract) RecognizePages(ctx context.Context, pdfPath string, pages []int) ([]Token, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "cardispatch-ocr-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(t.Language); err != nil {
		return nil, fmt.Errorf("ocr language %s: %w", t.Language, err)
	}

	scale := 72.0 / float64(t.DPI)
	var tokens []Token
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := t.rasterize(ctx, dir, pdfPath, page)
		if err != nil {
			return nil, err
		}
		if err := client.SetImage(img); err != nil {
			return nil, fmt.Errorf("ocr page %d: %w", page, err)
		}
		hocr, err := client.HOCRText()
		if err != nil {
			return nil, fmt.Errorf("ocr page %d: %w", page, err)
		}
		pageTokens, err := parseHOCR(hocr, page, scale)
		if err != nil {
			return nil, fmt.Errorf("ocr page %d hocr: %w", page, err)
		}
		tokens = append(tokens, pageTokens...)
	}

	return tokens, nil
}

// rasterize renders a single page to PNG. Page numbers are zero-based here,
// pdftoppm counts from 1.
func (t *Tesseract) rasterize(ctx context.Context, dir, pdfPath string, page int) (string, error) {
	prefix := filepath.Join(dir, "p"+strconv.Itoa(page))
	n := strconv.Itoa(page + 1)
	cmd := exec.CommandContext(ctx, t.Binary,
		"-r", strconv.Itoa(t.DPI),
		"-png", "-f", n, "-l", n,
		pdfPath, prefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("rasterize page %d: %w (%s)", page, err, string(out))
	}

	matches, err := filepath.Glob(prefix + "*.png")
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("rasterize page %d: no output image", page)
	}
	sort.Strings(matches)
	return matches[0], nil
}
