package docstruct

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	pdf "github.com/ledongthuc/pdf"

	"cardispatch/internal"
)

type Options struct {
	YTolerance     float64
	ColumnGapRatio float64
	BlockGapPts    float64
	MinWords       int
	MinChars       int
}

func (o Options) withDefaults() Options {
	if o.YTolerance <= 0 {
		o.YTolerance = 3.0
	}
	if o.ColumnGapRatio <= 0 {
		o.ColumnGapRatio = 0.15
	}
	if o.BlockGapPts <= 0 {
		o.BlockGapPts = 14.0
	}
	if o.MinWords <= 0 {
		o.MinWords = 20
	}
	if o.MinChars <= 0 {
		o.MinChars = 100
	}
	return o
}

// Structurer turns a PDF into an immutable DocumentStructure. A nil OCR
// engine disables the OCR path; the needs_ocr flag is still reported.
type Structurer struct {
	opts Options
	ocr  OCREngine
}

func New(opts Options, ocr OCREngine) *Structurer {
	return &Structurer{opts: opts.withDefaults(), ocr: ocr}
}

func (s *Structurer) StructureFile(ctx context.Context, path string) (internal.DocumentStructure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return internal.DocumentStructure{}, &internal.IngestError{Path: path, Err: err}
	}
	return s.structure(ctx, data, path)
}

func (s *Structurer) StructureBytes(ctx context.Context, data []byte) (internal.DocumentStructure, error) {
	return s.structure(ctx, data, "")
}

func (s *Structurer) structure(ctx context.Context, data []byte, path string) (doc internal.DocumentStructure, err error) {
	// The pdf reader panics on some malformed files; an unreadable document
	// is a terminal ingest_error either way.
	defer func() {
		if r := recover(); r != nil {
			doc = internal.DocumentStructure{}
			err = &internal.IngestError{Path: path, Err: fmt.Errorf("pdf reader: %v", r)}
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return internal.DocumentStructure{}, &internal.IngestError{Path: path, Err: err}
	}

	tokens, pages := nativeTokens(r)
	chars := 0
	perPage := make([]int, len(pages))
	for _, t := range tokens {
		chars += len(t.Text)
		if t.Page >= 0 && t.Page < len(perPage) {
			perPage[t.Page]++
		}
	}

	needsOCR := len(tokens) <= s.opts.MinWords || chars < s.opts.MinChars
	var emptyPages []int
	for i, n := range perPage {
		if n == 0 {
			emptyPages = append(emptyPages, i)
		}
	}

	mode := internal.TextModeNative
	switch {
	case needsOCR && s.ocr != nil:
		all := make([]int, len(pages))
		for i := range all {
			all[i] = i
		}
		if ocrTokens, ocrErr := s.recognize(ctx, data, path, all); ocrErr == nil {
			tokens = ocrTokens
			mode = internal.TextModeOCR
		}
	case !needsOCR && len(emptyPages) > 0 && s.ocr != nil:
		if ocrTokens, ocrErr := s.recognize(ctx, data, path, emptyPages); ocrErr == nil {
			tokens = append(tokens, ocrTokens...)
			mode = internal.TextModeHybrid
			needsOCR = true
		}
	}

	blocks, raw := assemble(tokens, pages, s.opts.YTolerance, s.opts.ColumnGapRatio, s.opts.BlockGapPts)
	return internal.DocumentStructure{
		RawText:   raw,
		Blocks:    blocks,
		Pages:     pages,
		PageCount: len(pages),
		TextMode:  mode,
		NeedsOCR:  needsOCR,
	}, nil
}

// recognize runs the OCR engine, materializing a temp file when the document
// arrived as bytes. OCR failure (including timeout) is recoverable; the
// caller keeps the native text.
func (s *Structurer) recognize(ctx context.Context, data []byte, path string, pages []int) ([]Token, error) {
	if path == "" {
		tmp, err := os.CreateTemp("", "cardispatch-*.pdf")
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return nil, err
		}
		tmp.Close()
		path = tmp.Name()
	} else if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return s.ocr.RecognizePages(ctx, path, pages)
}
