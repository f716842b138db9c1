package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cardispatch/internal"
	"cardispatch/internal/config"
	"cardispatch/internal/docstruct"
	"cardispatch/internal/extract"
	"cardispatch/internal/profile"
	"cardispatch/internal/reconcile"
	"cardispatch/internal/storage"
)

// structurer abstracts docstruct.Structurer so tests can feed canned
// documents.
type structurer interface {
	StructureBytes(ctx context.Context, data []byte) (internal.DocumentStructure, error)
}

// Result summarizes one document run end to end.
type Result struct {
	TraceID        string
	DispatchID     string
	Classification internal.Classification
	TextMode       internal.TextMode
	NeedsOCR       bool
	Report         internal.UpsertReport
	MissingFields  []string
}

// Service wires the structurer, classifier, extraction engine and
// reconciliation into the single-document ingestion path and the directory
// fan-out.
type Service struct {
	cfg     config.Config
	log     *zap.Logger
	structr structurer
	catalog *profile.Catalog
	engine  *extract.Engine
	recs    *reconcile.Service
	db      *storage.DB
}

func NewService(cfg config.Config, log *zap.Logger, db *storage.DB, recs *reconcile.Service, catalog *profile.Catalog) *Service {
	ocr := docstruct.NewTesseract(cfg.OCRBinary, cfg.OCRLanguage, cfg.OCRDPI, time.Duration(cfg.OCRTimeoutSec)*time.Second)
	structr := docstruct.New(docstruct.Options{
		YTolerance:     cfg.LineYTolerance,
		ColumnGapRatio: cfg.ColumnGapRatio,
		BlockGapPts:    cfg.BlockGapPts,
		MinWords:       cfg.OCRMinWords,
		MinChars:       cfg.OCRMinChars,
	}, ocr)
	return &Service{
		cfg:     cfg,
		log:     log,
		structr: structr,
		catalog: catalog,
		engine:  extract.New(),
		recs:    recs,
		db:      db,
	}
}

func (s *Service) IngestFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &internal.IngestError{Path: path, Err: err}
	}
	return s.ingest(ctx, data, path)
}

func (s *Service) IngestBytes(ctx context.Context, data []byte) (*Result, error) {
	return s.ingest(ctx, data, "(bytes)")
}

func (s *Service) ingest(ctx context.Context, data []byte, path string) (*Result, error) {
	traceID := uuid.NewString()
	log := s.log.With(zap.String("traceId", traceID), zap.String("path", path))
	started := time.Now()
	timings := map[string]float64{}
	var diagnostics []string

	doc, err := s.structr.StructureBytes(ctx, data)
	if err != nil {
		var ingErr *internal.IngestError
		if errors.As(err, &ingErr) {
			log.Error("document unreadable", zap.Error(err))
			return nil, err
		}
		return nil, &internal.IngestError{Path: path, Err: err}
	}
	timings["structure_ms"] = msSince(started)
	if doc.NeedsOCR {
		diagnostics = append(diagnostics, "needs_ocr")
	}

	classifyStart := time.Now()
	cls := s.catalog.Classify(doc.RawText)
	timings["classify_ms"] = msSince(classifyStart)

	prof, ok := s.catalog.Get(cls.AuctionType)
	if !ok {
		prof = s.catalog.Generic()
		diagnostics = append(diagnostics, "generic_profile")
	}
	if cls.NeedsClassification {
		diagnostics = append(diagnostics, "classification_uncertain")
	}
	log.Info("document classified",
		zap.String("auctionType", cls.AuctionType),
		zap.Float64("confidence", cls.Confidence),
		zap.String("textMode", string(doc.TextMode)))

	extractStart := time.Now()
	now := time.Now().UTC()
	fields := s.engine.Extract(doc, prof, internal.RequiredFieldKeys, now)
	timings["extract_ms"] = msSince(extractStart)

	var missing []string
	for _, key := range prof.GuaranteedFields {
		if fields[key].Empty() {
			missing = append(missing, key)
			diagnostics = append(diagnostics, "missing_required:"+key)
		}
	}

	auctionType := cls.AuctionType
	if auctionType == internal.AuctionUnknown {
		auctionType = prof.AuctionType
	}
	if fields[internal.FieldGatePass].Empty() && fields[internal.FieldAuctionLot].Empty() && fields[internal.FieldVIN].Empty() {
		diagnostics = append(diagnostics, "content_hash_identity")
	}

	rec, report, err := s.recs.Ingest(ctx, auctionType, fields, contentKey(data), now)
	if err != nil {
		return nil, err
	}
	timings["total_ms"] = msSince(started)

	run := storage.RunRow{
		TraceID:             traceID,
		DispatchID:          rec.DispatchID,
		AuctionType:         auctionType,
		TextMode:            doc.TextMode,
		NeedsOCR:            doc.NeedsOCR,
		NeedsClassification: cls.NeedsClassification,
		Timings:             timings,
		Counts: map[string]int{
			"pages":   doc.PageCount,
			"blocks":  len(doc.Blocks),
			"updated": len(report.Updated),
			"skipped": len(report.Skipped),
			"missing": len(missing),
		},
		Diagnostics: diagnostics,
	}
	if err := s.db.InsertRun(ctx, run); err != nil {
		log.Warn("run row not recorded", zap.Error(err))
	}

	log.Info("document ingested",
		zap.String("dispatchId", rec.DispatchID),
		zap.String("action", string(report.Action)),
		zap.Int("updated", len(report.Updated)),
		zap.Strings("missing", missing))

	return &Result{
		TraceID:        traceID,
		DispatchID:     rec.DispatchID,
		Classification: cls,
		TextMode:       doc.TextMode,
		NeedsOCR:       doc.NeedsOCR,
		Report:         report,
		MissingFields:  missing,
	}, nil
}

// IngestDir processes every PDF under dir concurrently. A document that
// fails does not stop the batch; failures are logged and counted.
func (s *Service) IngestDir(ctx context.Context, dir string) (processed, failed int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}

	var g errgroup.Group
	limit := s.cfg.IngestConcurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	var mu sync.Mutex
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		g.Go(func() error {
			_, ingestErr := s.IngestFile(ctx, path)
			mu.Lock()
			if ingestErr != nil {
				failed++
			} else {
				processed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return processed, failed, nil
}

func contentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
