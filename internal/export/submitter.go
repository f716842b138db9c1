package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"cardispatch/internal"
	"cardispatch/internal/config"
	"cardispatch/internal/reconcile"
	"cardispatch/internal/storage"
)

// errAborted marks an export abandoned because the record left READY/RETRY
// while attempts were in flight. The record keeps whatever status the
// operator gave it.
var errAborted = errors.New("export aborted")

// marketplaceAPI is the slice of Client the submitter needs; tests supply a
// fake.
type marketplaceAPI interface {
	CreateListing(ctx context.Context, listing Listing) (*ListingResponse, error)
	UpdateListing(ctx context.Context, externalID, etag string, listing Listing) (*ListingResponse, error)
	GetListingETag(ctx context.Context, externalID string) (string, error)
}

// Submitter drives READY and RETRY records through the marketplace API. The
// semaphore is process-wide so parallel export calls share one in-flight cap.
type Submitter struct {
	db   *storage.DB
	recs *reconcile.Service
	api  marketplaceAPI
	log  *zap.Logger

	sem         *semaphore.Weighted
	maxAttempts int
	windowDays  int

	sleep func(time.Duration)
	now   func() time.Time
}

func NewSubmitter(db *storage.DB, recs *reconcile.Service, client *Client, cfg config.Config, log *zap.Logger) *Submitter {
	concurrency := cfg.ExportConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	attempts := cfg.ExportMaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Submitter{
		db:          db,
		recs:        recs,
		api:         client,
		log:         log,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		maxAttempts: attempts,
		windowDays:  cfg.ListingWindowDays,
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

// Export submits one record. Validation failures and terminal API failures
// move the record to ERROR with the reason in status history; the record is
// otherwise left untouched so an operator can retry it.
func (s *Submitter) Export(ctx context.Context, dispatchID string) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	rec, err := s.recs.Get(ctx, dispatchID)
	if err != nil {
		return err
	}
	if !exportable(rec.Status) {
		return fmt.Errorf("dispatch %s is %s, not exportable", dispatchID, rec.Status)
	}

	if err := ValidateReady(rec, s.now(), s.windowDays); err != nil {
		if markErr := s.recs.MarkExportError(ctx, dispatchID, err.Error()); markErr != nil {
			return markErr
		}
		return err
	}

	listing := BuildListing(rec)
	resp, err := s.submit(ctx, rec, listing)
	if err != nil {
		var apiErr *internal.APIError
		note := err.Error()
		if errors.As(err, &apiErr) {
			note = fmt.Sprintf("%s (status %d)", apiErr.Kind, apiErr.StatusCode)
		}
		if ctx.Err() != nil || errors.Is(err, errAborted) {
			// Cancelled mid-flight; leave the record where it is.
			return err
		}
		if markErr := s.recs.MarkExportError(ctx, dispatchID, note); markErr != nil {
			return markErr
		}
		return err
	}

	if err := s.recs.MarkExported(ctx, dispatchID, resp.ID, resp.ETag); err != nil {
		return err
	}
	s.log.Info("listing exported",
		zap.String("dispatchId", dispatchID),
		zap.String("externalId", resp.ID))
	return nil
}

// submit runs the attempt loop: Retry-After or exponential backoff for rate
// limits and 5xx, one etag refetch for a stale update, immediate surface for
// auth failures. Record status is re-checked before every attempt so a
// cancelled record is never retried.
func (s *Submitter) submit(ctx context.Context, rec *internal.DispatchRecord, listing Listing) (*ListingResponse, error) {
	etag := ""
	if rec.ExternalETag != nil {
		etag = *rec.ExternalETag
	}
	refetched := false

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current, err := s.recs.Get(ctx, rec.DispatchID)
		if err != nil {
			return nil, err
		}
		if !exportable(current.Status) {
			return nil, fmt.Errorf("%w: dispatch %s is now %s", errAborted, rec.DispatchID, current.Status)
		}

		var resp *ListingResponse
		if rec.ExternalID != nil && *rec.ExternalID != "" {
			resp, err = s.api.UpdateListing(ctx, *rec.ExternalID, etag, listing)
		} else {
			resp, err = s.api.CreateListing(ctx, listing)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var apiErr *internal.APIError
		if !errors.As(err, &apiErr) {
			return nil, err
		}

		switch apiErr.Kind {
		case internal.APIAuthError:
			return nil, err
		case internal.APIConflictStale:
			if refetched || rec.ExternalID == nil {
				return nil, err
			}
			refetched = true
			etag, err = s.api.GetListingETag(ctx, *rec.ExternalID)
			if err != nil {
				return nil, err
			}
			// The refetch itself does not consume an attempt.
			attempt--
		case internal.APIRateLimited:
			if attempt == s.maxAttempts {
				return nil, err
			}
			wait := apiErr.RetryAfter
			if wait <= 0 {
				wait = backoffFor(attempt)
			}
			s.log.Warn("rate limited, backing off",
				zap.String("dispatchId", rec.DispatchID),
				zap.Duration("wait", wait))
			s.sleep(wait)
		case internal.APIServerError:
			if attempt == s.maxAttempts {
				return nil, err
			}
			s.sleep(backoffFor(attempt))
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

// ExportReady fans out every READY and RETRY record through Export under the
// shared semaphore. Per-record failures are logged and counted, not fatal to
// the batch.
func (s *Submitter) ExportReady(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	for _, status := range []internal.RowStatus{internal.StatusReady, internal.StatusRetry} {
		batch, err := s.db.ListDispatchesByStatus(ctx, status, limit-len(ids))
		if err != nil {
			return 0, err
		}
		ids = append(ids, batch...)
		if len(ids) >= limit {
			break
		}
	}

	var g errgroup.Group
	results := make([]error, len(ids))
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = s.Export(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	exported := 0
	for i, err := range results {
		if err != nil {
			s.log.Warn("export failed", zap.String("dispatchId", ids[i]), zap.Error(err))
			continue
		}
		exported++
	}
	return exported, nil
}

// Validator returns the READY-gate check bound to this submitter's clock and
// listing window, for use by the status transition service.
func (s *Submitter) Validator() reconcile.Validator {
	return func(rec *internal.DispatchRecord) error {
		return ValidateReady(rec, s.now(), s.windowDays)
	}
}

func exportable(status internal.RowStatus) bool {
	return status == internal.StatusReady || status == internal.StatusRetry
}

func backoffFor(attempt int) time.Duration {
	return time.Duration(2<<(attempt-1)) * time.Second
}
