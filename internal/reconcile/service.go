package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cardispatch/internal"
	"cardispatch/internal/storage"
)

// Validator checks whether a record is complete enough to list. The export
// package supplies the real one; tests inject their own.
type Validator func(rec *internal.DispatchRecord) error

// Service serializes all writes to a dispatch record. Ingestion of the same
// document from two goroutines must not interleave, so every mutation takes
// the record's hash-key mutex first.
type Service struct {
	db  *storage.DB
	log *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(db *storage.DB, log *zap.Logger) *Service {
	return &Service{db: db, log: log, locks: make(map[string]*sync.Mutex)}
}

func (s *Service) keyLock(hashKey string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[hashKey]
	if !ok {
		m = &sync.Mutex{}
		s.locks[hashKey] = m
	}
	return m
}

// Ingest merges one extraction result into storage and returns the per-field
// report. The identity is re-resolved by hash key, so a document seen on a
// later day still lands on its original record.
func (s *Service) Ingest(ctx context.Context, auctionType string, extracted map[string]internal.FieldValue, rawText string, now time.Time) (*internal.DispatchRecord, internal.UpsertReport, error) {
	ident := DeriveIdentity(auctionType, extracted, rawText, now)

	lock := s.keyLock(ident.HashKey)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.db.FindDispatchByHash(ctx, ident.HashKey)
	if err != nil {
		return nil, internal.UpsertReport{}, fmt.Errorf("resolve %s: %w", ident.HashKey, err)
	}

	rec, report := Merge(existing, ident.DispatchID, ident.HashKey, auctionType, extracted, now)
	if err := s.db.SaveDispatch(ctx, &rec); err != nil {
		return nil, internal.UpsertReport{}, fmt.Errorf("save %s: %w", rec.DispatchID, err)
	}

	s.log.Info("dispatch reconciled",
		zap.String("dispatchId", rec.DispatchID),
		zap.String("action", string(report.Action)),
		zap.Int("updated", len(report.Updated)),
		zap.Int("skipped", len(report.Skipped)))
	return &rec, report, nil
}

// ApplyCorrections is the only writer of overrides. Corrections always win
// and never expire; each one also bumps the per-auction field statistic.
func (s *Service) ApplyCorrections(ctx context.Context, dispatchID string, corrections []internal.Correction, now time.Time) (*internal.DispatchRecord, error) {
	rec, err := s.lockedGet(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	lock := s.keyLock(rec.HashKey)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock.
	rec, err = s.db.GetDispatch(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("dispatch not found: %s", dispatchID)
	}

	for _, c := range corrections {
		rec.Overrides[c.FieldKey] = c.CorrectedValue
		if err := s.db.BumpFieldCorrection(ctx, rec.AuctionType, c.FieldKey); err != nil {
			return nil, err
		}
	}
	rec.UpdatedAt = now

	if err := s.db.SaveDispatch(ctx, rec); err != nil {
		return nil, err
	}
	s.log.Info("corrections applied",
		zap.String("dispatchId", dispatchID), zap.Int("count", len(corrections)))
	return rec, nil
}

// SetLocks updates the protection flags. A nil pointer leaves that flag as is.
func (s *Service) SetLocks(ctx context.Context, dispatchID string, lockAll, lockDelivery, lockReleaseNotes *bool, now time.Time) (*internal.DispatchRecord, error) {
	rec, err := s.lockedGet(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	lock := s.keyLock(rec.HashKey)
	lock.Lock()
	defer lock.Unlock()

	rec, err = s.db.GetDispatch(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("dispatch not found: %s", dispatchID)
	}

	if lockAll != nil {
		rec.LockAll = *lockAll
	}
	if lockDelivery != nil {
		rec.LockDelivery = *lockDelivery
	}
	if lockReleaseNotes != nil {
		rec.LockReleaseNotes = *lockReleaseNotes
	}
	rec.UpdatedAt = now

	if err := s.db.SaveDispatch(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SelectWarehouse stamps a warehouse's address and instructions onto the
// record. MANUAL mode additionally shields the delivery group from later
// ingestions.
func (s *Service) SelectWarehouse(ctx context.Context, dispatchID string, warehouseID int, mode internal.WarehouseMode, now time.Time) (*internal.DispatchRecord, internal.UpsertReport, error) {
	wh, err := s.db.GetWarehouse(ctx, warehouseID)
	if err != nil {
		return nil, internal.UpsertReport{}, err
	}

	rec, err := s.lockedGet(ctx, dispatchID)
	if err != nil {
		return nil, internal.UpsertReport{}, err
	}
	lock := s.keyLock(rec.HashKey)
	lock.Lock()
	defer lock.Unlock()

	rec, err = s.db.GetDispatch(ctx, dispatchID)
	if err != nil {
		return nil, internal.UpsertReport{}, err
	}
	if rec == nil {
		return nil, internal.UpsertReport{}, fmt.Errorf("dispatch not found: %s", dispatchID)
	}

	report := ApplyWarehouse(rec, wh, mode, now)
	if err := s.db.SaveDispatch(ctx, rec); err != nil {
		return nil, internal.UpsertReport{}, err
	}
	s.log.Info("warehouse selected",
		zap.String("dispatchId", dispatchID),
		zap.Int("warehouseId", warehouseID),
		zap.String("mode", string(mode)))
	return rec, report, nil
}

// Transition moves a record through the status machine. Entering READY
// re-validates; a validation failure leaves the stored status untouched and
// reports the failure to the caller.
func (s *Service) Transition(ctx context.Context, dispatchID string, to internal.RowStatus, actor, note string, validate Validator) (*internal.DispatchRecord, error) {
	rec, err := s.lockedGet(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	lock := s.keyLock(rec.HashKey)
	lock.Lock()
	defer lock.Unlock()

	rec, err = s.db.GetDispatch(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("dispatch not found: %s", dispatchID)
	}

	from := rec.Status
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if to == internal.StatusReady && validate != nil {
		if err := validate(rec); err != nil {
			return nil, err
		}
	}

	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	if err := s.db.SaveDispatch(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.db.AppendStatusHistory(ctx, dispatchID, from, to, actor, note); err != nil {
		return nil, err
	}
	s.log.Info("status changed",
		zap.String("dispatchId", dispatchID),
		zap.String("from", string(from)), zap.String("to", string(to)),
		zap.String("actor", actor))
	return rec, nil
}

// MarkExported records a successful listing, stamping the marketplace's id
// and etag alongside the EXPORTED status.
func (s *Service) MarkExported(ctx context.Context, dispatchID, externalID, etag string) error {
	rec, err := s.lockedGet(ctx, dispatchID)
	if err != nil {
		return err
	}
	lock := s.keyLock(rec.HashKey)
	lock.Lock()
	defer lock.Unlock()

	rec, err = s.db.GetDispatch(ctx, dispatchID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("dispatch not found: %s", dispatchID)
	}

	from := rec.Status
	// The record may have been cancelled or held while the submit call was
	// in flight; a terminal status must not be overwritten.
	if !CanTransition(from, internal.StatusExported) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, internal.StatusExported)
	}
	rec.Status = internal.StatusExported
	rec.ExternalID = &externalID
	if etag != "" {
		rec.ExternalETag = &etag
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := s.db.SaveDispatch(ctx, rec); err != nil {
		return err
	}
	return s.db.AppendStatusHistory(ctx, dispatchID, from, internal.StatusExported, "exporter", "listing created")
}

// MarkExportError moves the record to ERROR with the failure note preserved
// in history for the operator.
func (s *Service) MarkExportError(ctx context.Context, dispatchID, note string) error {
	rec, err := s.lockedGet(ctx, dispatchID)
	if err != nil {
		return err
	}
	lock := s.keyLock(rec.HashKey)
	lock.Lock()
	defer lock.Unlock()

	rec, err = s.db.GetDispatch(ctx, dispatchID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("dispatch not found: %s", dispatchID)
	}

	from := rec.Status
	if !CanTransition(from, internal.StatusError) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, internal.StatusError)
	}
	rec.Status = internal.StatusError
	rec.UpdatedAt = time.Now().UTC()
	if err := s.db.SaveDispatch(ctx, rec); err != nil {
		return err
	}
	return s.db.AppendStatusHistory(ctx, dispatchID, from, internal.StatusError, "exporter", note)
}

func (s *Service) Get(ctx context.Context, dispatchID string) (*internal.DispatchRecord, error) {
	rec, err := s.db.GetDispatch(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("dispatch not found: %s", dispatchID)
	}
	return rec, nil
}

// lockedGet resolves the record once without holding its key lock, so the
// caller knows which hash key to lock before re-reading.
func (s *Service) lockedGet(ctx context.Context, dispatchID string) (*internal.DispatchRecord, error) {
	rec, err := s.db.GetDispatch(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("dispatch not found: %s", dispatchID)
	}
	return rec, nil
}
