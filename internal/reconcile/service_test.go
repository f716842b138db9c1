package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"cardispatch/internal"
	"cardispatch/internal/storage"
)

func testService(t *testing.T) (*Service, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewService(db, zap.NewNop()), db
}

func ingestOne(t *testing.T, svc *Service, lot string) *internal.DispatchRecord {
	t.Helper()
	rec, _, err := svc.Ingest(context.Background(), "COPART", map[string]internal.FieldValue{
		internal.FieldAuctionLot: fv(internal.FieldAuctionLot, lot),
		internal.FieldVIN:        fv(internal.FieldVIN, "1HGCM82633A004352"),
	}, "", testNow)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return rec
}

func TestIngestResolvesSameRecordOnReingest(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	first := ingestOne(t, svc, "58112233")

	later := testNow.Add(48 * time.Hour)
	second, report, err := svc.Ingest(ctx, "COPART", map[string]internal.FieldValue{
		internal.FieldAuctionLot: fv(internal.FieldAuctionLot, "58112233"),
		internal.FieldGatePass:   {}, // lot still anchors when gate pass is absent
		internal.FieldPrice:      fv(internal.FieldPrice, "450.00"),
	}, "", later)
	if err != nil {
		t.Fatalf("reingest: %v", err)
	}

	if second.DispatchID != first.DispatchID {
		t.Errorf("reingest minted a new record: %s vs %s", second.DispatchID, first.DispatchID)
	}
	if report.Action != internal.UpsertUpdate {
		t.Errorf("action = %s, want update", report.Action)
	}
	if got := second.Fields[internal.FieldPrice].Value; got != "450.00" {
		t.Errorf("price = %q", got)
	}
}

func TestApplyCorrectionsWritesOverridesAndStats(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()
	rec := ingestOne(t, svc, "58112233")

	updated, err := svc.ApplyCorrections(ctx, rec.DispatchID, []internal.Correction{
		{FieldKey: internal.FieldPrice, CorrectedValue: "725.00"},
	}, testNow)
	if err != nil {
		t.Fatalf("apply corrections: %v", err)
	}

	if got := updated.Final(internal.FieldPrice); got != "725.00" {
		t.Errorf("final price = %q", got)
	}

	// A following ingest must not disturb the override.
	after, _, err := svc.Ingest(ctx, "COPART", map[string]internal.FieldValue{
		internal.FieldAuctionLot: fv(internal.FieldAuctionLot, "58112233"),
		internal.FieldPrice:      fv(internal.FieldPrice, "450.00"),
	}, "", testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("reingest: %v", err)
	}
	if got := after.Final(internal.FieldPrice); got != "725.00" {
		t.Errorf("final price after reingest = %q, override must survive", got)
	}

	stored, err := db.GetDispatch(ctx, rec.DispatchID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Overrides[internal.FieldPrice] != "725.00" {
		t.Error("override not persisted")
	}
}

func TestTransitionRejectsInvalidJump(t *testing.T) {
	svc, _ := testService(t)
	rec := ingestOne(t, svc, "58112233")

	_, err := svc.Transition(context.Background(), rec.DispatchID, internal.StatusExported, "tester", "", nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionReadyRevalidates(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()
	rec := ingestOne(t, svc, "58112233")

	failing := func(*internal.DispatchRecord) error {
		return errors.New("missing delivery_zip")
	}
	if _, err := svc.Transition(ctx, rec.DispatchID, internal.StatusReady, "tester", "", failing); err == nil {
		t.Fatal("validation failure must block the transition")
	}

	stored, err := db.GetDispatch(ctx, rec.DispatchID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != internal.StatusNew {
		t.Errorf("status = %s, failed validation must leave it untouched", stored.Status)
	}

	passing := func(*internal.DispatchRecord) error { return nil }
	after, err := svc.Transition(ctx, rec.DispatchID, internal.StatusReady, "tester", "complete", passing)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if after.Status != internal.StatusReady {
		t.Errorf("status = %s, want READY", after.Status)
	}
}

func TestSelectWarehouseManualShieldsLaterIngest(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()
	rec := ingestOne(t, svc, "58112233")

	if err := db.SeedWarehouses(ctx, []internal.Warehouse{{
		ID: 1, Name: "Port Newark Yard", Address: "200 Corbin St",
		City: "Newark", State: "NJ", Zip: "07114",
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	selected, _, err := svc.SelectWarehouse(ctx, rec.DispatchID, 1, internal.WarehouseManual, testNow)
	if err != nil {
		t.Fatalf("select warehouse: %v", err)
	}
	if got := selected.Fields[internal.FieldDeliveryZip].Value; got != "07114" {
		t.Errorf("delivery zip = %q", got)
	}

	after, _, err := svc.Ingest(ctx, "COPART", map[string]internal.FieldValue{
		internal.FieldAuctionLot:  fv(internal.FieldAuctionLot, "58112233"),
		internal.FieldDeliveryZip: fv(internal.FieldDeliveryZip, "99999"),
	}, "", testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("reingest: %v", err)
	}
	if got := after.Fields[internal.FieldDeliveryZip].Value; got != "07114" {
		t.Errorf("delivery zip = %q, MANUAL selection must shield the delivery group", got)
	}
}

func TestMarkExportedRejectsTerminalStatus(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()
	rec := ingestOne(t, svc, "58112233")

	if _, err := svc.Transition(ctx, rec.DispatchID, internal.StatusCancelled, "tester", "", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	err := svc.MarkExported(ctx, rec.DispatchID, "lst_42", "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if err := svc.MarkExportError(ctx, rec.DispatchID, "boom"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	stored, err := db.GetDispatch(ctx, rec.DispatchID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != internal.StatusCancelled {
		t.Errorf("status = %s, CANCELLED must survive", stored.Status)
	}
}

func TestMarkExportedStampsExternalIdentity(t *testing.T) {
	svc, db := testService(t)
	ctx := context.Background()
	rec := ingestOne(t, svc, "58112233")

	passing := func(*internal.DispatchRecord) error { return nil }
	if _, err := svc.Transition(ctx, rec.DispatchID, internal.StatusReady, "tester", "", passing); err != nil {
		t.Fatalf("to ready: %v", err)
	}
	if err := svc.MarkExported(ctx, rec.DispatchID, "lst_42", `"v1"`); err != nil {
		t.Fatalf("mark exported: %v", err)
	}

	stored, err := db.GetDispatch(ctx, rec.DispatchID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != internal.StatusExported {
		t.Errorf("status = %s", stored.Status)
	}
	if stored.ExternalID == nil || *stored.ExternalID != "lst_42" {
		t.Error("external id not stamped")
	}
	if stored.ExternalETag == nil || *stored.ExternalETag != `"v1"` {
		t.Error("etag not stamped")
	}
}
