package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cardispatch/internal"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS dispatches (
  dispatchId TEXT PRIMARY KEY,
  hashKey TEXT NOT NULL,
  auctionType TEXT NOT NULL,
  rowStatus TEXT NOT NULL DEFAULT 'NEW',
  lockAll INTEGER NOT NULL DEFAULT 0,
  lockDelivery INTEGER NOT NULL DEFAULT 0,
  lockReleaseNotes INTEGER NOT NULL DEFAULT 0,
  warehouseMode TEXT NOT NULL DEFAULT 'AUTO',
  warehouseId INTEGER,
  fieldsJson TEXT NOT NULL,
  overridesJson TEXT NOT NULL DEFAULT '{}',
  externalId TEXT,
  externalEtag TEXT,
  createdAt TEXT NOT NULL,
  updatedAt TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dispatches_hashKey ON dispatches(hashKey);
CREATE INDEX IF NOT EXISTS idx_dispatches_status ON dispatches(rowStatus);

CREATE TABLE IF NOT EXISTS warehouses (
  id INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  address TEXT,
  city TEXT,
  state TEXT,
  zip TEXT,
  phone TEXT,
  contactName TEXT,
  specialInstructions TEXT
);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  dispatchId TEXT,
  auctionType TEXT,
  textMode TEXT,
  needsOcr INTEGER NOT NULL DEFAULT 0,
  needsClassification INTEGER NOT NULL DEFAULT 0,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  diagnosticsJson TEXT NOT NULL DEFAULT '[]',
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS status_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  dispatchId TEXT NOT NULL,
  fromStatus TEXT NOT NULL,
  toStatus TEXT NOT NULL,
  actor TEXT NOT NULL,
  note TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(dispatchId) REFERENCES dispatches(dispatchId)
);

CREATE TABLE IF NOT EXISTS field_stats (
  auctionType TEXT NOT NULL,
  fieldKey TEXT NOT NULL,
  corrections INTEGER NOT NULL DEFAULT 0,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (auctionType, fieldKey)
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) GetDispatch(ctx context.Context, dispatchID string) (*internal.DispatchRecord, error) {
	return d.queryDispatch(ctx, `WHERE dispatchId = ?`, dispatchID)
}

// FindDispatchByHash re-resolves the record a document identifies, no matter
// which day its dispatch id was minted on.
func (d *DB) FindDispatchByHash(ctx context.Context, hashKey string) (*internal.DispatchRecord, error) {
	return d.queryDispatch(ctx, `WHERE hashKey = ?`, hashKey)
}

const dispatchColumns = `
SELECT dispatchId, hashKey, auctionType, rowStatus,
       lockAll, lockDelivery, lockReleaseNotes,
       warehouseMode, warehouseId, fieldsJson, overridesJson,
       externalId, externalEtag, createdAt, updatedAt
FROM dispatches `

func (d *DB) queryDispatch(ctx context.Context, where string, args ...any) (*internal.DispatchRecord, error) {
	row := d.conn.QueryRowContext(ctx, dispatchColumns+where, args...)

	var rec internal.DispatchRecord
	var fieldsJSON, overridesJSON, createdAt, updatedAt string
	err := row.Scan(
		&rec.DispatchID, &rec.HashKey, &rec.AuctionType, &rec.Status,
		&rec.LockAll, &rec.LockDelivery, &rec.LockReleaseNotes,
		&rec.WarehouseMode, &rec.WarehouseID, &fieldsJSON, &overridesJSON,
		&rec.ExternalID, &rec.ExternalETag, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, fmt.Errorf("dispatch %s fields: %w", rec.DispatchID, err)
	}
	if err := json.Unmarshal([]byte(overridesJSON), &rec.Overrides); err != nil {
		return nil, fmt.Errorf("dispatch %s overrides: %w", rec.DispatchID, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

func (d *DB) ListDispatchesByStatus(ctx context.Context, status internal.RowStatus, limit int) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT dispatchId FROM dispatches WHERE rowStatus = ? ORDER BY updatedAt ASC LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SaveDispatch writes the full record. The reconciliation service owns merge
// semantics; this is a plain persist.
func (d *DB) SaveDispatch(ctx context.Context, rec *internal.DispatchRecord) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return err
	}
	overridesJSON, err := json.Marshal(rec.Overrides)
	if err != nil {
		return err
	}

	_, err = d.conn.ExecContext(ctx, `
INSERT INTO dispatches (
  dispatchId, hashKey, auctionType, rowStatus,
  lockAll, lockDelivery, lockReleaseNotes,
  warehouseMode, warehouseId, fieldsJson, overridesJson,
  externalId, externalEtag, createdAt, updatedAt
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(dispatchId) DO UPDATE SET
  hashKey=excluded.hashKey,
  auctionType=excluded.auctionType,
  rowStatus=excluded.rowStatus,
  lockAll=excluded.lockAll,
  lockDelivery=excluded.lockDelivery,
  lockReleaseNotes=excluded.lockReleaseNotes,
  warehouseMode=excluded.warehouseMode,
  warehouseId=excluded.warehouseId,
  fieldsJson=excluded.fieldsJson,
  overridesJson=excluded.overridesJson,
  externalId=excluded.externalId,
  externalEtag=excluded.externalEtag,
  updatedAt=excluded.updatedAt
`,
		rec.DispatchID, rec.HashKey, rec.AuctionType, string(rec.Status),
		rec.LockAll, rec.LockDelivery, rec.LockReleaseNotes,
		string(rec.WarehouseMode), rec.WarehouseID, string(fieldsJSON), string(overridesJSON),
		rec.ExternalID, rec.ExternalETag,
		rec.CreatedAt.UTC().Format(time.RFC3339), rec.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (d *DB) AppendStatusHistory(ctx context.Context, dispatchID string, from, to internal.RowStatus, actor, note string) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO status_history (dispatchId, fromStatus, toStatus, actor, note)
VALUES (?, ?, ?, ?, ?)
`, dispatchID, string(from), string(to), actor, note)
	return err
}

func (d *DB) GetWarehouse(ctx context.Context, id int) (internal.Warehouse, error) {
	var w internal.Warehouse
	err := d.conn.QueryRowContext(ctx, `
SELECT id, name, COALESCE(address,''), COALESCE(city,''), COALESCE(state,''),
       COALESCE(zip,''), COALESCE(phone,''), COALESCE(contactName,''), COALESCE(specialInstructions,'')
FROM warehouses WHERE id = ?
`, id).Scan(&w.ID, &w.Name, &w.Address, &w.City, &w.State, &w.Zip, &w.Phone, &w.ContactName, &w.SpecialInstructions)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.Warehouse{}, fmt.Errorf("warehouse not found: id=%d", id)
	}
	return w, err
}

func (d *DB) SeedWarehouses(ctx context.Context, warehouses []internal.Warehouse) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO warehouses (id, name, address, city, state, zip, phone, contactName, specialInstructions)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name=excluded.name, address=excluded.address, city=excluded.city,
  state=excluded.state, zip=excluded.zip, phone=excluded.phone,
  contactName=excluded.contactName, specialInstructions=excluded.specialInstructions
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, w := range warehouses {
		if _, err := stmt.Exec(w.ID, w.Name, w.Address, w.City, w.State, w.Zip, w.Phone, w.ContactName, w.SpecialInstructions); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type RunRow struct {
	TraceID             string
	DispatchID          string
	AuctionType         string
	TextMode            internal.TextMode
	NeedsOCR            bool
	NeedsClassification bool
	Timings             map[string]float64
	Counts              map[string]int
	Diagnostics         []string
}

func (d *DB) InsertRun(ctx context.Context, run RunRow) error {
	timingsJSON, _ := json.Marshal(run.Timings)
	countsJSON, _ := json.Marshal(run.Counts)
	diagJSON, _ := json.Marshal(run.Diagnostics)
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO runs (traceId, dispatchId, auctionType, textMode, needsOcr, needsClassification, timingsJson, countsJson, diagnosticsJson)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.TraceID, run.DispatchID, run.AuctionType, string(run.TextMode), run.NeedsOCR, run.NeedsClassification,
		string(timingsJSON), string(countsJSON), string(diagJSON))
	return err
}

// BumpFieldCorrection accumulates per-auction correction counts, the signal
// used to prioritize profile rule tuning.
func (d *DB) BumpFieldCorrection(ctx context.Context, auctionType, fieldKey string) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO field_stats (auctionType, fieldKey, corrections)
VALUES (?, ?, 1)
ON CONFLICT(auctionType, fieldKey) DO UPDATE SET
  corrections = corrections + 1, updatedAt = CURRENT_TIMESTAMP
`, auctionType, fieldKey)
	return err
}
