package internal

import "time"

type TextMode string

const (
	TextModeNative TextMode = "native"
	TextModeOCR    TextMode = "ocr"
	TextModeHybrid TextMode = "hybrid"
)

type BlockType string

const (
	BlockText    BlockType = "text"
	BlockHeading BlockType = "heading"
)

// BBox is a rectangle in page points, top-left origin.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

func (b BBox) Valid() bool {
	return b.X1 > b.X0 && b.Y1 > b.Y0
}

func (b BBox) Union(o BBox) BBox {
	out := b
	if o.X0 < out.X0 {
		out.X0 = o.X0
	}
	if o.Y0 < out.Y0 {
		out.Y0 = o.Y0
	}
	if o.X1 > out.X1 {
		out.X1 = o.X1
	}
	if o.Y1 > out.Y1 {
		out.Y1 = o.Y1
	}
	return out
}

// TextBlock is one addressable unit of document text. Blocks are owned by the
// DocumentStructure that produced them and are never mutated afterwards.
type TextBlock struct {
	ID           int       `json:"id"`
	PageIndex    int       `json:"pageIndex"`
	Text         string    `json:"text"`
	BBox         BBox      `json:"bbox"`
	ReadingOrder int       `json:"readingOrder"`
	ColumnIndex  int       `json:"columnIndex"`
	Type         BlockType `json:"type"`
}

type PageDim struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DocumentStructure is the immutable result of structuring one document
// version: full text plus ordered, addressable blocks.
type DocumentStructure struct {
	RawText   string      `json:"rawText"`
	Blocks    []TextBlock `json:"blocks"`
	Pages     []PageDim   `json:"pages"`
	PageCount int         `json:"pageCount"`
	TextMode  TextMode    `json:"textMode"`
	NeedsOCR  bool        `json:"needsOcr"`
}

func (d DocumentStructure) Block(id int) (TextBlock, bool) {
	if id < 0 || id >= len(d.Blocks) {
		return TextBlock{}, false
	}
	return d.Blocks[id], true
}

// PercentBox converts a block bbox to page-relative percentages for visual
// overlays. Scanned and native pages resolve identically.
func (d DocumentStructure) PercentBox(b TextBlock) BBox {
	if b.PageIndex < 0 || b.PageIndex >= len(d.Pages) {
		return BBox{}
	}
	p := d.Pages[b.PageIndex]
	if p.Width <= 0 || p.Height <= 0 {
		return BBox{}
	}
	return BBox{
		X0: 100 * b.BBox.X0 / p.Width,
		Y0: 100 * b.BBox.Y0 / p.Height,
		X1: 100 * b.BBox.X1 / p.Width,
		Y1: 100 * b.BBox.Y1 / p.Height,
	}
}

type FieldSource string

const (
	SourceUserOverride   FieldSource = "USER_OVERRIDE"
	SourceWarehouseConst FieldSource = "WAREHOUSE_CONST"
	SourceAuctionConst   FieldSource = "AUCTION_CONST"
	SourceExtracted      FieldSource = "EXTRACTED"
	SourceDefault        FieldSource = "DEFAULT"
	SourceEmpty          FieldSource = "EMPTY"
)

// Rank orders sources by precedence; lower wins when two candidates compete
// for the same key.
func (s FieldSource) Rank() int {
	switch s {
	case SourceUserOverride:
		return 0
	case SourceWarehouseConst:
		return 1
	case SourceAuctionConst:
		return 2
	case SourceExtracted:
		return 3
	case SourceDefault:
		return 4
	default:
		return 5
	}
}

// FieldValue is the atomic extraction result for one canonical key.
type FieldValue struct {
	Key              string      `json:"key"`
	Value            string      `json:"value"`
	Source           FieldSource `json:"source"`
	Confidence       float64     `json:"confidence"`
	EvidenceBlockIDs []int       `json:"evidenceBlockIds,omitempty"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

func (f FieldValue) Empty() bool {
	return f.Value == ""
}

type RowStatus string

const (
	StatusNew       RowStatus = "NEW"
	StatusReady     RowStatus = "READY"
	StatusHold      RowStatus = "HOLD"
	StatusError     RowStatus = "ERROR"
	StatusExported  RowStatus = "EXPORTED"
	StatusRetry     RowStatus = "RETRY"
	StatusCancelled RowStatus = "CANCELLED"
)

type WarehouseMode string

const (
	WarehouseAuto   WarehouseMode = "AUTO"
	WarehouseManual WarehouseMode = "MANUAL"
)

// DispatchRecord is the persistent canonical row, keyed by dispatch id.
// Overrides are written only by operator corrections, never by ingestion.
type DispatchRecord struct {
	DispatchID       string
	HashKey          string
	AuctionType      string
	Status           RowStatus
	LockAll          bool
	LockDelivery     bool
	LockReleaseNotes bool
	WarehouseMode    WarehouseMode
	WarehouseID      *int
	Fields           map[string]FieldValue
	Overrides        map[string]string
	ExternalID       *string
	ExternalETag     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Final resolves the exported value for a key: a non-empty override always
// wins over the base field.
func (r *DispatchRecord) Final(key string) string {
	if v, ok := r.Overrides[key]; ok && v != "" {
		return v
	}
	return r.Fields[key].Value
}

func (r *DispatchRecord) Protection() ProtectionSnapshot {
	return ProtectionSnapshot{
		Status:           r.Status,
		LockAll:          r.LockAll,
		LockDelivery:     r.LockDelivery,
		LockReleaseNotes: r.LockReleaseNotes,
		WarehouseMode:    r.WarehouseMode,
	}
}

// ProtectionSnapshot captures every flag the merge policy consults, so the
// policy stays a pure function of (snapshot, current fields, new fields).
type ProtectionSnapshot struct {
	Status           RowStatus     `json:"status"`
	LockAll          bool          `json:"lockAll"`
	LockDelivery     bool          `json:"lockDelivery"`
	LockReleaseNotes bool          `json:"lockReleaseNotes"`
	WarehouseMode    WarehouseMode `json:"warehouseMode"`
}

type UpsertAction string

const (
	UpsertInsert UpsertAction = "insert"
	UpsertUpdate UpsertAction = "update"
)

type SkippedField struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// UpsertReport explains, per field, why a reconciliation did or did not
// change the record.
type UpsertReport struct {
	Action     UpsertAction       `json:"action"`
	DispatchID string             `json:"dispatchId"`
	Updated    []string           `json:"updatedFields"`
	Skipped    []SkippedField     `json:"skippedFields"`
	Protection ProtectionSnapshot `json:"protectionSnapshot"`
}

type Warehouse struct {
	ID                  int    `json:"id"`
	Name                string `json:"name"`
	Address             string `json:"address"`
	City                string `json:"city"`
	State               string `json:"state"`
	Zip                 string `json:"zip"`
	Phone               string `json:"phone"`
	ContactName         string `json:"contactName"`
	SpecialInstructions string `json:"specialInstructions"`
}

// Classification is the source classifier verdict for one document.
type Classification struct {
	AuctionType         string   `json:"auctionType"`
	Confidence          float64  `json:"confidence"`
	MatchedPatterns     []string `json:"matchedPatterns"`
	NeedsClassification bool     `json:"needsClassification"`
}

const AuctionUnknown = "UNKNOWN"

type Correction struct {
	FieldKey       string `json:"fieldKey"`
	CorrectedValue string `json:"correctedValue"`
}
