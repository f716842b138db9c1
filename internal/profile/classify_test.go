package profile

import (
	"testing"

	"cardispatch/internal"
)

func catalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClassifyCopart(t *testing.T) {
	c := catalog(t)
	text := `COPART Member Invoice
www.copart.com
Lot # 58291034  Member # 112233
VIN: 1HGCM82633A123456`

	got := c.Classify(text)
	if got.AuctionType != "COPART" {
		t.Fatalf("auction=%s", got.AuctionType)
	}
	if got.Confidence < 0.6 {
		t.Fatalf("confidence=%v, want >=0.6", got.Confidence)
	}
	if got.NeedsClassification {
		t.Fatal("needs_classification should be false")
	}
	if len(got.MatchedPatterns) == 0 {
		t.Fatal("expected matched patterns")
	}
}

func TestClassifyUnknown(t *testing.T) {
	c := catalog(t)
	got := c.Classify("completely unrelated grocery receipt")
	if got.AuctionType != internal.AuctionUnknown {
		t.Fatalf("auction=%s", got.AuctionType)
	}
	if !got.NeedsClassification {
		t.Fatal("needs_classification should be true")
	}
}

func TestClassifyTieBreakByDeclarationOrder(t *testing.T) {
	c := &Catalog{byType: map[string]int{}}
	mk := func(name string) []byte {
		return []byte("auction_type: " + name + "\nversion: 1\nconfidence_threshold: 0.5\nmatch_rules:\n  - pattern: shared marker\n    weight: 1.0\n")
	}
	if err := c.add(mk("ALPHA"), "a"); err != nil {
		t.Fatal(err)
	}
	if err := c.add(mk("BRAVO"), "b"); err != nil {
		t.Fatal(err)
	}

	got := c.Classify("document with shared marker text")
	if got.AuctionType != "ALPHA" {
		t.Fatalf("tie should resolve to first declared profile, got %s", got.AuctionType)
	}
	if got.Confidence != 1.0 {
		t.Fatalf("confidence=%v", got.Confidence)
	}
}

func TestLoadCatalogOverlay(t *testing.T) {
	dir := t.TempDir()
	c, err := LoadCatalog(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("copart"); !ok {
		t.Fatal("copart default missing")
	}
	if c.Generic().AuctionType != GenericType {
		t.Fatal("generic fallback missing")
	}
}
