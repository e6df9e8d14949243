package farm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestActiveHouse(t *testing.T) {
	doc := DecodeDocument(`{"items":[
		{"id":4,"active":true,"price":2000},
		{"id":5,"active":false},
		{"id":6},
		{"id":7,"active":"true"},
		{"id":8,"active":1}
	]}`)

	tests := []struct {
		houseID int64
		want    bool
	}{
		{4, true},
		{5, false},  // inactive
		{6, false},  // no active attribute
		{7, false},  // string "true" is not boolean-true
		{8, false},  // number 1 is not boolean-true
		{99, false}, // absent house, reported same as inactive
	}
	for _, tc := range tests {
		if got := doc.ActiveHouse(tc.houseID); got != tc.want {
			t.Fatalf("ActiveHouse(%d) = %v, want %v", tc.houseID, got, tc.want)
		}
	}
}

func TestActiveHouseOnEmptyDocument(t *testing.T) {
	if DecodeDocument("").ActiveHouse(1) {
		t.Fatal("empty document cannot hold an active house")
	}
}

func TestPayoutCreditIsExact(t *testing.T) {
	// Balance + catalog price stays integer-exact through the credit.
	balance := TonToNano(0.30)
	price := TonToNano(50.00)
	got := balance + price
	if got != 50_300_000_000 {
		t.Fatalf("credit drifted: got %d nanoton", got)
	}
	if NanoToTon(got) != 50.3 {
		t.Fatalf("display conversion: got %v ton", NanoToTon(got))
	}
}

type recordingLedger struct {
	entries []LedgerEntry
	err     error
}

func (l *recordingLedger) Append(_ context.Context, e LedgerEntry) error {
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, e)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordPayoutAppendsOnce(t *testing.T) {
	ledger := &recordingLedger{}
	s := NewService(nil, nil, ledger, discardLogger())

	in := PayoutInput{PlayerID: "p1", HouseID: 4, ProductID: 7}
	item := CatalogItem{ID: 7, Name: "Wheat", SellPriceNano: 160_000_000}
	if !s.recordPayout(context.Background(), in, "Fisher", item) {
		t.Fatal("successful append reported as degraded")
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("ledger got %d entries, want 1", len(ledger.entries))
	}
	e := ledger.entries[0]
	if e.PlayerID != "p1" || e.PlayerName != "Fisher" || e.Action != payoutAction {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.AmountNano != item.SellPriceNano || e.Currency != payoutCurrency {
		t.Fatalf("unexpected amount: %+v", e)
	}
	if !strings.Contains(e.Details, `"house_id":4`) || !strings.Contains(e.Details, `"product_id":7`) {
		t.Fatalf("details missing claim context: %s", e.Details)
	}
}

func TestRecordPayoutDegradesOnAppendFailure(t *testing.T) {
	ledger := &recordingLedger{err: errors.New("ledger down")}
	s := NewService(nil, nil, ledger, discardLogger())

	in := PayoutInput{PlayerID: "p1", HouseID: 4, ProductID: 7}
	if s.recordPayout(context.Background(), in, "Fisher", CatalogItem{ID: 7}) {
		t.Fatal("failed append must report the result as degraded")
	}
	if len(ledger.entries) != 0 {
		t.Fatalf("failed append still recorded %d entries", len(ledger.entries))
	}
}
