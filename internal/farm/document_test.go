package farm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func TestDecodeDocumentFallsBackToEmpty(t *testing.T) {
	cases := []string{
		"",
		"   \n\t",
		"not json",
		`[1,2,3]`,
		`{"foo":1}`,
		`{"items":{}}`,
		`{"items":"nope"}`,
		`{"items":[1,2]}`,
		`{"items":null}`,
		`{"items":null,"v":2}`,
	}
	for _, raw := range cases {
		doc := DecodeDocument(raw)
		if len(doc.Items) != 0 || doc.Items == nil {
			t.Fatalf("decode(%q): expected canonical empty document, got %+v", raw, doc)
		}
		if doc.Extra != nil {
			t.Fatalf("decode(%q): malformed document kept extra keys: %+v", raw, doc.Extra)
		}
		if got := doc.Encode(); got != EmptyDocumentJSON {
			t.Fatalf("decode(%q).Encode() = %q, want %q", raw, got, EmptyDocumentJSON)
		}
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	raws := []string{
		`{"items":[]}`,
		`{"items":[{"id":4,"active":true,"price":2000}]}`,
		`{"items":[{"id":1,"name":"barn","pos":{"x":2,"y":3}},{"id":2,"active":false}]}`,
		`{"items":[{"id":7,"rate":0.5}],"version":3,"meta":{"source":"client"}}`,
	}
	for _, raw := range raws {
		doc := DecodeDocument(raw)
		again := DecodeDocument(doc.Encode())
		if !reflect.DeepEqual(doc, again) {
			t.Fatalf("round trip of %q lost data:\n first %+v\nsecond %+v", raw, doc, again)
		}
	}
}

func TestEncodePreservesUnknownTopLevelKeys(t *testing.T) {
	doc := DecodeDocument(`{"items":[{"id":1}],"layout":"v2","slots":[1,2,3]}`)
	out := doc.UpsertItem(Item{ID: 1, Attrs: map[string]any{"active": true}}).Encode()
	if !strings.Contains(out, `"layout":"v2"`) || !strings.Contains(out, `"slots":[1,2,3]`) {
		t.Fatalf("extra top-level keys dropped: %s", out)
	}
}

func TestUpsertItemMergesAttributes(t *testing.T) {
	doc := DecodeDocument(`{"items":[{"id":1,"active":false,"price":100},{"id":2,"active":true}]}`)
	out := doc.UpsertItem(mustParseItem(t, `{"id":1,"active":true}`))

	if len(out.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(out.Items))
	}
	got := out.Items[0]
	if got.ID != 1 {
		t.Fatalf("merge reordered items: first id = %d", got.ID)
	}
	if v, _ := got.Attrs["active"].(bool); !v {
		t.Fatalf("patched attribute not overwritten: %+v", got.Attrs)
	}
	if got.Attrs["price"] != json.Number("100") {
		t.Fatalf("unpatched attribute dropped: %+v", got.Attrs)
	}
	if !reflect.DeepEqual(out.Items[1], doc.Items[1]) {
		t.Fatalf("unrelated item changed: %+v", out.Items[1])
	}
}

func TestUpsertItemDoesNotMutateReceiver(t *testing.T) {
	doc := DecodeDocument(`{"items":[{"id":1,"active":false}]}`)
	doc.UpsertItem(mustParseItem(t, `{"id":1,"active":true}`))
	if v, _ := doc.Items[0].Attrs["active"].(bool); v {
		t.Fatal("UpsertItem mutated the original document")
	}
}

func TestUpsertItemAppendsUnknownID(t *testing.T) {
	doc := DecodeDocument(`{"items":[{"id":1}]}`)
	out := doc.UpsertItem(mustParseItem(t, `{"id":9,"active":true}`))
	if len(out.Items) != 2 {
		t.Fatalf("expected append, got %d items", len(out.Items))
	}
	if out.Items[1].ID != 9 {
		t.Fatalf("appended item has id %d, want 9", out.Items[1].ID)
	}
}

func TestUpsertItemNeverDuplicatesID(t *testing.T) {
	doc := DecodeDocument(`{"items":[{"id":3}]}`)
	out := doc.UpsertItem(mustParseItem(t, `{"id":3,"active":true}`))
	out = out.UpsertItem(mustParseItem(t, `{"id":3,"active":false}`))
	count := 0
	for _, it := range out.Items {
		if it.ID == 3 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("id 3 appears %d times", count)
	}
}

func TestUpsertItemSkipsIDLessStoredItems(t *testing.T) {
	// An item stored without a usable id is preserved but never matched.
	doc := DecodeDocument(`{"items":[{"active":true},{"id":2}]}`)
	out := doc.UpsertItem(mustParseItem(t, `{"id":2,"active":true}`))
	if len(out.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(out.Items))
	}
	if out.Items[0].ID != 0 || len(out.Items[0].Attrs) != 1 {
		t.Fatalf("id-less item changed: %+v", out.Items[0])
	}
}

func TestParseItemRequiresID(t *testing.T) {
	for _, raw := range []string{`{"active":true}`, `{"id":"abc"}`, `{"id":0}`, `not json`} {
		if _, err := ParseItem([]byte(raw)); err != ErrHouseIDRequired {
			t.Fatalf("ParseItem(%q): got %v, want ErrHouseIDRequired", raw, err)
		}
	}
	it, err := ParseItem([]byte(`{"id":"4","active":true}`))
	if err != nil {
		t.Fatalf("string id should coerce: %v", err)
	}
	if it.ID != 4 {
		t.Fatalf("coerced id = %d, want 4", it.ID)
	}
}

func TestValidateReplacement(t *testing.T) {
	for _, raw := range []string{`{}`, `{"items":5}`, `{"items":null}`, `{"items":{"a":1}}`, `[]`, `garbage`} {
		if _, err := ValidateReplacement([]byte(raw)); err != ErrItemsRequired {
			t.Fatalf("ValidateReplacement(%q): got %v, want ErrItemsRequired", raw, err)
		}
	}

	first, err := ValidateReplacement([]byte(`{"items": [ {"id": 1} ], "layout": "v2"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ValidateReplacement([]byte(first))
	if err != nil {
		t.Fatalf("unexpected error on re-validate: %v", err)
	}
	if first != second {
		t.Fatalf("replacement not idempotent: %q vs %q", first, second)
	}
	if !strings.Contains(first, `"layout"`) {
		t.Fatalf("replacement dropped extra key: %q", first)
	}
}

func TestConcurrentPatchesAllSurvive(t *testing.T) {
	// Models the store's serialized read-merge-write: each writer holds the
	// per-player lock for its whole load-modify-store sequence.
	const writers = 32

	patches := make([]Item, writers)
	for i := range patches {
		patches[i] = mustParseItem(t, fmt.Sprintf(`{"id":%d,"active":true}`, i+1))
	}

	var mu sync.Mutex
	raw := ""

	var wg sync.WaitGroup
	for _, patch := range patches {
		wg.Add(1)
		go func(patch Item) {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			raw = DecodeDocument(raw).UpsertItem(patch).Encode()
		}(patch)
	}
	wg.Wait()

	final := DecodeDocument(raw)
	if len(final.Items) != writers {
		t.Fatalf("lost updates: %d items survived of %d", len(final.Items), writers)
	}
	seen := make(map[int64]bool, writers)
	for _, it := range final.Items {
		if seen[it.ID] {
			t.Fatalf("duplicate id %d", it.ID)
		}
		seen[it.ID] = true
	}
}

func mustParseItem(t *testing.T, raw string) Item {
	t.Helper()
	it, err := ParseItem([]byte(raw))
	if err != nil {
		t.Fatalf("parse item %q: %v", raw, err)
	}
	return it
}
