package farm

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// EmptyDocumentJSON is the canonical encoding of a player document with no
// items. Blank or malformed stored text always decodes to this shape.
const EmptyDocumentJSON = `{"items":[]}`

// Item is one entry of a player document's items sequence. The integer id
// identifies the item; every other attribute lives in the open side-map.
// An item recovered from storage without a usable positive id keeps ID == 0
// and can never be matched by a patch.
type Item struct {
	ID    int64
	Attrs map[string]any
}

// Document is the decoded form of a player's houses cell. Top-level keys
// other than "items" survive decode/encode untouched.
type Document struct {
	Items []Item
	Extra map[string]json.RawMessage
}

// Active reports whether the item carries a boolean-true "active" attribute.
// Any other type counts as inactive.
func (it Item) Active() bool {
	b, ok := it.Attrs["active"].(bool)
	return ok && b
}

func (it Item) clone() Item {
	out := Item{ID: it.ID, Attrs: make(map[string]any, len(it.Attrs))}
	for k, v := range it.Attrs {
		out.Attrs[k] = v
	}
	return out
}

// itemID coerces the wire forms an id shows up in. Clients send integers,
// but stored documents have been observed with string and fractional ids.
func itemID(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n, true
		}
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	}
	return 0, false
}

func itemFromMap(m map[string]any) Item {
	it := Item{Attrs: make(map[string]any, len(m))}
	for k, v := range m {
		it.Attrs[k] = v
	}
	if id, ok := itemID(m["id"]); ok && id >= 1 {
		it.ID = id
		delete(it.Attrs, "id")
	}
	return it
}

// DecodeDocument parses the stored text form of a player document. It never
// fails: empty, whitespace-only, or structurally unexpected input yields the
// canonical empty document.
func DecodeDocument(raw string) Document {
	empty := Document{Items: []Item{}}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return empty
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return empty
	}
	itemsRaw, ok := top["items"]
	if !ok {
		return empty
	}

	dec := json.NewDecoder(bytes.NewReader(itemsRaw))
	dec.UseNumber()
	var entries []map[string]any
	if err := dec.Decode(&entries); err != nil || entries == nil {
		// entries stays nil when items is JSON null. A document whose
		// items is not an array is malformed as a whole; nothing else in
		// it is trusted, extra keys included.
		return empty
	}

	doc := Document{Items: make([]Item, 0, len(entries))}
	for _, m := range entries {
		doc.Items = append(doc.Items, itemFromMap(m))
	}
	for k, v := range top {
		if k == "items" {
			continue
		}
		if doc.Extra == nil {
			doc.Extra = make(map[string]json.RawMessage, len(top)-1)
		}
		doc.Extra[k] = v
	}
	return doc
}

// Encode renders the document back to its stored text form. Attribute keys
// are emitted sorted so encoding is deterministic.
func (d Document) Encode() string {
	items := make([]json.RawMessage, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, marshalItem(it))
	}
	top := make(map[string]any, len(d.Extra)+1)
	top["items"] = items
	for k, v := range d.Extra {
		top[k] = v
	}
	out, _ := json.Marshal(top)
	return string(out)
}

func marshalItem(it Item) json.RawMessage {
	keys := make([]string, 0, len(it.Attrs)+1)
	for k := range it.Attrs {
		keys = append(keys, k)
	}
	if it.ID >= 1 {
		keys = append(keys, "id")
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		if k == "id" && it.ID >= 1 {
			if _, shadowed := it.Attrs[k]; !shadowed {
				buf.WriteString(strconv.FormatInt(it.ID, 10))
				continue
			}
		}
		vb, _ := json.Marshal(it.Attrs[k])
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// UpsertItem merges a single-item patch into the document. A patch whose id
// matches an existing item replaces that item in place with the shallow
// union of the two attribute sets (patch keys win, id never rewritten); an
// unseen id appends the patch as a new item. The receiver is not mutated.
func (d Document) UpsertItem(patch Item) Document {
	items := make([]Item, len(d.Items))
	copy(items, d.Items)
	for i, it := range items {
		if it.ID == 0 || it.ID != patch.ID {
			continue
		}
		merged := it.clone()
		for k, v := range patch.Attrs {
			merged.Attrs[k] = v
		}
		items[i] = merged
		return Document{Items: items, Extra: d.Extra}
	}
	items = append(items, patch.clone())
	return Document{Items: items, Extra: d.Extra}
}

// ParseItem decodes a request body carrying one item patch. The patch must
// contain a usable positive integer id.
func ParseItem(body []byte) (Item, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return Item{}, ErrHouseIDRequired
	}
	it := itemFromMap(m)
	if it.ID < 1 {
		return Item{}, ErrHouseIDRequired
	}
	return it, nil
}

// ValidateReplacement checks a whole-document write and returns the compact
// text to store. The payload must be an object with an "items" array; it
// supersedes the stored document entirely, extra top-level keys included.
func ValidateReplacement(body []byte) (string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return "", ErrItemsRequired
	}
	itemsRaw, ok := top["items"]
	if !ok {
		return "", ErrItemsRequired
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(itemsRaw, &entries); err != nil || entries == nil {
		// entries stays nil when items is JSON null; a null sequence is
		// as invalid as a missing one.
		return "", ErrItemsRequired
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return "", ErrItemsRequired
	}
	return buf.String(), nil
}

// ActiveHouse reports whether the document holds an item with the given id
// whose active attribute is boolean-true. An absent house and an inactive
// house are indistinguishable to callers.
func (d Document) ActiveHouse(houseID int64) bool {
	for _, it := range d.Items {
		if it.ID != 0 && it.ID == houseID && it.Active() {
			return true
		}
	}
	return false
}
