package farm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Single-field player updates go through a closed registry: a wire field
// name maps to its column and a validating cast. Unknown fields are
// rejected at the boundary instead of falling through a lookup table.
type fieldSetter struct {
	column string
	cast   func(any) (any, error)
}

var playerFields = map[string]fieldSetter{
	"name":          {"name", castName},
	"firstName":     {"first_name", castNullableString},
	"ton":           {"ton_nano", castTonNano},
	"lvl_upgrade":   {"lvl_upgrade", castFloat},
	"lvl":           {"lvl", castInt},
	"coin":          {"coin_cents", castCents},
	"bezoz":         {"bezoz_cents", castCents},
	"ref_count":     {"ref_count", castInt},
	"refId":         {"ref_id", castNullableString},
	"isPremium":     {"is_premium", castInt},
	"blocked":       {"blocked", castInt},
	"time_farm":     {"time_farm", castText},
	"seed_count":    {"seed_count", castText},
	"storage_count": {"storage_count", castText},
	"grid_count":    {"grid_count", castInt},
	"grid_state":    {"grid_state", castText},
	"houses":        {"houses", castText},
}

func castName(v any) (any, error) {
	s, ok := v.(string)
	s = strings.TrimSpace(s)
	if !ok || s == "" || len(s) > 100 {
		return nil, fmt.Errorf("name must be a non-empty string")
	}
	return s, nil
}

func castText(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	}
	return nil, fmt.Errorf("expected a string value")
}

func castNullableString(v any) (any, error) {
	if v == nil || v == "null" {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected a string or null")
	}
	return s, nil
}

func castInt(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil, fmt.Errorf("expected an integer")
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected an integer")
		}
		return n, nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, fmt.Errorf("expected an integer")
}

func castFloat(v any) (any, error) {
	f, err := floatValue(v)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func castTonNano(v any) (any, error) {
	f, err := floatValue(v)
	if err != nil {
		return nil, err
	}
	return TonToNano(f), nil
}

func castCents(v any) (any, error) {
	f, err := floatValue(v)
	if err != nil {
		return nil, err
	}
	return CoinToCents(f), nil
}

func floatValue(v any) (float64, error) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected a number")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("expected a number")
		}
		return f, nil
	case float64:
		return t, nil
	}
	return 0, fmt.Errorf("expected a number")
}
