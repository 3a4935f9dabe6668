// Package codec normalizes the wire encodings found in the shared store
// into the canonical in-memory forms used by the cache, and back.
//
// Historical clients wrote list-like fields either as JSON arrays or as
// pipe-joined strings; decoding accepts both and never fails.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fichas-one/fichas/go/internal/models"
)

// ListDelimiter joins list elements on the wire.
const ListDelimiter = "|"

// DecodeList returns the canonical list form of raw. Lists are returned
// element-for-element, strings are split on ListDelimiter and any other
// value decodes to an empty list.
//
// The empty string decodes to an empty list, so a list holding a single
// empty element does not survive EncodeList/DecodeList. Neither do
// elements containing ListDelimiter: they come back split.
func DecodeList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case nil:
				out = append(out, "")
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
		return out
	case string:
		if v == "" {
			return []string{}
		}
		return strings.Split(v, ListDelimiter)
	default:
		return []string{}
	}
}

// EncodeList returns the wire form of a canonical list.
func EncodeList(list []string) string {
	return strings.Join(list, ListDelimiter)
}

// Int coerces a JSON-ish numeric value. The second result is false when
// the value is missing or not a finite number, so the caller can treat it
// as absent.
func Int(raw any) (int, bool) {
	var f float64
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case float64:
		f = v
	case float32:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Trunc(f)), true
}

// NonNegative clamps n to zero.
func NonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// NormalizeField converts one raw sheet field value to canonical form.
// ok is false when the value must be treated as absent.
func NormalizeField(name string, raw any) (any, bool) {
	if raw == nil {
		return nil, false
	}
	spec, known := models.LookupField(name)
	if !known {
		return raw, true
	}
	switch spec.Kind {
	case models.KindInt:
		n, ok := Int(raw)
		if !ok {
			return nil, false
		}
		return NonNegative(n), true
	case models.KindList:
		list := DecodeList(raw)
		if len(list) > models.MaxHistory {
			list = list[:models.MaxHistory]
		}
		return list, true
	case models.KindEnum:
		s, ok := raw.(string)
		if !ok || !spec.Allowed[s] {
			return nil, false
		}
		return s, true
	default:
		switch s := raw.(type) {
		case string:
			return s, true
		case float64, int, bool:
			return fmt.Sprint(s), true
		default:
			return nil, false
		}
	}
}

// DecodeSheet normalizes a raw sheet payload. Fields that cannot be
// normalized are left out of the result.
func DecodeSheet(raw any) models.Record {
	m, ok := raw.(map[string]any)
	if !ok {
		return models.Record{}
	}
	out := make(models.Record, len(m))
	for name, v := range m {
		if norm, ok := NormalizeField(name, v); ok {
			out[name] = norm
		}
	}
	return out
}

// EncodeSheet returns the wire payload of a canonical sheet record.
func EncodeSheet(r models.Record) map[string]any {
	out := make(map[string]any, len(r))
	for name, v := range r {
		if list, ok := v.([]string); ok {
			out[name] = EncodeList(list)
			continue
		}
		out[name] = v
	}
	return out
}
