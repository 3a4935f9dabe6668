package sqlutil

import (
	"encoding/json"
	"fmt"

	"github.com/sqlc-dev/pqtype"
)

// Helper functions for converting between Go values and jsonb columns

// ToNullJSON encodes val for a jsonb column. A nil val is SQL NULL.
func ToNullJSON(val any) (pqtype.NullRawMessage, error) {
	if val == nil {
		return pqtype.NullRawMessage{Valid: false}, nil
	}
	data, err := json.Marshal(val)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal jsonb: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: len(data) > 0}, nil
}

// FromNullJSON decodes a jsonb column. SQL NULL and JSON null both decode
// to nil.
func FromNullJSON(val pqtype.NullRawMessage) (any, error) {
	if !val.Valid || len(val.RawMessage) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(val.RawMessage, &out); err != nil {
		return nil, fmt.Errorf("unmarshal jsonb: %w", err)
	}
	return out, nil
}
