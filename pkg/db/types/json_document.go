package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONDocument stores raw JSON as text so the same column works on SQLite
// (TEXT) and Postgres (JSONB).
type JSONDocument json.RawMessage

func (d *JSONDocument) Scan(src any) error {
	if src == nil {
		*d = nil
		return nil
	}

	switch v := src.(type) {
	case string:
		*d = JSONDocument(append([]byte(nil), v...))
	case []byte:
		*d = JSONDocument(append([]byte(nil), v...))
	default:
		return fmt.Errorf("JSONDocument: unsupported Scan type %T", src)
	}
	return nil
}

func (d JSONDocument) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	if !json.Valid(d) {
		return nil, fmt.Errorf("JSONDocument: invalid json")
	}
	return string(d), nil
}

// MarshalJSON keeps the document inline when the owning struct is encoded.
func (d JSONDocument) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

func (d *JSONDocument) UnmarshalJSON(data []byte) error {
	*d = append((*d)[:0], data...)
	return nil
}
