package repositories

import "encoding/json"

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// marshalRows encodes a result set for a JSONB column, never producing SQL NULL.
func marshalRows(rows []map[string]any) ([]byte, error) {
	if rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(rows)
}

// unmarshalRows decodes a JSONB result set, returning an empty slice for empty input.
func unmarshalRows(data []byte) ([]map[string]any, error) {
	rows := make([]map[string]any, 0)
	if len(data) == 0 || string(data) == "null" {
		return rows, nil
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// marshalJSONB marshals a map to JSON bytes, returning "{}" for empty input.
func marshalJSONB(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// unmarshalJSONB unmarshals JSON bytes into a map, silently ignoring nil/empty input.
func unmarshalJSONB(data []byte, target *map[string]any) {
	if len(data) > 0 && string(data) != "null" {
		_ = json.Unmarshal(data, target)
	}
}
