package repositories

import (
	"encoding/json"
	"fmt"
)

// marshalNullable encodes v for a nullable jsonb column. A nil v is stored as SQL NULL.
func marshalNullable[T any](v *T, column string) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", column, err)
	}
	return data, nil
}

// unmarshalNullable decodes a nullable jsonb column. SQL NULL decodes to nil.
func unmarshalNullable[T any](data []byte, column string) (*T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", column, err)
	}
	return &v, nil
}
