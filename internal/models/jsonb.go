package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonValue encodes v as a JSON string. Strings rather than []byte keep lib/pq
// from sending the parameter as bytea.
func jsonValue(v interface{}) (driver.Value, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// scanJSON decodes a JSONB column delivered as []byte or string
func scanJSON(value interface{}, dest interface{}, name string) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, name)
	}
}
