package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions for the JSONB column types.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*Recipient)(nil)
	_ driver.Valuer = Recipient{}
	_ sql.Scanner   = (*Interval)(nil)
	_ driver.Valuer = Interval{}
	_ sql.Scanner   = (*Payload)(nil)
	_ driver.Valuer = Payload{}
)

// scanJSONB scans a JSONB database value into a Go pointer. It handles nil
// values, []byte, and string representations from different drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB converts a Go value to a JSONB-compatible driver.Value.
func valueJSONB(v interface{}) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner.
func (r *Recipient) Scan(value interface{}) error { return scanJSONB(r, value) }

// Value implements driver.Valuer.
func (r Recipient) Value() (driver.Value, error) { return valueJSONB(r) }

// Scan implements sql.Scanner.
func (i *Interval) Scan(value interface{}) error { return scanJSONB(i, value) }

// Value implements driver.Valuer. An empty Days set is stored as an explicit
// empty array so it round-trips as "set but empty".
func (i Interval) Value() (driver.Value, error) {
	type wire struct {
		Once    bool  `json:"once,omitempty"`
		Daily   bool  `json:"daily,omitempty"`
		Weekly  bool  `json:"weekly,omitempty"`
		Monthly bool  `json:"monthly,omitempty"`
		Days    []int `json:"days"`
	}
	if i.Days == nil {
		return valueJSONB(struct {
			Once    bool `json:"once,omitempty"`
			Daily   bool `json:"daily,omitempty"`
			Weekly  bool `json:"weekly,omitempty"`
			Monthly bool `json:"monthly,omitempty"`
		}{i.Once, i.Daily, i.Weekly, i.Monthly})
	}
	return valueJSONB(wire(i))
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(value interface{}) error { return scanJSONB(p, value) }

// Value implements driver.Valuer.
func (p Payload) Value() (driver.Value, error) { return valueJSONB(p) }
