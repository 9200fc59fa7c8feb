package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a map[string]any stored as a JSONB column. Postgres drivers
// hand back JSONB as []byte; Scan/Value do the marshal/unmarshal so struct
// fields can stay plain Go maps everywhere else in the codebase.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		if s, ok := src.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("domain.JSONMap: unsupported scan type %T", src)
		}
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

// EdgeList is a []Edge stored as a JSONB column, via the same
// marshal-on-write/unmarshal-on-read idiom as JSONMap.
type EdgeList []Edge

func (l EdgeList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal([]Edge(l))
}

func (l *EdgeList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		if s, ok := src.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("domain.EdgeList: unsupported scan type %T", src)
		}
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, (*[]Edge)(l))
}

// StringList is a []string stored as a JSONB column (tags, relation-type
// allow-lists, etc.) using the same idiom.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal([]string(l))
}

func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		if s, ok := src.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("domain.StringList: unsupported scan type %T", src)
		}
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, (*[]string)(l))
}

// ToolCallList is a []ToolCall stored as a JSONB column on Message rows.
type ToolCallList []ToolCall

func (l ToolCallList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal([]ToolCall(l))
}

func (l *ToolCallList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		if s, ok := src.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("domain.ToolCallList: unsupported scan type %T", src)
		}
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, (*[]ToolCall)(l))
}

// DeviceList is a []Device stored as a JSONB column on User rows.
type DeviceList []Device

func (l DeviceList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal([]Device(l))
}

func (l *DeviceList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		if s, ok := src.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("domain.DeviceList: unsupported scan type %T", src)
		}
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, (*[]Device)(l))
}
