package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexString decodes from a JSON string, number or bool. Extensions are not
// consistent about identifier types, so IDs always land as strings.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	if data[0] == '{' || data[0] == '[' {
		// Structured values have no sensible string form.
		*s = ""
		return nil
	}
	*s = FlexString(data)
	return nil
}

func (s FlexString) String() string { return string(s) }

// FlexFloat decodes from a JSON number or a numeric string. Anything else is zero.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var n json.Number
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		n = json.Number(v)
	} else {
		n = json.Number(data)
	}
	v, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexFloat(v)
	return nil
}

// FlexBool decodes from a JSON bool, number or string.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*b = FlexBool(v)
	case float64:
		*b = v != 0
	case string:
		parsed, _ := strconv.ParseBool(v)
		*b = FlexBool(parsed)
	default:
		*b = false
	}
	return nil
}
