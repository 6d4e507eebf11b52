package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var jsonNull = []byte("null")

// Output holds a single JSON value produced by a function. The zero value
// encodes as null.
type Output json.RawMessage

// NewOutput encodes v. It fails when v is not JSON-encodable.
func NewOutput(v any) (Output, error) {
	if raw, ok := v.(Output); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("output is not JSON-encodable: %w", err)
	}
	return Output(data), nil
}

// TextOutput wraps s as a JSON string value.
func TextOutput(s string) Output {
	data, _ := json.Marshal(s)
	return Output(data)
}

// Raw returns the encoded value, substituting null for an empty output.
func (o Output) Raw() json.RawMessage {
	if len(o) == 0 {
		return json.RawMessage(jsonNull)
	}
	return json.RawMessage(o)
}

// IsNull reports whether the output is empty or the JSON null literal.
func (o Output) IsNull() bool {
	return len(o) == 0 || bytes.Equal(bytes.TrimSpace(o), jsonNull)
}

// Decode unmarshals the output into v.
func (o Output) Decode(v any) error {
	return json.Unmarshal(o.Raw(), v)
}

// Text returns the value when the output is a JSON string, or the raw JSON
// text otherwise.
func (o Output) Text() string {
	var s string
	if err := json.Unmarshal(o.Raw(), &s); err == nil {
		return s
	}
	return string(o.Raw())
}

func (o Output) String() string {
	return string(o.Raw())
}

func (o Output) MarshalJSON() ([]byte, error) {
	return o.Raw(), nil
}

func (o *Output) UnmarshalJSON(data []byte) error {
	if o == nil {
		return fmt.Errorf("protocol: UnmarshalJSON on nil Output")
	}
	*o = append((*o)[:0], data...)
	return nil
}
