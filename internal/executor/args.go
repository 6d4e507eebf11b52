package executor

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/oriys/funcall/internal/protocol"
)

// Args gives a function typed access to the keyword arguments of its
// request.
type Args struct {
	kwargs protocol.Kwargs
}

func NewArgs(kwargs protocol.Kwargs) Args {
	return Args{kwargs: kwargs}
}

// Kwargs returns the raw keyword arguments.
func (a Args) Kwargs() protocol.Kwargs { return a.kwargs }

func (a Args) Len() int { return len(a.kwargs) }

func (a Args) Has(name string) bool {
	_, ok := a.kwargs[name]
	return ok
}

// Raw returns the encoded value of name.
func (a Args) Raw(name string) (json.RawMessage, bool) {
	raw, ok := a.kwargs[name]
	return raw, ok
}

// Bind decodes all keyword arguments into the struct pointed to by v.
// Arguments v has no field for are rejected.
func (a Args) Bind(v any) error {
	data, err := json.Marshal(a.kwargs)
	if err != nil {
		return fmt.Errorf("bind arguments: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("bind arguments: %w", err)
	}
	return nil
}

// Get decodes the argument name into v.
func (a Args) Get(name string, v any) error {
	raw, ok := a.kwargs[name]
	if !ok {
		return fmt.Errorf("missing argument %q", name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("argument %q: %w", name, err)
	}
	return nil
}

func (a Args) Int(name string) (int, error) {
	var v int
	err := a.Get(name, &v)
	return v, err
}

func (a Args) Float(name string) (float64, error) {
	var v float64
	err := a.Get(name, &v)
	return v, err
}

func (a Args) String(name string) (string, error) {
	var v string
	err := a.Get(name, &v)
	return v, err
}

func (a Args) Bool(name string) (bool, error) {
	var v bool
	err := a.Get(name, &v)
	return v, err
}
