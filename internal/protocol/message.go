package protocol

import (
	"encoding/json"
	"fmt"
)

// Wire field names. They are part of the contract and independent of the Go
// struct layout.
const (
	FieldID             = "id"
	FieldFunctionName   = "function_name"
	FieldFunctionKwargs = "function_kwargs"
	FieldStatus         = "status"
	FieldOutput         = "output"
	FieldExitCode       = "exit_code"
)

// Kwargs maps keyword argument names to encoded JSON values.
type Kwargs map[string]json.RawMessage

// NewKwargs encodes every value of args.
func NewKwargs(args map[string]any) (Kwargs, error) {
	kw := make(Kwargs, len(args))
	for name, v := range args {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("kwarg %q is not JSON-encodable: %w", name, err)
		}
		kw[name] = data
	}
	return kw, nil
}

// MarshalJSON encodes a nil Kwargs as an empty object, never null.
func (k Kwargs) MarshalJSON() ([]byte, error) {
	if k == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]json.RawMessage(k))
}

// Request asks an executor to run FunctionName with FunctionKwargs.
type Request struct {
	ID             string `json:"id"`
	FunctionName   string `json:"function_name"`
	FunctionKwargs Kwargs `json:"function_kwargs"`
}

// Encode returns the canonical JSON form of the request.
func (r *Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", r.ID, err)
	}
	return data, nil
}

// Response reports the outcome of the task identified by ID.
type Response struct {
	ID       string   `json:"id"`
	Status   Status   `json:"status"`
	Output   Output   `json:"output"`
	ExitCode ExitCode `json:"exit_code"`
}

// Encode returns the canonical JSON form of the response.
func (r *Response) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode response %s: %w", r.ID, err)
	}
	return data, nil
}
