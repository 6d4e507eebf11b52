package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf8"
)

// ErrUnparsable is returned when the payload is not UTF-8 JSON at all.
// Such payloads are transport-level garbage and are dropped without reply.
var ErrUnparsable = errors.New("protocol: payload is not valid JSON")

// MalformedError reports a JSON payload that does not match the message
// schema. ID is set when the payload carried a non-empty string id.
type MalformedError struct {
	ID     string
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("protocol: malformed message: %s", e.Reason)
	}
	return fmt.Sprintf("protocol: malformed message: field %q: %s", e.Field, e.Reason)
}

// Identifiable reports whether the malformed message can still be
// correlated to a task.
func (e *MalformedError) Identifiable() bool {
	return e.ID != ""
}

// MalformedID extracts the recovered task ID from a decode error.
func MalformedID(err error) (string, bool) {
	var me *MalformedError
	if errors.As(err, &me) && me.Identifiable() {
		return me.ID, true
	}
	return "", false
}

var (
	requestFields  = []string{FieldID, FieldFunctionName, FieldFunctionKwargs}
	responseFields = []string{FieldID, FieldStatus, FieldOutput, FieldExitCode}
)

// DecodeRequest parses and validates a request payload.
func DecodeRequest(data []byte) (*Request, error) {
	obj, err := parseObject(data)
	if err != nil {
		return nil, err
	}
	id := obj.recoverID()
	if err := obj.checkFieldSet(id, requestFields); err != nil {
		return nil, err
	}

	req := &Request{}
	if req.ID, err = obj.str(id, FieldID); err != nil {
		return nil, err
	}
	if req.FunctionName, err = obj.str(id, FieldFunctionName); err != nil {
		return nil, err
	}
	if req.FunctionKwargs, err = obj.kwargs(id, FieldFunctionKwargs); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeResponse parses and validates a response payload.
func DecodeResponse(data []byte) (*Response, error) {
	obj, err := parseObject(data)
	if err != nil {
		return nil, err
	}
	id := obj.recoverID()
	if err := obj.checkFieldSet(id, responseFields); err != nil {
		return nil, err
	}

	resp := &Response{}
	if resp.ID, err = obj.str(id, FieldID); err != nil {
		return nil, err
	}
	status, err := obj.integer(id, FieldStatus)
	if err != nil {
		return nil, err
	}
	resp.Status = Status(status)
	if !resp.Status.Valid() {
		return nil, &MalformedError{ID: id, Field: FieldStatus, Reason: "unknown status " + strconv.Itoa(status)}
	}
	code, err := obj.integer(id, FieldExitCode)
	if err != nil {
		return nil, err
	}
	resp.ExitCode = ExitCode(code)
	if !resp.ExitCode.Valid() {
		return nil, &MalformedError{ID: id, Field: FieldExitCode, Reason: "unknown exit code " + strconv.Itoa(code)}
	}
	resp.Output = Output(bytes.TrimSpace(obj[FieldOutput]))
	return resp, nil
}

// object is a parsed JSON object whose values are still encoded.
type object map[string]json.RawMessage

func parseObject(data []byte) (object, error) {
	if !utf8.Valid(data) || !json.Valid(data) {
		return nil, ErrUnparsable
	}
	if kindOf(data) != '{' {
		return nil, &MalformedError{Reason: "payload is not a JSON object"}
	}
	var obj object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, &MalformedError{Reason: err.Error()}
	}
	return obj, nil
}

// recoverID returns the id field when it is present, a string and non-empty.
// Anything else degrades to "" (unidentifiable).
func (o object) recoverID() string {
	raw, ok := o[FieldID]
	if !ok || kindOf(raw) != '"' {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}

func (o object) checkFieldSet(id string, fields []string) error {
	for _, f := range fields {
		if _, ok := o[f]; !ok {
			return &MalformedError{ID: id, Field: f, Reason: "missing"}
		}
	}
	if len(o) != len(fields) {
		for name := range o {
			if !slices.Contains(fields, name) {
				return &MalformedError{ID: id, Field: name, Reason: "unexpected field"}
			}
		}
	}
	return nil
}

func (o object) str(id, field string) (string, error) {
	raw := o[field]
	if kindOf(raw) != '"' {
		return "", typeMismatch(id, field, "string", raw)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &MalformedError{ID: id, Field: field, Reason: err.Error()}
	}
	return s, nil
}

func (o object) integer(id, field string) (int, error) {
	raw := o[field]
	if kindOf(raw) != '0' {
		return 0, typeMismatch(id, field, "integer", raw)
	}
	n, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 32)
	if err != nil {
		return 0, typeMismatch(id, field, "integer", raw)
	}
	return int(n), nil
}

func (o object) kwargs(id, field string) (Kwargs, error) {
	raw := o[field]
	if kindOf(raw) != '{' {
		return nil, typeMismatch(id, field, "object", raw)
	}
	var kw Kwargs
	if err := json.Unmarshal(raw, &kw); err != nil {
		return nil, &MalformedError{ID: id, Field: field, Reason: err.Error()}
	}
	if kw == nil {
		kw = Kwargs{}
	}
	return kw, nil
}

func typeMismatch(id, field, want string, raw json.RawMessage) error {
	return &MalformedError{ID: id, Field: field, Reason: fmt.Sprintf("expected %s, got %s", want, kindName(kindOf(raw)))}
}

// kindOf classifies an encoded JSON value by its first byte. Numbers map
// to '0'.
func kindOf(raw []byte) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	switch c := raw[0]; c {
	case '{', '[', '"', 't', 'f', 'n':
		return c
	default:
		return '0'
	}
}

func kindName(k byte) string {
	switch k {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	case '0':
		return "number"
	default:
		return "nothing"
	}
}
