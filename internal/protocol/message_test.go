package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestRequestRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 6).Draw(t, "numKwargs")
		kwargs := make(map[string]any, n)
		for i := 0; i < n; i++ {
			name := rapid.StringMatching(`[a-z_][a-z0-9_]{0,8}`).Draw(t, "kwargName")
			switch rapid.IntRange(0, 4).Draw(t, "kind") {
			case 0:
				kwargs[name] = rapid.Int().Draw(t, "int")
			case 1:
				kwargs[name] = rapid.String().Draw(t, "string")
			case 2:
				kwargs[name] = rapid.Bool().Draw(t, "bool")
			case 3:
				kwargs[name] = rapid.SliceOfN(rapid.IntRange(-100, 100), 0, 4).Draw(t, "list")
			default:
				kwargs[name] = nil
			}
		}
		kw, err := NewKwargs(kwargs)
		if err != nil {
			t.Fatalf("NewKwargs failed: %v", err)
		}

		req := &Request{
			ID:             rapid.StringMatching(`[A-Z0-9]{10}`).Draw(t, "id"),
			FunctionName:   rapid.String().Draw(t, "functionName"),
			FunctionKwargs: kw,
		}
		data, err := req.Encode()
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		got, err := DecodeRequest(data)
		if err != nil {
			t.Fatalf("DecodeRequest(%s) failed: %v", data, err)
		}
		if !reflect.DeepEqual(got, req) {
			t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, req)
		}
	})
}

func TestRequestEncode_FieldNames(t *testing.T) {
	req := &Request{ID: "ABC", FunctionName: "add"}
	data, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := `{"id":"ABC","function_name":"add","function_kwargs":{}}`
	if string(data) != want {
		t.Fatalf("Encode = %s, want %s", data, want)
	}
}

func TestResponseEncode_OrdinalEnums(t *testing.T) {
	resp := &Response{ID: "ABC", Status: StatusCompleted, ExitCode: ExitFunctionNotFound}
	data, err := resp.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := `{"id":"ABC","status":2,"output":null,"exit_code":3}`
	if string(data) != want {
		t.Fatalf("Encode = %s, want %s", data, want)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	out, err := NewOutput(map[string]any{"sum": 5})
	if err != nil {
		t.Fatalf("NewOutput failed: %v", err)
	}
	resp := &Response{ID: "XYZ", Status: StatusCompleted, Output: out, ExitCode: ExitSuccess}
	data, err := resp.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if got.ID != resp.ID || got.Status != resp.Status || got.ExitCode != resp.ExitCode {
		t.Fatalf("unexpected response: %+v", got)
	}
	if got.Output.String() != `{"sum":5}` {
		t.Fatalf("output = %s", got.Output)
	}
}

func TestDecodeRequest_Unparsable(t *testing.T) {
	for _, payload := range []string{"{not json", "", "\xff\xfe", `{"id":`} {
		_, err := DecodeRequest([]byte(payload))
		if !errors.Is(err, ErrUnparsable) {
			t.Fatalf("DecodeRequest(%q) err = %v, want ErrUnparsable", payload, err)
		}
	}
}

func TestDecodeRequest_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantID  string
		field   string
	}{
		{"kwargs is string", `{"id":"T1","function_name":"add","function_kwargs":"a=1"}`, "T1", FieldFunctionKwargs},
		{"kwargs is null", `{"id":"T1","function_name":"add","function_kwargs":null}`, "T1", FieldFunctionKwargs},
		{"name is number", `{"id":"T2","function_name":7,"function_kwargs":{}}`, "T2", FieldFunctionName},
		{"missing name", `{"id":"T3","function_kwargs":{}}`, "T3", FieldFunctionName},
		{"unexpected field", `{"id":"T4","function_name":"a","function_kwargs":{},"x":1}`, "T4", "x"},
		{"id is number", `{"id":5,"function_name":"a","function_kwargs":{}}`, "", FieldID},
		{"id is empty", `{"id":"","function_name":1,"function_kwargs":{}}`, "", FieldFunctionName},
		{"missing id", `{"function_name":"a","function_kwargs":{}}`, "", FieldID},
		{"not an object", `["id","T5"]`, "", ""},
		{"null", `null`, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tt.payload))
			var me *MalformedError
			if !errors.As(err, &me) {
				t.Fatalf("err = %v, want *MalformedError", err)
			}
			if errors.Is(err, ErrUnparsable) {
				t.Fatal("malformed message must not be classified as unparsable")
			}
			if me.ID != tt.wantID {
				t.Fatalf("ID = %q, want %q", me.ID, tt.wantID)
			}
			if me.Field != tt.field {
				t.Fatalf("Field = %q, want %q", me.Field, tt.field)
			}
			id, ok := MalformedID(err)
			if ok != (tt.wantID != "") || id != tt.wantID {
				t.Fatalf("MalformedID = (%q, %v)", id, ok)
			}
		})
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantID  string
	}{
		{"status is string", `{"id":"R1","status":"COMPLETED","output":1,"exit_code":0}`, "R1"},
		{"status out of range", `{"id":"R1","status":7,"output":1,"exit_code":0}`, "R1"},
		{"exit code float", `{"id":"R2","status":2,"output":1,"exit_code":0.5}`, "R2"},
		{"exit code out of range", `{"id":"R2","status":2,"output":1,"exit_code":9}`, "R2"},
		{"missing output", `{"id":"R3","status":2,"exit_code":0}`, "R3"},
		{"id is object", `{"id":{},"status":2,"output":1,"exit_code":0}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse([]byte(tt.payload))
			var me *MalformedError
			if !errors.As(err, &me) {
				t.Fatalf("err = %v, want *MalformedError", err)
			}
			if me.ID != tt.wantID {
				t.Fatalf("ID = %q, want %q", me.ID, tt.wantID)
			}
		})
	}
}

func TestDecodeResponse_NullOutput(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"exit_code":1,"output":null,"status":2,"id":"N1"}`))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if !resp.Output.IsNull() {
		t.Fatalf("expected null output, got %s", resp.Output)
	}
	if resp.ExitCode != ExitError {
		t.Fatalf("exit code = %v, want ERROR", resp.ExitCode)
	}
}

func TestNewKwargs_RejectsUnencodable(t *testing.T) {
	_, err := NewKwargs(map[string]any{"ch": make(chan int)})
	if err == nil || !strings.Contains(err.Error(), `"ch"`) {
		t.Fatalf("expected error naming the kwarg, got %v", err)
	}
}

func TestOutput(t *testing.T) {
	var empty Output
	if empty.String() != "null" || !empty.IsNull() {
		t.Fatalf("zero Output should encode as null, got %s", empty)
	}

	out, err := NewOutput(5)
	if err != nil {
		t.Fatalf("NewOutput failed: %v", err)
	}
	var n int
	if err := out.Decode(&n); err != nil || n != 5 {
		t.Fatalf("Decode = %d, %v", n, err)
	}

	if got := TextOutput("boom").Text(); got != "boom" {
		t.Fatalf("Text = %q, want boom", got)
	}

	if _, err := NewOutput(func() {}); err == nil {
		t.Fatal("expected error for non-encodable output")
	}

	data, err := json.Marshal(struct {
		Out Output `json:"out"`
	}{})
	if err != nil || string(data) != `{"out":null}` {
		t.Fatalf("Marshal = %s, %v", data, err)
	}
}

func TestEnumStrings(t *testing.T) {
	if StatusExecuting.String() != "EXECUTING" {
		t.Fatalf("unexpected status string %q", StatusExecuting)
	}
	if ExitBadResponse.String() != "BAD_RESPONSE" {
		t.Fatalf("unexpected exit code string %q", ExitBadResponse)
	}
	for c := ExitSuccess; c <= ExitBadResponse; c++ {
		if c.IsSuccess() != (c == ExitSuccess) {
			t.Fatalf("%v.IsSuccess() = %v", c, c.IsSuccess())
		}
	}
}
