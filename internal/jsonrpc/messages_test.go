package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantErr  bool
	}{
		{name: "request", raw: `{"jsonrpc":"2.0","id":1,"method":"ping"}`, wantType: TypeRequest},
		{name: "string id", raw: `{"jsonrpc":"2.0","id":"a","method":"ping"}`, wantType: TypeRequest},
		{name: "notification", raw: `{"jsonrpc":"2.0","method":"notifications/initialized"}`, wantType: TypeNotification},
		{name: "null id is notification", raw: `{"jsonrpc":"2.0","id":null,"method":"x"}`, wantType: TypeNotification},
		{name: "response", raw: `{"jsonrpc":"2.0","id":1,"result":{}}`, wantType: TypeResponse},
		{name: "wrong version", raw: `{"jsonrpc":"1.0","id":1,"method":"ping"}`, wantErr: true},
		{name: "request with result", raw: `{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`, wantErr: true},
		{name: "empty response", raw: `{"jsonrpc":"2.0","id":1}`, wantErr: true},
		{name: "not json", raw: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := msg.Type(); got != tt.wantType {
				t.Fatalf("unexpected type: want %s got %s", tt.wantType, got)
			}
		})
	}
}

func TestDecodeMessage_Batch(t *testing.T) {
	_, err := DecodeMessage([]byte(` [{"jsonrpc":"2.0","id":1,"method":"ping"}]`))
	if !errors.Is(err, ErrBatchUnsupported) {
		t.Fatalf("expected ErrBatchUnsupported, got %v", err)
	}
}

func TestResponseIDEncoding(t *testing.T) {
	b, err := json.Marshal(NewErrorResponse(nil, ErrorCodeParseError, "parse error", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `{"jsonrpc":"2.0","error":{"code":-32700,"message":"parse error"},"id":null}`; string(b) != want {
		t.Fatalf("unexpected encoding:\nwant %s\ngot  %s", want, b)
	}

	res, err := NewResultResponse(NewRequestID(42), map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	b, _ = json.Marshal(res)
	if want := `{"jsonrpc":"2.0","result":{"a":1},"id":42}`; string(b) != want {
		t.Fatalf("unexpected encoding:\nwant %s\ngot  %s", want, b)
	}
}
