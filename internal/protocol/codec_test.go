package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeClaimed(t *testing.T) {
	var buf bytes.Buffer
	err := EncodeClaimed(&buf, &ClaimedInvocation{
		ID:      "inv-1",
		Payload: json.RawMessage(`{"RunCode":{"command":"print(1)"}}`),
	})
	if err != nil {
		t.Fatalf("EncodeClaimed: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if out["id"] != "inv-1" {
		t.Errorf("id = %v", out["id"])
	}
	payload, ok := out["payload"].(map[string]any)
	if !ok || payload["RunCode"] == nil {
		t.Errorf("payload not passed through verbatim: %v", out["payload"])
	}

	if err := EncodeClaimed(&buf, &ClaimedInvocation{}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestDecodeDispatchResponse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		limit     int64
		wantErr   bool
		malformed bool
		checkFn   func(t *testing.T, r *DispatchResponse)
	}{
		{
			name:  "string response",
			input: `{"id":"inv-1","response":"A-result"}`,
			checkFn: func(t *testing.T, r *DispatchResponse) {
				if r.ID != "inv-1" {
					t.Errorf("id = %q", r.ID)
				}
				if string(r.Response) != `"A-result"` {
					t.Errorf("response = %s", r.Response)
				}
				if r.IsError {
					t.Error("is_error should default to false")
				}
			},
		},
		{
			name:  "object response with error flag and extra fields",
			input: `{"id":"inv-2","response":{"line":3},"is_error":true,"executor":"studio"}`,
			checkFn: func(t *testing.T, r *DispatchResponse) {
				if !r.IsError {
					t.Error("expected is_error")
				}
				if string(r.Response) != `{"line":3}` {
					t.Errorf("response = %s", r.Response)
				}
			},
		},
		{
			name:  "null response is still present",
			input: `{"id":"inv-3","response":null}`,
			checkFn: func(t *testing.T, r *DispatchResponse) {
				if string(r.Response) != "null" {
					t.Errorf("response = %s", r.Response)
				}
			},
		},
		{name: "missing id", input: `{"response":"x"}`, wantErr: true, malformed: true},
		{name: "missing response", input: `{"id":"inv-1"}`, wantErr: true, malformed: true},
		{name: "empty body", input: ``, wantErr: true, malformed: true},
		{name: "not json", input: `id=1`, wantErr: true, malformed: true},
		{name: "too large", input: `{"id":"inv-1","response":"xxxxxxxxxxxxxxxx"}`, limit: 16, wantErr: true, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeDispatchResponse(strings.NewReader(tt.input), tt.limit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeDispatchResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.malformed && !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, r)
			}
		})
	}
}

func TestDecodeProxyRequest(t *testing.T) {
	req, err := DecodeProxyRequest(strings.NewReader(`{"payload":{"GetStudioMode":{}}}`), 0)
	if err != nil {
		t.Fatalf("DecodeProxyRequest: %v", err)
	}
	if string(req.Payload) != `{"GetStudioMode":{}}` {
		t.Errorf("payload = %s", req.Payload)
	}

	for _, input := range []string{`{}`, `{"payload":null}`, `[`} {
		if _, err := DecodeProxyRequest(strings.NewReader(input), 0); !errors.Is(err, ErrMalformed) {
			t.Errorf("input %q: expected ErrMalformed, got %v", input, err)
		}
	}
}

func TestDecodeProxyResponse(t *testing.T) {
	resp, err := DecodeProxyResponse(strings.NewReader(`{"id":"x","response":"Edit","is_error":false}`), 0)
	if err != nil {
		t.Fatalf("DecodeProxyResponse: %v", err)
	}
	if string(resp.Response) != `"Edit"` {
		t.Errorf("response = %s", resp.Response)
	}

	if _, err := DecodeProxyResponse(strings.NewReader(`{"id":"x"}`), 0); err == nil {
		t.Error("expected error for missing response")
	}
}
