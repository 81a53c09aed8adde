package protocol

import "encoding/json"

// ClaimedInvocation is the 200 body of POST /dispatch-request.
type ClaimedInvocation struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// DispatchResponse is the body of POST /dispatch-response.
type DispatchResponse struct {
	ID       string          `json:"id"`
	Response json.RawMessage `json:"response"`
	IsError  bool            `json:"is_error,omitempty"` // executor-side failure
}

// Ack acknowledges a dispatch-response. Status is always "ok"; Outcome says
// what the bridge did with it (delivered, duplicate, stale, unknown).
type Ack struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome,omitempty"`
}

// ProxyRequest is sent by a forwarding bridge to the primary's POST /proxy.
type ProxyRequest struct {
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// ProxyResponse is the primary's answer to a ProxyRequest.
type ProxyResponse struct {
	ID       string          `json:"id,omitempty"`
	Response json.RawMessage `json:"response"`
	IsError  bool            `json:"is_error,omitempty"`
}
