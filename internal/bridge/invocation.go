package bridge

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/zeebo/blake3"
)

// Invocation is one unit of work waiting for, or held by, the executor.
type Invocation struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Result is what the executor reports back for an invocation.
type Result struct {
	Response json.RawMessage `json:"response"`
	IsError  bool            `json:"is_error,omitempty"`
}

// Tool returns the payload's variant name when the payload is an object with
// exactly one key ({"RunCode": {...}}). Anything else yields "".
func (inv Invocation) Tool() string {
	var variants map[string]json.RawMessage
	if err := json.Unmarshal(inv.Payload, &variants); err != nil || len(variants) != 1 {
		return ""
	}
	for k := range variants {
		return k
	}
	return ""
}

// Digest fingerprints the payload so logs and the journal can correlate
// invocations without storing the code itself.
func (inv Invocation) Digest() string {
	sum := blake3.Sum256(inv.Payload)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// ErrorResult wraps a bridge-side failure message as an error Result.
func ErrorResult(msg string) Result {
	b, _ := json.Marshal(msg)
	return Result{Response: b, IsError: true}
}
