package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxBodyBytes caps request bodies read from the executor. Results can
// carry whole script outputs, so the limit is generous.
const DefaultMaxBodyBytes = 8 << 20

// ErrMalformed marks a body that is not valid JSON or lacks required fields.
var ErrMalformed = errors.New("malformed request")

// EncodeClaimed writes the dispatch-request answer for one invocation.
func EncodeClaimed(w io.Writer, c *ClaimedInvocation) error {
	if c.ID == "" {
		return fmt.Errorf("claimed invocation has no id")
	}
	if err := json.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("failed to encode claimed invocation: %w", err)
	}
	return nil
}

// DecodeDispatchResponse reads a completion posted by the executor. It reads
// at most limit bytes (DefaultMaxBodyBytes if limit <= 0). Unknown fields are
// tolerated; id and response are required.
func DecodeDispatchResponse(r io.Reader, limit int64) (*DispatchResponse, error) {
	data, err := readLimited(r, limit)
	if err != nil {
		return nil, err
	}

	var resp DispatchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: missing required field: id", ErrMalformed)
	}
	if len(resp.Response) == 0 {
		return nil, fmt.Errorf("%w: missing required field: response", ErrMalformed)
	}
	return &resp, nil
}

// DecodeProxyRequest reads a payload forwarded by a secondary bridge.
func DecodeProxyRequest(r io.Reader, limit int64) (*ProxyRequest, error) {
	data, err := readLimited(r, limit)
	if err != nil {
		return nil, err
	}

	var req ProxyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(req.Payload) == 0 || bytes.Equal(req.Payload, []byte("null")) {
		return nil, fmt.Errorf("%w: missing required field: payload", ErrMalformed)
	}
	return &req, nil
}

// DecodeProxyResponse reads the primary's answer on the forwarding side.
func DecodeProxyResponse(r io.Reader, limit int64) (*ProxyResponse, error) {
	data, err := readLimited(r, limit)
	if err != nil {
		return nil, err
	}

	var resp ProxyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode proxy response: %w", err)
	}
	if len(resp.Response) == 0 {
		return nil, fmt.Errorf("proxy response missing required field: response")
	}
	return &resp, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformed, limit)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	return data, nil
}
