// Package forward relays invocations from a secondary bridge to the primary
// bridge that owns the listen address. The secondary keeps its own in-process
// queue; the forwarder drains it and posts each invocation to the primary's
// /proxy endpoint.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/pollbridge/internal/bridge"
	"github.com/mattjoyce/pollbridge/internal/log"
	"github.com/mattjoyce/pollbridge/internal/observability"
	"github.com/mattjoyce/pollbridge/internal/protocol"
)

// Source is the local queue the forwarder drains.
type Source interface {
	Poll(ctx context.Context, timeout time.Duration) (*bridge.Invocation, error)
	Resolve(ctx context.Context, id string, res bridge.Result) bridge.Outcome
}

type Forwarder struct {
	source      Source
	target      string
	client      *http.Client
	maxInFlight int64
	sem         *semaphore.Weighted
	maxBody     int64
	logger      *slog.Logger
}

type Option func(*Forwarder)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) {
		if c != nil {
			f.client = c
		}
	}
}

// WithMaxInFlight bounds concurrent requests to the primary.
func WithMaxInFlight(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxInFlight = int64(n)
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Forwarder) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a forwarder posting to the primary at baseURL
// (e.g. http://127.0.0.1:44755).
func New(baseURL string, source Source, opts ...Option) *Forwarder {
	f := &Forwarder{
		source:      source,
		target:      strings.TrimRight(baseURL, "/") + "/proxy",
		client:      &http.Client{},
		maxInFlight: 8,
		maxBody:     protocol.DefaultMaxBodyBytes,
		logger:      log.WithComponent("forward"),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.sem = semaphore.NewWeighted(f.maxInFlight)
	return f
}

// Target is the primary's proxy URL.
func (f *Forwarder) Target() string {
	return f.target
}

// Run drains the source until ctx ends or the source closes, then waits for
// in-flight relays to finish.
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Info("forwarding invocations to primary bridge", "target", f.target)
	defer f.drain()

	for {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return nil
		}

		inv, err := f.source.Poll(ctx, 0)
		if err != nil {
			f.sem.Release(1)
			switch {
			case errors.Is(err, bridge.ErrNoWork):
				continue
			case errors.Is(err, bridge.ErrClosed), ctx.Err() != nil:
				return nil
			default:
				return fmt.Errorf("poll local queue: %w", err)
			}
		}

		go func(inv *bridge.Invocation) {
			defer f.sem.Release(1)
			f.source.Resolve(ctx, inv.ID, f.Call(ctx, inv))
		}(inv)
	}
}

func (f *Forwarder) drain() {
	_ = f.sem.Acquire(context.Background(), f.maxInFlight)
	f.sem.Release(f.maxInFlight)
}

// Call posts one invocation to the primary and returns its result. Failures
// become error results so the local caller always gets an answer.
func (f *Forwarder) Call(ctx context.Context, inv *bridge.Invocation) bridge.Result {
	ctx, span := observability.StartSpan(ctx, "forward.call",
		observability.AttrInvocationID.String(inv.ID),
		observability.AttrTool.String(inv.Tool()),
	)
	defer span.End()

	logger := f.logger.With("invocation_id", inv.ID, "tool", inv.Tool())

	body, err := json.Marshal(protocol.ProxyRequest{ID: inv.ID, Payload: inv.Payload})
	if err != nil {
		observability.SetSpanError(span, err)
		return bridge.ErrorResult(fmt.Sprintf("encode proxy request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.target, bytes.NewReader(body))
	if err != nil {
		observability.SetSpanError(span, err)
		return bridge.ErrorResult(fmt.Sprintf("build proxy request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		observability.SetSpanError(span, err)
		logger.Warn("proxy request failed", "error", err)
		return bridge.ErrorResult(fmt.Sprintf("primary bridge unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readError(resp.Body)
		err := fmt.Errorf("primary bridge returned %d: %s", resp.StatusCode, msg)
		observability.SetSpanError(span, err)
		logger.Warn("proxy request rejected", "status", resp.StatusCode, "error", msg)
		return bridge.ErrorResult(err.Error())
	}

	pr, err := protocol.DecodeProxyResponse(resp.Body, f.maxBody)
	if err != nil {
		observability.SetSpanError(span, err)
		return bridge.ErrorResult(err.Error())
	}

	logger.Debug("invocation forwarded", "duration_ms", time.Since(start).Milliseconds(), "is_error", pr.IsError)
	observability.SetSpanOK(span)
	return bridge.Result{Response: pr.Response, IsError: pr.IsError}
}

func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return "no body"
}
