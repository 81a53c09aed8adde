package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/pollbridge/internal/bridge"
	"github.com/mattjoyce/pollbridge/internal/events"
	"github.com/mattjoyce/pollbridge/internal/observability"
	"github.com/mattjoyce/pollbridge/internal/protocol"
)

// handleDispatchRequest handles POST /dispatch-request.
// Answers 200 {id, payload} with one claimed invocation, or 423 with no body
// when the wait expires; the executor polls again straight away.
func (s *Server) handleDispatchRequest(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartServerSpan(r.Context(), "http.dispatch_request")
	defer span.End()

	timeout, ok := s.pollTimeout(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "timeout_ms must be a positive integer")
		return
	}

	inv, err := s.bridge.Poll(ctx, timeout)
	switch {
	case errors.Is(err, bridge.ErrNoWork):
		w.WriteHeader(http.StatusLocked)
		return
	case errors.Is(err, bridge.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "bridge shutting down")
		return
	case err != nil:
		// The executor hung up; nobody is left to answer.
		return
	}

	span.SetAttributes(observability.AttrInvocationID.String(inv.ID))

	if r.Context().Err() != nil {
		s.requeue(inv.ID, "executor disconnected before handoff")
		return
	}

	var buf bytes.Buffer
	if err := protocol.EncodeClaimed(&buf, &protocol.ClaimedInvocation{ID: inv.ID, Payload: inv.Payload}); err != nil {
		s.requeue(inv.ID, "encode failed")
		observability.SetSpanError(span, err)
		s.writeError(w, http.StatusInternalServerError, "failed to encode invocation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.requeue(inv.ID, "write failed")
		observability.SetSpanError(span, err)
	}
}

func (s *Server) pollTimeout(r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("timeout_ms")
	if raw == "" {
		return s.bridge.PollTimeout(), true
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return 0, false
	}
	d := time.Duration(ms) * time.Millisecond
	if d > s.config.MaxPollTimeout {
		d = s.config.MaxPollTimeout
	}
	return d, true
}

func (s *Server) requeue(id, why string) {
	if s.bridge.Requeue(id) {
		s.logger.Warn("invocation returned to queue", "invocation_id", id, "cause", why)
	}
}

// handleDispatchResponse handles POST /dispatch-response.
// Any well-formed completion is acknowledged with 200, including ones for ids
// the bridge no longer tracks.
func (s *Server) handleDispatchResponse(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartServerSpan(r.Context(), "http.dispatch_response")
	defer span.End()

	resp, err := protocol.DecodeDispatchResponse(r.Body, s.config.MaxBodyBytes)
	if err != nil {
		observability.SetSpanError(span, err)
		s.logger.Warn("rejecting dispatch response", "error", err)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome := s.bridge.Resolve(ctx, resp.ID, bridge.Result{Response: resp.Response, IsError: resp.IsError})
	respondJSON(w, http.StatusOK, protocol.Ack{Status: "ok", Outcome: outcome.String()})
}

// handleProxy handles POST /proxy: a tool call relayed by a secondary bridge
// whose own port was taken. It waits for the result like a local caller.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.StartServerSpan(r.Context(), "http.proxy")
	defer span.End()

	req, err := protocol.DecodeProxyRequest(r.Body, s.config.MaxBodyBytes)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.config.Events != nil {
		s.config.Events.Publish(events.TypeForwarding, map[string]string{
			"remote_id": req.ID,
			"remote":    r.RemoteAddr,
		})
	}

	res, err := s.bridge.Submit(ctx, req.Payload)
	switch {
	case err == nil:
	case errors.Is(err, bridge.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "bridge shutting down")
		return
	case errors.Is(err, bridge.ErrInvocationTimeout):
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	default:
		observability.SetSpanError(span, err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.config.OnProxied != nil {
		s.config.OnProxied(res.IsError)
	}
	respondJSON(w, http.StatusOK, protocol.ProxyResponse{
		ID:       req.ID,
		Response: res.Response,
		IsError:  res.IsError,
	})
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.bridge.Stats()

	resp := HealthzResponse{
		Status:            "ok",
		Version:           s.config.Version,
		UptimeSeconds:     int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:        st.QueueDepth,
		Pending:           st.Pending,
		InFlight:          st.InFlight,
		ActivePolls:       st.ActivePolls,
		ExecutorConnected: st.ExecutorConnected,
	}
	if !st.LastPollAt.IsZero() {
		t := st.LastPollAt.UTC()
		resp.LastPollAt = &t
	}

	code := http.StatusOK
	if st.Closed {
		resp.Status = "closed"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, resp)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
