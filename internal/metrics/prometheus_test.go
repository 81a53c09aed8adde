package metrics

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pollbridge/internal/bridge"
)

func TestObserverCounters(t *testing.T) {
	m := New("pollbridge", nil)
	inv := bridge.Invocation{ID: "1", Payload: json.RawMessage(`{"RunCode":{}}`)}

	m.InvocationEnqueued(inv)
	m.InvocationEnqueued(bridge.Invocation{ID: "2", Payload: json.RawMessage(`"bare"`)})
	m.InvocationClaimed(inv, 10*time.Millisecond)
	m.InvocationResolved(inv, bridge.Result{IsError: true}, time.Second)
	m.InvocationAbandoned(inv, bridge.AbandonCancelled, time.Second)
	m.InvocationRequeued(inv)
	m.CompletionIgnored("9", bridge.OutcomeUnknown)
	m.PollExpired()
	m.PollExpired()
	m.Proxied(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.enqueuedTotal.WithLabelValues("RunCode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enqueuedTotal.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolvedTotal.WithLabelValues("RunCode", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.abandonedTotal.WithLabelValues("RunCode", "cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requeuedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ignoredTotal.WithLabelValues("unknown")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pollsEmpty))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.proxiedTotal.WithLabelValues("ok")))
}

func TestStateGaugesAndHandler(t *testing.T) {
	stats := bridge.Stats{QueueDepth: 3, Pending: 4, InFlight: 1, ExecutorConnected: true}
	m := New("pollbridge", func() bridge.Stats { return stats })

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	for _, want := range []string{
		"pollbridge_queue_depth 3",
		"pollbridge_pending_invocations 4",
		"pollbridge_in_flight_invocations 1",
		"pollbridge_executor_connected 1",
	} {
		assert.True(t, strings.Contains(text, want), "missing %q", want)
	}
}
