package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pollbridge/internal/bridge"
	"github.com/mattjoyce/pollbridge/internal/tools/mocks"
)

func connect(t *testing.T, s Submitter) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	srv := NewServer(s, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	serverT, clientT := mcp.NewInMemoryTransports()

	ss, err := srv.MCP().Connect(ctx, serverT, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func TestListTools(t *testing.T) {
	ctrl := gomock.NewController(t)
	cs := connect(t, mocks.NewMockSubmitter(ctrl))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"run_code", "insert_model", "get_console_output",
		"start_stop_play", "run_script_in_play_mode", "get_studio_mode",
	}, names)
}

func TestToolCallsBuildTaggedPayloads(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"run_code", map[string]any{"command": "print(workspace.Name)"}, `{"RunCode":{"command":"print(workspace.Name)"}}`},
		{"insert_model", map[string]any{"query": "tree"}, `{"InsertModel":{"query":"tree"}}`},
		{"get_console_output", map[string]any{}, `{"GetConsoleOutput":{}}`},
		{"start_stop_play", map[string]any{"mode": "stop"}, `{"StartStopPlay":{"mode":"stop"}}`},
		{"get_studio_mode", map[string]any{}, `{"GetStudioMode":{}}`},
		{
			"run_script_in_play_mode",
			map[string]any{"code": "print(1)", "mode": "start_play"},
			`{"RunScriptInPlayMode":{"code":"print(1)","timeout":100,"mode":"start_play"}}`,
		},
		{
			"run_script_in_play_mode",
			map[string]any{"code": "print(1)", "mode": "run_server", "timeout": 5},
			`{"RunScriptInPlayMode":{"code":"print(1)","timeout":5,"mode":"run_server"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			sub := mocks.NewMockSubmitter(ctrl)
			sub.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, payload json.RawMessage) (bridge.Result, error) {
					assert.JSONEq(t, tt.want, string(payload))
					return bridge.Result{Response: json.RawMessage(`"done"`)}, nil
				})

			cs := connect(t, sub)
			res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: tt.name, Arguments: tt.args})
			require.NoError(t, err)
			assert.False(t, res.IsError)
			assert.Equal(t, "done", text(t, res))
		})
	}
}

func TestToolCallRejectsInvalidMode(t *testing.T) {
	ctrl := gomock.NewController(t)
	sub := mocks.NewMockSubmitter(ctrl)
	cs := connect(t, sub)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "start_stop_play",
		Arguments: map[string]any{"mode": "pause"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "invalid mode")

	res, err = cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "run_script_in_play_mode",
		Arguments: map[string]any{"code": "x", "mode": "stop"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestToolCallErrorResults(t *testing.T) {
	tests := []struct {
		name string
		res  bridge.Result
		err  error
		want string
	}{
		{"executor error", bridge.ErrorResult("script failed"), nil, "script failed"},
		{"closed", bridge.Result{}, bridge.ErrClosed, "shutting down"},
		{"timeout", bridge.Result{}, bridge.ErrInvocationTimeout, "did not answer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			sub := mocks.NewMockSubmitter(ctrl)
			sub.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(tt.res, tt.err)

			cs := connect(t, sub)
			res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
				Name:      "run_code",
				Arguments: map[string]any{"command": "error('x')"},
			})
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, text(t, res), tt.want)
		})
	}
}

func TestToolCallThroughBridge(t *testing.T) {
	b := bridge.New(bridge.WithPollTimeout(time.Second))
	t.Cleanup(func() { _ = b.Close() })

	go func() {
		inv, err := b.Poll(context.Background(), 2*time.Second)
		if err != nil {
			return
		}
		b.Resolve(context.Background(), inv.ID, bridge.Result{Response: json.RawMessage(`"Edit"`)})
	}()

	cs := connect(t, b)
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "get_studio_mode", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Edit", text(t, res))
}

func TestResponseText(t *testing.T) {
	assert.Equal(t, "hello", ResponseText(json.RawMessage(`"hello"`)))
	assert.Equal(t, `{"success":true}`, ResponseText(json.RawMessage(`{"success":true}`)))
	assert.Equal(t, "", ResponseText(nil))
}
