// Package tools exposes the bridge to an assistant as an MCP server. Each tool
// call becomes one invocation; the tool blocks until the executor answers.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mattjoyce/pollbridge/internal/bridge"
	"github.com/mattjoyce/pollbridge/internal/log"
)

//go:generate mockgen -destination=mocks/mock_submitter.go -package=mocks github.com/mattjoyce/pollbridge/internal/tools Submitter

// Submitter hands a payload to the executor and waits for its result.
type Submitter interface {
	Submit(ctx context.Context, payload json.RawMessage) (bridge.Result, error)
}

const (
	ServerName = "Roblox_Studio"

	instructions = "Use run_code to query data from the Roblox Studio place or to change it"

	// DefaultPlayTimeout is the script timeout, in seconds, used by
	// run_script_in_play_mode when the caller gives none.
	DefaultPlayTimeout = 100
)

// Server adapts MCP tool calls onto a Submitter.
type Server struct {
	submitter Submitter
	mcp       *mcp.Server
	logger    *slog.Logger
}

// NewServer registers the Studio tools on a fresh MCP server.
func NewServer(s Submitter, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = log.WithComponent("tools")
	}
	srv := &Server{
		submitter: s,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    ServerName,
			Title:   "Roblox Studio MCP Server",
			Version: version,
		}, &mcp.ServerOptions{Instructions: instructions}),
		logger: logger,
	}
	srv.register()
	return srv
}

// MCP returns the underlying server, for transports other than stdio.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// RunStdio serves MCP over stdin/stdout until the client disconnects or ctx
// ends.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("serving tools over stdio")
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

type RunCode struct {
	Command string `json:"command" jsonschema:"Code to run"`
}

type InsertModel struct {
	Query string `json:"query" jsonschema:"Query to search for the model"`
}

type GetConsoleOutput struct{}

type GetStudioMode struct{}

type StartStopPlay struct {
	Mode string `json:"mode" jsonschema:"Mode to start or stop, must be start_play, stop, or run_server"`
}

type RunScriptInPlayMode struct {
	Code    string `json:"code" jsonschema:"Code to run"`
	Timeout *int   `json:"timeout,omitempty" jsonschema:"Timeout in seconds, defaults to 100 seconds"`
	Mode    string `json:"mode" jsonschema:"Mode to run in, must be start_play or run_server"`
}

func (s *Server) register() {
	addTool(s, "run_code",
		"Runs a command in Roblox Studio and returns the printed output. Can be used to both make changes and retrieve information",
		func(in RunCode) (string, any, error) { return "RunCode", in, nil })

	addTool(s, "insert_model",
		"Inserts a model from the Roblox marketplace into the workspace. Returns the inserted model name.",
		func(in InsertModel) (string, any, error) { return "InsertModel", in, nil })

	addTool(s, "get_console_output",
		"Get the console output from Roblox Studio.",
		func(in GetConsoleOutput) (string, any, error) { return "GetConsoleOutput", in, nil })

	addTool(s, "start_stop_play",
		"Start or stop play mode or run the server.",
		func(in StartStopPlay) (string, any, error) {
			switch in.Mode {
			case "start_play", "stop", "run_server":
				return "StartStopPlay", in, nil
			}
			return "", nil, fmt.Errorf("invalid mode %q: must be start_play, stop, or run_server", in.Mode)
		})

	addTool(s, "run_script_in_play_mode",
		"Run a script in play mode and automatically stop play after script finishes or timeout. Returns the output of the script.\n"+
			"Result format: { success: boolean, value: string, error: string, logs: { level: string, message: string, ts: number }[], errors: { level: string, message: string, ts: number }[], duration: number, isTimeout: boolean }",
		func(in RunScriptInPlayMode) (string, any, error) {
			switch in.Mode {
			case "start_play", "run_server":
			default:
				return "", nil, fmt.Errorf("invalid mode %q: must be start_play or run_server", in.Mode)
			}
			if in.Timeout == nil {
				t := DefaultPlayTimeout
				in.Timeout = &t
			} else if *in.Timeout <= 0 {
				return "", nil, errors.New("timeout must be a positive number of seconds")
			}
			return "RunScriptInPlayMode", in, nil
		})

	addTool(s, "get_studio_mode",
		"Get the current studio mode. Returns the studio mode. The result will be one of start_play, run_server, or stop.",
		func(in GetStudioMode) (string, any, error) { return "GetStudioMode", in, nil })
}

// addTool registers one tool whose arguments are wrapped as
// {"<variant>": args} before being submitted.
func addTool[In any](s *Server, name, description string, build func(In) (string, any, error)) {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: name, Description: description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
			variant, args, err := build(in)
			if err != nil {
				return errorResult(err.Error()), nil, nil
			}
			return s.call(ctx, name, variant, args), nil, nil
		})
}

func (s *Server) call(ctx context.Context, name, variant string, args any) *mcp.CallToolResult {
	payload, err := Payload(variant, args)
	if err != nil {
		return errorResult(err.Error())
	}

	logger := s.logger.With("tool", name)
	logger.Debug("tool call submitted")

	res, err := s.submitter.Submit(ctx, payload)
	if err != nil {
		logger.Warn("tool call failed", "error", err)
		switch {
		case errors.Is(err, bridge.ErrClosed):
			return errorResult("bridge is shutting down")
		case errors.Is(err, bridge.ErrInvocationTimeout):
			return errorResult("Roblox Studio did not answer in time")
		default:
			return errorResult(err.Error())
		}
	}

	text := ResponseText(res.Response)
	if res.IsError {
		return errorResult(text)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// Payload builds the externally tagged form the executor expects.
func Payload(variant string, args any) (json.RawMessage, error) {
	b, err := json.Marshal(map[string]any{variant: args})
	if err != nil {
		return nil, fmt.Errorf("encode %s arguments: %w", variant, err)
	}
	return b, nil
}

// ResponseText renders an executor response for the assistant. JSON strings
// are unquoted; anything else is passed through as raw JSON.
func ResponseText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
