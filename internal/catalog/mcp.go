package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/surfacekit/uibridge/internal/logx"
	"github.com/surfacekit/uibridge/internal/wire"
)

// Config selects and parameterizes the MCP transport for the catalog
// connection.
type Config struct {
	// URL of a streamable-HTTP MCP server. Takes precedence over Stdio.
	URL string
	// Command and Args spawn a stdio MCP server when URL is empty.
	Command string
	Args    []string
	// InitTimeout bounds the initialize handshake.
	InitTimeout time.Duration
}

// MCP is a Catalog backed by an MCP server reached through an mcp-go
// transport.
type MCP struct {
	t  transport.Interface
	id atomic.Int64

	serverInfo mcp.Implementation
	caps       mcp.ServerCapabilities
}

// Connect builds the transport, starts it and performs the initialize
// handshake.
func Connect(ctx context.Context, cfg Config) (*MCP, error) {
	var (
		t   transport.Interface
		err error
	)
	switch {
	case cfg.URL != "":
		t, err = transport.NewStreamableHTTP(cfg.URL)
	case cfg.Command != "":
		t = transport.NewStdio(cfg.Command, nil, cfg.Args...)
	default:
		return nil, fmt.Errorf("catalog: neither url nor command configured")
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: transport setup: %w", err)
	}
	m := NewMCP(t)
	initTimeout := cfg.InitTimeout
	if initTimeout == 0 {
		initTimeout = 15 * time.Second
	}
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	if err := m.initialize(initCtx); err != nil {
		_ = t.Close()
		return nil, err
	}
	return m, nil
}

// NewMCP wraps an already-constructed transport. The caller remains
// responsible for Start/initialize when using this directly.
func NewMCP(t transport.Interface) *MCP {
	return &MCP{t: t}
}

func (m *MCP) initialize(ctx context.Context) error {
	if err := m.t.Start(ctx); err != nil {
		return fmt.Errorf("catalog: transport start: %w", err)
	}
	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ClientInfo:      mcp.Implementation{Name: "uibridge", Version: "dev"},
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	res, err := m.call(ctx, string(mcp.MethodInitialize), raw)
	if err != nil {
		return fmt.Errorf("catalog: initialize: %w", err)
	}
	var init mcp.InitializeResult
	if err := json.Unmarshal(res, &init); err != nil {
		return fmt.Errorf("catalog: initialize result: %w", err)
	}
	m.serverInfo = init.ServerInfo
	m.caps = init.Capabilities
	// best effort notification
	_ = m.t.SendNotification(ctx, mcp.JSONRPCNotification{JSONRPC: mcp.JSONRPC_VERSION, Notification: mcp.Notification{Method: "notifications/initialized"}})
	logx.Log.Info().Str("server", init.ServerInfo.Name).Str("protocol", init.ProtocolVersion).Msg("catalog connected")
	return nil
}

// Capabilities reports what the connected server advertised at initialize.
func (m *MCP) Capabilities() mcp.ServerCapabilities { return m.caps }

// Close shuts the transport down.
func (m *MCP) Close() error { return m.t.Close() }

func (m *MCP) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := m.id.Add(1)
	req := transport.JSONRPCRequest{JSONRPC: mcp.JSONRPC_VERSION, ID: mcp.NewRequestId(id), Method: method}
	if params != nil {
		req.Params = params
	}
	resp, err := m.t.SendRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", method, err)
	}
	if resp.Error != nil {
		// Upstream structured errors cross the bridge unchanged.
		return nil, &wire.ErrorObject{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return resp.Result, nil
}

func (m *MCP) ListTools(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	return m.call(ctx, string(mcp.MethodToolsList), params)
}

func (m *MCP) CallTool(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	return m.call(ctx, string(mcp.MethodToolsCall), params)
}

func (m *MCP) ListResources(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	return m.call(ctx, string(mcp.MethodResourcesList), params)
}

func (m *MCP) ListResourceTemplates(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	return m.call(ctx, string(mcp.MethodResourcesTemplatesList), params)
}

func (m *MCP) ReadResource(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	return m.call(ctx, string(mcp.MethodResourcesRead), params)
}

func (m *MCP) ListPrompts(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	return m.call(ctx, string(mcp.MethodPromptsList), params)
}
