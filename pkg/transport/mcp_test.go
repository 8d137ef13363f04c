package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

func newToolServer() *server.MCPServer {
	srv := server.NewMCPServer("agents", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(mcp.NewTool("summarize",
		mcp.WithDescription("Summarize text"),
		mcp.WithString("text", mcp.Required()),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, _ := request.GetArguments()["text"].(string)
		words := len(strings.Fields(text))
		return mcp.NewToolResultText(fmt.Sprintf(`{"words":%d}`, words)), nil
	})

	srv.AddTool(mcp.NewTool("greet"), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("hello there"), nil
	})

	srv.AddTool(mcp.NewTool("refuse"), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("input rejected"), nil
	})

	return srv
}

func TestMCPAdapterCallsTool(t *testing.T) {
	adapter := NewInProcessMCPAdapter(newToolServer(), nil)
	t.Cleanup(func() { _ = adapter.Close(context.Background()) })

	result, err := adapter.Execute(context.Background(),
		newTestOperation(t, "summarize", map[string]string{"text": "one two three"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"words":3}`, string(result))

	result, err = adapter.Execute(context.Background(), newTestOperation(t, "greet", nil))
	require.NoError(t, err)
	assert.Equal(t, `"hello there"`, string(result))
}

func TestMCPAdapterFailures(t *testing.T) {
	adapter := NewInProcessMCPAdapter(newToolServer(), nil)
	t.Cleanup(func() { _ = adapter.Close(context.Background()) })

	tests := []struct {
		name    string
		op      string
		payload interface{}
		want    dispatcherrors.FailureKind
	}{
		{"tool error", "refuse", nil, dispatcherrors.FailureRemoteRejected},
		{"unknown tool", "translate", nil, dispatcherrors.FailureUnsupported},
		{"array arguments", "summarize", json.RawMessage(`["text"]`), dispatcherrors.FailureUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := adapter.Execute(context.Background(), newTestOperation(t, tt.op, tt.payload))
			require.Error(t, err)
			assert.Equal(t, tt.want, dispatcherrors.Classify(err), "got %v", err)
		})
	}
}

func TestToolResult(t *testing.T) {
	tests := []struct {
		name   string
		result *mcp.CallToolResult
		want   string
	}{
		{"json text", mcp.NewToolResultText(`[1,2]`), `[1,2]`},
		{"plain text", mcp.NewToolResultText("done"), `"done"`},
		{"several texts", &mcp.CallToolResult{Content: []mcp.Content{
			mcp.NewTextContent("a"),
			mcp.NewTextContent("b"),
		}}, `["a","b"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toolResult(tt.result)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	empty, err := toolResult(&mcp.CallToolResult{})
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestMCPAdapterClosed(t *testing.T) {
	adapter := NewInProcessMCPAdapter(newToolServer(), nil)
	require.NoError(t, adapter.Close(context.Background()))

	_, err := adapter.Execute(context.Background(), newTestOperation(t, "greet", nil))
	assert.ErrorIs(t, err, ErrAdapterClosed)
	assert.Equal(t, protocol.TransportTool, adapter.Kind())
}
