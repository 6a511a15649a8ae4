package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ProtocolVersion is the MCP revision announced during initialize.
const ProtocolVersion = "2024-11-05"

const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsCall   = "tools/call"
)

var (
	// ErrSpawnFailed: the child process could not be started.
	ErrSpawnFailed = errors.New("rpc: spawn failed")
	// ErrHandshakeFailed: initialize failed or the initialized notification could not be sent.
	ErrHandshakeFailed = errors.New("rpc: handshake failed")
	// ErrProtocol: an empty, malformed, oversized or mismatched frame.
	ErrProtocol = errors.New("rpc: protocol error")
	// ErrConnectionClosed: the peer closed its stdout (or exited) before a full response.
	ErrConnectionClosed = errors.New("rpc: connection closed")
	// ErrNotReady: a call was issued outside the Ready state; nothing was written.
	ErrNotReady = errors.New("rpc: session not ready")
	// ErrTimeout: no response line arrived within the read timeout.
	ErrTimeout = errors.New("rpc: read timeout")
)

// RemoteError is an explicit error payload returned by the peer.
type RemoteError struct {
	Code    int64
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote error %d: %s", e.Code, e.Message)
}

func newCall(id int64, method string, params any) (*jsonrpc.Request, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	jid, err := jsonrpc.MakeID(float64(id))
	if err != nil {
		return nil, fmt.Errorf("%w: request id: %v", ErrProtocol, err)
	}
	return &jsonrpc.Request{ID: jid, Method: method, Params: raw}, nil
}

func newNotification(method string, params any) (*jsonrpc.Request, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	return &jsonrpc.Request{Method: method, Params: raw}, nil
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: encode params: %v", ErrProtocol, err)
	}
	return b, nil
}

func methodNotFound(req *jsonrpc.Request) *jsonrpc.Response {
	return &jsonrpc.Response{
		ID:    req.ID,
		Error: &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "method not found: " + req.Method},
	}
}

// decodeFrame parses one inbound line into a request or a response.
func decodeFrame(line []byte) (jsonrpc.Message, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrProtocol)
	}
	msg, err := jsonrpc.DecodeMessage(line)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", ErrProtocol, err)
	}
	return msg, nil
}

// matchResponse validates a response against the outstanding request id and
// returns its result payload.
func matchResponse(resp *jsonrpc.Response, id int64) (json.RawMessage, error) {
	got, ok := resp.ID.Raw().(int64)
	if !ok {
		return nil, fmt.Errorf("%w: non-integer response id %v", ErrProtocol, resp.ID.Raw())
	}
	if got != id {
		return nil, fmt.Errorf("%w: response id %d, want %d", ErrProtocol, got, id)
	}
	if resp.Error != nil {
		var we *jsonrpc.Error
		if errors.As(resp.Error, &we) {
			return nil, &RemoteError{Code: we.Code, Message: we.Message}
		}
		return nil, &RemoteError{Message: resp.Error.Error()}
	}
	if len(bytes.TrimSpace(resp.Result)) == 0 {
		return nil, fmt.Errorf("%w: response %d has neither result nor error", ErrProtocol, id)
	}
	return resp.Result, nil
}

// ToolText joins the text content blocks of a tools/call result.
func ToolText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func isJSONObject(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) >= 2 && b[0] == '{' && json.Valid(b)
}
