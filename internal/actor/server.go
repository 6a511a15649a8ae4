// Package actor is a reference delivery actor: a stdio MCP server exposing a
// single send_message tool backed by a pluggable sink.
package actor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	logx "rivalbot/pkg/logx"
)

const (
	ServerName      = "dmactor"
	ToolSendMessage = "send_message"
	// MaxMessageRunes bounds a single direct message.
	MaxMessageRunes = 1000
)

type SendMessageInput struct {
	Username string `json:"username" jsonschema:"recipient account handle"`
	Message  string `json:"message" jsonschema:"message text"`
}

type SendMessageResult struct {
	Delivered bool   `json:"delivered" jsonschema:"whether the sink accepted the message"`
	Recipient string `json:"recipient" jsonschema:"normalized recipient handle"`
}

func SendMessageTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        ToolSendMessage,
		Description: "Send a direct message to a user",
	}
}

// SendMessageHandler validates input and hands it to sink. Returned errors
// reach the caller as tool results with isError set.
func SendMessageHandler(sink Sink, log logx.Logger) mcp.ToolHandlerFor[SendMessageInput, SendMessageResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in SendMessageInput) (*mcp.CallToolResult, SendMessageResult, error) {
		to := strings.TrimPrefix(strings.TrimSpace(in.Username), "@")
		if to == "" {
			return nil, SendMessageResult{}, errors.New("username is required")
		}
		if strings.TrimSpace(in.Message) == "" {
			return nil, SendMessageResult{}, errors.New("message is required")
		}
		if n := utf8.RuneCountInString(in.Message); n > MaxMessageRunes {
			return nil, SendMessageResult{}, fmt.Errorf("message too long (%d > %d)", n, MaxMessageRunes)
		}
		if err := sink.Send(ctx, to, in.Message); err != nil {
			log.Warn("send failed", logx.String("recipient", to), logx.Err(err))
			return nil, SendMessageResult{}, fmt.Errorf("send to %s: %w", to, err)
		}
		res := &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "sent to " + to}},
		}
		return res, SendMessageResult{Delivered: true, Recipient: to}, nil
	}
}

func NewServer(sink Sink, log logx.Logger, version string) *mcp.Server {
	if version == "" {
		version = "1.0.0"
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	mcp.AddTool(srv, SendMessageTool(), SendMessageHandler(sink, log))
	return srv
}

// Serve runs srv over t until the peer disconnects or ctx ends.
func Serve(ctx context.Context, srv *mcp.Server, t mcp.Transport) error {
	if srv == nil {
		return errors.New("mcp server is required")
	}
	err := srv.Run(ctx, t)
	if err == nil || ctx.Err() != nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Run logs in to the configured sink and serves on stdin/stdout.
func Run(ctx context.Context, cfg Config, log logx.Logger, version string) error {
	sink, err := NewSink(cfg, log)
	if err != nil {
		return err
	}
	return Serve(ctx, NewServer(sink, log, version), &mcp.StdioTransport{})
}
