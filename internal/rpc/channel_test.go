package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func startReady(t *testing.T, mode string, opts ...Option) *Channel {
	t.Helper()
	ch := New(helperCommand(t, mode), opts...)
	t.Cleanup(func() { _ = ch.Stop() })
	ctx := context.Background()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ch.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ch.State() != StateReady {
		t.Fatalf("state = %s, want ready", ch.State())
	}
	return ch
}

func sendArgs(user string) map[string]string {
	return map[string]string{"username": user, "message": "hi"}
}

func TestHandshakeAndToolCall(t *testing.T) {
	t.Parallel()
	ch := startReady(t, "ok")
	if srv := ch.Server(); srv == nil || srv.ServerInfo == nil || srv.ServerInfo.Name != "helper" {
		t.Fatalf("server = %+v", srv)
	}
	res, err := ch.CallTool(context.Background(), "send_message", sendArgs("we.are.messi"))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || ToolText(res) != "sent to we.are.messi" {
		t.Fatalf("unexpected result %+v", res)
	}
	// Ids keep increasing across calls.
	if _, err := ch.CallTool(context.Background(), "send_message", sendArgs("cr7ir")); err != nil {
		t.Fatalf("second CallTool: %v", err)
	}
	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if ch.State() != StateStopped {
		t.Fatalf("state = %s", ch.State())
	}
	if !strings.Contains(ch.Stderr(), "initialized") {
		t.Fatalf("initialized notification not observed, stderr %q", ch.Stderr())
	}
}

func TestSkipsNotificationsAndRejectsPeerRequests(t *testing.T) {
	t.Parallel()
	ch := startReady(t, "chatty")
	res, err := ch.CallTool(context.Background(), "send_message", sendArgs("fulltimedevils"))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if ToolText(res) != "sent to fulltimedevils" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestToolIsErrorIsReturned(t *testing.T) {
	t.Parallel()
	ch := startReady(t, "ok")
	res, err := ch.CallTool(context.Background(), "send_message", sendArgs("fail"))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected isError result")
	}
}

func TestCallErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		mode string
		want error
	}{
		{mode: "wrong-id", want: ErrProtocol},
		{mode: "garbage", want: ErrProtocol},
		{mode: "empty-line", want: ErrProtocol},
		{mode: "partial", want: ErrConnectionClosed},
		{mode: "null-result", want: ErrProtocol},
		{mode: "array-result", want: ErrProtocol},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.mode, func(t *testing.T) {
			t.Parallel()
			ch := startReady(t, tt.mode)
			_, err := ch.CallTool(context.Background(), "send_message", sendArgs("x"))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if err := ch.Stop(); err != nil {
				t.Fatalf("Stop: %v", err)
			}
		})
	}
}

func TestRemoteErrorCarriesCodeAndMessage(t *testing.T) {
	t.Parallel()
	ch := startReady(t, "remote-error")
	_, err := ch.CallTool(context.Background(), "send_message", sendArgs("x"))
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *RemoteError", err)
	}
	if re.Code != -32602 || re.Message != "unknown recipient" {
		t.Fatalf("remote error = %+v", re)
	}
}

func TestReadTimeoutPoisonsSession(t *testing.T) {
	t.Parallel()
	ch := startReady(t, "hang", WithReadTimeout(100*time.Millisecond), WithStopGrace(time.Second))
	_, err := ch.CallTool(context.Background(), "send_message", sendArgs("x"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	_, err = ch.CallTool(context.Background(), "send_message", sendArgs("x"))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("second call err = %v, want ErrProtocol", err)
	}
}

func TestInitializeErrorPayloadFailsHandshake(t *testing.T) {
	t.Parallel()
	trace := filepath.Join(t.TempDir(), "trace")
	ch := New(helperCommand(t, "init-error", helperTrace+"="+trace))
	defer ch.Stop()

	ctx := context.Background()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := ch.Initialize(ctx)
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("Initialize err = %v, want ErrHandshakeFailed", err)
	}
	var re *RemoteError
	if !errors.As(err, &re) || re.Message != "bad credentials" {
		t.Fatalf("handshake cause = %v", err)
	}
	if _, err := ch.CallTool(ctx, "send_message", sendArgs("x")); !errors.Is(err, ErrNotReady) {
		t.Fatalf("CallTool err = %v, want ErrNotReady", err)
	}
	_ = ch.Stop()

	b, err := os.ReadFile(trace)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if got := strings.Fields(string(b)); len(got) != 1 || got[0] != MethodInitialize {
		t.Fatalf("actor saw %v, want only initialize", got)
	}
}

func TestInitializeRequiresObjectResult(t *testing.T) {
	t.Parallel()
	ch := New(helperCommand(t, "init-array"))
	defer ch.Stop()
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ch.Initialize(context.Background()); !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("err = %v, want ErrHandshakeFailed", err)
	}
}

func TestChildExitsImmediately(t *testing.T) {
	t.Parallel()
	ch := New(helperCommand(t, "exit"))
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-ch.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("child did not exit")
	}
	if _, err := ch.Call(context.Background(), MethodToolsCall, nil); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("Call err = %v, want ErrConnectionClosed", err)
	}
	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestInitializeAfterExitIsConnectionClosed(t *testing.T) {
	t.Parallel()
	ch := New(helperCommand(t, "exit"))
	defer ch.Stop()
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := ch.Initialize(context.Background())
	if !errors.Is(err, ErrHandshakeFailed) || !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("err = %v, want handshake failure caused by closed connection", err)
	}
}

func TestCallBeforeReadyDoesNotWrite(t *testing.T) {
	t.Parallel()
	trace := filepath.Join(t.TempDir(), "trace")
	ch := New(helperCommand(t, "ok", helperTrace+"="+trace))
	defer ch.Stop()

	if _, err := ch.Call(context.Background(), MethodToolsCall, nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("unstarted Call err = %v, want ErrNotReady", err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := ch.Call(context.Background(), MethodToolsCall, nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("started Call err = %v, want ErrNotReady", err)
	}
	_ = ch.Stop()
	if b, _ := os.ReadFile(trace); len(b) != 0 {
		t.Fatalf("actor received %q before handshake", b)
	}
}

func TestStopIsIdempotentFromEveryState(t *testing.T) {
	t.Parallel()
	never := New(Command{Path: "unused"})
	for i := 0; i < 3; i++ {
		if err := never.Stop(); err != nil {
			t.Fatalf("Stop on unstarted: %v", err)
		}
	}
	if err := never.Start(context.Background()); !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("Start after Stop err = %v", err)
	}

	ready := startReady(t, "ok")
	for i := 0; i < 3; i++ {
		if err := ready.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i, err)
		}
	}
	if _, err := ready.CallTool(context.Background(), "send_message", sendArgs("x")); err == nil {
		t.Fatal("call after stop should fail")
	}
}

func TestStopKillsStubbornChild(t *testing.T) {
	t.Parallel()
	ch := New(helperCommand(t, "stubborn"), WithStopGrace(200*time.Millisecond))
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Give the child time to install its signal handler.
	time.Sleep(300 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		_ = ch.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return")
	}
	select {
	case <-ch.Exited():
	default:
		t.Fatal("child still running after Stop")
	}
}

func TestSpawnFailed(t *testing.T) {
	t.Parallel()
	ch := New(Command{Path: filepath.Join(t.TempDir(), "missing-actor")})
	err := ch.Start(context.Background())
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("err = %v, want ErrSpawnFailed", err)
	}
	if ch.PID() != 0 || ch.State() != StateStopped {
		t.Fatalf("pid=%d state=%s after failed spawn", ch.PID(), ch.State())
	}
	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestMatchResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		line   string
		want   string
		wantEr error
	}{
		{name: "match", line: `{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`, want: `{"ok":true}`},
		{name: "mismatch", line: `{"jsonrpc":"2.0","id":8,"result":{"ok":true}}`, wantEr: ErrProtocol},
		{name: "string id", line: `{"jsonrpc":"2.0","id":"7","result":{}}`, wantEr: ErrProtocol},
		{name: "no id", line: `{"jsonrpc":"2.0","result":{}}`, wantEr: ErrProtocol},
		{name: "null id error", line: `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse"}}`, wantEr: ErrProtocol},
		{name: "neither", line: `{"jsonrpc":"2.0","id":7}`, wantEr: ErrProtocol},
		{name: "wrong version", line: `{"jsonrpc":"1.0","id":7,"result":{}}`, wantEr: ErrProtocol},
		{name: "empty", line: "  ", wantEr: ErrProtocol},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := responseFor([]byte(tt.line), 7)
			if tt.wantEr != nil {
				if !errors.Is(err, tt.wantEr) {
					t.Fatalf("err = %v, want %v", err, tt.wantEr)
				}
				return
			}
			if err != nil {
				t.Fatalf("matchResponse: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("result = %s, want %s", got, tt.want)
			}
		})
	}

	_, err := responseFor([]byte(`{"jsonrpc":"2.0","id":7,"error":{"code":-1,"message":"nope"}}`), 7)
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != -1 || re.Message != "nope" {
		t.Fatalf("err = %v, want RemoteError", err)
	}
}

func responseFor(line []byte, id int64) (json.RawMessage, error) {
	msg, err := decodeFrame(line)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrProtocol, msg)
	}
	return matchResponse(resp, id)
}

func TestDecodeFrameClassifiesRequests(t *testing.T) {
	t.Parallel()
	msg, err := decodeFrame([]byte(`{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info"}}`))
	if err != nil {
		t.Fatalf("notification: %v", err)
	}
	if req, ok := msg.(*jsonrpc.Request); !ok || req.IsCall() {
		t.Fatalf("notification decoded as %+v", msg)
	}

	msg, err = decodeFrame([]byte(`{"jsonrpc":"2.0","id":"srv-1","method":"roots/list"}`))
	if err != nil {
		t.Fatalf("peer request: %v", err)
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok || !req.IsCall() {
		t.Fatalf("peer request decoded as %+v", msg)
	}
	b, err := jsonrpc.EncodeMessage(methodNotFound(req))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"jsonrpc":"2.0","id":"srv-1","error":{"code":-32601,"message":"method not found: roots/list"}}`
	if string(b) != want {
		t.Fatalf("reply = %s", b)
	}
}

func TestRequestWireFormat(t *testing.T) {
	t.Parallel()
	req, err := newCall(3, MethodToolsCall, &mcp.CallToolParams{Name: "send_message", Arguments: sendArgs("cr7ir")})
	if err != nil {
		t.Fatal(err)
	}
	b, err := jsonrpc.EncodeMessage(req)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"send_message","arguments":{"message":"hi","username":"cr7ir"}}}`
	if string(b) != want {
		t.Fatalf("wire = %s", b)
	}
	n, err := newNotification(MethodInitialized, nil)
	if err != nil {
		t.Fatal(err)
	}
	nb, _ := jsonrpc.EncodeMessage(n)
	if string(nb) != `{"jsonrpc":"2.0","method":"notifications/initialized"}` {
		t.Fatalf("notification wire = %s", nb)
	}
}

func TestToolText(t *testing.T) {
	t.Parallel()
	res := &mcp.CallToolResult{Content: []mcp.Content{
		&mcp.TextContent{Text: "sent"},
		&mcp.ImageContent{MIMEType: "image/png"},
		&mcp.TextContent{Text: "to cr7ir"},
	}}
	if got := ToolText(res); got != "sent\nto cr7ir" {
		t.Fatalf("text = %q", got)
	}
	if ToolText(nil) != "" {
		t.Fatal("nil result should have no text")
	}
}
