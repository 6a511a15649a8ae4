package actor

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	logx "rivalbot/pkg/logx"
)

type recordSink struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recordSink) Send(_ context.Context, recipient, message string) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.sent = append(r.sent, recipient+"|"+message)
	r.mu.Unlock()
	return nil
}

func connect(t *testing.T, sink Sink) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	serverT, clientT := mcp.NewInMemoryTransports()

	served := make(chan error, 1)
	go func() { served <- Serve(ctx, NewServer(sink, logx.Nop(), "test"), serverT) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "rivalbot", Version: "test"}, nil)
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer connectCancel()
	session, err := client.Connect(connectCtx, clientT, nil)
	if err != nil {
		cancel()
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = session.Close()
		select {
		case err := <-served:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return session
}

func callSend(t *testing.T, s *mcp.ClientSession, username, message string) *mcp.CallToolResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := s.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolSendMessage,
		Arguments: map[string]any{"username": username, "message": message},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	return res
}

func resultText(res *mcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestSendMessageDelivers(t *testing.T) {
	t.Parallel()
	sink := &recordSink{}
	s := connect(t, sink)

	res := callSend(t, s, "@fulltimedevils", "City won again")
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(res))
	}
	if got := resultText(res); got != "sent to fulltimedevils" {
		t.Fatalf("text = %q", got)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.sent) != 1 || sink.sent[0] != "fulltimedevils|City won again" {
		t.Fatalf("sent = %v", sink.sent)
	}
}

func TestSendMessageListsTool(t *testing.T) {
	t.Parallel()
	s := connect(t, &recordSink{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tools, err := s.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != ToolSendMessage {
		t.Fatalf("tools = %+v", tools.Tools)
	}
}

func TestSendMessageToolErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		sink     *recordSink
		username string
		message  string
		want     string
	}{
		{"empty username", &recordSink{}, "  ", "hi", "username is required"},
		{"empty message", &recordSink{}, "cr7ir", " ", "message is required"},
		{"too long", &recordSink{}, "cr7ir", strings.Repeat("x", MaxMessageRunes+1), "too long"},
		{"sink failure", &recordSink{err: errors.New("rate limited")}, "cr7ir", "hi", "rate limited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := connect(t, tt.sink)
			res := callSend(t, s, tt.username, tt.message)
			if !res.IsError {
				t.Fatalf("expected isError result, got %q", resultText(res))
			}
			if !strings.Contains(resultText(res), tt.want) {
				t.Fatalf("text = %q, want substring %q", resultText(res), tt.want)
			}
		})
	}
}

func TestServeNilServer(t *testing.T) {
	t.Parallel()
	if err := Serve(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("DMACTOR_USERNAME", "env_user")
	t.Setenv("DMACTOR_PASSWORD", "env_pass")
	t.Setenv("DMACTOR_SINK", "telegram")

	fs := flag.NewFlagSet("dmactor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg, err := ParseConfig(fs, []string{"--username", "flag_user"})
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Username != "flag_user" || cfg.Password != "env_pass" || cfg.Sink != SinkTelegram {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown sink", []string{"--sink", "carrier-pigeon"}},
		{"telegram without token", []string{"--sink", "telegram"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DMACTOR_PASSWORD", "")
			fs := flag.NewFlagSet("dmactor", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			if _, err := ParseConfig(fs, tt.args); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func fakeTelegram(t *testing.T, sent chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":9,"is_bot":true,"first_name":"Actor","username":"rival_dm_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			b, _ := io.ReadAll(r.Body)
			sent <- string(b)
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"channel"},"text":"ok"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTelegramSink(t *testing.T) {
	t.Parallel()
	sent := make(chan string, 1)
	srv := fakeTelegram(t, sent)

	sink, err := NewSink(Config{Sink: SinkTelegram, Username: "@Rival_DM_Bot", Password: "1:x", TelegramAPI: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := sink.Send(context.Background(), "we.are.messi", "Ronaldo scored"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	body := <-sent
	if !strings.Contains(body, "@we.are.messi") || !strings.Contains(body, "Ronaldo scored") {
		t.Fatalf("sendMessage body = %s", body)
	}
}

func TestTelegramSinkUsernameMismatch(t *testing.T) {
	t.Parallel()
	srv := fakeTelegram(t, make(chan string, 1))
	_, err := NewSink(Config{Sink: SinkTelegram, Username: "someone_else", Password: "1:x", TelegramAPI: srv.URL}, logx.Nop())
	if err == nil || !strings.Contains(err.Error(), "login failed") {
		t.Fatalf("err = %v", err)
	}
}
