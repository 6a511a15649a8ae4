package compose

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"rivalbot/internal/config"
	"rivalbot/internal/rivalry"
	logx "rivalbot/pkg/logx"
)

func TestTemplateFillsEveryPlaceholder(t *testing.T) {
	t.Parallel()
	tpl := NewTemplate(rand.New(rand.NewSource(1)))
	reqs := []Request{
		{EntityName: "Lionel Messi", Supports: "Cristiano Ronaldo", Count: 11, Kind: rivalry.Player},
		{EntityName: "Manchester City", Supports: "Manchester United", Count: 20, Kind: rivalry.Team},
	}
	for _, req := range reqs {
		for i := 0; i < 64; i++ {
			out := tpl.Compose(context.Background(), req)
			if strings.ContainsAny(out, "{}") {
				t.Fatalf("unreplaced placeholder in %q", out)
			}
			if !strings.Contains(out, req.EntityName) || !strings.Contains(out, req.Supports) {
				t.Fatalf("names missing from %q", out)
			}
			if !strings.Contains(out, "#") {
				t.Fatalf("hashtags missing from %q", out)
			}
			if utf8.RuneCountInString(out) > MaxLen {
				t.Fatalf("output exceeds %d runes", MaxLen)
			}
		}
	}
}

func TestTemplateIsDeterministicForSeed(t *testing.T) {
	t.Parallel()
	req := Request{EntityName: "Cristiano Ronaldo", Supports: "Lionel Messi", Count: 7, Kind: rivalry.Player}
	a := NewTemplate(rand.New(rand.NewSource(42))).Compose(context.Background(), req)
	b := NewTemplate(rand.New(rand.NewSource(42))).Compose(context.Background(), req)
	if a != b {
		t.Fatalf("same seed produced different text:\n%q\n%q", a, b)
	}
}

func TestDerbyHashtagOnlyForManchester(t *testing.T) {
	t.Parallel()
	derby := hashtags(Request{EntityName: "Manchester City", Supports: "Manchester United"})
	if derby[len(derby)-1] != derbyHashtags {
		t.Fatalf("expected derby hashtag, got %v", derby)
	}
	other := hashtags(Request{EntityName: "Lionel Messi", Supports: "Cristiano Ronaldo"})
	for _, h := range other {
		if h == derbyHashtags {
			t.Fatalf("unexpected derby hashtag in %v", other)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := Truncate("⚽⚽⚽⚽", 3); got != "⚽⚽…" {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate("abc", 5); got != "abc" {
		t.Fatalf("Truncate = %q", got)
	}
}

func completionServer(t *testing.T, status int, content string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Model != DefaultModel || body.MaxTokens != DefaultMaxTokens {
			t.Errorf("unexpected request body %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   DefaultModel,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteUsesCompletion(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := completionServer(t, http.StatusOK, "  \"Messi again! 🐐 #Banter\"  ", &calls)
	fallback := Func(func(context.Context, Request) string { return "fallback" })
	r := NewRemote(RemoteOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, fallback, logx.Nop())

	got := r.Compose(context.Background(), Request{EntityName: "Lionel Messi", Supports: "Cristiano Ronaldo", Count: 3, Kind: rivalry.Player})
	if got != "Messi again! 🐐 #Banter" {
		t.Fatalf("Compose = %q", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestRemoteFallsBack(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  int
		content string
	}{
		{name: "server error", status: http.StatusInternalServerError},
		{name: "empty answer", status: http.StatusOK, content: "   "},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			srv := completionServer(t, tt.status, tt.content, &calls)
			fallback := Func(func(context.Context, Request) string { return "fallback" })
			r := NewRemote(RemoteOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, fallback, logx.Nop())
			if got := r.Compose(context.Background(), Request{EntityName: "A", Supports: "B", Count: 1, Kind: rivalry.Team}); got != "fallback" {
				t.Fatalf("Compose = %q", got)
			}
			if calls.Load() != 1 {
				t.Fatalf("expected exactly one attempt, got %d", calls.Load())
			}
		})
	}
}

func TestRemoteVerifyReportsFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  int
		content string
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK, content: "Siuuu"},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
		{name: "empty answer", status: http.StatusOK, content: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			srv := completionServer(t, tt.status, tt.content, &calls)
			r := NewRemote(RemoteOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, nil, logx.Nop())
			err := r.Verify(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Verify = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPromptMentionsContext(t *testing.T) {
	t.Parallel()
	p := prompt(Request{EntityName: "Manchester United", Supports: "Manchester City", Count: 9, Kind: rivalry.Team})
	for _, want := range []string{"Manchester United just scored a win (now has 9 wins", "fans of Manchester City", "280 characters"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()
	if _, ok := New(config.ComposerConfig{}, logx.Nop()).(*Template); !ok {
		t.Fatal("default backend should be template")
	}
	if _, ok := New(config.ComposerConfig{Backend: "openai"}, logx.Nop()).(*Template); !ok {
		t.Fatal("openai without key should degrade to template")
	}
	c := New(config.ComposerConfig{Backend: "openai", OpenAI: config.OpenAIConfig{APIKey: "sk"}}, logx.Nop())
	if _, ok := c.(*Remote); !ok {
		t.Fatalf("openai backend = %T", c)
	}
}
