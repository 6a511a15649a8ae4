// Package rpc drives a child process that speaks line-delimited JSON-RPC 2.0
// (the MCP stdio dialect) on its stdin and stdout.
//
// A Channel owns exactly one process and keeps at most one request in flight.
// Lifecycle: Unstarted -> Started -> Initialized -> Ready -> Stopped. Stop is
// idempotent and may be called from any state.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	logx "rivalbot/pkg/logx"
)

type State int32

const (
	StateUnstarted State = iota
	StateStarted
	StateInitialized
	StateReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarted:
		return "started"
	case StateInitialized:
		return "initialized"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Command describes how to launch the peer.
type Command struct {
	Path string
	Args []string
	// Env is appended to the parent environment.
	Env []string
	Dir string
}

const (
	DefaultReadTimeout = 30 * time.Second
	DefaultStopGrace   = 5 * time.Second
	stderrTailBytes    = 8 << 10
)

type Option func(*Channel)

func WithLogger(log logx.Logger) Option { return func(c *Channel) { c.log = log } }

// WithReadTimeout bounds every wait for a response line (and every write).
func WithReadTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithStopGrace sets how long Stop waits after SIGTERM before killing.
func WithStopGrace(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.stopGrace = d
		}
	}
}

func WithClientInfo(name, version string) Option {
	return func(c *Channel) { c.client = mcp.Implementation{Name: name, Version: version} }
}

type Channel struct {
	cmd         Command
	log         logx.Logger
	readTimeout time.Duration
	stopGrace   time.Duration
	client      mcp.Implementation

	mu    sync.Mutex
	state State
	proc  *exec.Cmd
	stdin *os.File
	// stdout is the parent's read end; closed by Stop.
	stdout *os.File

	// callMu serializes request/response exchanges.
	callMu sync.Mutex
	nextID int64
	desync error

	frames   chan frame
	done     chan struct{}
	exited   chan struct{}
	waitErr  error
	stderr   *tailBuffer
	stopOnce sync.Once

	server *mcp.InitializeResult
}

func New(cmd Command, opts ...Option) *Channel {
	c := &Channel{
		cmd:         cmd,
		readTimeout: DefaultReadTimeout,
		stopGrace:   DefaultStopGrace,
		client:      mcp.Implementation{Name: "rivalbot", Version: "1.0.0"},
		stderr:      newTailBuffer(stderrTailBytes),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
		frames:      make(chan frame),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PID returns the child's process id, or 0 if it was never started.
func (c *Channel) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc == nil || c.proc.Process == nil {
		return 0
	}
	return c.proc.Process.Pid
}

// Exited is closed once the child process has exited. It never closes for a
// channel whose process was not started.
func (c *Channel) Exited() <-chan struct{} { return c.exited }

// Stderr returns the tail of the child's stderr.
func (c *Channel) Stderr() string { return c.stderr.String() }

// Server is the peer's initialize answer (nil before Initialize).
func (c *Channel) Server() *mcp.InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// Start spawns the child with its stdin and stdout attached to pipes and its
// stderr captured into a bounded buffer.
func (c *Channel) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnstarted {
		return fmt.Errorf("%w: channel is %s", ErrSpawnFailed, c.state)
	}
	if strings.TrimSpace(c.cmd.Path) == "" {
		c.state = StateStopped
		return fmt.Errorf("%w: empty command", ErrSpawnFailed)
	}

	// Plain os.Pipe ends (instead of exec's StdoutPipe) so Wait never closes
	// the read end while buffered output is still unread.
	inR, inW, err := os.Pipe()
	if err != nil {
		c.state = StateStopped
		return fmt.Errorf("%w: stdin pipe: %w", ErrSpawnFailed, err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW)
		c.state = StateStopped
		return fmt.Errorf("%w: stdout pipe: %w", ErrSpawnFailed, err)
	}

	proc := exec.Command(c.cmd.Path, c.cmd.Args...)
	proc.Dir = c.cmd.Dir
	if len(c.cmd.Env) > 0 {
		proc.Env = append(os.Environ(), c.cmd.Env...)
	}
	proc.Stdin = inR
	proc.Stdout = outW
	proc.Stderr = c.stderr
	// Bounds Wait when a grandchild keeps stderr open.
	proc.WaitDelay = c.stopGrace

	if err := proc.Start(); err != nil {
		closeAll(inR, inW, outR, outW)
		c.state = StateStopped
		return fmt.Errorf("%w: %s: %w", ErrSpawnFailed, c.cmd.Path, err)
	}
	// The child owns its ends now.
	closeAll(inR, outW)

	c.proc = proc
	c.stdin = inW
	c.stdout = outR
	c.state = StateStarted

	go c.readLoop(outR)
	go func() {
		c.waitErr = proc.Wait()
		close(c.exited)
	}()

	c.log.Debug("actor started", logx.String("path", c.cmd.Path), logx.Int("pid", proc.Process.Pid))
	return nil
}

func (c *Channel) readLoop(f *os.File) {
	defer close(c.frames)
	br := bufio.NewReaderSize(f, 64<<10)
	for {
		line, err := readFrame(br, MaxFrameBytes)
		select {
		case c.frames <- frame{line: line, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Initialize performs the MCP handshake: the initialize request, a check that
// its result is a JSON object, then the initialized notification.
func (c *Channel) Initialize(ctx context.Context) error {
	if st := c.State(); st != StateStarted {
		return fmt.Errorf("%w: %w (state %s)", ErrHandshakeFailed, ErrNotReady, st)
	}
	client := c.client
	params := &mcp.InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    &mcp.ClientCapabilities{},
		ClientInfo:      &client,
	}
	raw, err := c.roundTrip(ctx, MethodInitialize, params)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if !isJSONObject(raw) {
		return fmt.Errorf("%w: initialize result is not an object", ErrHandshakeFailed)
	}
	var res mcp.InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("%w: %w: initialize result: %v", ErrHandshakeFailed, ErrProtocol, err)
	}

	c.mu.Lock()
	if c.state != StateStarted {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state changed to %s", ErrHandshakeFailed, st)
	}
	c.server = &res
	c.state = StateInitialized
	c.mu.Unlock()

	if err := c.notify(MethodInitialized, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	c.mu.Lock()
	if c.state == StateInitialized {
		c.state = StateReady
	}
	c.mu.Unlock()

	fields := []logx.Field{logx.String("protocol", res.ProtocolVersion)}
	if res.ServerInfo != nil {
		fields = append(fields, logx.String("server", res.ServerInfo.Name), logx.String("server_version", res.ServerInfo.Version))
	}
	c.log.Debug("actor ready", fields...)
	return nil
}

// Call sends one request and waits for its response. It is valid only in the
// Ready state; otherwise it fails without writing anything.
func (c *Channel) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-c.exited:
		return nil, fmt.Errorf("%w: actor exited", ErrConnectionClosed)
	default:
	}
	if st := c.State(); st != StateReady {
		return nil, fmt.Errorf("%w (state %s)", ErrNotReady, st)
	}
	return c.roundTrip(ctx, method, params)
}

// CallTool invokes tools/call. A result with isError set is returned as-is;
// callers decide how to treat it. The result must be a JSON object.
func (c *Channel) CallTool(ctx context.Context, name string, arguments any) (*mcp.CallToolResult, error) {
	raw, err := c.Call(ctx, MethodToolsCall, &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	if !isJSONObject(raw) {
		return nil, fmt.Errorf("%w: tools/call result is not an object: %s", ErrProtocol, truncate(raw, 64))
	}
	var res mcp.CallToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: tools/call result: %v", ErrProtocol, err)
	}
	return &res, nil
}

func (c *Channel) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.desync != nil {
		return nil, fmt.Errorf("%w: session unusable after %v", ErrProtocol, c.desync)
	}

	c.nextID++
	id := c.nextID
	req, err := newCall(id, method, params)
	if err != nil {
		return nil, err
	}
	if err := c.write(req); err != nil {
		return nil, err
	}
	c.log.Trace("rpc request sent", logx.Int64("id", id), logx.String("method", method))

	for {
		line, err := c.readLine(ctx)
		if err != nil {
			if errors.Is(err, ErrTimeout) || ctx.Err() != nil {
				// A late reply would be matched against the next request.
				c.desync = err
			}
			return nil, err
		}
		msg, err := decodeFrame(line)
		if err != nil {
			return nil, err
		}
		switch m := msg.(type) {
		case *jsonrpc.Request:
			if !m.IsCall() {
				c.log.Trace("rpc notification skipped", logx.String("method", m.Method))
				continue
			}
			// Server-initiated requests are not implemented.
			c.log.Debug("rpc peer request rejected", logx.String("method", m.Method))
			_ = c.write(methodNotFound(m))
		case *jsonrpc.Response:
			return matchResponse(m, id)
		default:
			return nil, fmt.Errorf("%w: unexpected message %T", ErrProtocol, msg)
		}
	}
}

func (c *Channel) notify(method string, params any) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	n, err := newNotification(method, params)
	if err != nil {
		return err
	}
	return c.write(n)
}

func (c *Channel) write(msg jsonrpc.Message) error {
	b, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrProtocol, err)
	}
	b = append(b, '\n')

	c.mu.Lock()
	w := c.stdin
	stopped := c.state == StateStopped
	c.mu.Unlock()
	if w == nil || stopped {
		return fmt.Errorf("%w: stdin closed", ErrConnectionClosed)
	}
	// Pipes are pollable on unix; where deadlines are unsupported this is a no-op.
	_ = w.SetWriteDeadline(time.Now().Add(c.readTimeout))
	if _, err := w.Write(b); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("%w: write blocked", ErrTimeout)
		}
		return fmt.Errorf("%w: write: %v", ErrConnectionClosed, err)
	}
	return nil
}

func (c *Channel) readLine(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(c.readTimeout)
	defer timer.Stop()
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return f.line, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrTimeout, c.readTimeout)
	}
}

// Stop closes stdin, sends SIGTERM, waits up to the grace period, then kills.
// It always returns nil and is safe to call repeatedly from any state.
func (c *Channel) Stop() error {
	c.stopOnce.Do(c.stop)
	return nil
}

func (c *Channel) stop() {
	c.mu.Lock()
	prev := c.state
	c.state = StateStopped
	proc, stdin, stdout := c.proc, c.stdin, c.stdout
	c.mu.Unlock()

	close(c.done)
	if proc == nil {
		return
	}
	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case <-c.exited:
	default:
		if err := proc.Process.Signal(syscall.SIGTERM); err != nil {
			_ = proc.Process.Kill()
		}
		timer := time.NewTimer(c.stopGrace)
		select {
		case <-c.exited:
			timer.Stop()
		case <-timer.C:
			c.log.Warn("actor ignored SIGTERM; killing", logx.Int("pid", proc.Process.Pid))
			_ = proc.Process.Kill()
			<-c.exited
		}
	}
	if stdout != nil {
		_ = stdout.Close()
	}

	fields := []logx.Field{logx.Int("pid", proc.Process.Pid), logx.String("from", prev.String())}
	if c.waitErr != nil {
		fields = append(fields, logx.String("exit", c.waitErr.Error()))
	}
	if tail := strings.TrimSpace(c.stderr.String()); tail != "" {
		fields = append(fields, logx.String("stderr", tail))
	}
	c.log.Debug("actor stopped", fields...)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
