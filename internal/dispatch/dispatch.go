// Package dispatch delivers one message to one recipient through a freshly
// spawned delivery actor.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"rivalbot/internal/rpc"
	logx "rivalbot/pkg/logx"
)

// ToolSendMessage is the actor tool that performs a delivery.
const ToolSendMessage = "send_message"

// Reason classifies a failed delivery.
type Reason string

const (
	ReasonStart     Reason = "start"
	ReasonHandshake Reason = "handshake"
	ReasonRemote    Reason = "remote"
	ReasonTransport Reason = "transport"
	ReasonFault     Reason = "fault"
)

// DeliveryError is the only error Deliver returns.
type DeliveryError struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *DeliveryError) Error() string {
	var b strings.Builder
	b.WriteString("delivery failed (")
	b.WriteString(string(e.Reason))
	b.WriteString(")")
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil && (e.Detail == "" || !strings.Contains(e.Detail, e.Err.Error())) {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Config describes the actor launch. Username and Password are passed as
// --username/--password arguments.
type Config struct {
	Command     string
	Args        []string
	Dir         string
	Env         []string
	Username    string
	Password    string
	ReadTimeout time.Duration
	// StartDelay waits between spawn and handshake for actors that need to settle.
	StartDelay time.Duration
	ClientName string
	ClientVer  string
}

type Dispatcher struct {
	cfg Config
	log logx.Logger

	// newChannel is swapped in tests.
	newChannel func(rpc.Command, ...rpc.Option) session

	mu     sync.Mutex
	live   session
	closed bool
}

// session is the part of *rpc.Channel a delivery needs.
type session interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context) error
	CallTool(ctx context.Context, name string, arguments any) (*mcp.CallToolResult, error)
	Stop() error
}

func New(cfg Config, log logx.Logger) *Dispatcher {
	if cfg.ClientName == "" {
		cfg.ClientName = "rivalbot"
	}
	if cfg.ClientVer == "" {
		cfg.ClientVer = "1.0.0"
	}
	return &Dispatcher{
		cfg: cfg,
		log: log,
		newChannel: func(cmd rpc.Command, opts ...rpc.Option) session {
			return rpc.New(cmd, opts...)
		},
	}
}

func (d *Dispatcher) command() rpc.Command {
	args := append([]string(nil), d.cfg.Args...)
	args = append(args, "--username", d.cfg.Username, "--password", d.cfg.Password)
	return rpc.Command{Path: d.cfg.Command, Args: args, Dir: d.cfg.Dir, Env: d.cfg.Env}
}

// Deliver sends text to recipient. Each call owns one actor process for its
// whole duration; the process is always stopped before Deliver returns.
func (d *Dispatcher) Deliver(ctx context.Context, recipient, text string) error {
	start := time.Now()
	err := d.withSession(ctx, func(ch session) error {
		res, err := ch.CallTool(ctx, ToolSendMessage, map[string]string{
			"username": recipient,
			"message":  text,
		})
		if err != nil {
			var re *rpc.RemoteError
			if errors.As(err, &re) {
				return &DeliveryError{Reason: ReasonRemote, Detail: re.Message, Err: err}
			}
			return &DeliveryError{Reason: ReasonTransport, Err: err}
		}
		if res.IsError {
			return &DeliveryError{Reason: ReasonRemote, Detail: rpc.ToolText(res)}
		}
		d.log.Debug("actor confirmed delivery", logx.String("recipient", recipient), logx.String("reply", rpc.ToolText(res)))
		return nil
	})
	if err != nil {
		return err
	}
	d.log.Info("message delivered", logx.String("recipient", recipient), logx.Duration("took", time.Since(start)))
	return nil
}

// withSession runs fn against a started, initialized channel and guarantees
// the channel is stopped on every exit path, including a panic in fn.
func (d *Dispatcher) withSession(ctx context.Context, fn func(session) error) (err error) {
	ch := d.newChannel(d.command(),
		rpc.WithLogger(d.log),
		rpc.WithReadTimeout(d.cfg.ReadTimeout),
		rpc.WithClientInfo(d.cfg.ClientName, d.cfg.ClientVer),
	)

	if !d.track(ch) {
		return &DeliveryError{Reason: ReasonStart, Detail: "dispatcher closed"}
	}
	defer d.untrack(ch)

	if err := ch.Start(ctx); err != nil {
		// Start releases whatever it created; nothing to stop.
		return &DeliveryError{Reason: ReasonStart, Err: err}
	}
	defer func() {
		_ = ch.Stop()
	}()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("delivery panicked", logx.Any("panic", r))
			err = &DeliveryError{Reason: ReasonFault, Detail: fmt.Sprint(r)}
		}
	}()

	if d.cfg.StartDelay > 0 {
		t := time.NewTimer(d.cfg.StartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return &DeliveryError{Reason: ReasonHandshake, Err: ctx.Err()}
		case <-t.C:
		}
	}

	if err := ch.Initialize(ctx); err != nil {
		return &DeliveryError{Reason: ReasonHandshake, Err: err}
	}
	return fn(ch)
}

func (d *Dispatcher) track(ch session) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.live = ch
	return true
}

func (d *Dispatcher) untrack(ch session) {
	d.mu.Lock()
	if d.live == ch {
		d.live = nil
	}
	d.mu.Unlock()
}

// Close stops any in-flight actor and rejects later deliveries.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	live := d.live
	d.mu.Unlock()
	if live != nil {
		d.log.Info("stopping in-flight actor")
		return live.Stop()
	}
	return nil
}
