package action

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ppiankov/sinkguard/internal/callctx"
	"github.com/ppiankov/sinkguard/internal/model"
	"github.com/ppiankov/sinkguard/internal/stats"
)

// Sender delivers an event to the decision engine. ok is false when no
// reply is available, e.g. the engine is not bound.
type Sender interface {
	SendEvent(ctx context.Context, kind model.EventKind) (reply string, ok bool)
}

// Sink labels the intercepted operation an event belongs to for
// statistics. The zero Sink records nothing.
type Sink struct {
	Name string
	Kind model.SinkKind
}

// Protocol sends events for one thread's request and applies the verdicts.
type Protocol struct {
	sender   Sender
	exec     *Executor
	table    *stats.Table
	req      *callctx.RequestContext
	blocking func() bool
	log      *zap.Logger
	ignored  rate.Sometimes
}

// ProtocolConfig wires a Protocol.
type ProtocolConfig struct {
	Sender   Sender
	Executor *Executor
	Stats    *stats.Table
	Request  *callctx.RequestContext
	// Blocking reports whether blocking verdicts are enforced. Nil means
	// always enforced.
	Blocking func() bool
	Logger   *zap.Logger
}

// NewProtocol creates a Protocol.
func NewProtocol(cfg ProtocolConfig) *Protocol {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Executor == nil {
		cfg.Executor = NewExecutor(nil, cfg.Logger)
	}
	if cfg.Blocking == nil {
		cfg.Blocking = func() bool { return true }
	}
	return &Protocol{
		sender:   cfg.Sender,
		exec:     cfg.Executor,
		table:    cfg.Stats,
		req:      cfg.Request,
		blocking: cfg.Blocking,
		log:      cfg.Logger,
		ignored:  rate.Sometimes{First: 3, Interval: time.Minute},
	}
}

// SendEvent hands kind to the engine. It returns no reply when there is
// no sender or the request has not been initialized.
func (p *Protocol) SendEvent(ctx context.Context, kind model.EventKind) (string, bool) {
	if p.sender == nil || p.req == nil || !p.req.Initialized {
		return "", false
	}
	return p.sender.SendEvent(ctx, kind)
}

// Emit sends kind and applies the verdict. Blocking verdicts are
// downgraded to Continue when blocking is disabled; they still count as
// detected.
func (p *Protocol) Emit(ctx context.Context, kind model.EventKind, sink Sink) model.Action {
	raw, ok := p.SendEvent(ctx, kind)
	if !ok || raw == "" {
		return model.Continue
	}
	act, err := Decode(raw)
	if err != nil {
		p.ignored.Do(func() {
			p.log.Warn("ignoring engine reply", zap.Stringer("event", kind), zap.Error(err))
		})
		return model.Continue
	}

	p.count(sink, (*stats.Table).Detected)
	if act.Blocked() {
		if !p.blocking() {
			p.log.Info("attack detected, blocking disabled",
				zap.Stringer("event", kind), zap.String("sink", sink.Name))
			return model.Continue
		}
		p.count(sink, (*stats.Table).Blocked)
	}
	p.exec.Apply(act, p.req)
	return act
}

// Execute applies a raw reply obtained outside Emit.
func (p *Protocol) Execute(raw string) model.Action {
	return p.exec.Execute(raw, p.req)
}

// Request returns the request context the protocol writes to.
func (p *Protocol) Request() *callctx.RequestContext { return p.req }

func (p *Protocol) count(sink Sink, inc func(*stats.Table, string, string)) {
	if p.table == nil || sink.Name == "" {
		return
	}
	inc(p.table, sink.Name, string(sink.Kind))
}
