package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/sinkguard/internal/action"
	"github.com/ppiankov/sinkguard/internal/bridge"
	"github.com/ppiankov/sinkguard/internal/callctx"
	"github.com/ppiankov/sinkguard/internal/enforce"
	"github.com/ppiankov/sinkguard/internal/hook"
	"github.com/ppiankov/sinkguard/internal/model"
	"github.com/ppiankov/sinkguard/internal/stats"
)

// requestSink labels request-level events for statistics.
var requestSink = action.Sink{Name: stats.RequestTotal, Kind: model.SinkRequest}

// Session is the agent state owned by one host thread. It is not safe for
// concurrent use.
type Session struct {
	proc     *ProcessState
	threadID uint64
	handle   *bridge.Handle
	log      *zap.Logger

	req        callctx.RequestContext
	stack      callctx.Stack
	exec       *action.Executor
	protocol   *action.Protocol
	dispatcher *hook.Dispatcher
	callback   bridge.ContextCallback

	started time.Time
	timer   *stats.Timer
}

// NewSession binds a session to threadID. Without an engine the session
// still works and every check fails open.
func (p *ProcessState) NewSession(threadID uint64) *Session {
	s := &Session{
		proc:     p,
		threadID: threadID,
		log:      p.log.With(zap.Uint64("thread", threadID)),
	}
	s.exec = action.NewExecutor(nil, s.log)
	s.callback = bridge.NewContextCallback(&s.req, &s.stack)

	if !p.cfg.Disable {
		h, err := p.bridge.Acquire(threadID)
		if err == nil {
			if err := h.Init(p.initData, s.callback); err != nil {
				s.log.Warn("engine instance init failed, failing open", zap.Error(err))
				p.bridge.Release(h)
			} else {
				s.handle = h
			}
		}
	}

	var sender action.Sender
	if s.handle != nil {
		sender = s.handle
	}
	s.protocol = action.NewProtocol(action.ProtocolConfig{
		Sender:   sender,
		Executor: s.exec,
		Stats:    p.table,
		Request:  &s.req,
		Blocking: s.blockingEnabled,
		Logger:   s.log,
	})
	s.dispatcher = hook.NewDispatcher(hook.Config{
		Registry: p.registry,
		Stack:    &s.stack,
		Request:  &s.req,
		Emitter:  s.protocol,
		Stats:    p.table,
		Skip:     s.disabledOrBypassed,
		Logger:   s.log,
	})
	return s
}

// Close releases the engine instance.
func (s *Session) Close() {
	if s.handle != nil {
		s.proc.bridge.Release(s.handle)
		s.handle = nil
	}
}

// ThreadID returns the thread this session serves.
func (s *Session) ThreadID() uint64 { return s.threadID }

// Protected reports whether an engine instance backs the session.
func (s *Session) Protected() bool { return s.handle != nil }

// Request returns the current request context.
func (s *Session) Request() *callctx.RequestContext { return &s.req }

// Stack returns the event context stack.
func (s *Session) Stack() *callctx.Stack { return &s.stack }

// Dispatcher returns the session's trampoline.
func (s *Session) Dispatcher() *hook.Dispatcher { return s.dispatcher }

// RequestInit starts a request. It resets the request context, reloads
// the engine configuration as the tenancy mode requires, counts the
// request (flushing statistics on cadence), registers the context
// callback and sends pre-request. A blocking pre-request verdict is
// returned as an *enforce.EnforcementError.
func (s *Session) RequestInit(ctx context.Context, info model.RequestInfo, host action.Host) error {
	s.started = time.Now()
	s.req.Begin(info)
	s.exec.SetHost(host)
	if s.proc.cfg.Disable {
		return nil
	}
	s.timer = s.proc.table.Start(stats.RequestTotal, string(model.SinkRequest))

	var reporter stats.Reporter = discard{}
	if s.handle != nil {
		reporter = s.handle
		if s.proc.reload.ReloadOnRequest(s.handle.TokenSeen()) {
			s.handle.LoadConfig(s.handle.Token(), s.proc.tokenFor(info))
		}
	}
	if flushed, err := s.proc.flusher.OnRequest(ctx, reporter); err != nil {
		s.log.Warn("stats flush failed", zap.Error(err))
	} else if flushed {
		s.log.Debug("stats flushed", zap.Uint64("requests", s.proc.flusher.Requests()))
	}

	if s.handle != nil {
		if err := s.handle.SetCallback(s.callback); err != nil {
			s.log.Warn("context callback not registered", zap.Error(err))
		}
	}

	act := s.protocol.Emit(ctx, model.EventPreRequest, requestSink)
	s.overhead()
	if act.Blocked() {
		return enforce.Enforce(act, "request")
	}
	return nil
}

// RequestShutdown sends post-request and closes the request context.
func (s *Session) RequestShutdown(ctx context.Context, statusCode int) {
	if !s.req.Initialized {
		return
	}
	if !s.proc.cfg.Disable {
		s.req.Info.StatusCode = statusCode
		start := time.Now()
		s.protocol.Emit(ctx, model.EventPostRequest, requestSink)
		s.proc.table.AddTiming(stats.RequestTotalOverhead, string(model.SinkRequest), time.Since(start))
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
	}
	s.exec.SetHost(nil)
	s.req.Reset()
}

func (s *Session) overhead() {
	s.proc.table.AddTiming(stats.RequestTotalOverhead, string(model.SinkRequest), time.Since(s.started))
}

// Invoke dispatches one intercepted call on this thread.
func (s *Session) Invoke(ctx context.Context, key hook.OperationKey, fallback hook.Original, args ...any) (any, error) {
	return s.dispatcher.Invoke(ctx, key, fallback, args...)
}

// Wrap returns fn guarded by the operation registered under key.
func (s *Session) Wrap(key hook.OperationKey, fn hook.Original) hook.Original {
	return s.dispatcher.Wrap(key, fn)
}

func (s *Session) blockingEnabled() bool {
	return bridge.BlockingState(s.handle, s.proc.cfg.Blocking)
}

// IsBlockingEnabled reports whether blocking verdicts are enforced.
func (s *Session) IsBlockingEnabled() bool { return s.blockingEnabled() }

// disabledOrBypassed gates every intercepted call. The bypass status is
// fetched at most once per request.
func (s *Session) disabledOrBypassed() bool {
	if s.proc.cfg.Disable {
		return true
	}
	if !s.req.Initialized {
		return false
	}
	if !s.req.BypassChecked {
		s.req.BypassChecked = true
		if raw, ok := s.protocol.SendEvent(context.Background(), model.EventGetIPBypassStatus); ok {
			s.protocol.Execute(raw)
		}
	}
	return s.req.Bypassed
}
