package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/sinkguard/internal/action"
	"github.com/ppiankov/sinkguard/internal/callctx"
	"github.com/ppiankov/sinkguard/internal/enforce"
	"github.com/ppiankov/sinkguard/internal/model"
)

// SetUser records the authenticated user and tells the engine.
func (s *Session) SetUser(ctx context.Context, id, name string) bool {
	if s.proc.cfg.Disable || id == "" {
		return false
	}
	s.req.UserID = id
	s.req.UserName = name
	s.protocol.Emit(ctx, model.EventSetUser, action.Sink{})
	return true
}

// SetToken offers a per-request token. A token equal to the one the
// engine already has sends nothing.
func (s *Session) SetToken(token string) bool {
	if s.proc.cfg.Disable || token == "" {
		return false
	}
	if s.handle != nil {
		s.handle.SetToken(token)
	}
	return true
}

// SetRateLimitGroup groups the request for rate limiting. The engine
// reads it through the context callback.
func (s *Session) SetRateLimitGroup(group string) bool {
	if s.proc.cfg.Disable || group == "" {
		return false
	}
	s.req.RateLimitGroup = group
	return true
}

// RegisterParamMatcher asks the engine to watch a request parameter. It
// reports false for empty input or when the engine rejects the regex.
func (s *Session) RegisterParamMatcher(ctx context.Context, param, regex string) bool {
	if s.proc.cfg.Disable || param == "" || regex == "" {
		return false
	}
	ok := true
	_ = s.stack.Scoped(func(ec *callctx.EventContext) error {
		ec.ParamMatcherParam = param
		ec.ParamMatcherRegex = regex
		if raw, got := s.protocol.SendEvent(ctx, model.EventRegisterParamMatcher); got {
			if act := s.protocol.Execute(raw); act.Kind == model.ActWarn {
				ok = false
			}
		}
		return nil
	})
	if ok {
		s.log.Info("registered param matcher", zap.String("param", param), zap.String("regex", regex))
	}
	return ok
}

func (s *Session) blockingChecksSkipped() bool {
	return s.proc.opts.CLI || s.proc.cfg.Disable
}

// ShouldBlockRequest returns the engine's blocking status for the current
// request. The engine is asked at most once per request; ok is false when
// the check is skipped.
func (s *Session) ShouldBlockRequest(ctx context.Context) (status model.BlockStatus, ok bool) {
	if s.blockingChecksSkipped() {
		return model.BlockStatus{}, false
	}
	if !s.req.BlockChecked {
		if raw, got := s.protocol.SendEvent(ctx, model.EventGetBlockingStatus); got {
			s.protocol.Execute(raw)
		}
		s.req.BlockChecked = true
	}
	return s.req.BlockStatus, true
}

// AutoBlockRequest runs the baseline IP and user-agent check once per
// request. A blocking verdict is returned as an *enforce.EnforcementError.
func (s *Session) AutoBlockRequest(ctx context.Context) error {
	if s.blockingChecksSkipped() || s.req.AutoBlockChecked {
		return nil
	}
	s.req.AutoBlockChecked = true
	act := s.protocol.Emit(ctx, model.EventGetAutoBlockingStatus, requestSink)
	if act.Blocked() {
		return enforce.Enforce(act, "AutoBlockRequest")
	}
	return nil
}

// EnableIdorProtection turns on tenant isolation checks for SQL in this
// request.
func (s *Session) EnableIdorProtection(column string, excludedTables []string) bool {
	if s.disabledOrBypassed() || column == "" {
		return false
	}
	tables := append([]string{}, excludedTables...)
	s.req.Idor = &callctx.IdorConfig{ColumnName: column, ExcludedTables: tables}
	s.log.Info("enabled IDOR protection", zap.String("column", column))
	return true
}

// SetTenantID records the tenant the request acts for.
func (s *Session) SetTenantID(id string) bool {
	if s.disabledOrBypassed() || id == "" {
		return false
	}
	s.req.TenantID = id
	return true
}

// WithoutIdorProtection runs fn with tenant isolation suspended. The
// previous setting is restored even if fn panics.
func (s *Session) WithoutIdorProtection(fn func() error) error {
	if fn == nil {
		return fmt.Errorf("agent: without_idor_protection needs a callback")
	}
	prev := s.req.IdorDisabled
	s.req.IdorDisabled = true
	defer func() { s.req.IdorDisabled = prev }()
	return fn()
}
