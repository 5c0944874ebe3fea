package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/ppiankov/sinkguard/internal/astinject"
)

// HostFunction resolves a function name injected into compiled units to
// the session call it stands for.
func (s *Session) HostFunction(name string) (func(context.Context) error, bool) {
	switch name {
	case astinject.AutoBlockFunction:
		return s.AutoBlockRequest, true
	}
	return nil, false
}

// RunInjected executes the call the compile hook injected into u, if
// any. Hosts call it when the unit's first statement runs. A blocking
// verdict is returned as an *enforce.EnforcementError.
func (s *Session) RunInjected(ctx context.Context, u *astinject.Unit) error {
	name, ok := astinject.InjectedCall(u)
	if !ok {
		return nil
	}
	fn, ok := s.HostFunction(name)
	if !ok {
		s.log.Warn("unknown injected function", zap.String("name", name), zap.String("unit", u.Name))
		return nil
	}
	return fn(ctx)
}
