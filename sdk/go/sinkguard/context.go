package sinkguard

import (
	"context"

	"github.com/ppiankov/sinkguard/internal/agent"
)

type sessionKey struct{}

func withSession(ctx context.Context, s *agent.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// Session returns the agent session bound to ctx, or nil.
func Session(ctx context.Context) *agent.Session {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(sessionKey{}).(*agent.Session)
	return s
}
