package sinkguard

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/sinkguard/internal/enforce"
	"github.com/ppiankov/sinkguard/internal/model"
)

// Middleware returns an http.Handler that runs each request in an agent
// session. The engine sees the request before next does; a blocking
// pre-request or auto-block verdict answers the request without calling
// next.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := g.proc.Pool().Get()
		defer g.proc.Pool().Put(sess)

		host := &responseHost{w: w, guard: g}
		aw := appWriter{h: host}
		ctx := r.Context()

		err := sess.RequestInit(ctx, requestInfo(r, g.proc.Config().TrustProxy), host)
		if err == nil {
			err = sess.AutoBlockRequest(ctx)
		}
		if err != nil {
			g.log.Info("request blocked", zap.String("route", r.URL.Path), zap.Error(err))
			g.respondBlocked(aw, err)
			sess.RequestShutdown(ctx, host.statusCode())
			return
		}

		next.ServeHTTP(aw, r.WithContext(withSession(ctx, sess)))
		sess.RequestShutdown(ctx, host.statusCode())
	})
}

// Blocked writes the answer for a blocking verdict carried by err and
// reports whether it did. Exit verdicts have already answered the request.
func Blocked(w http.ResponseWriter, err error) bool {
	if !enforce.IsEnforcement(err) {
		return false
	}
	code := http.StatusForbidden
	if aw, ok := w.(appWriter); ok {
		code = aw.h.guard.blockCode
	}
	writeBlocked(w, err, code)
	return true
}

func (g *Guard) respondBlocked(w http.ResponseWriter, err error) {
	writeBlocked(w, err, g.blockCode)
}

func writeBlocked(w http.ResponseWriter, err error, fallback int) {
	e, _ := enforce.As(err)
	if e.Kind == model.ActExit {
		return
	}
	code := e.Code
	if code <= 0 {
		code = fallback
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(code)
	}
	_, _ = w.Write([]byte(msg))
}

// requestInfo maps an HTTP request to the fields the engine may pull.
func requestInfo(r *http.Request, trustProxy bool) model.RequestInfo {
	remote := r.RemoteAddr
	if h, _, err := net.SplitHostPort(remote); err == nil {
		remote = h
	}
	xff := r.Header.Get("X-Forwarded-For")
	if trustProxy && xff != "" {
		remote = strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}

	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}

	return model.RequestInfo{
		RemoteAddress: remote,
		Method:        r.Method,
		Route:         r.URL.Path,
		URL:           u.String(),
		Query:         r.URL.RawQuery,
		Cookies:       r.Header.Get("Cookie"),
		UserAgent:     r.UserAgent(),
		XForwardedFor: xff,
		HTTPS:         r.TLS != nil,
		Headers:       headers,
	}
}
