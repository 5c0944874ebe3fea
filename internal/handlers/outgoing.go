// Package handlers holds the pre/post handlers that describe intercepted
// Go operations to the decision engine.
package handlers

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ppiankov/sinkguard/internal/hook"
	"github.com/ppiankov/sinkguard/internal/model"
)

// ConnInfo is filled by the caller while an outgoing request runs, usually
// from an httptrace.ClientTrace GotConn hook. It is passed as the second
// argument of an outgoing call.
type ConnInfo struct {
	RemoteAddr string
}

// OutgoingPre records the target of an outgoing HTTP request. Args[0] is
// the *http.Request.
func OutgoingPre(c *hook.Call) (model.EventKind, error) {
	req, ok := c.Arg(0).(*http.Request)
	if !ok || req == nil || req.URL == nil {
		return model.EventNone, fmt.Errorf("handlers: outgoing request argument is %T", c.Arg(0))
	}
	target := req.URL.String()
	c.Event.OutgoingRequestURL = target
	c.Event.OutgoingRequestPort = urlPort(req.URL)

	if r := c.Request; r != nil {
		if r.OutgoingRequestRedirectURL != "" && r.OutgoingRequestRedirectURL == target && r.OutgoingRequestURL != "" {
			// Following a redirect we saw earlier: report the chain start.
			c.Event.OutgoingRequestURL = r.OutgoingRequestURL
			if u, err := url.Parse(r.OutgoingRequestURL); err == nil {
				c.Event.OutgoingRequestPort = urlPort(u)
			}
		} else {
			r.OutgoingRequestURL = target
		}
		r.OutgoingRequestRedirectURL = ""
	}
	return model.EventPreOutgoingRequest, nil
}

// OutgoingPost records where an outgoing request actually ended up. The
// result is the *http.Response; Args[1], when present, is a *ConnInfo.
func OutgoingPost(c *hook.Call) (model.EventKind, error) {
	resp, ok := c.Result.(*http.Response)
	if !ok || resp == nil {
		return model.EventNone, nil
	}

	effective := resp.Request
	if effective == nil || effective.URL == nil {
		c.Event.OutgoingRequestEffectiveURL = c.Event.OutgoingRequestURL
		c.Event.OutgoingRequestEffectivePort = c.Event.OutgoingRequestPort
	} else {
		c.Event.OutgoingRequestEffectiveURL = effective.URL.String()
		c.Event.OutgoingRequestEffectivePort = urlPort(effective.URL)
	}

	if ci, ok := c.Arg(1).(*ConnInfo); ok && ci != nil {
		c.Event.OutgoingRequestResolvedIP = hostOnly(ci.RemoteAddr)
	}

	if c.Request != nil && isRedirect(resp.StatusCode) {
		if loc, err := resp.Location(); err == nil {
			c.Request.OutgoingRequestRedirectURL = loc.String()
		}
	}
	return model.EventPostOutgoingRequest, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// urlPort returns the explicit port of u, or the scheme default.
func urlPort(u *url.URL) int {
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err == nil {
			return n
		}
		return 0
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return 443
	case "http", "ws":
		return 80
	}
	return 0
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
