// Package sinkguard protects Go services in-process. Middleware scopes
// each HTTP request to an agent session, and the wrappers route outgoing
// HTTP calls, process launches, file access and SQL through the decision
// engine before the real operation runs.
//
// Usage:
//
//	sg, err := sinkguard.New(ctx, sinkguard.WithPlatform("net/http", runtime.Version()))
//	defer sg.Close(ctx)
//	http.Handle("/", sg.Middleware(appHandler))
//
//	// inside a handler
//	resp, err := sinkguard.Do(http.DefaultClient, req.WithContext(r.Context()))
//	if sinkguard.Blocked(w, err) {
//	    return
//	}
//
// Calls made outside a guarded request run unprotected.
package sinkguard
