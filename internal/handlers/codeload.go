package handlers

import (
	"github.com/ppiankov/sinkguard/internal/hook"
	"github.com/ppiankov/sinkguard/internal/model"
)

// CodeLoadPre handles loading code or templates from a path. It shares the
// path classification, so a URL source is reported as an outgoing request.
func CodeLoadPre(c *hook.Call) (model.EventKind, error) {
	return PathPre(c)
}

// CodeLoadPost mirrors PathPost.
func CodeLoadPost(c *hook.Call) (model.EventKind, error) {
	return PathPost(c)
}
