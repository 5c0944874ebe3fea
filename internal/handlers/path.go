package handlers

import (
	"fmt"
	"strings"

	"github.com/ppiankov/sinkguard/internal/hook"
	"github.com/ppiankov/sinkguard/internal/model"
)

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// pathEvent classifies a path argument. URLs are outgoing requests;
// stream wrappers other than the filter wrapper are not reported.
func pathEvent(c *hook.Call, path string) model.EventKind {
	if hasPrefixFold(path, "php://") && !hasPrefixFold(path, "php://filter") {
		return model.EventNone
	}
	if hasPrefixFold(path, "http://") || hasPrefixFold(path, "https://") {
		c.Event.OutgoingRequestURL = path
		return model.EventPreOutgoingRequest
	}
	c.Event.Filename = path
	return model.EventPrePathAccessed
}

// PathPre handles operations taking a path as first argument.
func PathPre(c *hook.Call) (model.EventKind, error) {
	path, ok := c.StringArg(0)
	if !ok {
		return model.EventNone, fmt.Errorf("handlers: path argument is %T", c.Arg(0))
	}
	if path == "" {
		return model.EventNone, nil
	}
	return pathEvent(c, path), nil
}

// Path2Pre handles operations taking a source and destination path, such
// as rename or link.
func Path2Pre(c *hook.Call) (model.EventKind, error) {
	kind, err := PathPre(c)
	if err != nil || kind == model.EventNone {
		return kind, err
	}
	if second, ok := c.StringArg(1); ok {
		c.Event.Filename2 = second
	}
	return kind, nil
}

// PathPost closes the outgoing request a URL path turned into. The
// effective URL of such a read cannot be observed, so it is the URL itself.
func PathPost(c *hook.Call) (model.EventKind, error) {
	if c.Event.OutgoingRequestURL == "" {
		return model.EventNone, nil
	}
	c.Event.OutgoingRequestEffectiveURL = c.Event.OutgoingRequestURL
	return model.EventPostOutgoingRequest, nil
}
