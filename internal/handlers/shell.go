package handlers

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/ppiankov/sinkguard/internal/hook"
	"github.com/ppiankov/sinkguard/internal/model"
)

// ShellPre records the command line of a process launch. Args[0] is an
// *exec.Cmd, a command string, or a []string argv.
func ShellPre(c *hook.Call) (model.EventKind, error) {
	switch v := c.Arg(0).(type) {
	case *exec.Cmd:
		if v == nil {
			return model.EventNone, fmt.Errorf("handlers: nil command")
		}
		c.Event.Cmd = strings.Join(v.Args, " ")
		if c.Event.Cmd == "" {
			c.Event.Cmd = v.Path
		}
	case string:
		c.Event.Cmd = v
	case []string:
		c.Event.Cmd = strings.Join(v, " ")
	default:
		return model.EventNone, fmt.Errorf("handlers: command argument is %T", v)
	}
	if c.Event.Cmd == "" {
		return model.EventNone, nil
	}
	return model.EventPreShellExecuted, nil
}
