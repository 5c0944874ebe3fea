package action

import (
	"go.uber.org/zap"

	"github.com/ppiankov/sinkguard/internal/callctx"
	"github.com/ppiankov/sinkguard/internal/model"
)

// Host is the response surface of the host program.
type Host interface {
	SetStatus(code int)
	ClearHeaders()
	SetHeader(name, value string)
	Write(body string)
	// Terminate ends response output. Later writes are discarded.
	Terminate()
}

// NopHost discards every response effect. Used outside a request, e.g.
// in CLI mode.
type NopHost struct{}

func (NopHost) SetStatus(int) {}
func (NopHost) ClearHeaders() {}
func (NopHost) SetHeader(string, string) {}
func (NopHost) Write(string) {}
func (NopHost) Terminate() {}

// Executor applies Actions to the host response and request context.
type Executor struct {
	host Host
	log  *zap.Logger
}

// NewExecutor creates an executor writing to host. A nil host discards.
func NewExecutor(host Host, log *zap.Logger) *Executor {
	if host == nil {
		host = NopHost{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{host: host, log: log}
}

// SetHost redirects later effects to host. A nil host discards.
func (e *Executor) SetHost(host Host) {
	if host == nil {
		host = NopHost{}
	}
	e.host = host
}

// Execute decodes raw and applies the result. Malformed or unknown
// replies are logged and yield Continue.
func (e *Executor) Execute(raw string, req *callctx.RequestContext) model.Action {
	act, err := Decode(raw)
	if err != nil {
		e.log.Warn("ignoring engine reply", zap.Error(err))
		return model.Continue
	}
	e.Apply(act, req)
	return act
}

// Apply performs the side effects of act. Applying Continue does nothing.
func (e *Executor) Apply(act model.Action, req *callctx.RequestContext) {
	switch act.Kind {
	case model.ActThrow:
		e.host.SetStatus(act.Code)
		e.log.Info("blocking operation", zap.Int("code", act.Code), zap.String("message", act.Message))
	case model.ActExit:
		e.host.ClearHeaders()
		e.host.SetStatus(act.ResponseCode)
		e.host.SetHeader("Content-Type", "text/plain")
		e.host.Write(act.Message)
		e.host.Terminate()
		e.log.Info("terminating response", zap.Int("response_code", act.ResponseCode))
	case model.ActStore:
		if req != nil {
			req.BlockStatus = act.Block
			req.BlockChecked = true
		}
	case model.ActWarn:
		e.log.Warn(act.Message)
	case model.ActBypassIP:
		if req != nil {
			req.Bypassed = true
			req.BypassChecked = true
		}
	}
}
