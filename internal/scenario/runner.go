package scenario

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sinkguard/internal/agent"
	"github.com/ppiankov/sinkguard/internal/bridge"
	"github.com/ppiankov/sinkguard/internal/bridge/enginetest"
	"github.com/ppiankov/sinkguard/internal/config"
	"github.com/ppiankov/sinkguard/internal/enforce"
	"github.com/ppiankov/sinkguard/internal/handlers"
	"github.com/ppiankov/sinkguard/internal/hook"
	"github.com/ppiankov/sinkguard/internal/model"
	"github.com/ppiankov/sinkguard/internal/stats"
)

// Outcomes a case can expect.
const (
	Allow   = "allow"
	Block   = "block"
	Exit    = "exit"
	Errored = "error"
)

// Run replays every case against a fresh scripted engine. Cases are
// independent: each gets its own agent process state and request.
func Run(s *Scenario, log *zap.Logger) *RunResult {
	if log == nil {
		log = zap.NewNop()
	}
	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}
	for i, c := range s.Cases {
		cr := runCase(s, c, log)
		cr.Index = i + 1
		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}
	return result
}

func runCase(s *Scenario, c Case, log *zap.Logger) CaseResult {
	cr := CaseResult{
		Operation: c.Call.Operation,
		Expected:  strings.ToLower(c.Expect),
	}
	if len(c.Call.Args) > 0 {
		cr.Argument = c.Call.Args[0]
	}

	fake := enginetest.New()
	if err := script(fake, s.Replies, c.Replies); err != nil {
		cr.Actual, cr.Reason = Errored, err.Error()
		return cr
	}

	reg := hook.NewRegistry()
	if err := handlers.RegisterAll(reg); err != nil {
		cr.Actual, cr.Reason = Errored, err.Error()
		return cr
	}
	key := hook.ParseKey(c.Call.Operation)
	entry, ok := reg.Lookup(key)
	if !ok {
		cr.Actual, cr.Reason = Errored, fmt.Sprintf("operation %q is not intercepted", c.Call.Operation)
		return cr
	}

	blocking := true
	if s.Blocking != nil {
		blocking = *s.Blocking
	}
	ctx := context.Background()
	proc, err := agent.ModuleInit(ctx, agent.Options{
		Config: &config.Config{
			LogLevel:            "WARN",
			Blocking:            blocking,
			Token:               "scenario",
			ReportStatsInterval: stats.DefaultInterval,
			Mode:                s.Mode,
		},
		Platform: bridge.PlatformInfo{Name: "scenario", Version: agent.Version},
		Loader:   bridge.StaticLoader(fake),
		Registry: reg,
		Logger:   log,
	})
	if err != nil {
		cr.Actual, cr.Reason = Errored, err.Error()
		return cr
	}
	defer proc.ModuleShutdown(ctx)

	sess := proc.Pool().Get()
	defer proc.Pool().Put(sess)

	info := model.RequestInfo{
		Method:        c.Request.Method,
		Route:         c.Request.Route,
		RemoteAddress: c.Request.RemoteAddress,
		UserAgent:     c.Request.UserAgent,
		Headers:       c.Request.Headers,
	}
	if err := sess.RequestInit(ctx, info, nil); err != nil {
		cr.Actual, cr.Reason = outcome(err)
		return finish(cr, c, fake)
	}
	args, original, err := prepare(entry, c)
	if err == nil {
		_, err = sess.Invoke(ctx, entry.Key, original, args...)
	}
	cr.Actual, cr.Reason = outcome(err)
	cr = finish(cr, c, fake)
	sess.RequestShutdown(ctx, 200)
	return cr
}

// finish records the last event the call sent and settles the verdict.
func finish(cr CaseResult, c Case, fake *enginetest.Fake) CaseResult {
	if last, ok := fake.LastEvent(); ok {
		cr.Event = last.Kind.String()
	}
	cr.Passed = cr.Actual == cr.Expected
	if cr.Passed && c.Event != "" {
		if kinds := fake.EventKinds(); !sent(kinds, c.Event) {
			cr.Passed = false
			cr.Reason = fmt.Sprintf("event %s was not sent", c.Event)
		}
	}
	return cr
}

func sent(kinds []model.EventKind, name string) bool {
	for _, k := range kinds {
		if k.String() == name {
			return true
		}
	}
	return false
}

func outcome(err error) (string, string) {
	switch {
	case err == nil:
		return Allow, ""
	case enforce.IsExit(err):
		return Exit, err.Error()
	case enforce.IsEnforcement(err):
		return Block, err.Error()
	default:
		return Errored, err.Error()
	}
}

// script queues the scenario replies, then the case overrides.
func script(fake *enginetest.Fake, layers ...map[string]string) error {
	merged := map[model.EventKind]string{}
	for _, layer := range layers {
		for name, raw := range layer {
			kind, ok := model.ParseEventKind(name)
			if !ok {
				return fmt.Errorf("unknown event kind %q", name)
			}
			merged[kind] = raw
		}
	}
	for kind, raw := range merged {
		fake.Reply(kind, raw)
	}
	return nil
}

// prepare builds the arguments the handler for entry expects and an
// original entry point that stands in for the real operation.
func prepare(entry *hook.HookEntry, c Case) ([]any, hook.Original, error) {
	noop := func(context.Context, ...any) (any, error) { return nil, nil }
	switch entry.Sink {
	case model.SinkOutgoingHTTP:
		if len(c.Call.Args) == 0 {
			return nil, nil, fmt.Errorf("%s needs a URL", entry.Key)
		}
		req, err := http.NewRequest(http.MethodGet, c.Call.Args[0], nil)
		if err != nil {
			return nil, nil, err
		}
		return []any{req, &handlers.ConnInfo{}}, respond(c.Response), nil
	case model.SinkSQL:
		if len(c.Call.Args) == 0 {
			return nil, nil, fmt.Errorf("%s needs a query", entry.Key)
		}
		q := handlers.Query{SQL: c.Call.Args[0], Dialect: c.Call.Dialect, Module: "scenario"}
		for _, p := range c.Call.Args[1:] {
			q.Params = append(q.Params, p)
		}
		return []any{q}, noop, nil
	case model.SinkShell:
		if len(c.Call.Args) == 1 {
			return []any{c.Call.Args[0]}, noop, nil
		}
		return []any{c.Call.Args}, noop, nil
	default:
		args := make([]any, len(c.Call.Args))
		for i, a := range c.Call.Args {
			args[i] = a
		}
		return args, noop, nil
	}
}

func respond(r *Response) hook.Original {
	if r == nil {
		r = &Response{}
	}
	return func(_ context.Context, args ...any) (any, error) {
		req := args[0].(*http.Request)
		resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Request: req}
		if r.Status != 0 {
			resp.StatusCode = r.Status
		}
		if r.Location != "" {
			resp.Header.Set("Location", r.Location)
		}
		if ci, ok := args[1].(*handlers.ConnInfo); ok && r.RemoteAddr != "" {
			ci.RemoteAddr = r.RemoteAddr
		}
		return resp, nil
	}
}

// Load reads a scenario YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = path
	}
	return &s, nil
}

// LoadAndRun loads a scenario file and runs it.
func LoadAndRun(path string, log *zap.Logger) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	result := Run(s, log)
	result.File = path
	return result, nil
}
