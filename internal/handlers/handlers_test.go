package handlers_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/url"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/sinkguard/internal/action"
	"github.com/ppiankov/sinkguard/internal/callctx"
	"github.com/ppiankov/sinkguard/internal/handlers"
	"github.com/ppiankov/sinkguard/internal/hook"
	"github.com/ppiankov/sinkguard/internal/model"
)

type seen struct {
	kind  model.EventKind
	sink  action.Sink
	frame callctx.EventContext
}

type recorder struct {
	stack  *callctx.Stack
	events []seen
}

func (r *recorder) Emit(_ context.Context, kind model.EventKind, sink action.Sink) model.Action {
	r.events = append(r.events, seen{kind: kind, sink: sink, frame: *r.stack.Top()})
	return model.Continue
}

func setup(t *testing.T) (*hook.Dispatcher, *recorder, *callctx.RequestContext) {
	t.Helper()
	reg := hook.NewRegistry()
	require.NoError(t, handlers.RegisterAll(reg))
	reg.Freeze()
	stack := &callctx.Stack{}
	req := &callctx.RequestContext{}
	req.Begin(model.RequestInfo{Method: "GET"})
	rec := &recorder{stack: stack}
	d := hook.NewDispatcher(hook.Config{Registry: reg, Stack: stack, Request: req, Emitter: rec})
	return d, rec, req
}

func respond(code int, location string) hook.Original {
	return func(_ context.Context, args ...any) (any, error) {
		req := args[0].(*http.Request)
		resp := &http.Response{StatusCode: code, Header: http.Header{}, Request: req}
		if location != "" {
			resp.Header.Set("Location", location)
		}
		if len(args) < 2 {
			return resp, nil
		}
		if ci, ok := args[1].(*handlers.ConnInfo); ok {
			ci.RemoteAddr = "10.1.2.3:80"
		}
		return resp, nil
	}
}

func TestRegisterAllRejectsDuplicates(t *testing.T) {
	reg := hook.NewRegistry()
	require.NoError(t, handlers.RegisterAll(reg))
	assert.Equal(t, len(handlers.Entries()), reg.Len())
	assert.Error(t, handlers.RegisterAll(reg))
}

func TestOutgoingRedirectKeepsChainStart(t *testing.T) {
	d, rec, req := setup(t)
	ctx := context.Background()

	first, _ := http.NewRequest(http.MethodGet, "http://a.example/start", nil)
	_, err := d.Invoke(ctx, handlers.KeyHTTPDo, respond(http.StatusFound, "http://b.example:8080/next"), first, &handlers.ConnInfo{})
	require.NoError(t, err)
	assert.Equal(t, "http://b.example:8080/next", req.OutgoingRequestRedirectURL)

	second, _ := http.NewRequest(http.MethodGet, "http://b.example:8080/next", nil)
	_, err = d.Invoke(ctx, handlers.KeyHTTPDo, respond(http.StatusOK, ""), second, &handlers.ConnInfo{})
	require.NoError(t, err)

	require.Len(t, rec.events, 4)
	pre := rec.events[2]
	assert.Equal(t, model.EventPreOutgoingRequest, pre.kind)
	assert.Equal(t, "http://a.example/start", pre.frame.OutgoingRequestURL)
	assert.Equal(t, 80, pre.frame.OutgoingRequestPort)

	post := rec.events[3]
	assert.Equal(t, model.EventPostOutgoingRequest, post.kind)
	assert.Equal(t, "http://a.example/start", post.frame.OutgoingRequestURL)
	assert.Equal(t, "http://b.example:8080/next", post.frame.OutgoingRequestEffectiveURL)
	assert.Equal(t, 8080, post.frame.OutgoingRequestEffectivePort)
	assert.Equal(t, "10.1.2.3", post.frame.OutgoingRequestResolvedIP)
	assert.Empty(t, req.OutgoingRequestRedirectURL)
	assert.Equal(t, model.SinkOutgoingHTTP, post.sink.Kind)
}

func TestOutgoingFollowedRedirect(t *testing.T) {
	d, rec, _ := setup(t)
	first, _ := http.NewRequest(http.MethodGet, "https://a.example/", nil)
	final := &http.Request{URL: &url.URL{Scheme: "http", Host: "169.254.169.254", Path: "/latest"}}
	followed := func(context.Context, ...any) (any, error) {
		return &http.Response{StatusCode: http.StatusOK, Request: final}, nil
	}
	_, err := d.Invoke(context.Background(), handlers.KeyHTTPDo, followed, first)
	require.NoError(t, err)

	require.Len(t, rec.events, 2)
	assert.Equal(t, 443, rec.events[0].frame.OutgoingRequestPort)
	post := rec.events[1].frame
	assert.Equal(t, "http://169.254.169.254/latest", post.OutgoingRequestEffectiveURL)
	assert.Equal(t, 80, post.OutgoingRequestEffectivePort)
	assert.Empty(t, post.OutgoingRequestResolvedIP)
}

func TestOutgoingBadArgumentFailsOpen(t *testing.T) {
	d, rec, _ := setup(t)
	called := false
	_, err := d.Invoke(context.Background(), handlers.KeyHTTPDo, func(context.Context, ...any) (any, error) {
		called = true
		return nil, nil
	}, "not a request")
	require.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, rec.events)
}

func TestPathClassification(t *testing.T) {
	tests := []struct {
		path string
		want model.EventKind
	}{
		{"/etc/passwd", model.EventPrePathAccessed},
		{"HTTPS://example.com/x", model.EventPreOutgoingRequest},
		{"php://memory", model.EventNone},
		{"php://filter/resource=/etc/passwd", model.EventPrePathAccessed},
		{"", model.EventNone},
	}
	for _, tt := range tests {
		d, rec, _ := setup(t)
		_, err := d.Invoke(context.Background(), handlers.KeyReadFile, func(context.Context, ...any) (any, error) {
			return []byte("x"), nil
		}, tt.path)
		require.NoError(t, err)
		if tt.want == model.EventNone {
			assert.Empty(t, rec.events, tt.path)
			continue
		}
		require.NotEmpty(t, rec.events, tt.path)
		assert.Equal(t, tt.want, rec.events[0].kind, tt.path)
	}
}

func TestPathURLPostEvent(t *testing.T) {
	d, rec, _ := setup(t)
	_, err := d.Invoke(context.Background(), handlers.KeyOpen, func(context.Context, ...any) (any, error) {
		return nil, nil
	}, "http://internal/")
	require.NoError(t, err)
	require.Len(t, rec.events, 2)
	assert.Equal(t, model.EventPostOutgoingRequest, rec.events[1].kind)
	assert.Equal(t, "http://internal/", rec.events[1].frame.OutgoingRequestEffectiveURL)
}

func TestTwoPathOperation(t *testing.T) {
	d, rec, _ := setup(t)
	_, err := d.Invoke(context.Background(), handlers.KeyRename, func(context.Context, ...any) (any, error) {
		return nil, nil
	}, "/tmp/a", "/tmp/b")
	require.NoError(t, err)
	require.Len(t, rec.events, 1)
	assert.Equal(t, "/tmp/a", rec.events[0].frame.Filename)
	assert.Equal(t, "/tmp/b", rec.events[0].frame.Filename2)
	assert.Equal(t, model.SinkFileSystem, rec.events[0].sink.Kind)
}

func TestShellForms(t *testing.T) {
	for _, arg := range []any{"ls -la /", []string{"ls", "-la", "/"}, exec.Command("ls", "-la", "/")} {
		d, rec, _ := setup(t)
		_, err := d.Invoke(context.Background(), handlers.KeyExecRun, func(context.Context, ...any) (any, error) {
			return nil, nil
		}, arg)
		require.NoError(t, err)
		require.Len(t, rec.events, 1)
		assert.Equal(t, model.EventPreShellExecuted, rec.events[0].kind)
		assert.Equal(t, "ls -la /", rec.events[0].frame.Cmd)
	}
}

func TestSQLQuery(t *testing.T) {
	d, rec, _ := setup(t)
	q := handlers.Query{SQL: "SELECT * FROM users WHERE id = ?", Dialect: "mysql", Module: "database/sql", Params: []any{7}}
	_, err := d.Invoke(context.Background(), handlers.KeySQLQuery, func(context.Context, ...any) (any, error) {
		return nil, nil
	}, q)
	require.NoError(t, err)
	require.Len(t, rec.events, 1)
	f := rec.events[0].frame
	assert.Equal(t, q.SQL, f.SQLQuery)
	assert.Equal(t, "mysql", f.SQLDialect)
	assert.Equal(t, "database/sql", f.ModuleName)
	assert.Equal(t, []string{"7"}, f.SQLParams)

	d, rec, _ = setup(t)
	_, err = d.Invoke(context.Background(), handlers.KeyTxExec, func(context.Context, ...any) (any, error) {
		return nil, nil
	}, "DELETE FROM t")
	require.NoError(t, err)
	assert.Equal(t, handlers.UnknownDialect, rec.events[0].frame.SQLDialect)
}

func TestDialectOf(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, "sqlite", handlers.DialectOf(db.Driver()))
	assert.Equal(t, handlers.UnknownDialect, handlers.DialectOf(nil))
}

func TestCodeLoad(t *testing.T) {
	d, rec, _ := setup(t)
	_, err := d.Invoke(context.Background(), handlers.KeyPluginOpen, func(context.Context, ...any) (any, error) {
		return nil, nil
	}, "/srv/plugins/extra.so")
	require.NoError(t, err)
	require.Len(t, rec.events, 1)
	assert.Equal(t, model.SinkCodeLoad, rec.events[0].sink.Kind)
	assert.Equal(t, "/srv/plugins/extra.so", rec.events[0].frame.Filename)
}
