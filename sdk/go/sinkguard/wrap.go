package sinkguard

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptrace"
	"os"
	"os/exec"

	"github.com/ppiankov/sinkguard/internal/handlers"
	"github.com/ppiankov/sinkguard/internal/hook"
)

// invoke runs original through the session bound to ctx, or directly
// when there is none.
func invoke[T any](ctx context.Context, key hook.OperationKey, original hook.Original, args ...any) (T, error) {
	var zero T
	var (
		res any
		err error
	)
	if sess := Session(ctx); sess != nil {
		res, err = sess.Invoke(ctx, key, original, args...)
	} else {
		res, err = original(ctx, args...)
	}
	if v, ok := res.(T); ok {
		return v, err
	}
	return zero, err
}

// Do sends req with client. The engine sees the target before the call
// and the effective URL and resolved address after it.
func Do(client *http.Client, req *http.Request) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	ctx := req.Context()
	conn := &handlers.ConnInfo{}
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Conn != nil {
				conn.RemoteAddr = info.Conn.RemoteAddr().String()
			}
		},
	}
	traced := req.WithContext(httptrace.WithClientTrace(ctx, trace))

	var sent *http.Response
	resp, err := invoke[*http.Response](ctx, handlers.KeyHTTPDo, func(_ context.Context, args ...any) (any, error) {
		r, err := client.Do(args[0].(*http.Request))
		sent = r
		return r, err
	}, traced, conn)
	// A verdict after the call discards the response.
	if resp == nil && sent != nil && sent.Body != nil {
		sent.Body.Close()
	}
	return resp, err
}

// Run runs cmd after the engine has seen its command line.
func Run(ctx context.Context, cmd *exec.Cmd) error {
	_, err := invoke[any](ctx, handlers.KeyExecRun, func(context.Context, ...any) (any, error) {
		return nil, cmd.Run()
	}, cmd)
	return err
}

// Output runs cmd and returns its standard output.
func Output(ctx context.Context, cmd *exec.Cmd) ([]byte, error) {
	return invoke[[]byte](ctx, handlers.KeyExecOutput, func(context.Context, ...any) (any, error) {
		return cmd.Output()
	}, cmd)
}

// CombinedOutput runs cmd and returns its combined output.
func CombinedOutput(ctx context.Context, cmd *exec.Cmd) ([]byte, error) {
	return invoke[[]byte](ctx, handlers.KeyExecCombined, func(context.Context, ...any) (any, error) {
		return cmd.CombinedOutput()
	}, cmd)
}

// Open opens name for reading.
func Open(ctx context.Context, name string) (*os.File, error) {
	return invoke[*os.File](ctx, handlers.KeyOpen, func(context.Context, ...any) (any, error) {
		return os.Open(name)
	}, name)
}

// OpenFile is os.OpenFile with path checks.
func OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (*os.File, error) {
	return invoke[*os.File](ctx, handlers.KeyOpenFile, func(context.Context, ...any) (any, error) {
		return os.OpenFile(name, flag, perm)
	}, name)
}

// ReadFile is os.ReadFile with path checks.
func ReadFile(ctx context.Context, name string) ([]byte, error) {
	return invoke[[]byte](ctx, handlers.KeyReadFile, func(context.Context, ...any) (any, error) {
		return os.ReadFile(name)
	}, name)
}

// WriteFile is os.WriteFile with path checks.
func WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error {
	_, err := invoke[any](ctx, handlers.KeyWriteFile, func(context.Context, ...any) (any, error) {
		return nil, os.WriteFile(name, data, perm)
	}, name)
	return err
}

// Remove is os.Remove with path checks.
func Remove(ctx context.Context, name string) error {
	_, err := invoke[any](ctx, handlers.KeyRemove, func(context.Context, ...any) (any, error) {
		return nil, os.Remove(name)
	}, name)
	return err
}

// Rename is os.Rename with both paths checked.
func Rename(ctx context.Context, oldpath, newpath string) error {
	_, err := invoke[any](ctx, handlers.KeyRename, func(context.Context, ...any) (any, error) {
		return nil, os.Rename(oldpath, newpath)
	}, oldpath, newpath)
	return err
}

// DB guards queries on a *sql.DB. The dialect is derived from the driver.
type DB struct {
	*sql.DB
	dialect string
}

// WrapDB returns db with guarded query methods.
func WrapDB(db *sql.DB) *DB {
	return &DB{DB: db, dialect: handlers.DialectOf(db.Driver())}
}

func (d *DB) query(q string, args []any) handlers.Query {
	return handlers.Query{SQL: q, Dialect: d.dialect, Module: "database/sql", Params: args}
}

// QueryContext is sql.DB.QueryContext after the engine has seen the query.
func (d *DB) QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return invoke[*sql.Rows](ctx, handlers.KeySQLQuery, func(ctx context.Context, _ ...any) (any, error) {
		return d.DB.QueryContext(ctx, q, args...)
	}, d.query(q, args))
}

// ExecContext is sql.DB.ExecContext after the engine has seen the query.
func (d *DB) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return invoke[sql.Result](ctx, handlers.KeySQLExec, func(ctx context.Context, _ ...any) (any, error) {
		return d.DB.ExecContext(ctx, q, args...)
	}, d.query(q, args))
}

// PrepareContext is sql.DB.PrepareContext after the engine has seen the
// statement.
func (d *DB) PrepareContext(ctx context.Context, q string) (*sql.Stmt, error) {
	return invoke[*sql.Stmt](ctx, handlers.KeySQLPrepare, func(ctx context.Context, _ ...any) (any, error) {
		return d.DB.PrepareContext(ctx, q)
	}, d.query(q, nil))
}

// SetUser records the authenticated user for the request in ctx.
func SetUser(ctx context.Context, id, name string) bool {
	if sess := Session(ctx); sess != nil {
		return sess.SetUser(ctx, id, name)
	}
	return false
}

// ShouldBlock reports whether the engine wants the request in ctx blocked
// for its user, IP or rate limit.
func ShouldBlock(ctx context.Context) bool {
	sess := Session(ctx)
	if sess == nil {
		return false
	}
	st, ok := sess.ShouldBlockRequest(ctx)
	return ok && st.Block
}
