package callctx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/sinkguard/internal/model"
)

func TestStackPushPopTop(t *testing.T) {
	var s Stack
	require.True(t, s.Empty())

	outer := s.Push()
	outer.FunctionName = "curl_exec"
	inner := s.Push()
	assert.Empty(t, inner.FunctionName, "new frame must not see ancestor data")
	inner.FunctionName = "exec"

	assert.Equal(t, "exec", s.Top().FunctionName)
	s.Pop()
	assert.Equal(t, "curl_exec", s.Top().FunctionName)
	s.Pop()
	assert.True(t, s.Empty())

	s.Pop() // no-op on empty
	assert.Equal(t, 0, s.Depth())
}

func TestTopPanicsOnEmpty(t *testing.T) {
	var s Stack
	assert.PanicsWithValue(t, ErrEmptyStack, func() { s.Top() })
	assert.Nil(t, s.Current())
}

func TestReusedFrameIsCleared(t *testing.T) {
	var s Stack
	f := s.Push()
	f.Cmd = "ls"
	f.SQLParams = []string{"a"}
	s.Pop()

	g := s.Push()
	assert.Empty(t, g.Cmd)
	assert.Nil(t, g.SQLParams)
}

func nested(s *Stack, depth int, fail int) error {
	return s.Scoped(func(ec *EventContext) error {
		ec.FunctionName = "level"
		if depth == fail {
			return errors.New("boom")
		}
		if depth == fail+100 {
			panic("handler bug")
		}
		if depth == 0 {
			return nil
		}
		return nested(s, depth-1, fail)
	})
}

func TestScopedBalancesOnErrorAndPanic(t *testing.T) {
	var s Stack

	require.NoError(t, nested(&s, 5, -1))
	assert.Equal(t, 0, s.Depth())

	require.Error(t, nested(&s, 5, 2))
	assert.Equal(t, 0, s.Depth())

	assert.Panics(t, func() { _ = nested(&s, 5, -97) })
	assert.Equal(t, 0, s.Depth())
}

func TestAcquireUnwindsLeakedFrames(t *testing.T) {
	var s Stack
	s.Push() // frame owned by an outer caller

	_, release := s.Acquire()
	s.Push() // leaked by a callee
	release()
	release()

	assert.Equal(t, 1, s.Depth())
}

func TestRequestResetIdempotent(t *testing.T) {
	var r RequestContext
	r.Begin(model.RequestInfo{Method: "GET"})
	r.UserID = "42"
	r.Idor = &IdorConfig{ColumnName: "tenant_id"}
	r.Bypassed = true

	r.Reset()
	once := r
	r.Reset()
	assert.Equal(t, once, r)
	assert.Equal(t, RequestContext{}, r)

	r.TenantID = "t1"
	r.Reset()
	assert.Empty(t, r.TenantID)
	assert.False(t, r.Initialized)
}
