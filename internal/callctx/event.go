// Package callctx holds the per-call EventContext stack and the
// per-request RequestContext.
package callctx

import "errors"

// ErrEmptyStack is the panic value raised by Top on an empty stack.
var ErrEmptyStack = errors.New("callctx: no active event context")

// EventContext describes one in-flight intercepted call.
type EventContext struct {
	FunctionName string
	ModuleName   string
	Sink         string

	Filename  string
	Filename2 string
	Cmd       string

	OutgoingRequestURL           string
	OutgoingRequestEffectiveURL  string
	OutgoingRequestPort          int
	OutgoingRequestEffectivePort int
	OutgoingRequestResolvedIP    string

	SQLQuery   string
	SQLDialect string
	SQLParams  []string

	ParamMatcherParam string
	ParamMatcherRegex string

	StackTrace string
}

// Stack is a stack of EventContext frames. Frames are kept after Pop and
// reused by later pushes, so a steady call pattern allocates nothing.
// A Stack belongs to one thread and is not safe for concurrent use.
type Stack struct {
	frames []*EventContext
	depth  int
}

// Push stacks a new empty frame and returns it.
func (s *Stack) Push() *EventContext {
	if s.depth == len(s.frames) {
		s.frames = append(s.frames, &EventContext{})
	} else {
		*s.frames[s.depth] = EventContext{}
	}
	s.depth++
	return s.frames[s.depth-1]
}

// Pop discards the top frame. Pop on an empty stack is a no-op.
func (s *Stack) Pop() {
	if s.depth == 0 {
		return
	}
	s.depth--
	*s.frames[s.depth] = EventContext{}
}

// Top returns the active frame. It panics with ErrEmptyStack when no
// frame is pushed.
func (s *Stack) Top() *EventContext {
	if s.depth == 0 {
		panic(ErrEmptyStack)
	}
	return s.frames[s.depth-1]
}

// Current returns the active frame, or nil outside any pushed scope.
func (s *Stack) Current() *EventContext {
	if s.depth == 0 {
		return nil
	}
	return s.frames[s.depth-1]
}

// Depth returns the number of pushed frames.
func (s *Stack) Depth() int { return s.depth }

// Empty reports whether no frame is pushed.
func (s *Stack) Empty() bool { return s.depth == 0 }

// Acquire pushes a frame and returns it with a release func that pops
// exactly that frame. Use as:
//
//	frame, release := stack.Acquire()
//	defer release()
//
// Calling release more than once is harmless.
func (s *Stack) Acquire() (*EventContext, func()) {
	frame := s.Push()
	want := s.depth
	released := false
	return frame, func() {
		if released {
			return
		}
		released = true
		// Unwind frames a misbehaving callee left behind.
		for s.depth >= want {
			s.Pop()
		}
	}
}

// Scoped runs fn inside a freshly pushed frame. The frame is popped when
// fn returns or panics.
func (s *Stack) Scoped(fn func(*EventContext) error) error {
	frame, release := s.Acquire()
	defer release()
	return fn(frame)
}
