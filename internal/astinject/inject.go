package astinject

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// AutoBlockFunction is the host function the injected call targets.
const AutoBlockFunction = "sinkguard.AutoBlockRequest"

// InsertionPoint returns the index of the first statement that is not a
// declare or namespace statement.
func InsertionPoint(list *Node) int {
	point := 0
	for i, stmt := range list.Children {
		if stmt == nil {
			continue
		}
		if stmt.Kind == KindDeclare || stmt.Kind == KindNamespace {
			point = i + 1
			continue
		}
		break
	}
	return point
}

// Inject wraps the statement at the insertion point in a two-statement
// list whose first statement calls fn. It reports whether it changed the
// unit; units that are not statement lists, are empty, or hold only
// declarations are left alone.
func Inject(u *Unit, fn string) bool {
	root := u.Root
	if root == nil || root.Kind != KindStmtList || len(root.Children) == 0 {
		return false
	}
	point := InsertionPoint(root)
	if point >= len(root.Children) {
		return false
	}

	a := u.Arena()
	call := a.New(KindCall, "", a.New(KindName, fn), a.New(KindArgList, ""))
	block := a.New(KindStmtList, "", call, root.Children[point])
	block.Line = root.Line
	root.Children[point] = block
	return true
}

// InjectedCall returns the function called by the statement Inject added
// to u, if any. Calls written by the program itself are not reported.
func InjectedCall(u *Unit) (string, bool) {
	root := u.Root
	if root == nil || root.Kind != KindStmtList {
		return "", false
	}
	point := InsertionPoint(root)
	if point >= len(root.Children) {
		return "", false
	}
	block := root.Children[point]
	if block == nil || block.Kind != KindStmtList || len(block.Children) == 0 {
		return "", false
	}
	call := block.Children[0]
	if call == nil || call.Kind != KindCall || !u.Arena().Owns(call) || len(call.Children) == 0 {
		return "", false
	}
	return call.Children[0].Value, true
}

// Processor transforms a unit after compilation and before execution.
type Processor interface {
	Process(u *Unit)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(u *Unit)

func (f ProcessorFunc) Process(u *Unit) { f(u) }

// Slot is the host's single compile-hook pointer.
type Slot struct {
	mu      sync.Mutex
	current Processor
}

// Current returns the installed processor, or nil.
func (s *Slot) Current() Processor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the installed processor.
func (s *Slot) Set(p Processor) {
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
}

// Run passes u through the installed processor, if any.
func (s *Slot) Run(u *Unit) {
	if p := s.Current(); p != nil {
		p.Process(u)
	}
}

// ErrAlreadyHooked is returned when installing an Injector twice.
var ErrAlreadyHooked = errors.New("astinject: already hooked")

// Injector is the auto-protect processor. It chains to the processor it
// displaced.
type Injector struct {
	fn        string
	log       *zap.Logger
	mu        sync.Mutex
	slot      *Slot
	prev      Processor
	installed bool
}

// NewInjector creates an injector calling fn; empty fn means
// AutoBlockFunction.
func NewInjector(fn string, log *zap.Logger) *Injector {
	if fn == "" {
		fn = AutoBlockFunction
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Injector{fn: fn, log: log}
}

// Process injects into u, then runs the chained processor.
func (in *Injector) Process(u *Unit) {
	Inject(u, in.fn)
	in.mu.Lock()
	prev := in.prev
	in.mu.Unlock()
	if prev != nil {
		prev.Process(u)
	}
}

// Hook installs in into slot, remembering the previous processor.
func (in *Injector) Hook(slot *Slot) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.installed {
		in.log.Warn("compile hook already installed")
		return ErrAlreadyHooked
	}
	slot.mu.Lock()
	in.prev = slot.current
	slot.current = in
	slot.mu.Unlock()
	in.slot = slot
	in.installed = true
	in.log.Info("compile hook installed", zap.Bool("chained", in.prev != nil))
	return nil
}

// Unhook restores the previous processor, but only if in is still the
// installed one; a processor installed after in is left in place.
func (in *Injector) Unhook() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.installed {
		return
	}
	in.slot.mu.Lock()
	if cur, ok := in.slot.current.(*Injector); ok && cur == in {
		in.slot.current = in.prev
	}
	in.slot.mu.Unlock()
	in.prev = nil
	in.slot = nil
	in.installed = false
	in.log.Info("compile hook removed")
}
