package agent

import (
	"sync"

	"github.com/ppiankov/sinkguard/internal/bridge"
)

// Pool hands out sessions to hosts that serve requests on goroutines
// rather than long-lived threads. Each session keeps its thread ID, and
// so its engine instance, across requests.
type Pool struct {
	proc *ProcessState

	mu     sync.Mutex
	free   []*Session
	all    []*Session
	next   uint64
	closed bool
}

func newPool(p *ProcessState) *Pool {
	return &Pool{proc: p}
}

// Get returns an idle session or creates one bound to a fresh thread ID.
func (p *Pool) Get() *Session {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return s
	}
	p.next++
	id := p.next
	p.mu.Unlock()

	s := p.proc.NewSession(id)
	p.mu.Lock()
	p.all = append(p.all, s)
	p.mu.Unlock()
	return s
}

// Put returns s to the pool. After Close it releases s instead.
func (p *Pool) Put(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		s.Close()
		return
	}
	p.free = append(p.free, s)
}

// Size reports how many sessions the pool has created.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// handle returns the engine instance of the first session holding one.
func (p *Pool) handle() *bridge.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.all {
		if s.handle != nil {
			return s.handle
		}
	}
	return nil
}

// Close releases every session created by the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, s := range p.all {
		s.Close()
	}
	p.free = nil
}
