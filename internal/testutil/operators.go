package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/etlgrid/internal/operator"
	"github.com/specialistvlad/etlgrid/internal/task"
)

// Call is one recorded operator attempt.
type Call struct {
	TaskID  string
	Attempt int
	Start   time.Time
	End     time.Time
	Err     error
}

// Scripted is an operator whose outcome per task and attempt is set up
// front. Attempts without a scripted error succeed. It is safe for
// concurrent use and tracks the peak number of simultaneous attempts.
type Scripted struct {
	kind task.Kind
	// Sleep is applied to every attempt before it returns. A cancelled
	// context cuts the sleep short and the attempt returns ctx.Err().
	Sleep time.Duration

	mu      sync.Mutex
	script  map[string][]error
	always  map[string]error
	panics  map[string]any
	calls   []Call
	active  atomic.Int64
	peak    atomic.Int64
	started chan string
}

// NewScripted returns a scripted operator for kind.
func NewScripted(kind task.Kind) *Scripted {
	return &Scripted{
		kind:   kind,
		script: make(map[string][]error),
		always: make(map[string]error),
		panics: make(map[string]any),
	}
}

// Fail scripts the errors returned by successive attempts of id.
func (s *Scripted) Fail(id string, errs ...error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[id] = append(s.script[id], errs...)
	return s
}

// FailAlways makes every attempt of id return err.
func (s *Scripted) FailAlways(id string, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.always[id] = err
	return s
}

// Panic makes the next attempt of id panic with v.
func (s *Scripted) Panic(id string, v any) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panics[id] = v
	return s
}

// Started returns a channel receiving the id of every attempt as it
// starts. It must be called before the run.
func (s *Scripted) Started(buffer int) <-chan string {
	s.started = make(chan string, buffer)
	return s.started
}

func (s *Scripted) Kind() task.Kind { return s.kind }

func (s *Scripted) Validate(task.Params) error { return nil }

func (s *Scripted) Execute(ctx context.Context, inv operator.Invocation) error {
	start := time.Now()
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.started != nil {
		s.started <- inv.Task.ID
	}

	s.mu.Lock()
	var err error
	if e, ok := s.always[inv.Task.ID]; ok {
		err = e
	} else if q := s.script[inv.Task.ID]; len(q) > 0 {
		err, s.script[inv.Task.ID] = q[0], q[1:]
	}
	p, doPanic := s.panics[inv.Task.ID]
	delete(s.panics, inv.Task.ID)
	s.mu.Unlock()

	if s.Sleep > 0 {
		select {
		case <-time.After(s.Sleep):
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	defer func() {
		s.mu.Lock()
		s.calls = append(s.calls, Call{TaskID: inv.Task.ID, Attempt: inv.Attempt, Start: start, End: time.Now(), Err: err})
		s.mu.Unlock()
	}()
	if doPanic {
		panic(p)
	}
	return err
}

// Calls returns the recorded attempts in completion order.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsFor returns the attempts of one task.
func (s *Scripted) CallsFor(id string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.TaskID == id {
			out = append(out, c)
		}
	}
	return out
}

// Peak is the highest number of attempts seen running at once.
func (s *Scripted) Peak() int {
	return int(s.peak.Load())
}

// ScriptedRegistry registers one scripted operator for every kind and
// returns them by kind.
func ScriptedRegistry() (*operator.Registry, map[task.Kind]*Scripted) {
	reg := operator.NewRegistry()
	ops := make(map[task.Kind]*Scripted)
	for _, k := range task.Kinds() {
		op := NewScripted(k)
		reg.Register(op)
		ops[k] = op
	}
	return reg, ops
}
