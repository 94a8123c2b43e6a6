// Package kprofile accumulates per-process CPU accounting and exports it as
// a pprof profile, so the usual `go tool pprof` flame-graph workflow can be
// pointed at a snapshot of kernel-tracked process time.
//
// Each process carries two nanosecond counters: one for time spent
// executing its own user code, one for time the kernel spent on its
// behalf. Export reshapes a snapshot of those counters into
// google/pprof/profile's in-memory Profile type, one process-tagged sample
// per pid.
package kprofile

import (
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"
)

// Accnt is one process's CPU time accounting. Userns and Sysns are
// nanosecond counters updated atomically, so snapshot can read them while
// Utadd/Systadd keep running concurrently on another goroutine.
type Accnt struct {
	Userns int64
	Sysns  int64
	mu     sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt) Now() int64 {
	return time.Now().UnixNano()
}

// Finish adds the time elapsed since sinceNanos to the system-time counter,
// for bracketing a span of kernel-side work done on the process's behalf.
func (a *Accnt) Finish(sinceNanos int64) {
	a.Systadd(a.Now() - sinceNanos)
}

// snapshot returns (Userns, Sysns). Each counter is read atomically;
// Utadd/Systadd do not take mu, so an add landing between the two loads can
// show up in one value and not yet in the other.
func (a *Accnt) snapshot() (int64, int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return atomic.LoadInt64(&a.Userns), atomic.LoadInt64(&a.Sysns)
}

// Table tracks one Accnt per live process, keyed by pid.
type Table struct {
	mu    sync.Mutex
	accts map[int]*Accnt
}

// NewTable returns an empty accounting table.
func NewTable() *Table {
	return &Table{accts: make(map[int]*Accnt)}
}

// Get returns pid's accounting record, creating it on first use.
func (t *Table) Get(pid int) *Accnt {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.accts[pid]
	if !ok {
		a = &Accnt{}
		t.accts[pid] = a
	}
	return a
}

// Drop discards pid's accounting record, called when a process's slot is
// finally reclaimed.
func (t *Table) Drop(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.accts, pid)
}

// Export builds a pprof Profile with one sample per tracked process: two
// values, user-ns and sys-ns, tagged with a synthetic location/function
// named "pid <N>" so `go tool pprof -top` groups time by process.
func (t *Table) Export() *profile.Profile {
	t.mu.Lock()
	pids := make([]int, 0, len(t.accts))
	for pid := range t.accts {
		pids = append(pids, pid)
	}
	t.mu.Unlock()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "user", Unit: "nanoseconds"},
			{Type: "sys", Unit: "nanoseconds"},
		},
		TimeNanos: time.Now().UnixNano(),
	}

	for i, pid := range pids {
		acct := t.Get(pid)
		userns, sysns := acct.snapshot()

		id := uint64(i + 1)
		fn := &profile.Function{ID: id, Name: pidLabel(pid), SystemName: pidLabel(pid)}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn, Line: 1}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{userns, sysns},
		})
	}
	return p
}

// Write serializes a snapshot of t in gzip-compressed pprof wire format.
func (t *Table) Write(w io.Writer) error {
	return t.Export().Write(w)
}

func pidLabel(pid int) string {
	return "pid " + strconv.Itoa(pid)
}
