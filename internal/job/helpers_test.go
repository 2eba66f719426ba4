package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/data-mapper/internal/dataset"
	"github.com/sells-group/data-mapper/internal/extract"
	"github.com/sells-group/data-mapper/internal/model"
)

const field = "emails"

var testMapping = model.FieldMapping{field: "emails"}

func queries(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("q%d", i)
	}
	return out
}

func schoolTable(n int) *dataset.Table {
	rows := make([][]string, n)
	for i, q := range queries(n) {
		rows[i] = []string{q, fmt.Sprintf("District %d", i)}
	}
	return dataset.New([]string{"School", "District"}, rows)
}

// okValue is the deterministic result for a query: "q7" becomes "OK7".
func okValue(query string) string {
	return "OK" + strings.TrimPrefix(query, "q")
}

func networkErr(loc string) error {
	return &extract.RecoverableError{Location: loc, Err: errors.New("net::ERR_TIMED_OUT")}
}

// fakeExtractor records every call and answers through fn, or with okValue
// when fn is nil.
type fakeExtractor struct {
	fn    func(call int, query string) (extract.Record, error)
	delay time.Duration

	mu          sync.Mutex
	calls       []string
	inflight    atomic.Int32
	maxInflight atomic.Int32
	closed      atomic.Int32
}

func (e *fakeExtractor) Extract(_ context.Context, query string) (extract.Record, error) {
	n := e.inflight.Add(1)
	defer e.inflight.Add(-1)
	for {
		cur := e.maxInflight.Load()
		if n <= cur || e.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	call := len(e.calls)
	e.calls = append(e.calls, query)
	e.mu.Unlock()

	if e.fn != nil {
		return e.fn(call, query)
	}
	return extract.Record{field: okValue(query)}, nil
}

func (e *fakeExtractor) LastLocation() string { return "https://www.cde.ca.gov/search" }

func (e *fakeExtractor) Close() error {
	e.closed.Add(1)
	return errors.New("close errors are ignored")
}

func (e *fakeExtractor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeExtractor) factory() extract.Factory {
	return func(context.Context) (extract.Extractor, error) { return e, nil }
}

// waitUntil polls cond from any goroutine. It does not call t.FailNow, so it
// is safe inside extractor callbacks.
func waitUntil(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Error("condition not met in time")
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// collector accumulates drained messages so tests can wait on them.
type collector struct {
	q    *Queue
	msgs []Message
}

func (c *collector) poll() []Message {
	c.msgs = append(c.msgs, c.q.Drain()...)
	return c.msgs
}

func (c *collector) waitFor(t *testing.T, pred func(Message) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range c.poll() {
			if pred(m) {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("message not seen; got %v", c.msgs)
}

func isNetworkError(m Message) bool {
	_, ok := m.(NetworkError)
	return ok
}

type runningWorker struct {
	handle *Handle
	col    *collector
	errCh  chan error
}

func startWorker(t *testing.T, ext *fakeExtractor, qs []string, start int) *runningWorker {
	t.Helper()
	h := NewHandle("test-job")
	q := NewQueue()
	w, err := NewWorker(WorkerConfig{
		Handle:      h,
		Factory:     ext.factory(),
		Out:         q,
		Queries:     qs,
		Start:       start,
		Mapping:     testMapping,
		ErrorMarker: "Error",
	})
	require.NoError(t, err)

	rw := &runningWorker{handle: h, col: &collector{q: q}, errCh: make(chan error, 1)}
	go func() { rw.errCh <- w.Run(context.Background()) }()
	return rw
}

func (rw *runningWorker) wait(t *testing.T) []Message {
	t.Helper()
	select {
	case err := <-rw.errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}
	return rw.col.poll()
}

func resultsOf(msgs []Message) []Result {
	var out []Result
	for _, m := range msgs {
		if r, ok := m.(Result); ok {
			out = append(out, r)
		}
	}
	return out
}

func ticksOf(msgs []Message) []int {
	var out []int
	for _, m := range msgs {
		if tk, ok := m.(AutosaveTick); ok {
			out = append(out, tk.Index)
		}
	}
	return out
}

func countOf[T Message](msgs []Message) int {
	n := 0
	for _, m := range msgs {
		if _, ok := m.(T); ok {
			n++
		}
	}
	return n
}

// recordingPresenter is a scripted Presenter.
type recordingPresenter struct {
	decide func(row int, location, query string) (Decision, error)

	mu       sync.Mutex
	progress []int
	prompts  []string
	terminal []model.JobState
	termErr  error
}

func (p *recordingPresenter) OnProgress(index, _ int, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = append(p.progress, index)
}

func (p *recordingPresenter) OnErrorNeedsResolution(_ context.Context, row int, location, query string) (Decision, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, fmt.Sprintf("%d|%s|%s", row, location, query))
	decide := p.decide
	p.mu.Unlock()
	if decide == nil {
		return Decision{Action: ActionSkip}, nil
	}
	return decide(row, location, query)
}

func (p *recordingPresenter) OnTerminal(state model.JobState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminal = append(p.terminal, state)
	p.termErr = err
}

func (p *recordingPresenter) Progress() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.progress...)
}

func (p *recordingPresenter) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}
