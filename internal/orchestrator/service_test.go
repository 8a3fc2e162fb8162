package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"requiem/internal/domain"
	"requiem/internal/gate"
	"requiem/internal/intent"
	"requiem/internal/llm"
	"requiem/internal/planner"
	"requiem/internal/tone"
)

type fakeGen struct {
	mu    sync.Mutex
	outs  []string
	err   error
	calls int
	hook  func()
}

func (f *fakeGen) Generate(_ context.Context, _ llm.GenRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	out := ""
	if len(f.outs) > 0 {
		out = f.outs[0]
		if len(f.outs) > 1 {
			f.outs = f.outs[1:]
		}
	}
	hook := f.hook
	err := f.err
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, err
}

func (f *fakeGen) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type staticGlobalMem string

func (m staticGlobalMem) Text() string { return string(m) }

func nopLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type pipelineFakes struct {
	intentGen *fakeGen
	planGen   *fakeGen
	toneGen   *fakeGen
	coreGen   *fakeGen
	verifyGen *fakeGen
}

func newPipeline(t *testing.T, cfg Config, f pipelineFakes, g *gate.Gate) *Service {
	t.Helper()
	if g == nil {
		g = gate.New(4)
	}
	logger := nopLogger()
	return New(cfg,
		intent.NewClassifier(f.intentGen, intent.Options{}, logger),
		planner.New(f.planGen, logger),
		tone.New(f.toneGen),
		f.coreGen,
		f.verifyGen,
		staticGlobalMem("The raven remembers."),
		g,
		logger,
	)
}

func defaultFakes() pipelineFakes {
	return pipelineFakes{
		intentGen: &fakeGen{outs: []string{`{"intent":"greeting","confidence":0.9,"flags":{}}`}},
		planGen:   &fakeGen{outs: []string{`{"goal":"greet back","tone_hint":"warm"}`}},
		toneGen:   &fakeGen{outs: []string{"warm & brief"}},
		coreGen:   &fakeGen{outs: []string{"Hello! Good to see you."}},
		verifyGen: &fakeGen{outs: []string{"YES"}},
	}
}

func TestHandleHappyPath(t *testing.T) {
	f := defaultFakes()
	svc := newPipeline(t, Config{}, f, nil)

	out, err := svc.Handle(context.Background(), Request{UserID: "1", Message: "hello"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Intent.Label != domain.IntentGreeting {
		t.Fatalf("intent=%s", out.Intent.Label)
	}
	if out.Plan.Goal != "greet back" {
		t.Fatalf("plan=%+v", out.Plan)
	}
	if out.Emotion != "warm & brief" {
		t.Fatalf("emotion=%q", out.Emotion)
	}
	if out.Final != "Hello! Good to see you." {
		t.Fatalf("final=%q", out.Final)
	}
	if f.coreGen.callCount() != 1 || f.verifyGen.callCount() != 1 {
		t.Fatalf("core=%d verify=%d, want 1/1", f.coreGen.callCount(), f.verifyGen.callCount())
	}
}

func TestHandlePlannerGarbageStillYieldsPlan(t *testing.T) {
	f := defaultFakes()
	f.planGen = &fakeGen{outs: []string{"not json", "still not json"}}
	svc := newPipeline(t, Config{}, f, nil)

	out, err := svc.Handle(context.Background(), Request{UserID: "1", Message: "hello"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Plan.Goal != "answer user" || out.Plan.ToneHint != "neutral" {
		t.Fatalf("plan=%+v, want default", out.Plan)
	}
	if out.Final == "" {
		t.Fatalf("final must not be empty")
	}
}

func TestHandleRetryBudget(t *testing.T) {
	f := defaultFakes()
	f.coreGen = &fakeGen{outs: []string{"first attempt", "second attempt"}}
	f.verifyGen = &fakeGen{outs: []string{"NO"}}
	svc := newPipeline(t, Config{}, f, nil)

	out, err := svc.Handle(context.Background(), Request{UserID: "1", Message: "explain monads"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.coreGen.callCount() != 2 {
		t.Fatalf("generation calls=%d, want exactly 2", f.coreGen.callCount())
	}
	if out.Final != "second attempt" {
		t.Fatalf("final=%q, want the last attempt returned regardless of verdict", out.Final)
	}
}

func TestHandleCoherentFirstTryStopsEarly(t *testing.T) {
	f := defaultFakes()
	f.coreGen = &fakeGen{outs: []string{"good answer"}}
	f.verifyGen = &fakeGen{outs: []string{"yes, it does"}}
	svc := newPipeline(t, Config{}, f, nil)

	if _, err := svc.Handle(context.Background(), Request{Message: "hi"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.coreGen.callCount() != 1 {
		t.Fatalf("generation calls=%d, want 1", f.coreGen.callCount())
	}
}

func TestHandleEmptyGenerationUsesPlaceholder(t *testing.T) {
	f := defaultFakes()
	f.coreGen = &fakeGen{outs: []string{""}}
	svc := newPipeline(t, Config{}, f, nil)

	out, err := svc.Handle(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Final != EmptyReplyPlaceholder {
		t.Fatalf("final=%q, want placeholder", out.Final)
	}
}

func TestHandleBackendErrorAborts(t *testing.T) {
	f := defaultFakes()
	f.intentGen = &fakeGen{err: &llm.BackendError{URL: "http://intent", Status: 502}}
	svc := newPipeline(t, Config{}, f, nil)

	if _, err := svc.Handle(context.Background(), Request{Message: "hi"}); !llm.IsBackendError(err) {
		t.Fatalf("err=%v, want BackendError", err)
	}
}

func TestHandleGateBound(t *testing.T) {
	const capacity = 2
	const requests = 8

	var active, over int64
	f := defaultFakes()
	f.coreGen = &fakeGen{
		outs: []string{"ok"},
		hook: func() {
			n := atomic.AddInt64(&active, 1)
			if n > capacity {
				atomic.AddInt64(&over, 1)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&active, -1)
		},
	}
	svc := newPipeline(t, Config{}, f, gate.New(capacity))

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Handle(context.Background(), Request{UserID: fmt.Sprint(i), Message: "hello"}); err != nil {
				t.Errorf("handle: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if over != 0 {
		t.Fatalf("%d generations ran beyond gate capacity %d", over, capacity)
	}
}
