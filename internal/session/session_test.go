package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bluescan/internal/observation"
)

// fakeSource scripts a discovery channel for tests.
type fakeSource struct {
	out       chan observation.Partial
	startErr  error
	stopErr   error
	stopCalls int32
	leaveOpen bool

	closeOnce sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{out: make(chan observation.Partial, 16)}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Start(ctx context.Context) (<-chan observation.Partial, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.out, nil
}

func (f *fakeSource) Stop(ctx context.Context) error {
	atomic.AddInt32(&f.stopCalls, 1)
	if !f.leaveOpen {
		f.closeOnce.Do(func() { close(f.out) })
	}
	return f.stopErr
}

// capturePresenter records presenter calls.
type capturePresenter struct {
	mu        sync.Mutex
	observed  []string
	firstSeen []bool
	summary   []*observation.Record
	summaries int
}

func (c *capturePresenter) Observed(rec *observation.Record, firstSeen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed = append(c.observed, rec.Identity)
	c.firstSeen = append(c.firstSeen, firstSeen)
}

func (c *capturePresenter) Summary(recs []*observation.Record, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary = recs
	c.summaries++
}

func TestRunStartFailure(t *testing.T) {
	src := newFakeSource()
	src.startErr = errors.New("adapter hci0 not found")
	s := New(src, &capturePresenter{}, time.Second, zerolog.Nop())

	_, err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected a channel acquisition error")
	}
	if s.State() != StateFailed {
		t.Errorf("state = %s, want %s", s.State(), StateFailed)
	}
	if atomic.LoadInt32(&src.stopCalls) != 0 {
		t.Error("stop must not be issued for a channel that never started")
	}
}

func TestRunMergesAndSummarizes(t *testing.T) {
	src := newFakeSource()
	pres := &capturePresenter{}
	s := New(src, pres, 200*time.Millisecond, zerolog.Nop())

	src.out <- observation.Partial{Identity: "AA:BB:CC:DD:EE:FF", Address: "AA:BB:CC:DD:EE:FF"}
	src.out <- observation.Partial{Identity: "AA:BB:CC:DD:EE:FF", Name: "Widget"}
	src.out <- observation.Partial{Identity: "11:22:33:44:55:66", Address: "11:22:33:44:55:66"}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(res.Records))
	}
	if res.Records[0].Identity != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("expected first-seen order, got %s first", res.Records[0].Identity)
	}
	if res.Records[0].Name != "Widget" {
		t.Errorf("expected enriched name, got %q", res.Records[0].Name)
	}

	wantFirst := []bool{true, false, true}
	if len(pres.firstSeen) != len(wantFirst) {
		t.Fatalf("expected %d observed calls, got %d", len(wantFirst), len(pres.firstSeen))
	}
	for i, want := range wantFirst {
		if pres.firstSeen[i] != want {
			t.Errorf("observed[%d] firstSeen = %v, want %v", i, pres.firstSeen[i], want)
		}
	}
	if pres.summaries != 1 {
		t.Errorf("expected exactly one summary, got %d", pres.summaries)
	}
	if s.State() != StateFinished {
		t.Errorf("state = %s, want %s", s.State(), StateFinished)
	}
}

func TestRunDeadlineEnforced(t *testing.T) {
	src := newFakeSource()
	// Keep the channel open so the feeder below can never hit a closed
	// channel; the deadline alone must end the session.
	src.leaveOpen = true
	s := New(src, &capturePresenter{}, 150*time.Millisecond, zerolog.Nop())

	// Feed observations continuously; arrivals must not extend the
	// session beyond its budget.
	feedCtx, stopFeeding := context.WithCancel(context.Background())
	defer stopFeeding()
	go func() {
		for i := 0; ; i++ {
			select {
			case <-feedCtx.Done():
				return
			case src.out <- observation.Partial{Identity: "AA:BB:CC:DD:EE:FF"}:
				time.Sleep(time.Millisecond)
			}
		}
	}()

	start := time.Now()
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stopFeeding()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("session overran its budget: ran %v with 150ms budget", elapsed)
	}
	if len(res.Records) != 1 {
		t.Errorf("expected 1 unique device, got %d", len(res.Records))
	}
	if got := atomic.LoadInt32(&src.stopCalls); got != 1 {
		t.Errorf("expected exactly 1 stop request, got %d", got)
	}
}

func TestRunExternalCancellation(t *testing.T) {
	src := newFakeSource()
	s := New(src, &capturePresenter{}, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if _, err := s.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation did not stop the session promptly: %v", elapsed)
	}
	if got := atomic.LoadInt32(&src.stopCalls); got != 1 {
		t.Errorf("expected exactly 1 stop request, got %d", got)
	}
}

func TestDoubleStopSafety(t *testing.T) {
	src := newFakeSource()
	s := New(src, &capturePresenter{}, 30*time.Millisecond, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.Run(context.Background()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}()

	// Race an external abort against the deadline expiry.
	time.Sleep(25 * time.Millisecond)
	s.Abort()
	<-done

	if got := atomic.LoadInt32(&src.stopCalls); got != 1 {
		t.Errorf("expected exactly 1 stop request despite the race, got %d", got)
	}
	if s.State() != StateFinished {
		t.Errorf("state = %s, want %s", s.State(), StateFinished)
	}
}

func TestRunChannelClosedEarly(t *testing.T) {
	src := newFakeSource()
	s := New(src, &capturePresenter{}, time.Minute, zerolog.Nop())

	src.out <- observation.Partial{Identity: "AA:BB:CC:DD:EE:FF"}
	go func() {
		time.Sleep(10 * time.Millisecond)
		src.closeOnce.Do(func() { close(src.out) })
	}()

	start := time.Now()
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected channel-closure error: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("closed channel did not end the session promptly")
	}
	if len(res.Records) != 1 {
		t.Errorf("expected the pre-closure observation to be kept, got %d records", len(res.Records))
	}
}

func TestStopFailureDoesNotPreventFinalization(t *testing.T) {
	src := newFakeSource()
	src.stopErr = errors.New("stop discovery: not ready")
	pres := &capturePresenter{}
	s := New(src, pres, 20*time.Millisecond, zerolog.Nop())

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("stop failure must not fail the session: %v", err)
	}
	if res.StopErr == nil {
		t.Error("expected the stop failure to be reported in the result")
	}
	if pres.summaries != 1 {
		t.Error("expected finalization to reach the presenter")
	}
}
