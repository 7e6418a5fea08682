package hal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dhtnode-go/types"
)

// fakeAdaptor returns ErrNotReady for the first notReady Collect calls of
// each cycle, then succeeds unless failWith is set.
type fakeAdaptor struct {
	mu       sync.Mutex
	id       string
	after    time.Duration
	notReady int
	failWith error
	triggers int
	collects int
	cycle    int
}

func (f *fakeAdaptor) ID() string              { return f.id }
func (f *fakeAdaptor) Capabilities() []CapInfo { return nil }

func (f *fakeAdaptor) Trigger(context.Context) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	f.cycle = 0
	return f.after, nil
}

func (f *fakeAdaptor) Collect(context.Context) (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collects++
	f.cycle++
	if f.cycle <= f.notReady {
		return nil, ErrNotReady
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	return Sample{
		{Kind: types.KindTemperature, Payload: types.TemperatureValue{DeciC: 250}},
		{Kind: types.KindHumidity, Payload: types.HumidityValue{RHx100: 5500}},
	}, nil
}

func (f *fakeAdaptor) Control(types.Kind, string, any) (any, error) { return nil, ErrUnsupported }

func (f *fakeAdaptor) set(fn func(*fakeAdaptor)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeAdaptor) counts() (triggers, collects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers, f.collects
}

func startWorker(t *testing.T, cfg WorkerConfig) *measureWorker {
	t.Helper()
	w := NewWorker(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w.Start(ctx)
	return w
}

func nextResult(t *testing.T, w *measureWorker) Result {
	t.Helper()
	select {
	case r := <-w.Results():
		return r
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for result")
		return Result{}
	}
}

func TestWorker_SuccessWithRetries(t *testing.T) {
	w := startWorker(t, WorkerConfig{RetryBackoff: 2 * time.Millisecond, MaxRetries: 5})
	ad := &fakeAdaptor{id: "dht0", after: time.Millisecond, notReady: 2}
	if !w.Submit(MeasureReq{ID: ad.id, Adaptor: ad}) {
		t.Fatal("submit failed")
	}
	r := nextResult(t, w)
	if r.Err != nil || r.ID != "dht0" {
		t.Fatalf("result = %+v", r)
	}
	if v := r.Sample[0].Payload.(types.TemperatureValue); v.DeciC != 250 {
		t.Fatalf("temperature = %+v", v)
	}
	if _, collects := ad.counts(); collects != 3 {
		t.Fatalf("collects = %d, want 3", collects)
	}
}

func TestWorker_RetryLimitFailure(t *testing.T) {
	w := startWorker(t, WorkerConfig{RetryBackoff: time.Millisecond, MaxRetries: 2})
	ad := &fakeAdaptor{id: "dht0", after: time.Millisecond, notReady: 10}
	w.Submit(MeasureReq{ID: ad.id, Adaptor: ad})
	if r := nextResult(t, w); !errors.Is(r.Err, ErrNotReady) {
		t.Fatalf("want ErrNotReady after retries, got %v", r.Err)
	}
}

func TestWorker_CollectErrorIsReported(t *testing.T) {
	boom := errors.New("no response")
	w := startWorker(t, WorkerConfig{})
	ad := &fakeAdaptor{id: "dht0", failWith: boom}
	w.Submit(MeasureReq{ID: ad.id, Adaptor: ad})
	if r := nextResult(t, w); !errors.Is(r.Err, boom) {
		t.Fatalf("got %v", r.Err)
	}
}

func TestWorker_CoalescingAndReadNowDesire(t *testing.T) {
	w := startWorker(t, WorkerConfig{RetryBackoff: time.Millisecond, MaxRetries: 1})
	ad := &fakeAdaptor{id: "dht0", after: 50 * time.Millisecond, notReady: 2}

	if !w.Submit(MeasureReq{ID: ad.id, Adaptor: ad}) {
		t.Fatal("submit failed")
	}
	// Duplicates while pending are coalesced; the priority one is remembered.
	w.Submit(MeasureReq{ID: ad.id, Adaptor: ad})
	w.Submit(MeasureReq{ID: ad.id, Adaptor: ad, Prio: true})

	if r := nextResult(t, w); r.Err == nil {
		t.Fatal("expected error on first cycle")
	}
	ad.set(func(f *fakeAdaptor) { f.notReady = 0 })

	if r := nextResult(t, w); r.Err != nil {
		t.Fatalf("re-trigger cycle failed: %v", r.Err)
	}
	if triggers, _ := ad.counts(); triggers != 2 {
		t.Fatalf("triggers = %d, want 2", triggers)
	}
	select {
	case r := <-w.Results():
		t.Fatalf("unexpected extra result %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWorker_SharedSink(t *testing.T) {
	sink := make(chan Result, 4)
	w := NewWorker(WorkerConfig{}, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Submit(MeasureReq{ID: "a", Adaptor: &fakeAdaptor{id: "a"}})
	w.Submit(MeasureReq{ID: "b", Adaptor: &fakeAdaptor{id: "b"}})
	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case r := <-sink:
			got[r.ID] = true
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("results = %v", got)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	for name, in := range map[string]any{
		"bytes":  []byte(`{"period_s":5}`),
		"string": `{"period_s":5}`,
		"map":    map[string]any{"period_s": 5},
		"value":  types.SetRate{PeriodS: 5},
		"ptr":    &types.SetRate{PeriodS: 5},
	} {
		var r types.SetRate
		if err := DecodeJSON(in, &r); err != nil || r.PeriodS != 5 {
			t.Fatalf("%s: %+v, %v", name, r, err)
		}
	}
	var r types.SetRate
	if err := DecodeJSON(`{"period_s":`, &r); err == nil {
		t.Fatal("truncated JSON decoded")
	}
}
