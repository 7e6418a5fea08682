// services/hal/worker.go
package hal

import (
	"context"
	"errors"
	"time"
)

// measureWorker serialises Trigger/Collect for the adaptors sharing one
// line. Requests for an id already in flight are coalesced; a priority
// request arriving meanwhile re-triggers once the current cycle fails.
type measureWorker struct {
	cfg  WorkerConfig
	reqQ chan MeasureReq
	sink chan Result

	pending  map[string]*collectItem
	want     map[string]bool
	collects []*collectItem
	timer    *time.Timer
}

type collectItem struct {
	id      string
	adaptor Adaptor
	due     time.Time
	retries int
}

// NewWorker creates a worker that emits on sink. A nil sink gives the
// worker a channel of its own, available through Results.
func NewWorker(cfg WorkerConfig, sink chan Result) *measureWorker {
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 100 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 250 * time.Millisecond
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 15 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if cfg.InputQueueSize <= 0 {
		cfg.InputQueueSize = 16
	}
	if cfg.ResultsQueueSz <= 0 {
		cfg.ResultsQueueSz = 16
	}
	if sink == nil {
		sink = make(chan Result, cfg.ResultsQueueSz)
	}
	return &measureWorker{
		cfg:     cfg,
		reqQ:    make(chan MeasureReq, cfg.InputQueueSize),
		sink:    sink,
		pending: map[string]*collectItem{},
		want:    map[string]bool{},
		timer:   time.NewTimer(time.Hour),
	}
}

// Results is the channel results are emitted on.
func (w *measureWorker) Results() <-chan Result { return w.sink }

// Submit queues req without blocking, except for a short grace period
// given to priority requests. It reports whether req was accepted.
func (w *measureWorker) Submit(req MeasureReq) bool {
	select {
	case w.reqQ <- req:
		return true
	default:
		if req.Prio {
			t := time.NewTimer(5 * time.Millisecond)
			defer t.Stop()
			select {
			case w.reqQ <- req:
				return true
			case <-t.C:
			}
		}
		return false
	}
}

func (w *measureWorker) Start(ctx context.Context) {
	if !w.timer.Stop() {
		drainTimer(w.timer)
	}
	go w.run(ctx)
}

func (w *measureWorker) run(ctx context.Context) {
	for {
		if next := w.minDue(); next.IsZero() {
			resetTimer(w.timer, time.Hour)
		} else {
			resetTimer(w.timer, time.Until(next))
		}
		select {
		case <-ctx.Done():
			return
		case req := <-w.reqQ:
			if _, ok := w.pending[req.ID]; ok {
				if req.Prio {
					w.want[req.ID] = true
				}
				continue
			}
			w.trigger(ctx, &collectItem{id: req.ID, adaptor: req.Adaptor})
		case <-w.timer.C:
			w.collectDue(ctx)
		}
	}
}

func (w *measureWorker) trigger(ctx context.Context, it *collectItem) {
	tctx, cancel := context.WithTimeout(ctx, w.cfg.TriggerTimeout)
	after, err := it.adaptor.Trigger(tctx)
	cancel()
	if err != nil {
		w.emit(ctx, Result{ID: it.id, Err: err})
		return
	}
	it.retries = 0
	it.due = time.Now().Add(after)
	w.pending[it.id] = it
	w.collects = append(w.collects, it)
}

func (w *measureWorker) collectDue(ctx context.Context) {
	now := time.Now()
	var keep, again []*collectItem
	for _, it := range w.collects {
		if now.Before(it.due) {
			keep = append(keep, it)
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, w.cfg.CollectTimeout)
		s, err := it.adaptor.Collect(cctx)
		cancel()
		switch {
		case err == nil:
			delete(w.pending, it.id)
			delete(w.want, it.id)
			w.emit(ctx, Result{ID: it.id, Sample: s})
		case errors.Is(err, ErrNotReady) && it.retries < w.cfg.MaxRetries:
			it.retries++
			it.due = time.Now().Add(w.cfg.RetryBackoff)
			keep = append(keep, it)
		default:
			delete(w.pending, it.id)
			w.emit(ctx, Result{ID: it.id, Err: err})
			if w.want[it.id] {
				delete(w.want, it.id)
				again = append(again, it)
			}
		}
	}
	w.collects = keep
	for _, it := range again {
		w.trigger(ctx, it)
	}
}

func (w *measureWorker) emit(ctx context.Context, r Result) {
	select {
	case w.sink <- r:
	case <-ctx.Done():
	}
}

func (w *measureWorker) minDue() time.Time {
	var min time.Time
	for _, it := range w.collects {
		if min.IsZero() || it.due.Before(min) {
			min = it.due
		}
	}
	return min
}
