// services/hal/hal.go
package hal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dhtnode-go/bus"
	"dhtnode-go/errcode"
	"dhtnode-go/types"
	"dhtnode-go/x/mathx"
)

const (
	DefaultMinPeriod = 2 * time.Second
	DefaultMaxPeriod = time.Hour
	DefaultFirstRead = 200 * time.Millisecond
)

// Options configure the HAL service. Lines is required.
type Options struct {
	Lines     LineFactory
	Logger    *slog.Logger
	MinPeriod time.Duration // lower bound for poll periods
	MaxPeriod time.Duration // upper bound for poll periods
	FirstRead time.Duration // delay before the first poll of a new capability
}

// -----------------------------------------------------------------------------
// Entry point
// -----------------------------------------------------------------------------

// Run serves the HAL on conn until ctx is cancelled.
func Run(ctx context.Context, conn *bus.Connection, opts Options) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MinPeriod <= 0 {
		opts.MinPeriod = DefaultMinPeriod
	}
	if opts.MaxPeriod <= 0 {
		opts.MaxPeriod = DefaultMaxPeriod
	}
	if opts.FirstRead <= 0 {
		opts.FirstRead = DefaultFirstRead
	}
	s := &service{
		conn:    conn,
		opts:    opts,
		log:     opts.Logger.With("service", "hal"),
		devices: map[string]*devEntry{},
		caps:    map[types.CapabilityAddress]*capEntry{},
		workers: map[string]*workerEntry{},
		results: make(chan Result, 32),
	}
	s.loop(ctx)
}

type devEntry struct {
	adaptor   Adaptor
	caps      []types.CapabilityAddress
	workerKey string
}

type capEntry struct {
	devID  string
	period time.Duration
	next   time.Time // zero when not polled
}

type workerEntry struct {
	w      *measureWorker
	cancel context.CancelFunc
	users  int
}

type service struct {
	conn *bus.Connection
	opts Options
	log  *slog.Logger

	devices map[string]*devEntry
	caps    map[types.CapabilityAddress]*capEntry
	workers map[string]*workerEntry

	results chan Result
	timer   *time.Timer
}

// -----------------------------------------------------------------------------
// Main loop
// -----------------------------------------------------------------------------

func (s *service) loop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(ConfigTopic)
	ctrlSub := s.conn.Subscribe(CapWildcard(LeafControl, bus.WildOne))
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState("idle", "awaiting_config", nil)

	s.timer = time.NewTimer(time.Hour)
	defer s.timer.Stop()

	for {
		if next := s.earliestDue(); next.IsZero() {
			resetTimer(s.timer, time.Hour)
		} else {
			resetTimer(s.timer, time.Until(next))
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			s.publishState("stopped", "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			var cfg types.HALConfig
			if err := DecodeJSON(msg.Payload, &cfg); err != nil {
				s.log.Error("config decode failed", "err", err)
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				s.log.Error("apply config", "err", err)
				s.publishState("error", "apply_config_failed", err)
				continue
			}
			s.publishState("ready", "configured", nil)

		case msg := <-ctrlSub.Channel():
			s.handleControl(msg)

		case <-s.timer.C:
			now := time.Now()
			for _, ce := range s.caps {
				if ce.next.IsZero() || now.Before(ce.next) {
					continue
				}
				s.submitMeasure(ce.devID, false)
				ce.next = now.Add(ce.period)
			}

		case r := <-s.results:
			s.handleResult(r)
		}
	}
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

func (s *service) applyConfig(ctx context.Context, cfg types.HALConfig) error {
	seen := map[string]struct{}{}
	var errs []error

	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.ID == "" {
			errs = append(errs, errcode.Wrap(errcode.InvalidParams, "device", errors.New("empty id")))
			continue
		}
		seen[d.ID] = struct{}{}

		// Known ids are kept as they are.
		if _, exists := s.devices[d.ID]; exists {
			continue
		}
		if err := s.addDevice(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.ID, err))
		}
	}

	for devID := range s.devices {
		if _, ok := seen[devID]; !ok {
			s.removeDevice(devID)
		}
	}
	return errors.Join(errs...)
}

func (s *service) addDevice(ctx context.Context, d *types.HALDevice) error {
	b, ok := findBuilder(d.Type)
	if !ok {
		return errcode.Wrap(errcode.Unsupported, "build", fmt.Errorf("no builder for type %q (have %v)", d.Type, RegisteredTypes()))
	}
	out, err := b.Build(BuildInput{
		Ctx:      ctx,
		Lines:    s.opts.Lines,
		Logger:   s.opts.Logger,
		DeviceID: d.ID,
		Type:     d.Type,
		Params:   d.Params,
	})
	if err != nil {
		return err
	}
	if out.Adaptor == nil {
		return errcode.Wrap(errcode.Error, "build", errors.New("builder returned no adaptor"))
	}

	key := out.WorkerKey
	if key == "" {
		key = d.ID
	}
	we, ok := s.workers[key]
	if !ok {
		wctx, cancel := context.WithCancel(ctx)
		we = &workerEntry{w: NewWorker(out.Worker, s.results), cancel: cancel}
		we.w.Start(wctx)
		s.workers[key] = we
	}
	we.users++

	ent := &devEntry{adaptor: out.Adaptor, workerKey: key}
	now := time.Now()
	for _, ci := range out.Adaptor.Capabilities() {
		addr := types.CapabilityAddress{Domain: ci.Domain, Kind: ci.Kind, Name: d.ID}
		ce := &capEntry{devID: d.ID}
		if ci.Every > 0 {
			ce.period = s.clampPeriod(ci.Every)
			ce.next = now.Add(s.opts.FirstRead)
		}
		s.caps[addr] = ce
		ent.caps = append(ent.caps, addr)

		s.pubRet(CapTopic(addr.Domain, addr.Kind, addr.Name, LeafInfo), ci.Info)
		s.pubStatus(addr, types.LinkDown, "", time.Now().UnixNano())
	}
	s.devices[d.ID] = ent
	s.log.Info("device added", "id", d.ID, "type", d.Type, "caps", len(ent.caps))
	return nil
}

func (s *service) removeDevice(devID string) {
	ent := s.devices[devID]
	for _, addr := range ent.caps {
		s.pubRet(CapTopic(addr.Domain, addr.Kind, addr.Name, LeafInfo), nil)
		s.pubRet(CapTopic(addr.Domain, addr.Kind, addr.Name, LeafValue), nil)
		s.pubStatus(addr, types.LinkDown, "", time.Now().UnixNano())
		delete(s.caps, addr)
	}
	if we, ok := s.workers[ent.workerKey]; ok {
		if we.users--; we.users <= 0 {
			we.cancel()
			delete(s.workers, ent.workerKey)
		}
	}
	delete(s.devices, devID)
	s.log.Info("device removed", "id", devID)
}

func (s *service) shutdown() {
	for k, we := range s.workers {
		we.cancel()
		delete(s.workers, k)
	}
}

// -----------------------------------------------------------------------------
// Controls
// -----------------------------------------------------------------------------

func (s *service) handleControl(msg *bus.Message) {
	// hal/cap/<domain>/<kind>/<name>/control/<verb>
	addr, leaf, ok := ParseCapTopic(msg.Topic)
	if !ok || len(leaf) != 2 {
		s.replyErr(msg, errcode.InvalidTopic)
		return
	}
	verb, _ := leaf[1].(string)
	ce, ok := s.caps[addr]
	if !ok {
		s.replyErr(msg, errcode.UnknownCapability)
		return
	}
	ent := s.devices[ce.devID]

	switch verb {
	case "read_now":
		if !s.submitMeasure(ce.devID, true) {
			s.replyErr(msg, errcode.Busy)
			return
		}
		if !ce.next.IsZero() {
			ce.next = time.Now().Add(ce.period)
		}
		s.replyOK(msg, nil)

	case "set_rate":
		var req types.SetRate
		if err := DecodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		if req.PeriodS <= 0 {
			s.replyErr(msg, errcode.InvalidPeriod)
			return
		}
		ce.period = s.clampPeriod(time.Duration(req.PeriodS) * time.Second)
		ce.next = time.Now().Add(ce.period)
		applied := int(mathx.DivRound(int64(ce.period), int64(time.Second)))
		if _, err := ent.adaptor.Control(addr.Kind, verb, types.SetRate{PeriodS: applied}); err != nil && !errors.Is(err, ErrUnsupported) {
			s.log.Warn("set_rate not stored by device", "cap", addr.String(), "err", err)
		}
		s.conn.Reply(msg, types.RateReply{OK: true, PeriodS: applied}, false)

	default:
		res, err := ent.adaptor.Control(addr.Kind, verb, msg.Payload)
		switch {
		case errors.Is(err, ErrUnsupported):
			s.replyErr(msg, errcode.Unsupported)
		case err != nil:
			s.replyErr(msg, errcode.Of(err))
		default:
			if verb == "configure" {
				s.pubInfo(ce.devID, ent)
			}
			s.replyOK(msg, res)
		}
	}
}

// pubInfo republishes the retained info of every capability of a device.
func (s *service) pubInfo(devID string, ent *devEntry) {
	for _, ci := range ent.adaptor.Capabilities() {
		s.pubRet(CapTopic(ci.Domain, ci.Kind, devID, LeafInfo), ci.Info)
	}
}

// -----------------------------------------------------------------------------
// Results and helpers
// -----------------------------------------------------------------------------

func (s *service) submitMeasure(devID string, prio bool) bool {
	ent, ok := s.devices[devID]
	if !ok {
		return false
	}
	we := s.workers[ent.workerKey]
	if we == nil {
		return false
	}
	return we.w.Submit(MeasureReq{ID: devID, Adaptor: ent.adaptor, Prio: prio})
}

func (s *service) handleResult(r Result) {
	ent, ok := s.devices[r.ID]
	if !ok {
		return
	}
	ts := time.Now().UnixNano()
	if r.Err != nil {
		code := errcode.Of(r.Err)
		s.log.Warn("measure failed", "id", r.ID, "code", string(code), "err", r.Err)
		for _, addr := range ent.caps {
			s.pubStatus(addr, types.LinkDegraded, string(code), ts)
		}
		return
	}
	for _, rd := range r.Sample {
		for _, addr := range ent.caps {
			if addr.Kind != rd.Kind {
				continue
			}
			s.pubRet(CapTopic(addr.Domain, addr.Kind, addr.Name, LeafValue), rd.Payload)
			s.pubStatus(addr, types.LinkUp, "", ts)
		}
	}
}

func (s *service) clampPeriod(d time.Duration) time.Duration {
	return mathx.Clamp(d, s.opts.MinPeriod, s.opts.MaxPeriod)
}

func (s *service) earliestDue() time.Time {
	var min time.Time
	for _, ce := range s.caps {
		if !ce.next.IsZero() && (min.IsZero() || ce.next.Before(min)) {
			min = ce.next
		}
	}
	return min
}

func (s *service) publishState(level, status string, err error) {
	st := types.HALState{Level: level, Status: status, TS: time.Now().UnixNano()}
	if err != nil {
		st.Error = err.Error()
	}
	s.pubRet(StateTopic, st)
}

// pubStatus publishes a capability status. Statuses caused by the same
// measurement share ts.
func (s *service) pubStatus(addr types.CapabilityAddress, link types.Link, code string, ts int64) {
	s.pubRet(CapTopic(addr.Domain, addr.Kind, addr.Name, LeafStatus),
		types.CapabilityStatus{Link: link, TS: ts, Error: code})
}

func (s *service) pubRet(t bus.Topic, p any) {
	s.conn.Publish(s.conn.NewMessage(t, p, true))
}

func (s *service) replyOK(req *bus.Message, result any) {
	s.conn.Reply(req, types.OKReply{OK: true, Result: result}, false)
}

func (s *service) replyErr(req *bus.Message, c errcode.Code) {
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: string(c)}, false)
}
