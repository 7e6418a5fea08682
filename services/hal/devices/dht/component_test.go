package dhtdev

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"dhtnode-go/drivers/dht"
	"dhtnode-go/drivers/dht/dhtsim"
	"dhtnode-go/errcode"
	"dhtnode-go/services/hal"
	"dhtnode-go/types"
)

// simLines hands out one simulated sensor per pin and records which pins
// were opened.
type simLines struct {
	mu     sync.Mutex
	model  dht.Model
	lines  map[int]*dhtsim.Line
	opened []int
}

func newSimLines(model dht.Model) *simLines {
	return &simLines{model: model, lines: map[int]*dhtsim.Line{}}
}

func (s *simLines) Line(pin int) (dht.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pin > 40 {
		return nil, fmt.Errorf("no GPIO%d", pin)
	}
	s.opened = append(s.opened, pin)
	l, ok := s.lines[pin]
	if !ok {
		l = dhtsim.New(s.model, 215, 480)
		s.lines[pin] = l
	}
	return l, nil
}

func (s *simLines) sim(pin int) *dhtsim.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines[pin]
}

func fastParams(pin, sensor int) Params {
	return Params{Pin: pin, Sensor: sensor, Retries: 3, RetryDelayMs: 1, MinIntervalMs: -1}
}

func TestNew_RegistersValuesAndIdentity(t *testing.T) {
	c, err := New("dht0", DefaultParams(), newSimLines(dht.DHT11), nil)
	if err != nil {
		t.Fatal(err)
	}
	d := c.Describe()
	if d.Component != Identity || d.Component.OID != "rpibasic.dht" {
		t.Fatalf("identity = %+v", d.Component)
	}
	want := []string{"humidity", "humidity_poll", "pin", "sensor", "temperature", "temperature_poll"}
	if len(d.Values) != len(want) {
		t.Fatalf("values = %d, want %d", len(d.Values), len(want))
	}
	for i, w := range want {
		if d.Values[i].UUID != w {
			t.Fatalf("values[%d] = %s, want %s", i, d.Values[i].UUID, w)
		}
	}
	if d.Values[2].Default != 1 || d.Values[3].Default != 11 {
		t.Fatalf("defaults pin=%v sensor=%v", d.Values[2].Default, d.Values[3].Default)
	}
	if d.Values[5].Default != 30 || d.Values[4].Label != "Temp" {
		t.Fatalf("temperature = %+v poll = %+v", d.Values[4], d.Values[5])
	}
}

func TestNew_RejectsUnknownSensor(t *testing.T) {
	for _, code := range []int{0, 21, 2301, 12} {
		_, err := New("dht0", Params{Sensor: code}, newSimLines(dht.DHT11), nil)
		if errcode.Of(err) != errcode.UnknownSensor || !errors.Is(err, dht.ErrUnknownModel) {
			t.Fatalf("sensor %d: got %v", code, err)
		}
	}
}

func TestReadStoresBothValues(t *testing.T) {
	lines := newSimLines(dht.DHT22)
	c, err := New("dht0", fastParams(4, 22), lines, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.CheckHeartbeat() {
		t.Fatal("heartbeat before any read")
	}

	temp, err := c.Temperature(context.Background(), 0)
	if err != nil || temp != 21.5 {
		t.Fatalf("Temperature = %v, %v", temp, err)
	}
	if got := c.hum.Data(0); got != 48.0 {
		t.Fatalf("humidity stored by temperature read = %v", got)
	}
	if !c.CheckHeartbeat() {
		t.Fatal("heartbeat after read")
	}

	lines.sim(4).Set(-52, 912)
	hum, err := c.Humidity(context.Background(), 0)
	if err != nil || hum != 91.2 {
		t.Fatalf("Humidity = %v, %v", hum, err)
	}
	if got := c.temp.Data(0); got != -5.2 {
		t.Fatalf("temperature stored by humidity read = %v", got)
	}
	if lines.sim(4).LastHold().Milliseconds() != 2 {
		t.Fatalf("dht22 start hold = %v", lines.sim(4).LastHold())
	}
}

func TestReadViaValueCallback(t *testing.T) {
	c, _ := New("dht0", fastParams(4, 11), newSimLines(dht.DHT11), nil)
	got, err := c.temp.Read(context.Background(), 0)
	if err != nil || got != 21.5 {
		t.Fatalf("Read = %v, %v", got, err)
	}
}

func TestReadFailureKeepsStoredData(t *testing.T) {
	lines := newSimLines(dht.DHT22)
	c, _ := New("dht0", fastParams(4, 22), lines, nil)
	if _, err := c.Temperature(context.Background(), 0); err != nil {
		t.Fatal(err)
	}

	lines.sim(4).FailNext(3)
	_, err := c.Humidity(context.Background(), 0)
	if errcode.Of(err) != errcode.NoResponse {
		t.Fatalf("got %v (%s)", err, errcode.Of(err))
	}
	if c.temp.Data(0) != 21.5 || c.hum.Data(0) != 48.0 {
		t.Fatalf("stored data changed: %v / %v", c.temp.Data(0), c.hum.Data(0))
	}

	lines.sim(4).CorruptNext(3)
	if _, err := c.Temperature(context.Background(), 0); errcode.Of(err) != errcode.Checksum {
		t.Fatalf("corrupt: %v", err)
	}
}

func TestRetryRecoversWithinOneRead(t *testing.T) {
	lines := newSimLines(dht.DHT11)
	c, _ := New("dht0", fastParams(7, 11), lines, nil)
	if _, err := lines.Line(7); err != nil {
		t.Fatal(err)
	}
	lines.sim(7).FailNext(2)
	if _, err := c.Temperature(context.Background(), 0); err != nil {
		t.Fatalf("read with two failures and three attempts: %v", err)
	}
	if n := lines.sim(7).Exchanges(); n != 3 {
		t.Fatalf("exchanges = %d, want 3", n)
	}
}

func TestConfigureReopensDriver(t *testing.T) {
	lines := newSimLines(dht.DHT22)
	c, _ := New("dht0", fastParams(4, 22), lines, nil)
	ctx := context.Background()
	if _, err := c.Temperature(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Temperature(ctx, 0); err != nil {
		t.Fatal(err)
	}

	pin := 17
	if err := c.Configure(types.DHTConfigure{Pin: &pin}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Temperature(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(lines.opened) != "[4 17]" {
		t.Fatalf("opened = %v", lines.opened)
	}

	bad := 23
	if err := c.Configure(types.DHTConfigure{Sensor: &bad}); errcode.Of(err) != errcode.UnknownSensor {
		t.Fatalf("configure sensor 23: %v", err)
	}
	if n, _ := c.sensor.Int(0); n != 22 {
		t.Fatalf("sensor changed to %d", n)
	}

	far := 99
	_ = c.Configure(types.DHTConfigure{Pin: &far})
	if _, err := c.Temperature(ctx, 0); errcode.Of(err) != errcode.UnknownPin {
		t.Fatalf("unknown pin: %v", err)
	}
}

func TestIndexesAreIndependent(t *testing.T) {
	lines := newSimLines(dht.DHT22)
	c, _ := New("dht0", fastParams(4, 22), lines, nil)
	pin := 5
	if err := c.Configure(types.DHTConfigure{Pin: &pin, Index: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Temperature(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if c.temp.Data(0) != nil || c.temp.Data(1) != 21.5 {
		t.Fatalf("index data = %v / %v", c.temp.Data(0), c.temp.Data(1))
	}
	if fmt.Sprint(lines.opened) != "[5]" {
		t.Fatalf("opened = %v", lines.opened)
	}
}

func TestAdaptor(t *testing.T) {
	lines := newSimLines(dht.AM2302)
	c, _ := New("porch", fastParams(4, 2302), lines, nil)
	a := NewAdaptor(c, 0)

	caps := a.Capabilities()
	if len(caps) != 2 || caps[0].Kind != types.KindTemperature || caps[1].Kind != types.KindHumidity {
		t.Fatalf("caps = %+v", caps)
	}
	if info, ok := caps[0].Info.Detail.(types.TemperatureInfo); !ok || info.Sensor != "am2302" || info.Pin != 4 || info.Type != 2302 {
		t.Fatalf("info = %+v", caps[0].Info.Detail)
	}
	if caps[0].Every.Seconds() != 30 {
		t.Fatalf("every = %v", caps[0].Every)
	}

	ctx := context.Background()
	if wait, err := a.Trigger(ctx); err != nil || wait != 0 {
		t.Fatalf("trigger = %v, %v", wait, err)
	}
	s, err := a.Collect(ctx)
	if err != nil || len(s) != 2 {
		t.Fatalf("collect = %v, %v", s, err)
	}
	if v := s[0].Payload.(types.TemperatureValue); v.DeciC != 215 {
		t.Fatalf("temperature payload = %+v", v)
	}
	if v := s[1].Payload.(types.HumidityValue); v.RHx100 != 4800 {
		t.Fatalf("humidity payload = %+v", v)
	}

	if got, err := a.Control(types.KindHumidity, "get", nil); err != nil || got != 48.0 {
		t.Fatalf("get = %v, %v", got, err)
	}
	if got, err := a.Control(types.KindTemperature, "heartbeat", nil); err != nil || got != (types.HeartbeatReply{Alive: true}) {
		t.Fatalf("heartbeat = %v, %v", got, err)
	}
	if _, err := a.Control(types.KindTemperature, "set_rate", map[string]any{"period_s": 90}); err != nil {
		t.Fatal(err)
	}
	if p := c.PollPeriod(ValueTemperature); p.Seconds() != 90 {
		t.Fatalf("poll = %v", p)
	}
	if p := c.PollPeriod(ValueHumidity); p.Seconds() != 30 {
		t.Fatalf("humidity poll changed to %v", p)
	}
	if _, err := a.Control(types.KindTemperature, "configure", `{"sensor":11}`); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Control(types.KindTemperature, "configure", `{"sensor":5}`); errcode.Of(err) != errcode.UnknownSensor {
		t.Fatalf("configure 5: %v", err)
	}
	if _, err := a.Control(types.KindTemperature, "calibrate", nil); !errors.Is(err, hal.ErrUnsupported) {
		t.Fatalf("unknown verb: %v", err)
	}
}

func TestBuilder(t *testing.T) {
	out, err := builder{}.Build(hal.BuildInput{
		DeviceID: "dht0",
		Type:     "dht",
		Lines:    newSimLines(dht.DHT22),
		Params:   map[string]any{"pin": 4, "sensor": 22, "poll_s": 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Adaptor.ID() != "dht0" || out.Worker.CollectTimeout <= 0 {
		t.Fatalf("out = %+v", out)
	}
	if out.Adaptor.Capabilities()[1].Every.Seconds() != 10 {
		t.Fatal("poll_s not applied")
	}
	if out.WorkerKey != "dht/pin/4" {
		t.Fatalf("worker key = %q", out.WorkerKey)
	}

	_, err = builder{}.Build(hal.BuildInput{DeviceID: "x", Lines: newSimLines(dht.DHT22), Params: map[string]any{"sensor": 2303}})
	if errcode.Of(err) != errcode.UnknownSensor {
		t.Fatalf("bad sensor: %v", err)
	}
	_, err = builder{}.Build(hal.BuildInput{DeviceID: "x", Lines: newSimLines(dht.DHT22), Params: map[string]any{"sensor": 0}})
	if errcode.Of(err) != errcode.UnknownSensor {
		t.Fatalf("sensor 0: %v", err)
	}
	if _, err := (builder{}).Build(hal.BuildInput{DeviceID: "x"}); errcode.Of(err) != errcode.HALNotReady {
		t.Fatalf("no lines: %v", err)
	}
}

func TestBuilder_ExplicitZeroAndDefaults(t *testing.T) {
	lines := newSimLines(dht.DHT11)
	out, err := builder{}.Build(hal.BuildInput{
		DeviceID: "gpio0",
		Lines:    lines,
		Params:   `{"pin":0,"retries":1,"min_interval_ms":-1}`,
	})
	if err != nil {
		t.Fatal(err)
	}
	c := out.Adaptor.(*adaptor).c
	if pin, _ := c.pin.Int(0); pin != 0 {
		t.Fatalf("pin = %d, want 0", pin)
	}
	if code, _ := c.sensor.Int(0); code != 11 {
		t.Fatalf("absent sensor = %d, want 11", code)
	}
	if _, err := c.Temperature(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if len(lines.opened) != 1 || lines.opened[0] != 0 {
		t.Fatalf("opened %v, want [0]", lines.opened)
	}

	out, err = builder{}.Build(hal.BuildInput{DeviceID: "dflt", Lines: lines, Params: nil})
	if err != nil {
		t.Fatal(err)
	}
	c = out.Adaptor.(*adaptor).c
	if pin, _ := c.pin.Int(0); pin != 1 {
		t.Fatalf("absent pin = %d, want 1", pin)
	}
}
