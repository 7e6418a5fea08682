// bus/bus_test.go
package bus

import (
	"context"
	"sort"
	"testing"
	"time"
)

func TestPublishSubscribe_Exact(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T("hal", "state"))
	conn.Publish(conn.NewMessage(T("hal", "state"), "ready", false))

	expectOneOf(t, sub, "ready")
}

func TestRetained_DeliveredOnSubscribe(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T("config", "hal"), "cfg", true))

	sub := conn.Subscribe(T("config", "hal"))
	expectOneOf(t, sub, "cfg")
}

func TestRetained_NilPayloadClears(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(T("hal", "cap", "env", "temperature", "dht0", "info"), "t", true))
	c.Publish(b.NewMessage(T("hal", "cap", "env", "humidity", "dht0", "info"), "h", true))
	c.Publish(b.NewMessage(T("hal", "cap", "env", "temperature", "dht0", "info"), nil, true))

	s := c.Subscribe(T("hal", "cap", "#"))
	got := drainPayloads(t, s, 1)
	if got[0] != "h" {
		t.Fatalf("expected only 'h' after clear, got %v", got)
	}
}

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sAny := c.Subscribe(T("hal", "cap", "env", "+", "dht0", "value"))
	sTemp := c.Subscribe(T("hal", "cap", "env", "temperature", "+", "value"))
	sNo := c.Subscribe(T("hal", "cap", "env", "+", "dht0", "status"))

	c.Publish(b.NewMessage(T("hal", "cap", "env", "temperature", "dht0", "value"), "v1", false))
	expectOneOf(t, sAny, "v1")
	expectOneOf(t, sTemp, "v1")
	expectNoMessage(t, sNo)

	c.Publish(b.NewMessage(T("hal", "cap", "env", "humidity", "dht0", "value"), "v2", false))
	expectOneOf(t, sAny, "v2")
	expectNoMessage(t, sTemp)

	// '+' never matches an absent level.
	c.Publish(b.NewMessage(T("hal", "cap", "env", "dht0", "value"), "v3", false))
	expectNoMessage(t, sAny)
	expectNoMessage(t, sTemp)
}

func TestWildcard_MultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sHal := c.Subscribe(T("hal", "#"))
	sAll := c.Subscribe(T("#"))
	sExact := c.Subscribe(T("hal"))

	c.Publish(b.NewMessage(T("hal"), "p1", false))
	expectOneOf(t, sHal, "p1")
	expectOneOf(t, sAll, "p1")
	expectOneOf(t, sExact, "p1")

	c.Publish(b.NewMessage(T("hal", "cap", "env"), "p2", false))
	expectOneOf(t, sHal, "p2")
	expectOneOf(t, sAll, "p2")
	expectNoMessage(t, sExact)

	c.Publish(b.NewMessage(T("node", "dht0"), "p3", false))
	expectOneOf(t, sAll, "p3")
	expectNoMessage(t, sHal)
}

func TestWildcard_RetainedDelivery(t *testing.T) {
	b := NewBus(32)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(T("a"), "r0", true))
	c.Publish(b.NewMessage(T("a", "b"), "r1", true))
	c.Publish(b.NewMessage(T("a", "b", "c"), "r2", true))
	c.Publish(b.NewMessage(T("a", "x"), "r3", true))

	assertUnorderedEqual(t, drainPayloads(t, c.Subscribe(T("a", "#")), 4), []string{"r0", "r1", "r2", "r3"})
	assertUnorderedEqual(t, drainPayloads(t, c.Subscribe(T("a", "+", "#")), 3), []string{"r1", "r2", "r3"})
	assertUnorderedEqual(t, drainPayloads(t, c.Subscribe(T("a", "+")), 2), []string{"r1", "r3"})
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(T("q"))

	for _, p := range []string{"m1", "m2", "m3"} {
		c.Publish(b.NewMessage(T("q"), p, false))
	}
	got := drainPayloads(t, s, 2)
	if got[0] != "m2" || got[1] != "m3" {
		t.Fatalf("expected [m2 m3], got %v", got)
	}
}

func TestUnsubscribe_ClosesChannelAndIsIdempotent(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	s := c.Subscribe(T("x"))

	c.Unsubscribe(s)
	c.Unsubscribe(s)

	if _, ok := <-s.Channel(); ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after unsubscribe must not panic.
	c.Publish(b.NewMessage(T("x"), "late", false))
}

// -----------------------------------------------------------------------------
// Request–Reply
// -----------------------------------------------------------------------------

func TestRequestReply_RequestWait(t *testing.T) {
	b := NewBus(8)
	reqConn := b.NewConnection("requester")
	respConn := b.NewConnection("responder")

	reqTopic := T("hal", "cap", "env", "temperature", "dht0", "control", "get")
	respSub := respConn.Subscribe(reqTopic)
	defer respConn.Unsubscribe(respSub)

	go func() {
		if msg, ok := <-respSub.Channel(); ok {
			respConn.Reply(msg, "OK", false)
		}
	}()

	req := b.NewMessage(reqTopic, nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	reply, err := reqConn.RequestWait(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error waiting for reply: %v", err)
	}
	if got, ok := reply.Payload.(string); !ok || got != "OK" {
		t.Fatalf("unexpected reply payload: %#v", reply.Payload)
	}
	if !req.CanReply() {
		t.Fatal("request lacks ReplyTo after RequestWait")
	}
	if reply.Topic.String() != req.ReplyTo.String() {
		t.Fatalf("reply topic %v != request ReplyTo %v", reply.Topic, req.ReplyTo)
	}
}

func TestRequestReply_Timeout(t *testing.T) {
	b := NewBus(8)
	reqConn := b.NewConnection("requester")

	req := b.NewMessage(T("service", "noop"), nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := reqConn.RequestWait(ctx, req); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestReply_WithoutReplyToIsNoop(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("c")
	all := c.Subscribe(T("#"))

	c.Reply(b.NewMessage(T("x"), nil, false), "ignored", false)
	expectNoMessage(t, all)
}

func TestTopic_StringAndInvalidToken(t *testing.T) {
	if got := T("hal", "cap", 3).String(); got != "hal/cap/3" {
		t.Fatalf("String() = %q", got)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for non-comparable token, got none")
		}
	}()
	_ = T([]byte{1, 2, 3})
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func expectOneOf(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		s, ok := got.Payload.(string)
		if !ok || s != want {
			t.Fatalf("unexpected payload: %v (want %q)", got.Payload, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %#v", got)
	case <-time.After(60 * time.Millisecond):
	}
}

func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(300 * time.Millisecond)
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if s, ok := m.Payload.(string); ok {
				out = append(out, s)
			} else {
				t.Fatalf("non-string payload in drain: %#v", m.Payload)
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(out) != n {
		t.Fatalf("drainPayloads: expected %d messages, got %d (%v)", n, len(out), out)
	}
	return out
}

func assertUnorderedEqual(t *testing.T, got, want []string) {
	t.Helper()
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d (%v vs %v)", len(got), len(want), got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("mismatch at %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
