package mathx

import (
	"testing"
	"time"
)

func TestClamp(t *testing.T) {
	if got := Clamp(5*time.Second, 2*time.Second, time.Hour); got != 5*time.Second {
		t.Fatalf("mid: %v", got)
	}
	if got := Clamp(time.Second, 2*time.Second, time.Hour); got != 2*time.Second {
		t.Fatalf("low: %v", got)
	}
	if got := Clamp(2*time.Hour, 2*time.Second, time.Hour); got != time.Hour {
		t.Fatalf("high: %v", got)
	}
	if got := Clamp(50, 100, 0); got != 50 {
		t.Fatalf("swapped bounds: %v", got)
	}
}

func TestDivRound(t *testing.T) {
	cases := []struct{ a, b, want int32 }{
		{25, 10, 3},
		{24, 10, 2},
		{-25, 10, -3},
		{-24, 10, -2},
		{7, 0, 0},
	}
	for _, c := range cases {
		if got := DivRound(c.a, c.b); got != c.want {
			t.Errorf("DivRound(%d,%d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
