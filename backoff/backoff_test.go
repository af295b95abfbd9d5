package backoff_test

import (
	"testing"
	"time"

	"github.com/emberline/stoker/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(500 * time.Millisecond)
	for idle := 1; idle <= 10; idle++ {
		if got := c.Delay(idle); got != 500*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want %v", idle, got, 500*time.Millisecond)
		}
	}
}

func TestExponential_DoublesEachRound(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		idle int
		want time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.idle); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.idle, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(200); got != 10*time.Second {
		t.Errorf("Delay(200) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponential_ZeroIdleTreatedAsFirst(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Minute)
	if got := e.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want %v", got, time.Second)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)

	for idle := 1; idle <= 6; idle++ {
		base := time.Second << (idle - 1)
		if base > 10*time.Second {
			base = 10 * time.Second
		}
		for range 100 {
			got := e.Delay(idle)
			if got < base/2 || got > base {
				t.Errorf("Delay(%d) = %v, want within [%v, %v]", idle, got, base/2, base)
			}
		}
	}
}

func TestExponentialWithJitter_ProducesVariance(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Minute)

	seen := make(map[time.Duration]bool)
	for range 100 {
		seen[e.Delay(3)] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected variance in jitter, got only %d distinct values", len(seen))
	}
}

func TestDefault_NeverBusyPolls(t *testing.T) {
	s := backoff.Default()
	for idle := 1; idle <= 20; idle++ {
		if got := s.Delay(idle); got < 250*time.Millisecond {
			t.Errorf("Delay(%d) = %v, below the poll floor", idle, got)
		}
	}
}
