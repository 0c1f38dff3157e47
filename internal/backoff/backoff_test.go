package backoff

import (
	"testing"
	"time"
)

func TestDelaySchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, Cap},
		{6, Cap},
		{100, Cap},
	}
	for _, c := range cases {
		if got := Delay(c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestDelayNegativeAttemptClampsToZero(t *testing.T) {
	if got := Delay(-1); got != 1*time.Second {
		t.Fatalf("Delay(-1) = %v, want 1s", got)
	}
}
