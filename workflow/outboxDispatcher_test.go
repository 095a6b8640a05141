package workflow

import (
	"testing"
	"time"
)

func TestNextPublishBackoffDoublesPerAttempt(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{7, 320 * time.Second},
		// a long outage stops doubling at the ten minute cap
		{8, 10 * time.Minute},
		{50, 10 * time.Minute},
	}
	for _, c := range cases {
		if got := NextPublishBackoff(5*time.Second, c.attempt); got != c.want {
			t.Fatalf("NextPublishBackoff(5s, %d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}
