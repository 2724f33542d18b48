package workerpool

import (
	"testing"
	"time"
)

func TestBackoffFor(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 250 * time.Millisecond},
		{1, 500 * time.Millisecond},
		{2, 1 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
		{-1, 250 * time.Millisecond},
	}
	for _, c := range cases {
		if got := backoffFor(c.attempt); got != c.want {
			t.Errorf("backoffFor(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}
