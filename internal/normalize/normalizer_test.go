package normalize_test

import (
	"runtime"
	"testing"

	"github.com/momentics/hioload-gate/internal/normalize"
)

func TestCPUIndex(t *testing.T) {
	cases := []struct{ req, max, want int }{
		{0, 4, 0},
		{3, 4, 3},
		{5, 4, 1},
		{-1, 4, 0},
		{2, 0, 0},
	}
	for _, c := range cases {
		if got := normalize.CPUIndex(c.req, c.max); got != c.want {
			t.Errorf("CPUIndex(%d, %d) = %d, want %d", c.req, c.max, got, c.want)
		}
	}
}

func TestWorkers(t *testing.T) {
	if got := normalize.Workers(3); got != 3 {
		t.Errorf("Workers(3) = %d", got)
	}
	if got := normalize.Workers(0); got != runtime.GOMAXPROCS(0) {
		t.Errorf("Workers(0) = %d, want GOMAXPROCS", got)
	}
}
