package cache

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestMemoComputesOnce(t *testing.T) {
	var calls atomic.Int32
	m := NewMemo(func(s string) (string, error) {
		calls.Add(1)
		return strings.ToUpper(s), nil
	})

	for i := 0; i < 3; i++ {
		if v, err := m.Get("subject"); err != nil || v != "SUBJECT" {
			t.Fatalf("Get() = %q, %v", v, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("fn called %d times, want 1", calls.Load())
	}
	s := m.Stats()
	if s.Size != 1 || s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestMemoCachesFailures(t *testing.T) {
	errBad := errors.New("bad expression")
	var calls atomic.Int32
	m := NewMemo(func(s string) (int, error) {
		calls.Add(1)
		return 0, errBad
	})
	for i := 0; i < 2; i++ {
		if _, err := m.Get("where("); !errors.Is(err, errBad) {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("failing fn called %d times, want 1", calls.Load())
	}
}

func TestMemoConcurrent(t *testing.T) {
	var calls atomic.Int32
	m := NewMemo(func(n int) (int, error) {
		calls.Add(1)
		return n * n, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if v, _ := m.Get(i % 5); v != (i%5)*(i%5) {
				t.Errorf("Get(%d) = %d", i%5, v)
			}
		}(i)
	}
	wg.Wait()
	if calls.Load() != 5 || m.Len() != 5 {
		t.Errorf("calls = %d, len = %d; want 5, 5", calls.Load(), m.Len())
	}
}
