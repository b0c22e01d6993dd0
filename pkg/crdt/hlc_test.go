package crdt

import (
	"sync"
	"testing"
	"time"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a    *Timestamp
		b    *Timestamp
		want int
	}{
		{
			name: "a walltime < b walltime",
			a:    &Timestamp{WallTime: 100, Lamport: 5, ID: "node1"},
			b:    &Timestamp{WallTime: 200, Lamport: 3, ID: "node2"},
			want: Lower,
		},
		{
			name: "a walltime > b walltime",
			a:    &Timestamp{WallTime: 300, Lamport: 1, ID: "node1"},
			b:    &Timestamp{WallTime: 200, Lamport: 10, ID: "node2"},
			want: Greater,
		},
		{
			name: "equal walltime, a lamport < b lamport",
			a:    &Timestamp{WallTime: 100, Lamport: 3, ID: "node1"},
			b:    &Timestamp{WallTime: 100, Lamport: 5, ID: "node2"},
			want: Lower,
		},
		{
			name: "equal walltime and lamport, a ID > b ID",
			a:    &Timestamp{WallTime: 100, Lamport: 5, ID: "node3"},
			b:    &Timestamp{WallTime: 100, Lamport: 5, ID: "node2"},
			want: Greater,
		},
		{
			name: "completely equal timestamps",
			a:    &Timestamp{WallTime: 100, Lamport: 5, ID: "node1"},
			b:    &Timestamp{WallTime: 100, Lamport: 5, ID: "node1"},
			want: Equal,
		},
		{
			name: "nil sorts first",
			a:    nil,
			b:    &Timestamp{WallTime: 1},
			want: Lower,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Compare(tc.a, tc.b)
			if got != tc.want {
				t.Errorf("Compare(%+v, %+v) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestClock_NowMonotonic(t *testing.T) {
	c := NewClock("node1")
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		next := c.Now()
		if !next.After(prev) {
			t.Fatalf("Now() = %v, not after %v", next, prev)
		}
		prev = next
	}
}

func TestClock_NowConcurrentUnique(t *testing.T) {
	c := NewClock("node1")
	const workers, perWorker = 8, 200

	var mu sync.Mutex
	seen := make(map[Timestamp]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ts := c.Now()
				mu.Lock()
				seen[*ts] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("got %d unique timestamps, want %d", len(seen), workers*perWorker)
	}
}

func TestClock_ObserveRemoteAhead(t *testing.T) {
	local := NewClock("local")
	remote := NewClock("remote").WithOffset(time.Hour)

	rts := remote.Now()
	got := local.Observe(rts)
	if !got.After(rts) {
		t.Fatalf("Observe(%v) = %v, want a later timestamp", rts, got)
	}
	if next := local.Now(); !next.After(got) {
		t.Errorf("Now() after Observe = %v, want after %v", next, got)
	}
}

func TestClock_ObserveNil(t *testing.T) {
	c := NewClock("node1")
	a := c.Observe(nil)
	b := c.Observe(nil)
	if !b.After(a) {
		t.Errorf("Observe(nil) not monotonic: %v then %v", a, b)
	}
}
