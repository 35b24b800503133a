package hlc

import (
	"sync"
	"testing"
)

func TestNowMonotonicallyIncreases(t *testing.T) {
	c := NewClock(7)
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		ts := c.Now()
		if !ts.After(prev) {
			t.Fatalf("Now %d: got %v, want > %v", i, ts, prev)
		}
		prev = ts
	}
}

func TestNowCountsUpWhenWallStalls(t *testing.T) {
	c := NewClock(1)
	c.wallNow = func() uint64 { return 5000 }

	first := c.Now()
	if first.WallMS != 5000 || first.Counter != 0 {
		t.Fatalf("first Now: got %v, want (5000,0,1)", first)
	}
	second := c.Now()
	if second.WallMS != 5000 || second.Counter != 1 {
		t.Fatalf("second Now with stalled wall: got %v, want (5000,1,1)", second)
	}
}

func TestNowResetsCounterWhenWallAdvances(t *testing.T) {
	c := NewClock(1)
	wall := uint64(5000)
	c.wallNow = func() uint64 { return wall }

	c.Now()
	c.Now()
	wall = 6000
	ts := c.Now()
	if ts.WallMS != 6000 || ts.Counter != 0 {
		t.Fatalf("Now after wall advance: got %v, want (6000,0,1)", ts)
	}
}

func TestNowSurvivesWallRegression(t *testing.T) {
	c := NewClock(1)
	wall := uint64(5000)
	c.wallNow = func() uint64 { return wall }

	before := c.Now()
	wall = 4000 // wall clock stepped backwards
	after := c.Now()
	if !after.After(before) {
		t.Fatalf("Now after regression: got %v, want > %v", after, before)
	}
	if after.WallMS != 5000 {
		t.Fatalf("Now after regression kept wall %d, want 5000", after.WallMS)
	}
}

func TestReceiveAdvancesPastRemote(t *testing.T) {
	c := NewClock(1)
	c.wallNow = func() uint64 { return 100 }

	local := c.Now()
	remote := HLC{WallMS: 9999, Counter: 3, NodeID: 2}
	got := c.Receive(remote)
	if !got.After(remote) {
		t.Fatalf("Receive: got %v, want > remote %v", got, remote)
	}
	if !got.After(local) {
		t.Fatalf("Receive: got %v, want > prior local %v", got, local)
	}
	if got.NodeID != 1 {
		t.Fatalf("Receive stamped node %d, want 1", got.NodeID)
	}
}

func TestReceiveStaleRemoteStillAdvances(t *testing.T) {
	c := NewClock(1)
	c.wallNow = func() uint64 { return 100 }

	prev := c.Receive(HLC{WallMS: 500, Counter: 0, NodeID: 2})
	got := c.Receive(HLC{WallMS: 10, Counter: 0, NodeID: 2})
	if !got.After(prev) {
		t.Fatalf("Receive(stale): got %v, want > %v", got, prev)
	}
}

func TestConcurrentNowDistinctAndOrdered(t *testing.T) {
	c := NewClock(3)
	const goroutines, perG = 8, 200

	var mu sync.Mutex
	seen := make(map[HLC]bool, goroutines*perG)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				ts := c.Now()
				mu.Lock()
				if seen[ts] {
					t.Errorf("duplicate timestamp %v", ts)
				}
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != goroutines*perG {
		t.Fatalf("got %d distinct timestamps, want %d", len(seen), goroutines*perG)
	}
}

func TestCompareLexicographic(t *testing.T) {
	cases := []struct {
		a, b HLC
		want int
	}{
		{HLC{1, 0, 0}, HLC{2, 0, 0}, -1},
		{HLC{1, 5, 9}, HLC{1, 6, 0}, -1},
		{HLC{1, 5, 1}, HLC{1, 5, 2}, -1},
		{HLC{1, 5, 2}, HLC{1, 5, 2}, 0},
		{HLC{3, 0, 0}, HLC{2, 9, 9}, 1},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	in := HLC{WallMS: 1700000000000, Counter: 42, NodeID: 7}
	out, err := Parse(in.String())
	if err != nil {
		t.Fatalf("Parse(%q): %v", in.String(), err)
	}
	if out != in {
		t.Fatalf("round trip: got %v, want %v", out, in)
	}
}

func TestSortKeyOrderMatchesCompare(t *testing.T) {
	a := HLC{WallMS: 999, Counter: 10, NodeID: 1}
	b := HLC{WallMS: 1000, Counter: 0, NodeID: 1}
	if !(a.SortKey() < b.SortKey()) {
		t.Fatalf("SortKey order broken: %q !< %q", a.SortKey(), b.SortKey())
	}
	got, err := Parse(a.SortKey())
	if err != nil || got != a {
		t.Fatalf("Parse(SortKey) = %v, %v", got, err)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, s := range []string{"", "12", "1-2", "a-b-c", "1-2-3-4", "1--3"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestObserveSeedsClock(t *testing.T) {
	c := NewClock(1)
	c.wallNow = func() uint64 { return 100 }
	seed := HLC{WallMS: 8000, Counter: 2, NodeID: 9}
	c.Observe(seed)
	if got := c.Now(); !got.After(seed) {
		t.Fatalf("Now after Observe: got %v, want > %v", got, seed)
	}
}
