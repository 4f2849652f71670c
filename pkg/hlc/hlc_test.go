package hlc

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/daviddao/taxalog/pkg/model"
)

func mustNext(t *testing.T, c *Clock) model.OperationID {
	t.Helper()
	id, err := c.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return id
}

func TestNextMonotonicallyIncreases(t *testing.T) {
	c := New()
	prev := mustNext(t, c)
	for i := 0; i < 1000; i++ {
		id := mustNext(t, c)
		if id <= prev {
			t.Fatalf("call %d: got %d, want > %d", i, id, prev)
		}
		prev = id
	}
}

func TestNextStalledClockAdvancesCounter(t *testing.T) {
	frozen := Epoch.Add(42 * time.Millisecond)
	c := New(WithSource(func() time.Time { return frozen }))

	first := mustNext(t, c)
	if got := Counter(first); got != 0 {
		t.Fatalf("first id counter: got %d, want 0", got)
	}
	for i := 1; i <= 5; i++ {
		id := mustNext(t, c)
		if got := Counter(id); got != uint16(i) {
			t.Fatalf("call %d: counter %d, want %d", i, got, i)
		}
		if !WallTime(id).Equal(WallTime(first)) {
			t.Fatalf("call %d: wall time moved while source frozen", i)
		}
	}
}

func TestNextBackwardJumpStaysMonotonic(t *testing.T) {
	now := Epoch.Add(time.Hour)
	c := New(WithSource(func() time.Time { return now }))

	before := mustNext(t, c)
	now = now.Add(-10 * time.Minute)
	after := mustNext(t, c)
	if after <= before {
		t.Fatalf("backward jump broke ordering: %d <= %d", after, before)
	}
}

func TestNextCounterResetsWhenTimeAdvances(t *testing.T) {
	now := Epoch.Add(time.Millisecond)
	c := New(WithSource(func() time.Time { return now }))

	mustNext(t, c)
	mustNext(t, c)
	mustNext(t, c)

	now = now.Add(5 * time.Millisecond)
	id := mustNext(t, c)
	if got := Counter(id); got != 0 {
		t.Fatalf("counter after time advance: got %d, want 0", got)
	}
	if !WallTime(id).Equal(now) {
		t.Fatalf("wall time: got %v, want %v", WallTime(id), now)
	}
}

func TestWithLastSeedsAfterRestart(t *testing.T) {
	seed := model.OperationID(1 << 40)
	c := New(WithSource(func() time.Time { return Epoch }), WithLast(seed))
	id := mustNext(t, c)
	if id <= seed {
		t.Fatalf("seeded clock issued %d, want > %d", id, seed)
	}
}

func TestNextClockFaultBeforeEpoch(t *testing.T) {
	c := New(WithSource(func() time.Time { return Epoch.Add(-time.Second) }))
	if _, err := c.Next(); !errors.Is(err, ErrClockFault) {
		t.Fatalf("pre-epoch source: got err %v, want ErrClockFault", err)
	}
}

func TestNextConcurrentAllDistinctAndOrdered(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 500

	c := New()
	var wg sync.WaitGroup
	results := make([][]model.OperationID, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ids := make([]model.OperationID, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				id, err := c.Next()
				if err != nil {
					t.Errorf("goroutine %d: Next: %v", g, err)
					return
				}
				ids = append(ids, id)
			}
			results[g] = ids
		}(g)
	}
	wg.Wait()

	var all []model.OperationID
	for g, ids := range results {
		for i := 1; i < len(ids); i++ {
			if ids[i] <= ids[i-1] {
				t.Fatalf("goroutine %d: id %d not greater than previous", g, i)
			}
		}
		all = append(all, ids...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i := 1; i < len(all); i++ {
		if all[i] == all[i-1] {
			t.Fatalf("duplicate id issued under concurrency: %d", all[i])
		}
	}
	if len(all) != goroutines*perGoroutine {
		t.Fatalf("got %d ids, want %d", len(all), goroutines*perGoroutine)
	}
}

func TestWallTimeRoundTrip(t *testing.T) {
	at := Epoch.Add(123456 * time.Millisecond)
	c := New(WithSource(func() time.Time { return at }))
	id := mustNext(t, c)
	if !WallTime(id).Equal(at) {
		t.Fatalf("WallTime: got %v, want %v", WallTime(id), at)
	}
}
