package devicequeue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	serial string
	rank   int
}

func bySerial(serial string) Matcher[*item] {
	return MatchFunc[*item](func(i *item) bool { return i.serial == serial })
}

func byMinRank(min int) Matcher[*item] {
	return MatchFunc[*item](func(i *item) bool { return i.rank >= min })
}

func TestQueue_PollReturnsFIFOAmongMatches(t *testing.T) {
	q := New[*item]()
	first := &item{serial: "A", rank: 1}
	second := &item{serial: "B", rank: 1}
	q.Add(first)
	q.Add(second)

	got, ok := q.Poll(time.Second, MatchAny[*item]())
	require.True(t, ok)
	assert.Same(t, first, got)

	got, ok = q.Poll(time.Second, MatchAny[*item]())
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestQueue_PollSkipsNonMatching(t *testing.T) {
	q := New[*item]()
	low := &item{serial: "A", rank: 1}
	high := &item{serial: "B", rank: 9}
	q.Add(low)
	q.Add(high)

	got, ok := q.Poll(time.Second, byMinRank(5))
	require.True(t, ok)
	assert.Same(t, high, got)
	// The skipped element is untouched.
	assert.True(t, q.Contains(low))
	assert.Equal(t, 1, q.Size())
}

func TestQueue_PollTimesOutEmpty(t *testing.T) {
	q := New[*item]()
	start := time.Now()
	_, ok := q.Poll(50*time.Millisecond, MatchAny[*item]())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestQueue_TakeWakesOnAdd(t *testing.T) {
	q := New[*item]()
	want := &item{serial: "A"}

	done := make(chan *item, 1)
	go func() {
		got, err := q.Take(context.Background(), bySerial("A"))
		if err == nil {
			done <- got
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Add(want)

	select {
	case got := <-done:
		assert.Same(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not wake on Add")
	}
}

func TestQueue_TakeHonorsContextCancel(t *testing.T) {
	q := New[*item]()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Take(ctx, MatchAny[*item]())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not observe cancellation")
	}
}

func TestQueue_LaterWaiterCanCompleteFirst(t *testing.T) {
	q := New[*item]()

	gotA := make(chan *item, 1)
	go func() {
		d, err := q.Take(context.Background(), bySerial("A"))
		if err == nil {
			gotA <- d
		}
	}()
	time.Sleep(20 * time.Millisecond)

	gotB := make(chan *item, 1)
	go func() {
		d, err := q.Take(context.Background(), bySerial("B"))
		if err == nil {
			gotB <- d
		}
	}()
	time.Sleep(20 * time.Millisecond)

	// An element for the later waiter arrives first; the earlier waiter
	// must keep waiting rather than steal or block it.
	b := &item{serial: "B"}
	q.Add(b)

	select {
	case got := <-gotB:
		assert.Same(t, b, got)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter B did not complete")
	}

	select {
	case <-gotA:
		t.Fatal("waiter A completed without a matching element")
	case <-time.After(50 * time.Millisecond):
	}

	a := &item{serial: "A"}
	q.Add(a)
	select {
	case got := <-gotA:
		assert.Same(t, a, got)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter A did not complete")
	}
}

func TestQueue_AddUniqueDisplacesMatch(t *testing.T) {
	q := New[*item]()
	old := &item{serial: "A", rank: 1}
	other := &item{serial: "B", rank: 1}
	q.Add(old)
	q.Add(other)

	fresh := &item{serial: "A", rank: 2}
	displaced, found := q.AddUnique(bySerial("A"), fresh)

	require.True(t, found)
	assert.Same(t, old, displaced)
	assert.Equal(t, 2, q.Size())
	assert.False(t, q.Contains(old))
	assert.True(t, q.Contains(fresh))
}

func TestQueue_AddUniqueWithoutMatchAppends(t *testing.T) {
	q := New[*item]()
	q.Add(&item{serial: "B"})

	_, found := q.AddUnique(bySerial("A"), &item{serial: "A"})
	assert.False(t, found)
	assert.Equal(t, 2, q.Size())
}

func TestQueue_RemoveAndContains(t *testing.T) {
	q := New[*item]()
	a := &item{serial: "A"}
	q.Add(a)

	assert.True(t, q.Contains(a))
	assert.True(t, q.Remove(a))
	assert.False(t, q.Contains(a))
	assert.False(t, q.Remove(a))
}

func TestQueue_RemoveMatch(t *testing.T) {
	q := New[*item]()
	a := &item{serial: "A"}
	q.Add(a)

	got, ok := q.RemoveMatch(bySerial("A"))
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = q.RemoveMatch(bySerial("A"))
	assert.False(t, ok)
}

func TestQueue_CopyIsSnapshot(t *testing.T) {
	q := New[*item]()
	q.Add(&item{serial: "A"})
	snapshot := q.Copy()
	q.Add(&item{serial: "B"})

	assert.Len(t, snapshot, 1)
	assert.Equal(t, 2, q.Size())
}

func TestQueue_ConcurrentTakersGetDistinctItems(t *testing.T) {
	q := New[*item]()
	const n = 16

	var wg sync.WaitGroup
	results := make(chan *item, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := q.Take(context.Background(), MatchAny[*item]())
			if err == nil {
				results <- d
			}
		}()
	}

	for i := 0; i < n; i++ {
		q.Add(&item{serial: string(rune('a' + i))})
	}
	wg.Wait()
	close(results)

	seen := make(map[*item]bool)
	for d := range results {
		require.False(t, seen[d], "item handed to two takers")
		seen[d] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, 0, q.Size())
}
