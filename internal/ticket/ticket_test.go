package ticket

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestPacesSimultaneousCallers(t *testing.T) {
	const (
		interval = 30 * time.Millisecond
		callers  = 5
	)
	c := New(interval)
	defer c.Close()

	var (
		mu     sync.Mutex
		grants []time.Time
		wg     sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Request(context.Background(), 0))
			mu.Lock()
			grants = append(grants, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, grants, callers)
	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })

	// Every grant waits for its own interval, which starts after the previous grant.
	assert.GreaterOrEqual(t, grants[callers-1].Sub(start), callers*interval)
	assert.GreaterOrEqual(t, grants[callers-1].Sub(grants[0]), (callers-1)*interval)
}

func TestRequestGrantsEarliestDeadlineFirst(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Close()

	order := make(chan string, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Request(context.Background(), 200*time.Millisecond))
		order <- "slow"
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Request(context.Background(), 0))
		order <- "fast"
	}()
	wg.Wait()
	close(order)

	var got []string
	for name := range order {
		got = append(got, name)
	}
	assert.Equal(t, []string{"fast", "slow"}, got)
}

func TestRequestHonoursDelay(t *testing.T) {
	c := New(5 * time.Millisecond)
	defer c.Close()

	start := time.Now()
	require.NoError(t, c.Request(context.Background(), 100*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestRequestNegativeDelay(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Close()

	start := time.Now()
	require.NoError(t, c.Request(context.Background(), -time.Hour))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRequestWithoutInterval(t *testing.T) {
	c := New(0)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Request(context.Background(), time.Millisecond))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, c.Pending())
}

func TestRequestRestartsAfterIdle(t *testing.T) {
	interval := 10 * time.Millisecond
	c := New(interval)
	defer c.Close()

	require.NoError(t, c.Request(context.Background(), 0))
	time.Sleep(5 * interval)
	require.NoError(t, c.Request(context.Background(), 0))
	assert.Equal(t, 0, c.Pending())
}

func TestRequestContextCancelled(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := c.Request(ctx, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Pending())

	// The abandoned ticket must not hold up later callers.
	require.NoError(t, c.Request(context.Background(), 0))
}

func TestClose(t *testing.T) {
	c := New(10 * time.Millisecond)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Request(context.Background(), time.Hour)
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)

	c.Close()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiting request was not released by Close")
	}

	assert.ErrorIs(t, c.Request(context.Background(), 0), ErrClosed)
	c.Close()
}

func TestOrderingIsTotal(t *testing.T) {
	now := time.Now()
	a := &ticket{deadline: now, seq: 1}
	b := &ticket{deadline: now, seq: 2}
	e := &ticket{deadline: now.Add(-time.Second), seq: 3}

	assert.True(t, before(a, b))
	assert.False(t, before(b, a))
	assert.True(t, before(e, a))
	assert.False(t, before(a, a))
}

func TestRegistrySharesControllers(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	a := r.Get("kraken", 20*time.Millisecond)
	b := r.Get("kraken", time.Hour)
	c := r.Get("bitstamp", time.Millisecond)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 20*time.Millisecond, b.Interval())
}

func TestRequestWithoutIntervalWakesForEarlierTicket(t *testing.T) {
	c := New(0)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = c.Request(ctx, time.Hour)
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, c.Request(context.Background(), 0))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
