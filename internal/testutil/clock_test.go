package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func TestClock_AdvancesByStep(t *testing.T) {
	clock := NewClock(start, time.Second)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start.Add(time.Second), clock.Now())
	assert.Equal(t, start.Add(2*time.Second), clock.Now())
	assert.Equal(t, start.Add(3*time.Second), clock.Current())
}

func TestClock_CurrentDoesNotAdvance(t *testing.T) {
	clock := NewClock(start, time.Second)

	assert.Equal(t, start, clock.Current())
	assert.Equal(t, start, clock.Current())
	assert.Equal(t, start, clock.Now())
}

func TestClock_Reset(t *testing.T) {
	clock := NewClock(start, time.Minute)

	first := []time.Time{clock.Now(), clock.Now(), clock.Now()}
	clock.Reset()
	second := []time.Time{clock.Now(), clock.Now(), clock.Now()}

	assert.Equal(t, first, second)
}

func TestClock_ConcurrentUse(t *testing.T) {
	clock := NewClock(start, time.Millisecond)

	const goroutines = 10
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	seen := make([]time.Time, goroutines*callsPerGoroutine)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < callsPerGoroutine; i++ {
				seen[g*callsPerGoroutine+i] = clock.Now()
			}
		}(g)
	}
	wg.Wait()

	// Every instant handed out exactly once.
	unique := make(map[time.Time]bool, len(seen))
	for _, ts := range seen {
		assert.False(t, unique[ts], "instant %v handed out twice", ts)
		unique[ts] = true
	}
	assert.Len(t, unique, goroutines*callsPerGoroutine)
}
