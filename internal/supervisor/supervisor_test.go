package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSupervisorRunsRegisteredTaskAndStopsOnCancel(t *testing.T) {
	sup := New(zerolog.Nop(), time.Millisecond)

	var mu sync.Mutex
	ran := false
	sup.Add("t1", func(ctx context.Context) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sup.Run(ctx); close(done) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestSupervisorRestartsTaskThatReturnsError(t *testing.T) {
	sup := New(zerolog.Nop(), time.Millisecond)

	var mu sync.Mutex
	attempts := 0
	sup.Add("flaky", func(ctx context.Context) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return errors.New("transient failure")
		}
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestSupervisorRestartsTaskThatPanics(t *testing.T) {
	sup := New(zerolog.Nop(), time.Millisecond)

	var mu sync.Mutex
	attempts := 0
	sup.Add("panicky", func(ctx context.Context) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 2
	}, time.Second, 5*time.Millisecond)
}
