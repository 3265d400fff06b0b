package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExecutorRunsTasksInOrder(t *testing.T) {
	ex := NewExecutor(zaptest.NewLogger(t))

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, ex.Post(func() { got = append(got, i) }))
	}
	ex.Close()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.False(t, ex.Post(func() {}))
}

func TestExecutorSurvivesPanickingTask(t *testing.T) {
	ex := NewExecutor(zaptest.NewLogger(t))
	ran := make(chan struct{})
	ex.Post(func() { panic("boom") })
	ex.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("executor stopped after a panicking task")
	}
	ex.Close()
}

func TestGoDeliversOnExecutor(t *testing.T) {
	ex := NewExecutor(zaptest.NewLogger(t))
	defer ex.Close()

	// Tasks on the executor never overlap, so a flag set and cleared inside
	// each one is never observed set by another.
	var mu sync.Mutex
	running := false
	enter := func() {
		mu.Lock()
		defer mu.Unlock()
		assert.False(t, running, "executor tasks overlapped")
		running = true
	}
	leave := func() {
		mu.Lock()
		running = false
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		f := Go(ex, func() (int, error) { return i * 2, nil })
		f.Then(func(v int, err error) {
			defer wg.Done()
			enter()
			defer leave()
			assert.NoError(t, err)
			assert.Equal(t, i*2, v)
		})
	}
	wg.Wait()
}

func TestFutureAwait(t *testing.T) {
	ex := NewExecutor(zaptest.NewLogger(t))
	defer ex.Close()

	sentinel := errors.New("failed")
	f := Go(ex, func() (string, error) { return "", sentinel })
	_, err := f.Await(context.Background())
	assert.ErrorIs(t, err, sentinel)

	// Then after completion still runs.
	called := make(chan struct{})
	f.Then(func(_ string, err error) {
		assert.ErrorIs(t, err, sentinel)
		close(called)
	})
	<-called
}

func TestFutureAwaitCancelAbandonsDelivery(t *testing.T) {
	ex := NewExecutor(zaptest.NewLogger(t))
	defer ex.Close()

	release := make(chan struct{})
	f := Go(ex, func() (int, error) {
		<-release
		return 7, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The call runs to completion regardless.
	close(release)
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("call did not complete")
	}
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
