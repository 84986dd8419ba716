package stopper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestContext_StopWaitsForGoroutinesToFinish(t *testing.T) {
	ctx := WithContext(context.Background())
	done := make(chan struct{})

	ctx.Go(func() error {
		<-ctx.Stopping()
		close(done)
		return nil
	})

	require.NoError(t, ctx.Stop(time.Second))
	select {
	case <-done:
	default:
		t.Fatal("goroutine must have finished before Stop returned")
	}
}

func TestContext_StopReturnsFirstError(t *testing.T) {
	ctx := WithContext(context.Background())
	boom := errors.New("boom")

	ctx.Go(func() error {
		<-ctx.Stopping()
		return boom
	})
	ctx.Go(func() error {
		<-ctx.Stopping()
		return nil
	})

	require.Equal(t, boom, ctx.Stop(time.Second))
}

func TestContext_StopCancelsContextOnTimeout(t *testing.T) {
	ctx := WithContext(context.Background())
	stuck := make(chan struct{})

	ctx.Go(func() error {
		<-ctx.Done() // ignores Stopping(), only reacts to hard cancellation
		close(stuck)
		return nil
	})

	require.NoError(t, ctx.Stop(10*time.Millisecond))
	select {
	case <-stuck:
	case <-time.After(time.Second):
		t.Fatal("Stop must cancel the context when the deadline is exceeded")
	}
}
