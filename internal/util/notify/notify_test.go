package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVar_GetReturnsCurrentValue(t *testing.T) {
	var v Var[int]
	val, _ := v.Get()
	require.Equal(t, 0, val)

	v.Set(42)
	val, _ = v.Get()
	require.Equal(t, 42, val)
}

func TestVar_SetClosesPreviousWaitChannel(t *testing.T) {
	var v Var[string]
	_, ch := v.Get()

	select {
	case <-ch:
		t.Fatal("channel must not be closed before Set is called")
	default:
	}

	v.Set("hello")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Set must close the channel returned by the prior Get")
	}
}

func TestVar_WaitersWakeOnEachSet(t *testing.T) {
	var v Var[int]
	woken := make(chan int, 1)

	go func() {
		_, ch := v.Get()
		<-ch
		val, _ := v.Get()
		woken <- val
	}()

	time.Sleep(10 * time.Millisecond)
	v.Set(7)

	select {
	case val := <-woken:
		require.Equal(t, 7, val)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}
}
