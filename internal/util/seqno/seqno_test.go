package seqno

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSource_NextIsMonotonicAndStartsAboveZero(t *testing.T) {
	s := NewSource()
	first := s.Next()
	require.Greater(t, uint64(first), uint64(0))
	second := s.Next()
	require.Equal(t, -1, Compare(first, second))
}

func TestSource_NextIsUniqueUnderConcurrency(t *testing.T) {
	s := NewSource()
	const n = 1000
	seen := make(chan Seq, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- s.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[Seq]bool, n)
	for seq := range seen {
		require.False(t, unique[seq], "sequence number %d issued twice", seq)
		unique[seq] = true
	}
	require.Len(t, unique, n)
}

func TestCompare(t *testing.T) {
	require.Equal(t, -1, Compare(Seq(1), Seq(2)))
	require.Equal(t, 0, Compare(Seq(5), Seq(5)))
	require.Equal(t, 1, Compare(Seq(9), Seq(3)))
}
