package syncer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btcxmr/swapd/common"
	"github.com/btcxmr/swapd/common/types"
)

func TestTryBroadcastOnce(t *testing.T) {
	b := NewBroadcaster()

	require.NoError(t, b.TryBroadcast(types.Lock))
	require.True(t, b.HasBroadcast(types.Lock))
	require.ErrorIs(t, b.TryBroadcast(types.Lock), common.ErrAlreadyBroadcast)
	require.False(t, b.HasBroadcast(types.Cancel))
}

func TestTryBroadcastConcurrent(t *testing.T) {
	b := NewBroadcaster()

	var wg sync.WaitGroup
	successes := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			successes[i] = b.TryBroadcast(types.Buy) == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	require.Equal(t, 1, count)
}
