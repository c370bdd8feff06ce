package grade

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex(t *testing.T) {
	km := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  = make(map[string]int)
		overlap bool
	)
	for i := 0; i < 50; i++ {
		key := []string{"a", "b", "c"}[i%3]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(key)
			defer unlock()

			mu.Lock()
			active[key]++
			if active[key] > 1 {
				overlap = true
			}
			mu.Unlock()

			mu.Lock()
			active[key]--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.False(t, overlap, "two holders of the same key")
	assert.Equal(t, 0, km.size(), "released keys must be dropped")
}
