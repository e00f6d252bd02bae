package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs_Predictable(t *testing.T) {
	gen := NewSequentialIDs("g")

	assert.Equal(t, "g-000001", gen.Generate())
	assert.Equal(t, "g-000002", gen.Generate())
}

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	gen := NewSequentialIDs("")

	assert.Equal(t, "grant-000001", gen.Generate())
}

func TestSequentialIDs_UniqueUnderConcurrency(t *testing.T) {
	gen := NewSequentialIDs("c")
	const workers = 20

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*50)
}
