package segment

import (
	"strconv"
	"strings"
	"sync"
	"testing"
)

func TestGenerator_Next(t *testing.T) {
	gen := New()

	tests := []struct {
		scope string
		want  string
	}{
		{"sess-123", "sess-123-seg-1"},
		{"sess-123", "sess-123-seg-2"},
		{"sess-456", "sess-456-seg-3"},
	}
	for _, tt := range tests {
		if got := gen.Next(tt.scope); got != tt.want {
			t.Errorf("Next(%q) = %s, want %s", tt.scope, got, tt.want)
		}
	}
	if gen.Issued() != 3 {
		t.Errorf("Issued() = %d, want 3", gen.Issued())
	}
}

func TestGenerator_ConcurrentUnique(t *testing.T) {
	gen := New()
	const workers, perWorker = 50, 20

	var wg sync.WaitGroup
	results := make(chan string, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				results <- gen.Next("sess")
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	var highest uint64
	for id := range results {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
		n, err := strconv.ParseUint(id[strings.LastIndex(id, "-")+1:], 10, 64)
		if err != nil {
			t.Fatalf("bad id %s", id)
		}
		if n > highest {
			highest = n
		}
	}
	if len(seen) != workers*perWorker || highest != workers*perWorker {
		t.Errorf("got %d ids, max %d", len(seen), highest)
	}
}
