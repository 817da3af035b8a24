package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestGenerateUniqueUnderConcurrency(t *testing.T) {
	const (
		goroutines = 8
		perWorker  = 2000
	)

	gen := &Snowflake{workerID: 1}
	var (
		mu  sync.Mutex
		ids = make(map[int64]struct{}, goroutines*perWorker)
		wg  sync.WaitGroup
	)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, gen.Generate())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if _, dup := ids[id]; dup {
					t.Errorf("duplicate id %d", id)
					return
				}
				ids[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	if len(ids) != goroutines*perWorker {
		t.Fatalf("generated %d unique ids, want %d", len(ids), goroutines*perWorker)
	}
}

func TestGenerateMonotonic(t *testing.T) {
	gen := &Snowflake{workerID: 1}
	prev := gen.Generate()
	for i := 0; i < 1000; i++ {
		next := gen.Generate()
		if next <= prev {
			t.Fatalf("id %d not greater than predecessor %d", next, prev)
		}
		prev = next
	}
}

func TestBusinessNumberFormats(t *testing.T) {
	sessionNo := GenerateSessionNo()
	if !strings.HasPrefix(sessionNo, "FIT") || len(sessionNo) != len("FIT")+14+8 {
		t.Fatalf("session no = %q, want FIT + 14-digit timestamp + 8 digits", sessionNo)
	}

	entryNo := GenerateEntryNo()
	if !strings.HasPrefix(entryNo, "LDG") || len(entryNo) != len("LDG")+14+8 {
		t.Fatalf("entry no = %q, want LDG + 14-digit timestamp + 8 digits", entryNo)
	}

	if GenerateSessionNo() == GenerateSessionNo() {
		t.Fatalf("consecutive session numbers collided")
	}
}
