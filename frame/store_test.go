package frame

import (
	"sync"
	"testing"
	"time"
)

func TestSnapshotEmptyStore(t *testing.T) {
	store := NewStore()
	if f := store.Snapshot(); f != nil {
		t.Errorf("expected nil snapshot before first publish, got seq %d", f.Seq)
	}
}

func TestSnapshotReturnsLastPublished(t *testing.T) {
	store := NewStore()
	for i := 1; i <= 5; i++ {
		store.Publish(&Frame{Data: []byte{byte(i)}, Seq: uint64(i), At: time.Now()})
	}
	f := store.Snapshot()
	if f == nil {
		t.Fatal("expected a frame after publishes")
	}
	if f.Seq != 5 {
		t.Errorf("expected seq 5, got %d", f.Seq)
	}
	if len(f.Data) != 1 || f.Data[0] != 5 {
		t.Errorf("expected data [5], got %v", f.Data)
	}
}

func TestSnapshotSurvivesOverwrite(t *testing.T) {
	store := NewStore()
	store.Publish(&Frame{Data: []byte("first"), Seq: 1})
	held := store.Snapshot()
	store.Publish(&Frame{Data: []byte("second"), Seq: 2})
	if string(held.Data) != "first" {
		t.Errorf("held frame mutated by later publish: %q", held.Data)
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	store := NewStore()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 1000; i++ {
			store.Publish(&Frame{Data: []byte{byte(i)}, Seq: i})
		}
	}()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for i := 0; i < 1000; i++ {
				f := store.Snapshot()
				if f == nil {
					continue
				}
				if f.Seq < last {
					t.Errorf("snapshot went backwards: %d after %d", f.Seq, last)
					return
				}
				last = f.Seq
			}
		}()
	}
	wg.Wait()
	<-done

	if f := store.Snapshot(); f.Seq != 1000 {
		t.Errorf("expected final seq 1000, got %d", f.Seq)
	}
}
