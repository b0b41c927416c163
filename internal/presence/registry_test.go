package presence

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestRegistryScenario(t *testing.T) {
	r := NewRegistry()
	if got := r.Snapshot(); len(got) != 0 {
		t.Fatalf("new registry snapshot = %v, want empty", got)
	}

	r.Update("c1", Position{Lat: 1, Lng: 2})
	if got, want := r.Snapshot(), (Snapshot{"c1": {Lat: 1, Lng: 2}}); !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}

	r.Update("c1", Position{Lat: 3, Lng: 4})
	if got, want := r.Snapshot(), (Snapshot{"c1": {Lat: 3, Lng: 4}}); !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}

	if !r.Remove("c1") {
		t.Fatal("Remove(c1) reported no entry")
	}
	if got := r.Snapshot(); len(got) != 0 {
		t.Fatalf("snapshot after remove = %v, want empty", got)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	if r.Remove("ghost") {
		t.Fatal("Remove on empty registry reported an entry")
	}
	r.Update("a", Position{Lat: 1})
	r.Remove("a")
	if r.Remove("a") {
		t.Fatal("second Remove reported an entry")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Update("a", Position{Lat: 1, Lng: 1})
	snap := r.Snapshot()
	snap["a"] = Position{Lat: 9, Lng: 9}
	snap["b"] = Position{}

	if p, _ := r.Get("a"); p != (Position{Lat: 1, Lng: 1}) {
		t.Fatalf("registry mutated through snapshot: %v", p)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

// Each writer owns one id; interleaving with other writers must never
// change the fact that its own last update wins.
func TestLastWriteWinsPerConnection(t *testing.T) {
	r := NewRegistry()
	const writers, updates = 16, 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", w)
			for i := 0; i < updates; i++ {
				r.Update(id, Position{Lat: float64(w), Lng: float64(i)})
				_ = r.Snapshot()
			}
		}(w)
	}
	wg.Wait()

	snap := r.Snapshot()
	if len(snap) != writers {
		t.Fatalf("snapshot has %d entries, want %d", len(snap), writers)
	}
	for w := 0; w < writers; w++ {
		id := fmt.Sprintf("c%d", w)
		want := Position{Lat: float64(w), Lng: float64(updates - 1)}
		if snap[id] != want {
			t.Errorf("%s = %v, want %v", id, snap[id], want)
		}
	}
}

func TestUpdateThenRemoveNeverLeavesEntry(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Update(id, Position{Lat: float64(i)})
			r.Remove(id)
		}(i)
	}
	wg.Wait()
	if n := r.Len(); n != 0 {
		t.Fatalf("registry holds %d entries after update/remove pairs", n)
	}
}
