package handle

import (
	"sync"
	"testing"
)

func TestRegistryAllocResolveFree(t *testing.T) {
	reg := NewRegistry[int]()

	obj := new(int)
	*obj = 7

	slabID, gen := reg.Alloc(obj)
	h := Encode(slabID, gen, 3)

	ptr, slot, err := reg.Resolve(h)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ptr != obj || slot != 3 {
		t.Fatalf("Resolve = (%p, %d), want (%p, 3)", ptr, slot, obj)
	}
}

func TestRegistryRetireInvalidatesHandle(t *testing.T) {
	reg := NewRegistry[int]()
	obj := new(int)

	slabID, gen := reg.Alloc(obj)
	h := Encode(slabID, gen, 0)

	reg.Retire(slabID)

	if _, _, err := reg.Resolve(h); err == nil {
		t.Fatal("Resolve succeeded after Retire, want StaleHandle")
	}
}

func TestRegistryReusesRetiredID(t *testing.T) {
	reg := NewRegistry[int]()

	first := new(int)
	id1, _ := reg.Alloc(first)
	reg.Retire(id1)

	second := new(int)
	id2, gen2 := reg.Alloc(second)

	if id2 != id1 {
		t.Fatalf("expected retired id %d to be reused, got %d", id1, id2)
	}

	h := Encode(id2, gen2, 0)
	ptr, _, err := reg.Resolve(h)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ptr != second {
		t.Fatalf("Resolve returned %p, want %p (the recycled occupant)", ptr, second)
	}

	staleH := Encode(id1, gen2-1, 0)
	if _, _, err := reg.Resolve(staleH); err == nil {
		t.Fatal("Resolve succeeded against stale generation, want StaleHandle")
	}
}

func TestRegistryUnknownSlab(t *testing.T) {
	reg := NewRegistry[int]()
	if _, _, err := reg.Resolve(Encode(999, 1, 0)); err == nil {
		t.Fatal("Resolve succeeded for never-allocated slab id, want UnknownSlab")
	}
}

func TestRegistryConcurrentAllocResolve(t *testing.T) {
	reg := NewRegistry[int]()
	const n = 500

	handles := make([]Handle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obj := new(int)
			*obj = i
			id, gen := reg.Alloc(obj)
			handles[i] = Encode(id, gen, uint32(i)&slotMask)
		}(i)
	}
	wg.Wait()

	for i, h := range handles {
		if _, slot, err := reg.Resolve(h); err != nil {
			t.Fatalf("handle %d: Resolve: %v", i, err)
		} else if slot != uint32(i)&slotMask {
			t.Fatalf("handle %d: slot = %d, want %d", i, slot, uint32(i)&slotMask)
		}
	}
}
