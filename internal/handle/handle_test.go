package handle

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		slabID, gen, slot uint32
	}{
		{0, 0, 0},
		{1, 1, 1},
		{MaxSlabID, MaxGen, MaxSlot},
		{42, 100000, 7},
	}
	for _, c := range cases {
		h := Encode(c.slabID, c.gen, c.slot)
		if got := h.SlabID(); got != c.slabID {
			t.Errorf("Encode(%d,%d,%d).SlabID() = %d, want %d", c.slabID, c.gen, c.slot, got, c.slabID)
		}
		if got := h.Generation(); got != c.gen {
			t.Errorf("Encode(%d,%d,%d).Generation() = %d, want %d", c.slabID, c.gen, c.slot, got, c.gen)
		}
		if got := h.Slot(); got != c.slot {
			t.Errorf("Encode(%d,%d,%d).Slot() = %d, want %d", c.slabID, c.gen, c.slot, got, c.slot)
		}
	}
}
