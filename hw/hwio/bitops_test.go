package hwio

import "testing"

func TestFields(t *testing.T) {
	var v uint32
	SetField32(&v, 4, 4, 0xA)
	SetField32(&v, 16, 16, 0x1FFFF) // truncated to 16 bits
	if v != 0xFFFF00A0 {
		t.Fatalf("v = %08x, want ffff00a0", v)
	}
	if got := Field32(v, 4, 4); got != 0xA {
		t.Errorf("Field32 = %x, want a", got)
	}

	SetBit32(&v, 0)
	if !GetBit32(v, 0) {
		t.Errorf("bit 0 should be set")
	}
	ClearBit32(&v, 0)
	ClearBits32(&v, 0xFFFF0000)
	if v != 0xA0 {
		t.Errorf("v = %08x, want a0", v)
	}
}

func TestBitset(t *testing.T) {
	b := NewBitset(300)
	b.SetRange(10, 200)
	if got := b.Count(); got != 190 {
		t.Fatalf("Count = %d, want 190", got)
	}
	if b.Test(9) || !b.Test(10) || !b.Test(199) || b.Test(200) {
		t.Errorf("SetRange bounds are wrong")
	}
	b.Clear(100)
	if b.Test(100) {
		t.Errorf("bit 100 should be cleared")
	}
	b.Reset()
	if b.Count() != 0 {
		t.Errorf("Reset left %d bits", b.Count())
	}

	defer func() {
		if recover() == nil {
			t.Errorf("out of range Set should panic")
		}
	}()
	b.Set(300)
}
