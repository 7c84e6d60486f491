package hwio

func GetBit32(v uint32, n uint) bool {
	return GetBiti32(v, n) != 0
}

func GetBiti32(v uint32, n uint) uint32 {
	return v >> n & 0x01
}

func SetBit32(v *uint32, n uint) {
	*v |= 1 << n
}

func ClearBit32(v *uint32, n uint) {
	*v &^= 1 << n
}

func ClearBits32(v *uint32, mask uint32) {
	*v &^= mask
}

// Field32 extracts the field of the given width starting at bit pos.
func Field32(v uint32, pos, width uint) uint32 {
	return v >> pos & (1<<width - 1)
}

// SetField32 writes val into the field of the given width starting at bit pos.
func SetField32(v *uint32, pos, width uint, val uint32) {
	mask := uint32(1<<width-1) << pos
	*v = *v&^mask | val<<pos&mask
}
