// internal/status/encode.go
package status

// Encode converts a Snapshot, the current points and the station name into a
// full link status block.
// Layout is protocol-locked.
// No IO. No side effects.
func Encode(s Snapshot, p Points, name string) []uint16 {
	regs := make([]uint16, SlotsPerBlock)

	regs[SlotHealthCode] = s.Health
	regs[SlotLastErrorCode] = s.LastErrorCode
	regs[SlotSecondsInError] = s.SecondsInError
	regs[SlotPointsPacked] = PackPoints(p)

	// Slots SlotReservedStart..SlotReservedEnd are RESERVED and left as zero.

	copy(regs[SlotNameStart:SlotNameStart+SlotNameSlots], EncodeName(name))
	return regs
}

// PackPoints packs the tuple into one register, bit i = Bits()[i].
func PackPoints(p Points) uint16 {
	var v uint16
	for i, b := range p.Bits() {
		if b {
			v |= 1 << uint(i)
		}
	}
	return v
}

// EncodeName packs up to 16 ASCII characters into 8 registers.
// Each register stores two ASCII bytes in big-endian order.
func EncodeName(name string) []uint16 {
	out := make([]uint16, SlotNameSlots)

	b := []byte(name)
	if len(b) > NameMaxChars {
		b = b[:NameMaxChars]
	}

	// sanitize to printable ASCII
	for i := 0; i < len(b); i++ {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	for i := 0; i < NameMaxChars; i += 2 {
		var hi, lo byte
		if i < len(b) {
			hi = b[i]
		}
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}

	return out
}
