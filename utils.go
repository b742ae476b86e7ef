package bytering

// maxPowerOf2 is the largest power of two representable in a uint64.
const maxPowerOf2 = 1 << 63

// roundToPowerOf2 returns the smallest power of two greater than or equal to value.
// Zero rounds to 1. It returns false when the result does not fit in a uint64.
func roundToPowerOf2(value uint64) (uint64, bool) {
	if value <= 1 {
		return 1, true
	}

	if value > maxPowerOf2 {
		return 0, false
	}

	value--
	value |= value >> 1
	value |= value >> 2
	value |= value >> 4
	value |= value >> 8
	value |= value >> 16
	value |= value >> 32
	value++

	return value, true
}

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
