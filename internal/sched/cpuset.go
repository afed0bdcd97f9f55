package sched

import "math/bits"

const bitsPerByte = 8

// CPUSet is a bitmap of processing units an entity may run on.
// A nil CPUSet means "every unit".
type CPUSet []byte

// NewCPUSet returns an empty CPUSet large enough for num units.
func NewCPUSet(num int) CPUSet {
	return make(CPUSet, (num+bitsPerByte-1)/bitsPerByte)
}

// NewCPUSetOf returns a CPUSet containing exactly the given units.
func NewCPUSetOf(units ...int) CPUSet {
	max := 0
	for _, u := range units {
		if u+1 > max {
			max = u + 1
		}
	}
	c := NewCPUSet(max)
	for _, u := range units {
		c.Set(u)
	}
	return c
}

// Set adds unit to the set, growing it when needed.
func (c *CPUSet) Set(unit int) {
	if unit < 0 {
		return
	}
	idx := unit / bitsPerByte
	for len(*c) <= idx {
		*c = append(*c, 0)
	}
	(*c)[idx] |= 1 << (unit % bitsPerByte)
}

// Clear removes unit from the set.
func (c CPUSet) Clear(unit int) {
	if unit < 0 || unit/bitsPerByte >= len(c) {
		return
	}
	c[unit/bitsPerByte] &^= 1 << (unit % bitsPerByte)
}

// IsSet reports whether unit is in the set.
func (c CPUSet) IsSet(unit int) bool {
	if unit < 0 || unit/bitsPerByte >= len(c) {
		return false
	}
	return c[unit/bitsPerByte]&(1<<(unit%bitsPerByte)) != 0
}

// NumCPUs returns how many units are set.
func (c CPUSet) NumCPUs() int {
	n := 0
	for _, b := range c {
		n += bits.OnesCount8(b)
	}
	return n
}

// Copy returns a copy of the CPUSet.
func (c CPUSet) Copy() CPUSet {
	if c == nil {
		return nil
	}
	return append(CPUSet(nil), c...)
}

// ForEachCPU calls fn for every unit in the set, lowest first.
func (c CPUSet) ForEachCPU(fn func(unit int)) {
	for i, b := range c {
		for b != 0 {
			bit := bits.TrailingZeros8(b)
			fn(i*bitsPerByte + bit)
			b &^= 1 << bit
		}
	}
}
