package decode

import "math"

// WordOrder says which of two adjacent registers carries the high word of a
// 32-bit value. It is a property of the controller firmware, not of Modbus.
type WordOrder int

const (
	HighFirst WordOrder = iota
	LowFirst
)

func (w WordOrder) String() string {
	if w == LowFirst {
		return "low-first"
	}
	return "high-first"
}

// U16 returns register i as an unsigned count.
func U16(regs []uint16, i int) int64 {
	return int64(regs[i])
}

// S16 reinterprets register i as two's complement.
func S16(regs []uint16, i int) int64 {
	return int64(int16(regs[i]))
}

// Scaled converts a raw reading in tenths to a value with one decimal,
// rounding half up.
func Scaled(raw int64) float64 {
	return math.Floor(float64(raw)*0.1*10+0.5) / 10
}

// U32 composes registers i and i+1 into an unsigned 32-bit value.
func U32(regs []uint16, i int, order WordOrder) int64 {
	hi, lo := regs[i], regs[i+1]
	if order == LowFirst {
		hi, lo = lo, hi
	}
	return int64(uint32(hi)<<16 | uint32(lo))
}

// S32 composes registers i and i+1 into a signed 32-bit value.
func S32(regs []uint16, i int, order WordOrder) int64 {
	return int64(int32(uint32(U32(regs, i, order))))
}

// HighByte returns the upper 8 bits of register i.
func HighByte(regs []uint16, i int) int64 {
	return int64(regs[i] >> 8)
}

// LowByte returns the lower 8 bits of register i.
func LowByte(regs []uint16, i int) int64 {
	return int64(regs[i] & 0xFF)
}

// Bit reports whether bit n of register i is set.
func Bit(regs []uint16, i int, n uint) bool {
	return regs[i]&(1<<n) != 0
}
