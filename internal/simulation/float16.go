package simulation

import "math"

// halfStride is the number of binary16 values per packed record.
const halfStride = 3

// PackHalf stores records as IEEE 754-2008 binary16 triples in dst, which
// must hold at least 3*len(src) values.
func PackHalf(dst []uint16, src []Record) {
	for i, r := range src {
		o := i * halfStride
		dst[o] = Float32ToFloat16(r.X)
		dst[o+1] = Float32ToFloat16(r.Elevation)
		dst[o+2] = Float32ToFloat16(r.Z)
	}
}

// UnpackHalf expands binary16 triples into records. dst must hold at least
// len(src)/3 records.
func UnpackHalf(dst []Record, src []uint16) {
	for i := range dst {
		o := i * halfStride
		if o+2 >= len(src) {
			return
		}
		dst[i] = Record{
			X:         Float16ToFloat32(src[o]),
			Elevation: Float16ToFloat32(src[o+1]),
			Z:         Float16ToFloat32(src[o+2]),
		}
	}
}

// Float32ToFloat16 rounds f to the nearest binary16 value. Values beyond the
// half range become infinities and tiny values flush to signed zero.
func Float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int((bits >> 23) & 0xff)
	mant := bits & 0x7fffff

	switch exp {
	case 0xff:
		if mant == 0 {
			return sign | 0x7c00
		}
		// Keep NaNs quiet and non-zero.
		mant >>= 13
		if mant == 0 {
			mant = 1
		}
		return sign | 0x7c00 | uint16(mant)
	case 0:
		if mant == 0 {
			return sign
		}
	}

	halfExp := exp - 127 + 15
	if halfExp >= 0x1f {
		return sign | 0x7c00
	}
	if halfExp <= 0 {
		if halfExp < -10 {
			return sign
		}
		m := (mant | 0x800000) >> uint(1-halfExp)
		return sign | uint16((m+0x1000)>>13)
	}

	mant += 0x1000
	if mant&0x800000 != 0 {
		mant = 0
		halfExp++
		if halfExp >= 0x1f {
			return sign | 0x7c00
		}
	}
	return sign | uint16(halfExp<<10) | uint16(mant>>13)
}

// Float16ToFloat32 widens a binary16 value exactly.
func Float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := int((h >> 10) & 0x1f)
	mant := uint32(h & 0x3ff)

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: shift the mantissa up until the implicit bit appears.
		exp = -14
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		mant &= 0x3ff
		return math.Float32frombits(sign | uint32((exp+127)<<23) | mant<<13)
	case 0x1f:
		bits := sign | 0x7f800000 | mant<<13
		if mant != 0 {
			bits |= 1
		}
		return math.Float32frombits(bits)
	}
	return math.Float32frombits(sign | uint32((exp-15+127)<<23) | mant<<13)
}
