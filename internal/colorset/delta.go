package colorset

import "github.com/Schaudge/themisto/internal/bitpack"

// deltaVector is a fixed-width packed array of strictly ascending,
// non-negative color ids. Each value occupies exactly `width` bits, enough
// to hold the largest value in the set (width == 0 is valid and means
// "every value is 0", which arises for the single-element set {0} and for
// the empty set).
type deltaVector struct {
	width int
	count int
	data  []byte
}

func bitWidth(max int64) int { return bitpack.Width(max) }

// newDeltaVector packs the strictly ascending, non-negative colors into a
// fixed-width delta vector.
func newDeltaVector(colors []int64) deltaVector {
	var max int64
	if len(colors) > 0 {
		max = colors[len(colors)-1]
	}
	width := bitWidth(max)
	return deltaVector{
		width: width,
		count: len(colors),
		data:  bitpack.Pack(colors, width),
	}
}

// sizeInBits returns the physical storage size of the packed payload, not
// counting the width/count header; FromSortedColors compares it directly
// against the bitmap's bit length, which likewise excludes any header.
func (d deltaVector) sizeInBits() int64 {
	return int64(d.width) * int64(d.count)
}

func (d deltaVector) values() []int64 {
	return bitpack.Unpack(d.data, d.width, d.count)
}

func (d deltaVector) empty() bool { return d.count == 0 }

func (d deltaVector) contains(c int64) bool {
	// Linear scan, as specified (delta path is O(|set|)).
	for _, v := range d.values() {
		if v == c {
			return true
		}
		if v > c {
			return false
		}
	}
	return false
}
