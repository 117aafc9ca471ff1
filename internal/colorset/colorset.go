// Package colorset implements the ColorSet codec: a per-node compressed
// set of color ids stored as either a bitmap or a fixed-width delta array,
// whichever is smaller, with the empty set always canonically a delta
// array (for O(1) emptiness). See SPEC_FULL.md §4.1.
package colorset

import (
	"encoding/binary"
	"io"

	"github.com/bits-and-blooms/bitset"

	"github.com/Schaudge/themisto/internal/themistoerr"
)

// Set is a ColorSet. The zero value is the empty set (delta, count 0).
type Set struct {
	isBitmap bool
	bitmap   *bitset.BitSet
	delta    deltaVector
}

// FromSortedColors builds a ColorSet from a strictly ascending,
// non-negative slice of color ids. Selection rule: bitmap iff the slice is
// non-empty and the packed delta size (width × count bits) exceeds the
// bitmap's bit length
// (original_source's Bitmap_Or_Deltas_ColorSet constructor, exact — ties
// go to delta, matching the `>` there rather than `>=`; see DESIGN.md).
func FromSortedColors(colors []int64) Set {
	if len(colors) == 0 {
		return Set{isBitmap: false, delta: deltaVector{}}
	}
	max := colors[len(colors)-1]
	dv := newDeltaVector(colors)
	bitmapBits := max + 1
	if dv.sizeInBits() > bitmapBits {
		bm := bitset.New(uint(bitmapBits))
		for _, c := range colors {
			bm.Set(uint(c))
		}
		return Set{isBitmap: true, bitmap: bm}
	}
	return Set{isBitmap: false, delta: dv}
}

// IsBitmap reports which physical encoding backs the set (exposed for
// tests/diagnostics only — callers should never need to branch on it).
func (s Set) IsBitmap() bool { return s.isBitmap }

// Empty reports whether the set has no members, in O(1): a bitmap set is
// never empty (invariant: empty is always delta-encoded).
func (s Set) Empty() bool {
	if s.isBitmap {
		return false
	}
	return s.delta.empty()
}

// Size returns the number of members: a linear-time popcount for a
// bitmap, the stored count (O(1)) for a delta array.
func (s Set) Size() int {
	if s.isBitmap {
		return int(s.bitmap.Count())
	}
	return s.delta.count
}

// Contains reports whether c is a member. O(1) for bitmap, O(size) for
// delta. Returns InvalidArgument for c < 0.
func (s Set) Contains(c int64) (bool, error) {
	if c < 0 {
		return false, themistoerr.Invalid("colorset: contains called with negative color id")
	}
	if s.isBitmap {
		return s.bitmap.Test(uint(c)), nil
	}
	return s.delta.contains(c), nil
}

// AsSortedVector decodes the set into its strictly ascending member list.
func (s Set) AsSortedVector() []int64 {
	if s.isBitmap {
		return bitmapToVector(s.bitmap)
	}
	return s.delta.values()
}

func bitmapToVector(bm *bitset.BitSet) []int64 {
	out := make([]int64, 0, bm.Count())
	n := bm.Len()
	for i := uint(0); i < n; i++ {
		if bm.Test(i) {
			out = append(out, int64(i))
		}
	}
	return out
}

// Intersect returns the canonical (re-encoded) intersection of s and o,
// dispatching on the four encoding combinations described in SPEC_FULL.md
// §4.1.
func (s Set) Intersect(o Set) Set {
	var result []int64
	switch {
	case s.isBitmap && o.isBitmap:
		result = bitmapToVector(bitmapIntersectBitmap(s.bitmap, o.bitmap))
	case s.isBitmap && !o.isBitmap:
		result = bitmapIntersectDelta(s.bitmap, o.delta.values())
	case !s.isBitmap && o.isBitmap:
		result = bitmapIntersectDelta(o.bitmap, s.delta.values())
	default:
		result = deltaIntersectDelta(s.delta.values(), o.delta.values())
	}
	return FromSortedColors(result)
}

// Union returns the canonical (re-encoded) union of s and o.
func (s Set) Union(o Set) Set {
	var result []int64
	switch {
	case s.isBitmap && o.isBitmap:
		result = bitmapToVector(bitmapUnionBitmap(s.bitmap, o.bitmap))
	case s.isBitmap && !o.isBitmap:
		result = bitmapToVector(bitmapUnionDelta(s.bitmap, o.delta.values()))
	case !s.isBitmap && o.isBitmap:
		result = bitmapToVector(bitmapUnionDelta(o.bitmap, s.delta.values()))
	default:
		result = deltaUnionDelta(s.delta.values(), o.delta.values())
	}
	return FromSortedColors(result)
}

func bitmapIntersectBitmap(a, b *bitset.BitSet) *bitset.BitSet {
	n := a.Len()
	if b.Len() < n {
		n = b.Len()
	}
	result := bitset.New(n)
	for i := uint(0); i < n; i++ {
		if a.Test(i) && b.Test(i) {
			result.Set(i)
		}
	}
	return result
}

func bitmapUnionBitmap(a, b *bitset.BitSet) *bitset.BitSet {
	n := a.Len()
	if b.Len() > n {
		n = b.Len()
	}
	result := bitset.New(n)
	for i := uint(0); i < n; i++ {
		if a.Test(i) || b.Test(i) {
			result.Set(i)
		}
	}
	return result
}

// bitmapIntersectDelta filters the delta values by bitmap membership,
// cutting off at values >= bitmap length (they cannot be set).
func bitmapIntersectDelta(bm *bitset.BitSet, delta []int64) []int64 {
	out := make([]int64, 0, len(delta))
	n := int64(bm.Len())
	for _, x := range delta {
		if x >= n {
			break
		}
		if bm.Test(uint(x)) {
			out = append(out, x)
		}
	}
	return out
}

// bitmapUnionDelta widens the bitmap (conceptually) to cover the larger of
// its own length and the largest delta value + 1, then ORs in the delta
// members.
func bitmapUnionDelta(bm *bitset.BitSet, delta []int64) *bitset.BitSet {
	n := bm.Len()
	if len(delta) > 0 {
		last := delta[len(delta)-1]
		if uint(last+1) > n {
			n = uint(last + 1)
		}
	}
	result := bitset.New(n)
	for i := uint(0); i < bm.Len(); i++ {
		if bm.Test(i) {
			result.Set(i)
		}
	}
	for _, x := range delta {
		result.Set(uint(x))
	}
	return result
}

func deltaIntersectDelta(a, b []int64) []int64 {
	out := make([]int64, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func deltaUnionDelta(a, b []int64) []int64 {
	out := make([]int64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Serialize writes the tag byte, the bitmap section (length-prefixed,
// empty when the delta array is active), and the delta section
// (length-prefixed plus bit-width, empty when the bitmap is active). It
// returns the number of bytes written.
func (s Set) Serialize(w io.Writer) (int64, error) {
	var n int64
	tag := byte(0)
	if s.isBitmap {
		tag = 1
	}
	if err := binary.Write(w, binary.BigEndian, tag); err != nil {
		return n, themistoerr.Io("colorset: write tag", err)
	}
	n++

	var bitmapLen uint64
	if s.isBitmap {
		bitmapLen = uint64(s.bitmap.Len())
	}
	if err := binary.Write(w, binary.BigEndian, bitmapLen); err != nil {
		return n, themistoerr.Io("colorset: write bitmap length", err)
	}
	n += 8
	nBytes := int((bitmapLen + 7) / 8)
	buf := make([]byte, nBytes)
	if s.isBitmap {
		for i := uint(0); i < s.bitmap.Len(); i++ {
			if s.bitmap.Test(i) {
				buf[i/8] |= 1 << uint(7-i%8)
			}
		}
	}
	if nBytes > 0 {
		if _, err := w.Write(buf); err != nil {
			return n, themistoerr.Io("colorset: write bitmap payload", err)
		}
		n += int64(nBytes)
	}

	var count uint64
	var width byte
	if !s.isBitmap {
		count = uint64(s.delta.count)
		width = byte(s.delta.width)
	}
	if err := binary.Write(w, binary.BigEndian, count); err != nil {
		return n, themistoerr.Io("colorset: write delta count", err)
	}
	n += 8
	if err := binary.Write(w, binary.BigEndian, width); err != nil {
		return n, themistoerr.Io("colorset: write delta width", err)
	}
	n++
	var deltaBytes []byte
	if !s.isBitmap {
		deltaBytes = s.delta.data
	}
	nDeltaBytes := 0
	if !s.isBitmap {
		nDeltaBytes = (s.delta.width*s.delta.count + 7) / 8
	}
	if nDeltaBytes > 0 {
		if _, err := w.Write(deltaBytes); err != nil {
			return n, themistoerr.Io("colorset: write delta payload", err)
		}
		n += int64(nDeltaBytes)
	}

	return n, nil
}

// Deserialize reads a ColorSet written by Serialize.
func Deserialize(r io.Reader) (Set, error) {
	var tag byte
	if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
		return Set{}, themistoerr.Io("colorset: read tag", err)
	}

	var bitmapLen uint64
	if err := binary.Read(r, binary.BigEndian, &bitmapLen); err != nil {
		return Set{}, themistoerr.Io("colorset: read bitmap length", err)
	}
	nBytes := int((bitmapLen + 7) / 8)
	var bm *bitset.BitSet
	if nBytes > 0 {
		buf := make([]byte, nBytes)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Set{}, themistoerr.Io("colorset: read bitmap payload", err)
		}
		if tag == 1 {
			bm = bitset.New(uint(bitmapLen))
			for i := uint64(0); i < bitmapLen; i++ {
				if buf[i/8]&(1<<uint(7-i%8)) != 0 {
					bm.Set(uint(i))
				}
			}
		}
	} else if tag == 1 {
		bm = bitset.New(0)
	}

	var count uint64
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return Set{}, themistoerr.Io("colorset: read delta count", err)
	}
	var width byte
	if err := binary.Read(r, binary.BigEndian, &width); err != nil {
		return Set{}, themistoerr.Io("colorset: read delta width", err)
	}
	nDeltaBytes := int((int(width)*int(count) + 7) / 8)
	var data []byte
	if nDeltaBytes > 0 {
		data = make([]byte, nDeltaBytes)
		if _, err := io.ReadFull(r, data); err != nil {
			return Set{}, themistoerr.Io("colorset: read delta payload", err)
		}
	}

	if tag == 1 {
		return Set{isBitmap: true, bitmap: bm}, nil
	}
	return Set{isBitmap: false, delta: deltaVector{width: int(width), count: int(count), data: data}}, nil
}
