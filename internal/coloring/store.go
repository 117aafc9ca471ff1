// Package coloring implements the ColoringStore: the node -> ColorSet
// pointer/dereference layer that sits above internal/colorset, sharing a
// single colorset instance across every node whose k-mers carry the same
// color content. Grounded on original_source's Coloring /
// Colorset_Storage split (see DESIGN.md).
package coloring

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/dgraph-io/ristretto"

	"github.com/Schaudge/themisto/internal/bitpack"
	"github.com/Schaudge/themisto/internal/colorset"
	"github.com/Schaudge/themisto/internal/themistoerr"
)

// Group is one distinct colorset content together with every node that
// carries it — the unit the external-memory sort pipeline (internal/emsort)
// produces at its final "group by colorset" stage.
type Group struct {
	Colors []int64
	Nodes  []int64
}

// Store is the node -> ColorSet pointer/dereference structure. It can be
// built directly in memory (Build) or opened lazily against a serialized
// file (Open), in which case colorset instances are decoded on demand and
// cached.
type Store struct {
	numNodes int64

	// pointer is non-nil for an in-memory-indexed store: pointer[node]
	// gives the index into sets/offsets.
	pointer []int32

	// runStarts/runValues is the run-length-compacted alternative to
	// pointer, used when the --colorset-pointer-tradeoff knob indicates
	// long runs of nodes share a colorset (common near the tail of a
	// reference's k-mer walk). At most one of pointer / runStarts is
	// populated.
	runStarts []int64
	runValues []int32

	// sets holds every distinct colorset instance when the store is
	// fully materialized in memory (Build or Deserialize); Open leaves it
	// nil and decodes on demand.
	sets []colorset.Set

	// Lazy-loading support: source/offsets are set by Open. offsets has
	// numSets+1 entries (the trailing entry is the end of the last
	// set's byte range). decodeCache holds recently decoded sets keyed
	// by set index.
	source      io.ReaderAt
	offsets     []int64
	numSets     int
	decodeCache *ristretto.Cache
}

// Tradeoff controls how the node -> colorset index is represented.
// Tradeoff <= 1 keeps the flat O(1)-lookup pointer array (more memory,
// faster lookups); Tradeoff >= 2 run-length-compacts consecutive equal
// pointers into (start, value) pairs, trading an O(log runs) binary
// search for less memory when the construction input has long runs of
// nodes sharing one colorset (the --colorset-pointer-tradeoff flag in
// SPEC_FULL.md §10).
const defaultTradeoff = 1

// Build constructs a Store in memory from the (colorset, node-list)
// groups produced by the external-memory sort pipeline's final stage.
// Every node in [0, numNodes) must appear in exactly one group; Build
// returns InvariantViolated otherwise.
func Build(numNodes int64, groups []Group, tradeoff int) (*Store, error) {
	if tradeoff <= 0 {
		tradeoff = defaultTradeoff
	}
	pointer := make([]int32, numNodes)
	assigned := make([]bool, numNodes)
	sets := make([]colorset.Set, len(groups))

	for idx, g := range groups {
		sets[idx] = colorset.FromSortedColors(g.Colors)
		for _, n := range g.Nodes {
			if n < 0 || n >= numNodes {
				return nil, themistoerr.Invariant("coloring: node id out of range in construction group")
			}
			if assigned[n] {
				return nil, themistoerr.Invariant("coloring: node assigned to more than one colorset")
			}
			assigned[n] = true
			pointer[n] = int32(idx)
		}
	}
	for n, ok := range assigned {
		if !ok {
			return nil, themistoerr.Invariant("coloring: node " + itoa(int64(n)) + " was never assigned a colorset")
		}
	}

	s := &Store{numNodes: numNodes, sets: sets}
	if tradeoff >= 2 {
		starts, values := runLengthEncode(pointer)
		// Only take the run-compacted representation if it is actually
		// smaller; otherwise keep the flat array.
		if len(starts) < len(pointer) {
			s.runStarts, s.runValues = starts, values
		} else {
			s.pointer = pointer
		}
	} else {
		s.pointer = pointer
	}
	return s, nil
}

func runLengthEncode(pointer []int32) ([]int64, []int32) {
	if len(pointer) == 0 {
		return nil, nil
	}
	starts := []int64{0}
	values := []int32{pointer[0]}
	for i := 1; i < len(pointer); i++ {
		if pointer[i] != values[len(values)-1] {
			starts = append(starts, int64(i))
			values = append(values, pointer[i])
		}
	}
	return starts, values
}

func itoa(n int64) string {
	// Minimal local formatter to avoid importing strconv solely for one
	// error message path; kept tiny and obviously correct.
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// NumNodes returns the number of nodes the store covers.
func (s *Store) NumNodes() int64 { return s.numNodes }

// NumDistinctColorSets returns the number of distinct colorset instances.
func (s *Store) NumDistinctColorSets() int {
	if s.sets != nil {
		return len(s.sets)
	}
	return s.numSets
}

func (s *Store) indexOf(node int64) (int32, error) {
	if node < 0 || node >= s.numNodes {
		return 0, themistoerr.Invalid("coloring: node id out of range")
	}
	if s.pointer != nil {
		return s.pointer[node], nil
	}
	i := sort.Search(len(s.runStarts), func(i int) bool { return s.runStarts[i] > node }) - 1
	return s.runValues[i], nil
}

// GetColorSet returns the ColorSet for node, decoding and caching it on
// demand if the store was opened lazily.
func (s *Store) GetColorSet(node int64) (colorset.Set, error) {
	idx, err := s.indexOf(node)
	if err != nil {
		return colorset.Set{}, err
	}
	if s.sets != nil {
		return s.sets[idx], nil
	}
	return s.decodeAt(idx)
}

func (s *Store) decodeAt(idx int32) (colorset.Set, error) {
	if s.decodeCache != nil {
		if v, ok := s.decodeCache.Get(idx); ok {
			return v.(colorset.Set), nil
		}
	}
	section := io.NewSectionReader(s.source, s.offsets[idx], s.offsets[idx+1]-s.offsets[idx])
	cs, err := colorset.Deserialize(section)
	if err != nil {
		return colorset.Set{}, err
	}
	if s.decodeCache != nil {
		s.decodeCache.Set(idx, cs, 1)
	}
	return cs, nil
}

// Stats summarizes sharing achieved by deduplication: NumNodes, NumSets,
// and the resulting sharing ratio (nodes per distinct colorset).
type Stats struct {
	NumNodes     int64
	NumSets      int
	SharingRatio float64
}

func (s *Store) Stats() Stats {
	n := s.NumDistinctColorSets()
	ratio := 0.0
	if n > 0 {
		ratio = float64(s.numNodes) / float64(n)
	}
	return Stats{NumNodes: s.numNodes, NumSets: n, SharingRatio: ratio}
}

// pointerModeFlat and pointerModeRunLength tag which representation of
// the node -> colorset index follows num_nodes on disk. This is the
// SPEC_FULL.md §10 --colorset-pointer-tradeoff extension to the base
// §6 layout: the mode byte is written in both modes, and flat mode
// also writes a one-byte bit width before the packed pointers.
const (
	pointerModeFlat     = byte(0)
	pointerModeRunLength = byte(1)
)

// Serialize writes the on-disk ColoringStore layout: num_nodes (8B), a
// pointer-mode byte, the pointer index in that mode, num_sets (8B), then
// each distinct ColorSet serialized in order. A store built with
// tradeoff <= 1 (flat pointer array) writes a width byte and the
// bit-packed pointers; one built with tradeoff >= 2 that actually
// run-compacted serializes its runs directly, expanded back to a flat
// array on load.
func (s *Store) Serialize(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, s.numNodes); err != nil {
		return themistoerr.Io("coloring: write num_nodes", err)
	}

	if s.runStarts != nil {
		if err := writeRunLengthPointers(w, s.runStarts, s.runValues); err != nil {
			return err
		}
	} else {
		if err := writeFlatPointers(w, s.pointer, s.NumDistinctColorSets()); err != nil {
			return err
		}
	}

	numSets := int64(s.NumDistinctColorSets())
	if err := binary.Write(w, binary.BigEndian, numSets); err != nil {
		return themistoerr.Io("coloring: write num_sets", err)
	}
	sets, err := s.materializedSets()
	if err != nil {
		return err
	}
	for i, cs := range sets {
		if _, err := cs.Serialize(w); err != nil {
			return themistoerr.Io("coloring: write colorset "+itoa(int64(i)), err)
		}
	}
	return nil
}

func writeFlatPointers(w io.Writer, pointer []int32, numSets int) error {
	width := bitpack.Width(int64(numSets) - 1)
	values := make([]int64, len(pointer))
	for i, v := range pointer {
		values[i] = int64(v)
	}
	packed := bitpack.Pack(values, width)
	if err := binary.Write(w, binary.BigEndian, pointerModeFlat); err != nil {
		return themistoerr.Io("coloring: write pointer mode", err)
	}
	if err := binary.Write(w, binary.BigEndian, byte(width)); err != nil {
		return themistoerr.Io("coloring: write pointer width", err)
	}
	if len(packed) > 0 {
		if _, err := w.Write(packed); err != nil {
			return themistoerr.Io("coloring: write pointer payload", err)
		}
	}
	return nil
}

func writeRunLengthPointers(w io.Writer, starts []int64, values []int32) error {
	if err := binary.Write(w, binary.BigEndian, pointerModeRunLength); err != nil {
		return themistoerr.Io("coloring: write pointer mode", err)
	}
	if err := binary.Write(w, binary.BigEndian, int64(len(starts))); err != nil {
		return themistoerr.Io("coloring: write run count", err)
	}
	for i := range starts {
		if err := binary.Write(w, binary.BigEndian, starts[i]); err != nil {
			return themistoerr.Io("coloring: write run start", err)
		}
		if err := binary.Write(w, binary.BigEndian, values[i]); err != nil {
			return themistoerr.Io("coloring: write run value", err)
		}
	}
	return nil
}

// readPointers reads whichever pointer-mode section Serialize wrote and
// always returns a flat pointer[numNodes] array — run-length runs are
// expanded back out here, so every reader downstream of Deserialize/Open
// only ever deals with the flat representation.
func readPointers(r io.Reader, numNodes int64) ([]int32, error) {
	var mode byte
	if err := binary.Read(r, binary.BigEndian, &mode); err != nil {
		return nil, themistoerr.Io("coloring: read pointer mode", err)
	}
	switch mode {
	case pointerModeFlat:
		var width byte
		if err := binary.Read(r, binary.BigEndian, &width); err != nil {
			return nil, themistoerr.Io("coloring: read pointer width", err)
		}
		byteLen := bitpack.ByteLen(int(width), int(numNodes))
		packed := make([]byte, byteLen)
		if byteLen > 0 {
			if _, err := io.ReadFull(r, packed); err != nil {
				return nil, themistoerr.Io("coloring: read pointer payload", err)
			}
		}
		values := bitpack.Unpack(packed, int(width), int(numNodes))
		pointer := make([]int32, numNodes)
		for i, v := range values {
			pointer[i] = int32(v)
		}
		return pointer, nil
	case pointerModeRunLength:
		var numRuns int64
		if err := binary.Read(r, binary.BigEndian, &numRuns); err != nil {
			return nil, themistoerr.Io("coloring: read run count", err)
		}
		pointer := make([]int32, numNodes)
		var start int64
		var value int32
		// Runs are written in increasing start order. Filling each run
		// from its start all the way to numNodes and simply writing the
		// runs in order is equivalent to bounding each fill at the next
		// run's start: every later run's fill overwrites exactly the
		// tail that belongs to it, leaving the current run's own prefix
		// (everything before the next run's start) untouched.
		for i := int64(0); i < numRuns; i++ {
			if err := binary.Read(r, binary.BigEndian, &start); err != nil {
				return nil, themistoerr.Io("coloring: read run start", err)
			}
			if err := binary.Read(r, binary.BigEndian, &value); err != nil {
				return nil, themistoerr.Io("coloring: read run value", err)
			}
			for n := start; n < numNodes; n++ {
				pointer[n] = value
			}
		}
		return pointer, nil
	default:
		return nil, themistoerr.Invariant("coloring: unknown pointer mode byte")
	}
}

func (s *Store) materializedSets() ([]colorset.Set, error) {
	if s.sets != nil {
		return s.sets, nil
	}
	out := make([]colorset.Set, s.numSets)
	for i := range out {
		cs, err := s.decodeAt(int32(i))
		if err != nil {
			return nil, err
		}
		out[i] = cs
	}
	return out, nil
}

// Deserialize reads a ColoringStore fully into memory (no lazy cache),
// the inverse of Serialize.
func Deserialize(r io.Reader) (*Store, error) {
	var numNodes int64
	if err := binary.Read(r, binary.BigEndian, &numNodes); err != nil {
		return nil, themistoerr.Io("coloring: read num_nodes", err)
	}
	pointer, err := readPointers(r, numNodes)
	if err != nil {
		return nil, err
	}
	var numSets int64
	if err := binary.Read(r, binary.BigEndian, &numSets); err != nil {
		return nil, themistoerr.Io("coloring: read num_sets", err)
	}
	sets := make([]colorset.Set, numSets)
	for i := range sets {
		cs, err := colorset.Deserialize(r)
		if err != nil {
			return nil, err
		}
		sets[i] = cs
	}
	return &Store{numNodes: numNodes, pointer: pointer, sets: sets}, nil
}

// Open indexes a serialized ColoringStore's colorset section by byte
// offset and returns a Store that decodes and caches colorsets on
// demand via ristretto, instead of materializing every colorset in
// memory up front. The pointer array is still read and held flat, since
// it is needed for every lookup and is comparatively cheap (a few bits
// per node).
func Open(r io.ReaderAt, size int64, cacheMaxItems int64) (*Store, error) {
	sec := io.NewSectionReader(r, 0, size)
	counting := &countingReader{r: sec}
	var numNodes int64
	if err := binary.Read(counting, binary.BigEndian, &numNodes); err != nil {
		return nil, themistoerr.Io("coloring: read num_nodes", err)
	}
	pointer, err := readPointers(counting, numNodes)
	if err != nil {
		return nil, err
	}
	var numSets int64
	if err := binary.Read(counting, binary.BigEndian, &numSets); err != nil {
		return nil, themistoerr.Io("coloring: read num_sets", err)
	}

	headerEnd := counting.n
	offsets := make([]int64, 0, numSets+1)
	pos := headerEnd
	offsets = append(offsets, pos)
	for i := int64(0); i < numSets; i++ {
		n, err := peekColorSetSize(r, pos, size)
		if err != nil {
			return nil, err
		}
		pos += n
		offsets = append(offsets, pos)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheMaxItems * 10,
		MaxCost:     cacheMaxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, themistoerr.Io("coloring: create decode cache", err)
	}

	return &Store{
		numNodes:    numNodes,
		pointer:     pointer,
		source:      r,
		offsets:     offsets,
		numSets:     int(numSets),
		decodeCache: cache,
	}, nil
}

// peekColorSetSize deserializes one ColorSet at offset purely to learn
// its serialized length, without keeping the decoded value. Used only to
// build the byte-offset index during Open.
func peekColorSetSize(r io.ReaderAt, offset, limit int64) (int64, error) {
	sec := io.NewSectionReader(r, offset, limit-offset)
	counting := &countingReader{r: sec}
	if _, err := colorset.Deserialize(counting); err != nil {
		return 0, themistoerr.Io("coloring: index colorset section", err)
	}
	return counting.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
