// Package sbwt is the k-mer -> node id oracle stand-in described in
// SPEC_FULL.md §1: colex-ordered k-mer identifiers, a lookup(kmer) ->
// (node, found) oracle, node count, and a binary on-disk format, backed
// by a sorted k-mer table and binary search rather than a succinct
// FM-index. The real SBWT succinct de Bruijn graph is out of scope (see
// DESIGN.md); this package only needs to honor the same logical
// interface Themisto's build/query code consumes from it.
package sbwt

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"

	"github.com/Schaudge/themisto/internal/kmer"
	"github.com/Schaudge/themisto/internal/themistoerr"
)

// Index maps every distinct k-mer observed during construction to a
// node id, assigned in colexicographic order (spec.md §3, "K-mer node
// id").
type Index struct {
	k     int
	kmers []string // colex-sorted, each exactly k bytes long
}

// colexLess compares a and b as if read right-to-left: the ordering
// original_source's real SBWT assigns node ids under.
func colexLess(a, b string) bool {
	for i, j := len(a)-1, len(b)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
		if a[i] != b[j] {
			return a[i] < b[j]
		}
	}
	return len(a) < len(b)
}

// Build collects the distinct k-mers in kmers, sorts them
// colexicographically, and assigns node ids 0..n-1 in that order.
// Duplicate input k-mers collapse to one node, matching the real SBWT's
// de Bruijn graph semantics (one node per distinct k-mer).
func Build(k int, kmers []string) *Index {
	seen := make(map[string]struct{}, len(kmers))
	uniq := make([]string, 0, len(kmers))
	for _, km := range kmers {
		if _, ok := seen[km]; ok {
			continue
		}
		seen[km] = struct{}{}
		uniq = append(uniq, km)
	}
	sort.Slice(uniq, func(i, j int) bool { return colexLess(uniq[i], uniq[j]) })
	return &Index{k: k, kmers: uniq}
}

// BuildFromSequences walks every valid k-mer window (and its reverse
// complement, unless forwardStrandOnly is set) across seqs and builds
// the node table from the union of everything observed — the SBWT
// construction step the real Themisto delegates to its succinct graph
// library.
func BuildFromSequences(k int, seqs []string, forwardStrandOnly bool) *Index {
	var all []string
	for _, s := range seqs {
		kmer.Each(s, k, func(w kmer.Window) {
			if !w.Valid {
				return
			}
			all = append(all, w.Bases)
			if !forwardStrandOnly {
				all = append(all, kmer.ReverseComplement(w.Bases))
			}
		})
	}
	return Build(k, all)
}

// K returns the node length.
func (idx *Index) K() int { return idx.k }

// NumNodes returns the number of distinct k-mers (graph nodes).
func (idx *Index) NumNodes() int64 { return int64(len(idx.kmers)) }

// Lookup resolves a k-mer to its node id. ok is false for an absent
// k-mer (never observed during construction) or one of the wrong
// length.
func (idx *Index) Lookup(km string) (node int64, ok bool) {
	if len(km) != idx.k {
		return 0, false
	}
	i := sort.Search(len(idx.kmers), func(i int) bool { return !colexLess(idx.kmers[i], km) })
	if i < len(idx.kmers) && idx.kmers[i] == km {
		return int64(i), true
	}
	return 0, false
}

// KmerAt returns the k-mer assigned to node id n.
func (idx *Index) KmerAt(n int64) (string, error) {
	if n < 0 || n >= int64(len(idx.kmers)) {
		return "", themistoerr.Invalid("sbwt: node id out of range")
	}
	return idx.kmers[n], nil
}

// Serialize writes the index as: k (4B), num_nodes (8B), then num_nodes
// fixed-width k-byte records in colex order (<prefix>.tdbg).
func (idx *Index) Serialize(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1<<20)
	if err := binary.Write(bw, binary.BigEndian, int32(idx.k)); err != nil {
		return themistoerr.Io("sbwt: write k", err)
	}
	if err := binary.Write(bw, binary.BigEndian, int64(len(idx.kmers))); err != nil {
		return themistoerr.Io("sbwt: write num_nodes", err)
	}
	for _, km := range idx.kmers {
		if _, err := bw.WriteString(km); err != nil {
			return themistoerr.Io("sbwt: write kmer", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return themistoerr.Io("sbwt: flush", err)
	}
	return nil
}

// Deserialize reads an Index written by Serialize.
func Deserialize(r io.Reader) (*Index, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	var k int32
	if err := binary.Read(br, binary.BigEndian, &k); err != nil {
		return nil, themistoerr.Io("sbwt: read k", err)
	}
	var numNodes int64
	if err := binary.Read(br, binary.BigEndian, &numNodes); err != nil {
		return nil, themistoerr.Io("sbwt: read num_nodes", err)
	}
	kmers := make([]string, numNodes)
	buf := make([]byte, k)
	for i := range kmers {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, themistoerr.Io("sbwt: read kmer", err)
		}
		kmers[i] = string(buf)
	}
	return &Index{k: int(k), kmers: kmers}, nil
}
