package pseudoalign

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Schaudge/themisto/internal/coloring"
	"github.com/Schaudge/themisto/internal/kmer"
	"github.com/Schaudge/themisto/internal/sbwt"
	"github.com/Schaudge/themisto/internal/sim"
)

// bruteForceIntersection is the oracle scenario 4 checks against:
// for every k-mer of the query, collect the set of colors whose
// genomes contain that k-mer anywhere (either strand), then intersect
// across all k-mers present in at least one genome.
func bruteForceIntersection(genomes []sim.Genome, k int, query string) []int64 {
	kmerColors := make(map[string]map[int64]struct{})
	for _, g := range genomes {
		seen := make(map[string]struct{})
		kmer.Each(g.Seq, k, func(w kmer.Window) {
			if !w.Valid {
				return
			}
			seen[w.Bases] = struct{}{}
			seen[kmer.ReverseComplement(w.Bases)] = struct{}{}
		})
		for km := range seen {
			if kmerColors[km] == nil {
				kmerColors[km] = make(map[int64]struct{})
			}
			kmerColors[km][g.Color] = struct{}{}
		}
	}

	var result map[int64]struct{}
	kmer.Each(query, k, func(w kmer.Window) {
		if !w.Valid {
			return
		}
		colors, ok := kmerColors[w.Bases]
		if !ok || len(colors) == 0 {
			return
		}
		if result == nil {
			result = make(map[int64]struct{}, len(colors))
			for c := range colors {
				result[c] = struct{}{}
			}
			return
		}
		for c := range result {
			if _, ok := colors[c]; !ok {
				delete(result, c)
			}
		}
	})
	out := make([]int64, 0, len(result))
	for c := range result {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// buildPropertyIndex constructs an Index over genomes the same way
// internal/build's construction driver does: an SBWT over every
// forward+reverse-complement k-mer, and a ColoringStore assigning each
// node the union of colors of every genome whose k-mer walk produced it.
func buildPropertyIndex(t *testing.T, genomes []sim.Genome, k int) *Index {
	t.Helper()
	seqs := make([]string, len(genomes))
	for i, g := range genomes {
		seqs[i] = g.Seq
	}
	idx := sbwt.BuildFromSequences(k, seqs, false)

	nodeColors := make(map[int64]map[int64]struct{})
	for _, g := range genomes {
		kmer.Each(g.Seq, k, func(w kmer.Window) {
			if !w.Valid {
				return
			}
			for _, bases := range []string{w.Bases, kmer.ReverseComplement(w.Bases)} {
				node, ok := idx.Lookup(bases)
				if !ok {
					continue
				}
				if nodeColors[node] == nil {
					nodeColors[node] = make(map[int64]struct{})
				}
				nodeColors[node][g.Color] = struct{}{}
			}
		})
	}

	byColorset := make(map[string][]int64)
	colorsOf := make(map[string][]int64)
	for node := int64(0); node < idx.NumNodes(); node++ {
		var colors []int64
		for c := range nodeColors[node] {
			colors = append(colors, c)
		}
		sort.Slice(colors, func(i, j int) bool { return colors[i] < colors[j] })
		key := fmt.Sprint(colors)
		byColorset[key] = append(byColorset[key], node)
		colorsOf[key] = colors
	}

	var groups []coloring.Group
	for key, nodes := range byColorset {
		groups = append(groups, coloring.Group{Colors: colorsOf[key], Nodes: nodes})
	}
	store, err := coloring.Build(idx.NumNodes(), groups, 1)
	require.NoError(t, err)

	return &Index{SBWT: idx, Store: store}
}

// TestIntersectionMatchesBruteForceOracle is scenario 4: 50 random
// genomes of length 100, k ranging across [1,20], 5 colors, checked
// against an independent brute-force color-intersection oracle built
// straight from k-mer membership sets rather than through the SBWT or
// ColoringStore machinery under test.
func TestIntersectionMatchesBruteForceOracle(t *testing.T) {
	const numGenomes = 50
	const length = 100
	const numColors = 5

	for k := 1; k <= 20; k++ {
		genomes := sim.RandomColoredCorpus(numGenomes, length, numColors, int64(1000+k))
		idx := buildPropertyIndex(t, genomes, k)

		for gi, g := range genomes {
			want := bruteForceIntersection(genomes, k, g.Seq)
			got, err := Align(g.Seq, k, idx, Options{Mode: ModeIntersection})
			require.NoError(t, err)
			sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
			require.Equalf(t, want, got, "k=%d genome=%d seq=%s", k, gi, g.Seq)
		}
	}
}
