// Package pseudoalign is the query engine (spec.md §4.5): per-query
// intersection/threshold pseudoalignment against an SBWT + ColoringStore,
// fanned out across a worker pool whose answers are written back in
// strict input order. Grounded on original_source's pseudoalign.cpp
// scoring logic and the teacher's (ericksamera-radigest) collector
// goroutine, generalized from a single always-increasing stream to an
// out-of-order-completing batch writer (see writer.go).
package pseudoalign

import (
	"math"

	"github.com/Schaudge/themisto/internal/coloring"
	"github.com/Schaudge/themisto/internal/colorset"
	"github.com/Schaudge/themisto/internal/kmer"
	"github.com/Schaudge/themisto/internal/sbwt"
)

// Mode selects intersection or threshold scoring.
type Mode int

const (
	ModeIntersection Mode = iota
	ModeThreshold
)

// Options configures query scoring. Tau and IgnoreUnknownKmers only
// apply under ModeThreshold.
type Options struct {
	Mode               Mode
	Tau                float64
	IgnoreUnknownKmers bool
	ReverseComplement  bool
}

// Index is the read-only pair an aligned query is scored against.
type Index struct {
	SBWT  *sbwt.Index
	Store *coloring.Store
}

// colorSetAt resolves the ColorSet at one k-mer position, unioning in
// the reverse complement's colorset when enabled. Either side may be
// absent from the graph; the zero Set is the canonical empty set.
func (idx *Index) colorSetAt(bases string, opts Options) (colorset.Set, error) {
	var c colorset.Set
	have := false
	if node, ok := idx.SBWT.Lookup(bases); ok {
		cs, err := idx.Store.GetColorSet(node)
		if err != nil {
			return colorset.Set{}, err
		}
		c, have = cs, true
	}
	if opts.ReverseComplement {
		rc := kmer.ReverseComplement(bases)
		if node, ok := idx.SBWT.Lookup(rc); ok {
			cs, err := idx.Store.GetColorSet(node)
			if err != nil {
				return colorset.Set{}, err
			}
			if have {
				c = c.Union(cs)
			} else {
				c, have = cs, true
			}
		}
	}
	return c, nil
}

// Align answers one query under opts, returning the set of matching
// color ids: ascending under ModeIntersection, in no defined order under
// ModeThreshold (the output Writer sorts each line when sortOutput is set).
func Align(seq string, k int, idx *Index, opts Options) ([]int64, error) {
	if len(seq) < k {
		return nil, nil
	}
	switch opts.Mode {
	case ModeThreshold:
		return alignThreshold(seq, k, idx, opts)
	default:
		return alignIntersection(seq, k, idx, opts)
	}
}

func alignIntersection(seq string, k int, idx *Index, opts Options) ([]int64, error) {
	var result colorset.Set
	initialized := false
	var walkErr error
	kmer.Each(seq, k, func(w kmer.Window) {
		if walkErr != nil || !w.Valid {
			return
		}
		cx, err := idx.colorSetAt(w.Bases, opts)
		if err != nil {
			walkErr = err
			return
		}
		if cx.Empty() {
			return
		}
		if !initialized {
			result, initialized = cx, true
			return
		}
		result = result.Intersect(cx)
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if !initialized {
		return nil, nil
	}
	return result.AsSortedVector(), nil
}

func alignThreshold(seq string, k int, idx *Index, opts Options) ([]int64, error) {
	counts := make(map[int64]int)
	resolved := 0
	var walkErr error
	kmer.Each(seq, k, func(w kmer.Window) {
		if walkErr != nil || !w.Valid {
			return
		}
		cx, err := idx.colorSetAt(w.Bases, opts)
		if err != nil {
			walkErr = err
			return
		}
		if cx.Empty() {
			return
		}
		resolved++
		for _, c := range cx.AsSortedVector() {
			counts[c]++
		}
	})
	if walkErr != nil {
		return nil, walkErr
	}

	denominator := kmer.Count(seq, k)
	if opts.IgnoreUnknownKmers {
		denominator = resolved
	}
	if denominator == 0 {
		return nil, nil
	}

	need := int(math.Ceil(opts.Tau * float64(denominator)))
	var out []int64
	for c, n := range counts {
		if n >= need {
			out = append(out, c)
		}
	}
	return out, nil
}
