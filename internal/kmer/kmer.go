// Package kmer provides k-mer windowing and reverse-complement helpers
// shared by the construction driver (internal/build) and the
// pseudoalignment engine (internal/pseudoalign). Grounded on
// original_source's k-mer walk in build_index.cpp and globals.hh's
// alphabet handling; see DESIGN.md.
package kmer

var complement = [256]byte{}

func init() {
	for i := range complement {
		complement[i] = byte(i)
	}
	complement['A'] = 'T'
	complement['T'] = 'A'
	complement['C'] = 'G'
	complement['G'] = 'C'
}

// IsACGT reports whether b is one of the four canonical bases.
func IsACGT(b byte) bool {
	switch b {
	case 'A', 'C', 'G', 'T':
		return true
	default:
		return false
	}
}

// ReverseComplement returns the reverse complement of s. Non-ACGT bytes
// (e.g. 'N') are passed through complemented-as-themselves, since
// upstream callers treat any k-mer containing one as absent regardless
// of orientation.
func ReverseComplement(s string) string {
	n := len(s)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = complement[s[i]]
	}
	return string(out)
}

// Window is one k-mer occurrence: its start position in the source
// sequence, its literal bases, and whether every base is one of A/C/G/T
// (a window containing any other character, most commonly 'N', is never
// "valid" — callers must treat it as absent rather than looking it up).
type Window struct {
	Pos   int
	Bases string
	Valid bool
}

// Each calls fn once per k-mer window of seq, in left-to-right order.
// Sequences shorter than k produce no windows at all (the "input shorter
// than k is skipped silently" construction rule, and the "|Q| < k means
// empty answer" pseudoalignment rule, both fall out of this naturally
// since Each then never invokes fn).
func Each(seq string, k int, fn func(Window)) {
	if k <= 0 || len(seq) < k {
		return
	}
	// invalidInWindow counts non-ACGT bytes in the current rolling window;
	// maintained incrementally so per-window validity is O(1) amortized
	// rather than O(k) per window.
	invalidInWindow := 0
	for i := 0; i < k; i++ {
		if !IsACGT(seq[i]) {
			invalidInWindow++
		}
	}
	fn(Window{Pos: 0, Bases: seq[0:k], Valid: invalidInWindow == 0})

	for pos := 1; pos+k <= len(seq); pos++ {
		leaving := seq[pos-1]
		entering := seq[pos+k-1]
		if !IsACGT(leaving) {
			invalidInWindow--
		}
		if !IsACGT(entering) {
			invalidInWindow++
		}
		fn(Window{Pos: pos, Bases: seq[pos : pos+k], Valid: invalidInWindow == 0})
	}
}

// Count returns the number of k-mer windows seq has under length k
// (0 if len(seq) < k), i.e. |Q|-k+1 from spec.md's threshold-mode
// denominator definition.
func Count(seq string, k int) int {
	if k <= 0 || len(seq) < k {
		return 0
	}
	return len(seq) - k + 1
}
