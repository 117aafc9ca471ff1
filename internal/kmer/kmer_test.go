package kmer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReverseComplement(t *testing.T) {
	assert.Equal(t, "ACGT", ReverseComplement("ACGT"))
	assert.Equal(t, "TTTT", ReverseComplement("AAAA"))
	assert.Equal(t, "GATC", ReverseComplement("GATC"))
}

func TestEachWindowsAndValidity(t *testing.T) {
	var got []Window
	Each("ACGNT", 3, func(w Window) { got = append(got, w) })
	require := func(cond bool, msg string) {
		if !cond {
			t.Fatal(msg)
		}
	}
	require(len(got) == 3, "expected 3 windows")
	assert.Equal(t, "ACG", got[0].Bases)
	assert.True(t, got[0].Valid)
	assert.Equal(t, "CGN", got[1].Bases)
	assert.False(t, got[1].Valid)
	assert.Equal(t, "GNT", got[2].Bases)
	assert.False(t, got[2].Valid)
}

func TestEachSkipsShortSequence(t *testing.T) {
	var calls int
	Each("AC", 3, func(Window) { calls++ })
	assert.Equal(t, 0, calls)
}

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count("AC", 3))
	assert.Equal(t, 1, Count("ACG", 3))
	assert.Equal(t, 3, Count("ACGTA", 3))
}
