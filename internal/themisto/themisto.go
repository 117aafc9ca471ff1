// Package themisto is the facade gluing internal/sbwt and
// internal/coloring together, mirroring original_source's Themisto
// class surface (construct_boss/construct_colors/load_boss/save_boss/
// save_colors in build_index.cpp) as one object holding both halves of
// an index.
package themisto

import (
	"bufio"
	"os"

	"github.com/Schaudge/themisto/internal/coloring"
	"github.com/Schaudge/themisto/internal/sbwt"
	"github.com/Schaudge/themisto/internal/themistoerr"
)

// Themisto holds one construction/query session's SBWT and
// ColoringStore. Either half may be absent until its corresponding
// Construct/Load method runs.
type Themisto struct {
	Boss     *sbwt.Index
	Coloring *coloring.Store
}

// ConstructBoss builds the k-mer node oracle from kmers directly,
// matching original_source's construct_boss signature shape minus the
// file-reading side (internal/build owns sequence ingestion; this
// method is the thin SBWT-construction step it calls).
func (t *Themisto) ConstructBoss(k int, kmers []string) {
	t.Boss = sbwt.Build(k, kmers)
}

// ConstructColors materializes the ColoringStore from the final
// (colorset, nodes) groups emitted by internal/emsort's pipeline,
// requiring Boss to already be set (construct_colors in the original
// always runs after construct_boss/load_boss).
func (t *Themisto) ConstructColors(groups []coloring.Group, tradeoff int) error {
	if t.Boss == nil {
		return themistoerr.Invariant("themisto: ConstructColors called before Boss is set")
	}
	store, err := coloring.Build(t.Boss.NumNodes(), groups, tradeoff)
	if err != nil {
		return err
	}
	t.Coloring = store
	return nil
}

// SaveBoss writes the SBWT to <prefix>.tdbg.
func (t *Themisto) SaveBoss(prefix string) error {
	if t.Boss == nil {
		return themistoerr.Invariant("themisto: SaveBoss called with no Boss loaded")
	}
	f, err := os.Create(prefix + ".tdbg")
	if err != nil {
		return themistoerr.Io("themisto: create "+prefix+".tdbg", err)
	}
	if err := t.Boss.Serialize(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return themistoerr.Io("themisto: close "+prefix+".tdbg", err)
	}
	return nil
}

// LoadBoss reads the SBWT from <prefix>.tdbg, the --load-boss path
// (spec.md/SPEC_FULL.md §4.4 addition).
func (t *Themisto) LoadBoss(prefix string) error {
	f, err := os.Open(prefix + ".tdbg")
	if err != nil {
		return themistoerr.Io("themisto: open "+prefix+".tdbg", err)
	}
	defer f.Close()
	idx, err := sbwt.Deserialize(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return err
	}
	t.Boss = idx
	return nil
}

// SaveColors writes the ColoringStore to <prefix>.tcolors.
func (t *Themisto) SaveColors(prefix string) error {
	if t.Coloring == nil {
		return themistoerr.Invariant("themisto: SaveColors called with no Coloring loaded")
	}
	f, err := os.Create(prefix + ".tcolors")
	if err != nil {
		return themistoerr.Io("themisto: create "+prefix+".tcolors", err)
	}
	if err := t.Coloring.Serialize(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return themistoerr.Io("themisto: close "+prefix+".tcolors", err)
	}
	return nil
}

// LoadColors reads the ColoringStore from <prefix>.tcolors fully into
// memory (use internal/coloring.Open directly for the lazy/cached
// query-time path).
func (t *Themisto) LoadColors(prefix string) error {
	f, err := os.Open(prefix + ".tcolors")
	if err != nil {
		return themistoerr.Io("themisto: open "+prefix+".tcolors", err)
	}
	defer f.Close()
	store, err := coloring.Deserialize(f)
	if err != nil {
		return err
	}
	t.Coloring = store
	return nil
}
