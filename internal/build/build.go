// Package build is the construction driver (spec.md §4.4): it reads
// input sequences and an optional color file, drives an
// internal/themisto.Themisto through ConstructBoss/LoadBoss,
// ConstructColors, and SaveBoss/SaveColors, walking k-mers in between to
// emit (node,color) pairs through internal/emsort. Grounded on
// original_source/build_index.cpp's construct_boss/construct_colors
// driver shape and the teacher's worker-pool-with-private-buffers
// pattern.
package build

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/term"

	"github.com/Schaudge/themisto/internal/coloring"
	"github.com/Schaudge/themisto/internal/emsort"
	"github.com/Schaudge/themisto/internal/kmer"
	"github.com/Schaudge/themisto/internal/sbwt"
	"github.com/Schaudge/themisto/internal/seqio"
	"github.com/Schaudge/themisto/internal/tempfile"
	"github.com/Schaudge/themisto/internal/themisto"
	"github.com/Schaudge/themisto/internal/themistoerr"
)

// Options configures one construction run.
type Options struct {
	K                      int
	InputPath              string
	ColorPath              string // empty means auto-colors
	OutputPrefix           string
	RAMBytes               int64
	NThreads               int
	ColorsetPointerTradeoff int
	ForwardStrandOnly      bool
	LoadBossPrefix         string // non-empty reuses <prefix>.tdbg instead of building one
	Tmp                    *tempfile.Manager
	Logger                 log.Logger
	ShowProgress           bool
}

// Stats summarizes a completed build, surfaced for logging/tests.
type Stats struct {
	NumSequences int
	NumNodes     int64
	NumPairs     int64
	Store        coloring.Stats
}

func (o *Options) logger() log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.NewNopLogger()
}

// ParseColorFile reads one non-negative integer color id per line,
// trimming surrounding whitespace, and requires exactly numSeqs lines
// (spec.md §4.4: "color file line count != sequence count -> ParseError").
func ParseColorFile(path string, numSeqs int) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, themistoerr.Io("build: open color file "+path, err)
	}
	defer f.Close()

	var colors []int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		c, err := strconv.ParseInt(line, 10, 64)
		if err != nil || c < 0 {
			return nil, themistoerr.Parse(fmt.Sprintf("build: color file %s line %d: invalid color id %q", path, lineNo, line), nil)
		}
		colors = append(colors, c)
	}
	if err := sc.Err(); err != nil {
		return nil, themistoerr.Io("build: read color file "+path, err)
	}
	if len(colors) != numSeqs {
		return nil, themistoerr.Parse(fmt.Sprintf("build: color file %s has %d lines, want %d (one per sequence)", path, len(colors), numSeqs), nil)
	}
	return colors, nil
}

// AutoColors assigns color id == sequence index, spec.md §4.4 step 1.
func AutoColors(numSeqs int) []int64 {
	colors := make([]int64, numSeqs)
	for i := range colors {
		colors[i] = int64(i)
	}
	return colors
}

type sequence struct {
	id    string
	parts [][]byte // contiguous ACGT runs, post alphabet-split
}

func readSequences(path string) ([]sequence, error) {
	ch := make(chan seqio.Record)
	errCh := make(chan error, 1)
	go func() { errCh <- seqio.Stream(path, ch) }()

	var seqs []sequence
	for rec := range ch {
		parts := seqio.SplitNonACGT(rec.Seq)
		cp := make([][]byte, len(parts))
		for i, p := range parts {
			b := make([]byte, len(p))
			copy(b, p)
			cp[i] = b
		}
		seqs = append(seqs, sequence{id: rec.ID, parts: cp})
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return seqs, nil
}

// Run executes the full construction driver and writes
// <prefix>.tdbg/<prefix>.tcolors.
func Run(opts Options) (Stats, error) {
	logger := opts.logger()
	level.Info(logger).Log("msg", "reading input sequences", "path", opts.InputPath)

	seqs, err := readSequences(opts.InputPath)
	if err != nil {
		return Stats{}, err
	}

	var t themisto.Themisto
	if opts.LoadBossPrefix != "" {
		level.Info(logger).Log("msg", "loading existing boss", "prefix", opts.LoadBossPrefix)
		if err := t.LoadBoss(opts.LoadBossPrefix); err != nil {
			return Stats{}, err
		}
	} else {
		level.Info(logger).Log("msg", "constructing boss", "num_sequences", len(seqs), "k", opts.K)
		t.ConstructBoss(opts.K, collectKmers(opts.K, seqs, opts.ForwardStrandOnly))
	}
	idx := t.Boss

	var colors []int64
	if opts.ColorPath == "" {
		colors = AutoColors(len(seqs))
	} else {
		colors, err = ParseColorFile(opts.ColorPath, len(seqs))
		if err != nil {
			return Stats{}, err
		}
	}

	level.Info(logger).Log("msg", "emitting (node,color) pairs", "num_sequences", len(seqs))
	pairsPath := opts.Tmp.CreateFile("pairs-", ".bin")
	numPairs, err := emitPairs(pairsPath, idx, seqs, colors, opts.NThreads, opts.ForwardStrandOnly, opts.ShowProgress)
	if err != nil {
		return Stats{}, err
	}
	defer func() { os.Remove(pairsPath); opts.Tmp.Forget(pairsPath) }()

	level.Info(logger).Log("msg", "sorting and grouping pairs", "num_pairs", numPairs)
	pairsFile, err := os.Open(pairsPath)
	if err != nil {
		return Stats{}, themistoerr.Io("build: reopen pairs file", err)
	}
	groups, err := emsort.Pipeline(pairsFile, opts.RAMBytes, opts.NThreads, opts.Tmp)
	pairsFile.Close()
	if err != nil {
		return Stats{}, err
	}

	level.Info(logger).Log("msg", "materializing coloring store", "num_groups", len(groups))
	if err := t.ConstructColors(groups, opts.ColorsetPointerTradeoff); err != nil {
		return Stats{}, err
	}

	if err := t.SaveBoss(opts.OutputPrefix); err != nil {
		return Stats{}, err
	}
	if err := t.SaveColors(opts.OutputPrefix); err != nil {
		return Stats{}, err
	}

	level.Info(logger).Log("msg", "build complete", "prefix", opts.OutputPrefix, "num_nodes", idx.NumNodes())
	return Stats{
		NumSequences: len(seqs),
		NumNodes:     idx.NumNodes(),
		NumPairs:     numPairs,
		Store:        t.Coloring.Stats(),
	}, nil
}

// collectKmers walks every sequence's k-mers (and, unless
// forwardStrandOnly, their reverse complements) into the flat list
// internal/themisto.Themisto.ConstructBoss builds the node oracle from,
// mirroring original_source's construct_boss input shape.
func collectKmers(k int, seqs []sequence, forwardStrandOnly bool) []string {
	var all []string
	for _, s := range seqs {
		for _, part := range s.parts {
			kmer.Each(string(part), k, func(w kmer.Window) {
				if !w.Valid {
					return
				}
				all = append(all, w.Bases)
				if !forwardStrandOnly {
					all = append(all, kmer.ReverseComplement(w.Bases))
				}
			})
		}
	}
	return all
}

// emitPairs walks every sequence's k-mers on NThreads workers, each
// holding a private buffer that it flushes atomically to the shared
// pairs file under a mutex, per spec.md §4.4 step 3.
func emitPairs(path string, idx *sbwt.Index, seqs []sequence, colors []int64, nThreads int, forwardStrandOnly bool, showProgress bool) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, themistoerr.Io("build: create pairs file "+path, err)
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, 1<<20)

	var bar *pb.ProgressBar
	if showProgress && term.IsTerminal(int(os.Stdout.Fd())) {
		bar = pb.Full.Start64(int64(len(seqs)))
		defer bar.Finish()
	}

	if nThreads < 1 {
		nThreads = 1
	}

	var (
		mu       sync.Mutex
		writeErr error
		numPairs int64
		wg       sync.WaitGroup
		next     int64
		nextMu   sync.Mutex
	)

	worker := func() {
		defer wg.Done()
		var buf [][2]int64
		for {
			nextMu.Lock()
			i := next
			if i >= int64(len(seqs)) {
				nextMu.Unlock()
				return
			}
			next++
			nextMu.Unlock()

			s := seqs[i]
			c := colors[i]
			buf = buf[:0]
			for _, part := range s.parts {
				kmer.Each(string(part), idx.K(), func(w kmer.Window) {
					if !w.Valid {
						return
					}
					if node, ok := idx.Lookup(w.Bases); ok {
						buf = append(buf, [2]int64{node, c})
					}
					if !forwardStrandOnly {
						rc := kmer.ReverseComplement(w.Bases)
						if node, ok := idx.Lookup(rc); ok {
							buf = append(buf, [2]int64{node, c})
						}
					}
				})
			}

			mu.Lock()
			if writeErr == nil {
				if err := emsort.WritePairStream(bw, buf); err != nil {
					writeErr = err
				} else {
					numPairs += int64(len(buf))
				}
			}
			mu.Unlock()
			if bar != nil {
				bar.Increment()
			}
		}
	}

	wg.Add(nThreads)
	for i := 0; i < nThreads; i++ {
		go worker()
	}
	wg.Wait()

	if writeErr != nil {
		return 0, writeErr
	}
	if err := bw.Flush(); err != nil {
		return 0, themistoerr.Io("build: flush pairs file", err)
	}
	return numPairs, nil
}
