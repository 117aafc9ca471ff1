package pseudoalign

import (
	"io"
	"sync"

	"github.com/Schaudge/themisto/internal/seqio"
	"github.com/Schaudge/themisto/internal/themistoerr"
)

// RunOptions configures a full query run: where queries come from, how
// big a batch each worker claims under the producer lock, and how many
// worker goroutines score batches concurrently.
type RunOptions struct {
	QueryPath  string
	K          int
	Index      *Index
	Align      Options
	NThreads   int
	BatchSize  int
	SortOutput bool
}

type pendingBatch struct {
	Batch
	seqs []string
}

// Run streams queries from opts.QueryPath, scores them across
// opts.NThreads workers, and writes answers to w in strict input
// order (spec.md §4.5 concurrency model).
func Run(opts RunOptions, w io.Writer) error {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.NThreads < 1 {
		opts.NThreads = 1
	}

	queryCh := make(chan seqio.Record, opts.BatchSize*2)
	readErrCh := make(chan error, 1)
	go func() { readErrCh <- seqio.Stream(opts.QueryPath, queryCh) }()

	// The producer lock (spec.md §5): only one worker reads a batch of
	// queries from the stream at a time, tagging it with its ordinal
	// batch index and the ordinal of its first query, then releases.
	var (
		readMu    sync.Mutex
		nextBatch int64
		nextFirst int64
		done      bool
	)
	claim := func() (pendingBatch, bool) {
		readMu.Lock()
		defer readMu.Unlock()
		if done {
			return pendingBatch{}, false
		}
		var queries []seqio.Record
		for len(queries) < opts.BatchSize {
			rec, ok := <-queryCh
			if !ok {
				done = true
				break
			}
			queries = append(queries, rec)
		}
		if len(queries) == 0 {
			return pendingBatch{}, false
		}
		pb := pendingBatch{Batch: Batch{Index: nextBatch, First: nextFirst}}
		pb.seqs = make([]string, len(queries))
		for i, q := range queries {
			pb.seqs[i] = string(q.Seq)
		}
		nextBatch++
		nextFirst += int64(len(queries))
		return pb, true
	}

	writer := NewWriter(w, opts.SortOutput)

	var (
		wg        sync.WaitGroup
		workErr   error
		workErrMu sync.Mutex
	)
	setErr := func(err error) {
		workErrMu.Lock()
		if workErr == nil {
			workErr = err
		}
		workErrMu.Unlock()
	}

	worker := func() {
		defer wg.Done()
		for {
			pb, ok := claim()
			if !ok {
				return
			}
			answers := make([][]int64, len(pb.seqs))
			for i, seq := range pb.seqs {
				ans, err := Align(seq, opts.K, opts.Index, opts.Align)
				if err != nil {
					setErr(err)
					return
				}
				answers[i] = ans
			}
			pb.Answers = answers
			if err := writer.Submit(pb.Batch); err != nil {
				setErr(err)
				return
			}
		}
	}

	wg.Add(opts.NThreads)
	for i := 0; i < opts.NThreads; i++ {
		go worker()
	}
	wg.Wait()

	if err := <-readErrCh; err != nil {
		return err
	}
	if workErr != nil {
		return workErr
	}
	writer.Wait(nextBatch)
	if err := writer.Flush(); err != nil {
		return themistoerr.Io("pseudoalign: flush output", err)
	}
	return nil
}
