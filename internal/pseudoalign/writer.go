package pseudoalign

import (
	"bufio"
	"container/heap"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
)

// Batch is one worker's answers for a contiguous run of queries,
// tagged with its ordinal position in the input stream so the writer
// can restore monotonic order across workers that finish out of turn.
type Batch struct {
	Index   int64 // this batch's position in the input stream
	First   int64 // ordinal of the first query in this batch
	Answers [][]int64
}

// orderedHeap orders pending batches by Index, the min-heap the writer
// drains from once the next expected batch has arrived.
type orderedHeap []Batch

func (h orderedHeap) Len() int            { return len(h) }
func (h orderedHeap) Less(i, j int) bool  { return h[i].Index < h[j].Index }
func (h orderedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *orderedHeap) Push(x interface{}) { *h = append(*h, x.(Batch)) }
func (h *orderedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Writer serializes out-of-order batches from a worker pool into a
// strictly query-ordered text stream, the generalization of the
// teacher's single always-increasing-stream collector goroutine to a
// pool where any worker may finish any batch first (spec.md §5,
// "Output writer ... enforces monotone batch ordering via a shared
// counter and condition variable").
type Writer struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    orderedHeap
	next       int64
	w          *bufio.Writer
	sortOutput bool
	err        error
}

// NewWriter wraps w for ordered writing. sortOutput additionally sorts
// color ids ascending within each answer line (spec.md §4.5
// `sort_output`).
func NewWriter(w io.Writer, sortOutput bool) *Writer {
	wr := &Writer{w: bufio.NewWriterSize(w, 1<<20), sortOutput: sortOutput}
	wr.cond = sync.NewCond(&wr.mu)
	return wr
}

// Submit hands a completed batch to the writer. It never blocks the
// caller: the batch is pushed onto the pending heap and every
// contiguous run of batches starting at the next expected index is
// written immediately, in order, waking any goroutine blocked in Wait.
func (wr *Writer) Submit(b Batch) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	heap.Push(&wr.pending, b)
	for len(wr.pending) > 0 && wr.pending[0].Index == wr.next {
		ready := heap.Pop(&wr.pending).(Batch)
		if err := wr.writeBatch(ready); err != nil && wr.err == nil {
			wr.err = err
		}
		wr.next++
		wr.cond.Broadcast()
	}
	return wr.err
}

func (wr *Writer) writeBatch(b Batch) error {
	for i, colors := range b.Answers {
		ordinal := b.First + int64(i)
		if wr.sortOutput {
			colors = append([]int64(nil), colors...)
			sort.Slice(colors, func(i, j int) bool { return colors[i] < colors[j] })
		}
		if _, err := wr.w.WriteString(strconv.FormatInt(ordinal, 10)); err != nil {
			return err
		}
		for _, c := range colors {
			if _, err := fmt.Fprintf(wr.w, " %d", c); err != nil {
				return err
			}
		}
		if err := wr.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until total batches (indices 0..total-1) have been
// written, the condition-variable hand-off spec.md §5 describes for
// the output writer's shared ordering state.
func (wr *Writer) Wait(total int64) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	for wr.next < total {
		wr.cond.Wait()
	}
}

// Flush flushes the underlying writer. Call only after every batch has
// been Submit-ted.
func (wr *Writer) Flush() error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if wr.err != nil {
		return wr.err
	}
	return wr.w.Flush()
}
