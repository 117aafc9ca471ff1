package pseudoalign

import (
	"bytes"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRestoresOrderAcrossOutOfOrderSubmits(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	require.NoError(t, w.Submit(Batch{Index: 1, First: 1, Answers: [][]int64{{20}}}))
	require.NoError(t, w.Submit(Batch{Index: 0, First: 0, Answers: [][]int64{{10}}}))
	w.Wait(2)
	require.NoError(t, w.Flush())

	assert.Equal(t, "0 10\n1 20\n", buf.String())
}

func TestWriterEmptyAnswerLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)
	require.NoError(t, w.Submit(Batch{Index: 0, First: 0, Answers: [][]int64{nil}}))
	w.Wait(1)
	require.NoError(t, w.Flush())
	assert.Equal(t, "0\n", buf.String())
}

func TestWriterSortOutput(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)
	require.NoError(t, w.Submit(Batch{Index: 0, First: 0, Answers: [][]int64{{5, 1, 3}}}))
	w.Wait(1)
	require.NoError(t, w.Flush())
	assert.Equal(t, "0 1 3 5\n", buf.String())
}

func TestWriterConcurrentSubmitsStayOrdered(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_ = w.Submit(Batch{Index: int64(i), First: int64(i), Answers: [][]int64{{int64(i)}}})
		}(i)
	}
	wg.Wait()
	w.Wait(n)
	require.NoError(t, w.Flush())

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, n)
	for i, line := range lines {
		want := strconv.Itoa(i) + " " + strconv.Itoa(i)
		assert.Equal(t, want, string(line))
	}
}
