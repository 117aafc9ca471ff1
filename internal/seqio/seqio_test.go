package seqio

import (
	"bytes"
	"os"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, pattern string, data []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), pattern)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func collect(t *testing.T, path string) []Record {
	t.Helper()
	ch := make(chan Record)
	errCh := make(chan error, 1)
	go func() { errCh <- Stream(path, ch) }()
	var recs []Record
	for r := range ch {
		recs = append(recs, r)
	}
	require.NoError(t, <-errCh)
	return recs
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatFASTA, DetectFormat("genome.fasta"))
	assert.Equal(t, FormatFASTA, DetectFormat("genome.fna.gz"))
	assert.Equal(t, FormatFASTQ, DetectFormat("reads.fastq"))
	assert.Equal(t, FormatFASTQ, DetectFormat("reads.fq.gz"))
	assert.Equal(t, FormatFASTA, DetectFormat("mystery.txt"))
}

func TestStreamFASTA(t *testing.T) {
	path := writeTemp(t, "seq*.fasta", []byte(">chr1\nacgT\nNN\n>chr2 some desc\nGgCc\n"))
	recs := collect(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, "chr1", recs[0].ID)
	assert.Equal(t, "ACGTNN", string(recs[0].Seq))
	assert.Equal(t, "chr2", recs[1].ID)
	assert.Equal(t, "GGCC", string(recs[1].Seq))
}

func TestStreamFASTACRLF(t *testing.T) {
	path := writeTemp(t, "seq*.fasta", []byte(">c\r\nA\r\nC\r\n"))
	recs := collect(t, path)
	require.Len(t, recs, 1)
	assert.Equal(t, "AC", string(recs[0].Seq))
}

func TestStreamFASTAGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(">chr1\nacgT\nNN\n>chr2 some desc\nGgCc\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	path := writeTemp(t, "seq*.fasta.gz", buf.Bytes())

	recs := collect(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, "chr1", recs[0].ID)
	assert.Equal(t, "ACGTNN", string(recs[0].Seq))
}

func TestStreamFASTQ(t *testing.T) {
	data := "@read1\nACGT\n+\nIIII\n@read2 desc\nTTTT\n+\nIIII\n"
	path := writeTemp(t, "reads*.fastq", []byte(data))
	recs := collect(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, "read1", recs[0].ID)
	assert.Equal(t, "ACGT", string(recs[0].Seq))
	assert.Equal(t, "read2", recs[1].ID)
	assert.Equal(t, "TTTT", string(recs[1].Seq))
}

func TestStreamFASTQRejectsMalformedSeparator(t *testing.T) {
	data := "@read1\nACGT\n*\nIIII\n"
	path := writeTemp(t, "bad*.fastq", []byte(data))
	ch := make(chan Record)
	errCh := make(chan error, 1)
	go func() { errCh <- Stream(path, ch) }()
	for range ch {
	}
	assert.Error(t, <-errCh)
}

func TestSplitNonACGT(t *testing.T) {
	parts := SplitNonACGT([]byte("ACGTNNNGGCCNTT"))
	require.Len(t, parts, 3)
	assert.Equal(t, "ACGT", string(parts[0]))
	assert.Equal(t, "GGCC", string(parts[1]))
	assert.Equal(t, "TT", string(parts[2]))
}

func TestSplitNonACGTAllValid(t *testing.T) {
	parts := SplitNonACGT([]byte("ACGTACGT"))
	require.Len(t, parts, 1)
	assert.Equal(t, "ACGTACGT", string(parts[0]))
}

func TestSplitNonACGTAllInvalid(t *testing.T) {
	parts := SplitNonACGT([]byte("NNNN"))
	assert.Len(t, parts, 0)
}
