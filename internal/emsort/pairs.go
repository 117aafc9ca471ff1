package emsort

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/Schaudge/themisto/internal/themistoerr"
)

// PairSize is the fixed byte size of a (node, color) pair record:
// spec.md §4.1's 16-byte big-endian tuple used only during construction.
const PairSize = 16

// EncodePair writes a (node, color) pair into a freshly allocated
// 16-byte big-endian record.
func EncodePair(node, color int64) []byte {
	buf := make([]byte, PairSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(node))
	binary.BigEndian.PutUint64(buf[8:16], uint64(color))
	return buf
}

// DecodePair is the inverse of EncodePair.
func DecodePair(rec []byte) (node, color int64) {
	return int64(binary.BigEndian.Uint64(rec[0:8])), int64(binary.BigEndian.Uint64(rec[8:16]))
}

// pairCodec implements Codec over fixed 16-byte (node, color) records,
// ordered lexicographically by (node, color) — stage (a) of the
// external-memory pipeline.
type pairCodec struct{}

func (pairCodec) ReadRecord(r *bufio.Reader) ([]byte, error) {
	buf := make([]byte, PairSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, themistoerr.Io("emsort: read pair record", err)
	}
	return buf, nil
}

func (pairCodec) Compare(a, b []byte) int { return bytes.Compare(a, b) }

func (pairCodec) Size(rec []byte) int64 { return int64(len(rec)) }

// PairCodec is the Codec for stage (a): sorting raw (node, color) pairs.
var PairCodec Codec = pairCodec{}

// WritePairStream writes a sequence of (node, color) pairs as 16-byte
// records, for feeding into Sort with PairCodec.
func WritePairStream(w io.Writer, pairs [][2]int64) error {
	bw := bufio.NewWriterSize(w, 1<<20)
	for _, p := range pairs {
		if _, err := bw.Write(EncodePair(p[0], p[1])); err != nil {
			return themistoerr.Io("emsort: write pair stream", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return themistoerr.Io("emsort: flush pair stream", err)
	}
	return nil
}

// DedupAdjacentPairs implements stage (b): streams 16-byte pair records
// from r to w, dropping any record byte-identical to its immediate
// predecessor. r must already be sorted (stage (a)'s output).
func DedupAdjacentPairs(r io.Reader, w io.Writer) error {
	br := bufio.NewReaderSize(r, 1<<20)
	bw := bufio.NewWriterSize(w, 1<<20)
	var prev []byte
	for {
		rec, err := PairCodec.ReadRecord(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if prev != nil && bytes.Equal(prev, rec) {
			continue
		}
		if _, err := bw.Write(rec); err != nil {
			return themistoerr.Io("emsort: write deduped pair", err)
		}
		prev = rec
	}
	if err := bw.Flush(); err != nil {
		return themistoerr.Io("emsort: flush deduped pairs", err)
	}
	return nil
}
