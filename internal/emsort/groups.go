package emsort

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/Schaudge/themisto/internal/coloring"
	"github.com/Schaudge/themisto/internal/tempfile"
	"github.com/Schaudge/themisto/internal/themistoerr"
)

// lengthPrefixedCodec implements Codec over records shaped
// length(8B, includes itself) + payload, the shared wire shape of
// stages (c)-(e). The comparator is injected per stage.
type lengthPrefixedCodec struct {
	compare func(a, b []byte) int
}

func (c lengthPrefixedCodec) ReadRecord(r *bufio.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, themistoerr.Io("emsort: read record length", err)
	}
	length := binary.BigEndian.Uint64(lenBuf[:])
	rec := make([]byte, length)
	copy(rec, lenBuf[:])
	if _, err := io.ReadFull(r, rec[8:]); err != nil {
		return nil, themistoerr.Io("emsort: read record payload", err)
	}
	return rec, nil
}

func (c lengthPrefixedCodec) Compare(a, b []byte) int {
	if c.compare != nil {
		return c.compare(a, b)
	}
	return bytes.Compare(a, b)
}

func (c lengthPrefixedCodec) Size(rec []byte) int64 { return int64(len(rec)) }

// encodeNodeColorsRecord builds a stage (c)/(d) record: 8-byte length
// (8*(2+len(colors))), 8-byte node, then 8 bytes per color.
func encodeNodeColorsRecord(node int64, colors []int64) []byte {
	length := int64(8 * (2 + len(colors)))
	rec := make([]byte, length)
	binary.BigEndian.PutUint64(rec[0:8], uint64(length))
	binary.BigEndian.PutUint64(rec[8:16], uint64(node))
	for i, c := range colors {
		binary.BigEndian.PutUint64(rec[16+8*i:24+8*i], uint64(c))
	}
	return rec
}

// GroupByNode implements stage (c): folds adjacent 16-byte (node, color)
// records sharing a node into a variable-length (length, node, colors...)
// record. Input is expected sorted and deduplicated (stages (a)-(b)), but
// each node's colors are defensively re-sorted and repeated colors dropped
// before being written, so the record's colors are strictly ascending.
func GroupByNode(r io.Reader, w io.Writer) error {
	br := bufio.NewReaderSize(r, 1<<20)
	bw := bufio.NewWriterSize(w, 1<<20)

	var curNode int64
	var curColors []int64
	haveCur := false

	flush := func() error {
		if !haveCur {
			return nil
		}
		sort.Slice(curColors, func(i, j int) bool { return curColors[i] < curColors[j] })
		uniq := curColors[:0]
		for i, c := range curColors {
			if i == 0 || c != curColors[i-1] {
				uniq = append(uniq, c)
			}
		}
		curColors = uniq
		rec := encodeNodeColorsRecord(curNode, curColors)
		if _, err := bw.Write(rec); err != nil {
			return themistoerr.Io("emsort: write node-grouped record", err)
		}
		return nil
	}

	for {
		rec, err := PairCodec.ReadRecord(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		node, color := DecodePair(rec)
		if haveCur && node == curNode {
			curColors = append(curColors, color)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		curNode = node
		curColors = []int64{color}
		haveCur = true
	}
	if err := flush(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return themistoerr.Io("emsort: flush node-grouped output", err)
	}
	return nil
}

// colorPayloadCompare implements stage (d)'s comparator: lexicographic
// comparison of the color payload (bytes[16:]) with ties broken by
// length — which bytes.Compare already gives for free, since a strict
// byte-for-byte prefix match resolves to "shorter is less".
func colorPayloadCompare(a, b []byte) int {
	return bytes.Compare(a[16:], b[16:])
}

// VariableCodecForColorsetSort is the Codec for stage (d): sorting
// node-grouped records by their colorset content.
var VariableCodecForColorsetSort Codec = lengthPrefixedCodec{compare: colorPayloadCompare}

// GroupByColorset implements stage (e): folds adjacent node-grouped
// records sharing identical colorset content (already brought adjacent
// by stage (d)) into (length, num_nodes, nodes..., colors...). A rolling
// xxhash of each record's color payload is compared first so a hash
// mismatch short-circuits the (more expensive) exact byte comparison;
// the exact comparison remains authoritative for the actual fold
// decision, so this never changes the grouping result.
func GroupByColorset(r io.Reader, w io.Writer) error {
	br := bufio.NewReaderSize(r, 1<<20)
	bw := bufio.NewWriterSize(w, 1<<20)

	var curColors []byte
	var curHash uint64
	var curNodes []int64
	haveCur := false

	flush := func() error {
		if !haveCur {
			return nil
		}
		numColors := (len(curColors)) / 8
		length := int64(8 * (2 + len(curNodes) + numColors))
		rec := make([]byte, length)
		binary.BigEndian.PutUint64(rec[0:8], uint64(length))
		binary.BigEndian.PutUint64(rec[8:16], uint64(len(curNodes)))
		for i, n := range curNodes {
			binary.BigEndian.PutUint64(rec[16+8*i:24+8*i], uint64(n))
		}
		copy(rec[16+8*len(curNodes):], curColors)
		if _, err := bw.Write(rec); err != nil {
			return themistoerr.Io("emsort: write colorset-grouped record", err)
		}
		return nil
	}

	codec := VariableCodecForColorsetSort
	for {
		rec, err := codec.ReadRecord(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		node := int64(binary.BigEndian.Uint64(rec[8:16]))
		payload := rec[16:]
		h := xxhash.Sum64(payload)

		if haveCur && h == curHash && bytes.Equal(payload, curColors) {
			curNodes = append(curNodes, node)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		curColors = append([]byte(nil), payload...)
		curHash = h
		curNodes = []int64{node}
		haveCur = true
	}
	if err := flush(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return themistoerr.Io("emsort: flush colorset-grouped output", err)
	}
	return nil
}

// ReadFinalGroups parses stage (e)'s output file into coloring.Group
// values, ready for coloring.Build.
func ReadFinalGroups(r io.Reader) ([]coloring.Group, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	var groups []coloring.Group
	for {
		var lenBuf [8]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, themistoerr.Io("emsort: read final group length", err)
		}
		length := binary.BigEndian.Uint64(lenBuf[:])
		rest := make([]byte, length-8)
		if _, err := io.ReadFull(br, rest); err != nil {
			return nil, themistoerr.Io("emsort: read final group payload", err)
		}
		numNodes := binary.BigEndian.Uint64(rest[0:8])
		nodes := make([]int64, numNodes)
		for i := range nodes {
			nodes[i] = int64(binary.BigEndian.Uint64(rest[8+8*i : 16+8*i]))
		}
		colorStart := 8 + 8*int(numNodes)
		numColors := (len(rest) - colorStart) / 8
		colors := make([]int64, numColors)
		for i := range colors {
			colors[i] = int64(binary.BigEndian.Uint64(rest[colorStart+8*i : colorStart+8+8*i]))
		}
		groups = append(groups, coloring.Group{Colors: colors, Nodes: nodes})
	}
	return groups, nil
}

// Pipeline runs the full stage (a)-(e) chain over pairs (an unsorted
// stream of 16-byte (node, color) records) and returns the groups ready
// for coloring.Build. Each intermediate temp file is created through tmp
// and all of them are removed when Pipeline returns.
func Pipeline(pairs io.Reader, ramBytes int64, workers int, tmp *tempfile.Manager) ([]coloring.Group, error) {
	stageOutputs := []string{
		tmp.CreateFile("emsort-a-", ".bin"),
		tmp.CreateFile("emsort-b-", ".bin"),
		tmp.CreateFile("emsort-c-", ".bin"),
		tmp.CreateFile("emsort-d-", ".bin"),
		tmp.CreateFile("emsort-e-", ".bin"),
	}
	defer func() {
		for _, p := range stageOutputs {
			os.Remove(p)
			tmp.Forget(p)
		}
	}()

	if err := runStageToFile(stageOutputs[0], func(w io.Writer) error {
		return Sort(pairs, w, PairCodec, ramBytes, workers, tmp)
	}); err != nil {
		return nil, err
	}
	if err := pipeStage(stageOutputs[0], stageOutputs[1], DedupAdjacentPairs); err != nil {
		return nil, err
	}
	if err := pipeStage(stageOutputs[1], stageOutputs[2], GroupByNode); err != nil {
		return nil, err
	}
	if err := runStageToFile(stageOutputs[3], func(w io.Writer) error {
		r, err := os.Open(stageOutputs[2])
		if err != nil {
			return themistoerr.Io("emsort: open stage (c) output", err)
		}
		defer r.Close()
		return Sort(r, w, VariableCodecForColorsetSort, ramBytes, workers, tmp)
	}); err != nil {
		return nil, err
	}
	if err := pipeStage(stageOutputs[3], stageOutputs[4], GroupByColorset); err != nil {
		return nil, err
	}

	f, err := os.Open(stageOutputs[4])
	if err != nil {
		return nil, themistoerr.Io("emsort: open final stage output", err)
	}
	defer f.Close()
	return ReadFinalGroups(f)
}

func runStageToFile(path string, stage func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return themistoerr.Io("emsort: create stage output", err)
	}
	defer f.Close()
	return stage(f)
}

func pipeStage(inPath, outPath string, stage func(r io.Reader, w io.Writer) error) error {
	in, err := os.Open(inPath)
	if err != nil {
		return themistoerr.Io("emsort: open stage input", err)
	}
	defer in.Close()
	out, err := os.Create(outPath)
	if err != nil {
		return themistoerr.Io("emsort: create stage output", err)
	}
	defer out.Close()
	return stage(in, out)
}
