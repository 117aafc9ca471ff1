package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Schaudge/themisto/internal/coloring"
	"github.com/Schaudge/themisto/internal/sbwt"
	"github.com/Schaudge/themisto/internal/tempfile"
)

func newManager(t *testing.T) *tempfile.Manager {
	t.Helper()
	return tempfile.Configure(t.TempDir())
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestAutoColors(t *testing.T) {
	assert.Equal(t, []int64{0, 1, 2}, AutoColors(3))
}

func TestParseColorFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colors.txt")
	writeFile(t, path, " 0 \n1\n2\n")
	colors, err := ParseColorFile(path, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, colors)
}

func TestParseColorFileRejectsInvalidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colors.txt")
	writeFile(t, path, "0\nnot-a-number\n")
	_, err := ParseColorFile(path, 2)
	require.Error(t, err)
}

func TestParseColorFileRejectsNegative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colors.txt")
	writeFile(t, path, "0\n-1\n")
	_, err := ParseColorFile(path, 2)
	require.Error(t, err)
}

func TestParseColorFileRejectsCountMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colors.txt")
	writeFile(t, path, "0\n1\n")
	_, err := ParseColorFile(path, 3)
	require.Error(t, err)
}

func TestRunBuildsAndSerializesIndex(t *testing.T) {
	dir := t.TempDir()
	fastaPath := filepath.Join(dir, "seqs.fasta")
	writeFile(t, fastaPath, ">s0\nACGTACGT\n>s1\nTTTTGGGG\n")

	prefix := filepath.Join(dir, "out")
	stats, err := Run(Options{
		K:            3,
		InputPath:    fastaPath,
		OutputPrefix: prefix,
		RAMBytes:     1 << 20,
		NThreads:     2,
		Tmp:          newManager(t),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.NumSequences)
	assert.True(t, stats.NumNodes > 0)

	f, err := os.Open(prefix + ".tdbg")
	require.NoError(t, err)
	idx, err := sbwt.Deserialize(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, 3, idx.K())
	assert.Equal(t, stats.NumNodes, idx.NumNodes())

	cf, err := os.Open(prefix + ".tcolors")
	require.NoError(t, err)
	store, err := coloring.Deserialize(cf)
	cf.Close()
	require.NoError(t, err)
	assert.Equal(t, idx.NumNodes(), store.NumNodes())

	for _, km := range []string{"ACG", "CGT", "GTA"} {
		node, ok := idx.Lookup(km)
		require.True(t, ok)
		cs, err := store.GetColorSet(node)
		require.NoError(t, err)
		assert.Contains(t, cs.AsSortedVector(), int64(0))
	}
}

func TestRunWithColorFile(t *testing.T) {
	dir := t.TempDir()
	fastaPath := filepath.Join(dir, "seqs.fasta")
	writeFile(t, fastaPath, ">s0\nACGTACGT\n>s1\nTTTTGGGG\n")
	colorPath := filepath.Join(dir, "colors.txt")
	writeFile(t, colorPath, "5\n7\n")

	prefix := filepath.Join(dir, "out")
	_, err := Run(Options{
		K:            3,
		InputPath:    fastaPath,
		ColorPath:    colorPath,
		OutputPrefix: prefix,
		RAMBytes:     1 << 20,
		NThreads:     1,
		Tmp:          newManager(t),
	})
	require.NoError(t, err)

	f, _ := os.Open(prefix + ".tdbg")
	idx, err := sbwt.Deserialize(f)
	f.Close()
	require.NoError(t, err)

	cf, _ := os.Open(prefix + ".tcolors")
	store, err := coloring.Deserialize(cf)
	cf.Close()
	require.NoError(t, err)

	node, ok := idx.Lookup("ACG")
	require.True(t, ok)
	cs, err := store.GetColorSet(node)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, cs.AsSortedVector())
}

func TestRunLoadBossSkipsKmerRewalk(t *testing.T) {
	dir := t.TempDir()
	fastaPath := filepath.Join(dir, "seqs.fasta")
	writeFile(t, fastaPath, ">s0\nACGTACGT\n")
	prefix := filepath.Join(dir, "out")

	_, err := Run(Options{
		K: 3, InputPath: fastaPath, OutputPrefix: prefix,
		RAMBytes: 1 << 20, NThreads: 1, Tmp: newManager(t),
	})
	require.NoError(t, err)

	stats, err := Run(Options{
		K: 3, InputPath: fastaPath, OutputPrefix: prefix,
		LoadBossPrefix: prefix, RAMBytes: 1 << 20, NThreads: 1, Tmp: newManager(t),
	})
	require.NoError(t, err)
	assert.True(t, stats.NumNodes > 0)
}
