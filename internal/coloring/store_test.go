package coloring

import (
	"bytes"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleGroups() []Group {
	return []Group{
		{Colors: []int64{0, 2}, Nodes: []int64{0, 3}},
		{Colors: []int64{1}, Nodes: []int64{1}},
		{Colors: nil, Nodes: []int64{2}},
	}
}

func TestBuildAndGetColorSet(t *testing.T) {
	s, err := Build(4, exampleGroups(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), s.NumNodes())
	assert.Equal(t, 3, s.NumDistinctColorSets())

	cs0, err := s.GetColorSet(0)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2}, cs0.AsSortedVector())

	cs3, err := s.GetColorSet(3)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2}, cs3.AsSortedVector())

	cs2, err := s.GetColorSet(2)
	require.NoError(t, err)
	assert.True(t, cs2.Empty())
}

func TestBuildRejectsUnassignedNode(t *testing.T) {
	groups := []Group{{Colors: []int64{0}, Nodes: []int64{0}}}
	_, err := Build(3, groups, 1)
	assert.Error(t, err)
}

func TestBuildRejectsDoubleAssignment(t *testing.T) {
	groups := []Group{
		{Colors: []int64{0}, Nodes: []int64{0}},
		{Colors: []int64{1}, Nodes: []int64{0}},
	}
	_, err := Build(1, groups, 1)
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	s, err := Build(4, exampleGroups(), 1)
	require.NoError(t, err)
	stats := s.Stats()
	assert.Equal(t, int64(4), stats.NumNodes)
	assert.Equal(t, 3, stats.NumSets)
	assert.InDelta(t, 4.0/3.0, stats.SharingRatio, 1e-9)
}

func TestRunLengthTradeoffMatchesFlat(t *testing.T) {
	groups := []Group{
		{Colors: []int64{1}, Nodes: []int64{0, 1, 2, 3, 4, 5}},
		{Colors: []int64{2}, Nodes: []int64{6, 7, 8}},
	}
	flat, err := Build(9, groups, 1)
	require.NoError(t, err)
	runEncoded, err := Build(9, groups, 4)
	require.NoError(t, err)
	assert.NotNil(t, runEncoded.runStarts)

	for n := int64(0); n < 9; n++ {
		a, err := flat.GetColorSet(n)
		require.NoError(t, err)
		b, err := runEncoded.GetColorSet(n)
		require.NoError(t, err)
		assert.Equal(t, a.AsSortedVector(), b.AsSortedVector())
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	s, err := Build(4, exampleGroups(), 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.Serialize(&buf))

	got, err := Deserialize(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, s.NumNodes(), got.NumNodes())
	assert.Equal(t, s.NumDistinctColorSets(), got.NumDistinctColorSets())

	for n := int64(0); n < 4; n++ {
		want, err := s.GetColorSet(n)
		require.NoError(t, err)
		gotCS, err := got.GetColorSet(n)
		require.NoError(t, err)
		assert.Equal(t, want.AsSortedVector(), gotCS.AsSortedVector())
	}
}

func TestOpenLazyDecodesOnDemand(t *testing.T) {
	s, err := Build(4, exampleGroups(), 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.Serialize(&buf))
	data := buf.Bytes()

	lazy, err := Open(bytes.NewReader(data), int64(len(data)), 16)
	require.NoError(t, err)
	assert.Equal(t, 3, lazy.NumDistinctColorSets())

	cs0, err := lazy.GetColorSet(0)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2}, cs0.AsSortedVector())

	cs1, err := lazy.GetColorSet(1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, cs1.AsSortedVector())
}

func TestGetColorSetOutOfRange(t *testing.T) {
	s, err := Build(4, exampleGroups(), 1)
	require.NoError(t, err)
	_, err = s.GetColorSet(-1)
	assert.Error(t, err)
	_, err = s.GetColorSet(4)
	assert.Error(t, err)
}
