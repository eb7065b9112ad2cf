package aggregate_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/meshcast/meshcast/internal/aggregate"
)

func TestMedianEmpty(t *testing.T) {
	a := aggregate.New[int]()
	_, ok := a.Median()
	require.False(t, ok)
}

func TestMedianSingle(t *testing.T) {
	a := aggregate.New[int]()
	a.Observe(42)
	m, ok := a.Median()
	require.True(t, ok)
	require.Equal(t, 42, m)
}

func TestMedianMatchesLastWindow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 200).Draw(rt, "n")
		samples := rapid.SliceOfN(rapid.IntRange(-1000, 1000), n, n).Draw(rt, "samples")

		a := aggregate.New[int]()
		for _, s := range samples {
			a.Observe(s)
		}

		window := samples
		if len(window) > 64 {
			window = window[len(window)-64:]
		}
		sorted := append([]int(nil), window...)
		sort.Ints(sorted)
		want := sorted[len(sorted)/2]

		got, ok := a.Median()
		require.True(rt, ok)
		require.Equal(rt, want, got)
		require.Equal(rt, len(window), a.Count())
	})
}

func TestCountCapsAtRingSize(t *testing.T) {
	a := aggregate.New[int]()
	for i := 0; i < 200; i++ {
		a.Observe(i)
	}
	require.Equal(t, 64, a.Count())
}
