package domaingen

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeterministic(t *testing.T) {
	cfg := Config{
		PatternType:    PatternPrefix,
		ConstantPart:   "shop",
		VariableLength: 2,
		CharacterSet:   "ab",
		TLD:            "com",
	}
	g, err := New(cfg)
	require.NoError(t, err)
	require.EqualValues(t, 4, g.Total())

	domains, newOffset, exhausted, err := g.Generate(0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"shopaa.com", "shopab.com", "shopba.com", "shopbb.com"}, domains)
	assert.EqualValues(t, 4, newOffset)
	assert.True(t, exhausted)

	// Same config, same offsets, same domains.
	g2, err := New(cfg)
	require.NoError(t, err)
	again, _, _, err := g2.Generate(0, 10)
	require.NoError(t, err)
	assert.Equal(t, domains, again)
	assert.Equal(t, g.Hash(), g2.Hash())
}

func TestGenerateResumeNeverRepeatsOffsets(t *testing.T) {
	g, err := New(Config{
		PatternType:    PatternSuffix,
		ConstantPart:   "mail",
		VariableLength: 3,
		CharacterSet:   "abc",
		TLD:            "net",
	})
	require.NoError(t, err)

	seen := make(map[string]struct{})
	offset := int64(0)
	for {
		domains, next, exhausted, err := g.Generate(offset, 7)
		require.NoError(t, err)
		require.Greater(t, next, offset, "offset must always advance")
		for _, d := range domains {
			_, dup := seen[d]
			require.False(t, dup, "domain %s emitted twice", d)
			seen[d] = struct{}{}
		}
		offset = next
		if exhausted {
			break
		}
	}
	assert.EqualValues(t, g.Total(), int64(len(seen)))
}

func TestGenerateCapsAtTotalCombinations(t *testing.T) {
	// 10 combinations, request 50: exactly 10 domains, exhausted.
	g, err := New(Config{
		PatternType:    PatternPrefix,
		ConstantPart:   "x",
		VariableLength: 1,
		CharacterSet:   "0123456789",
		TLD:            "org",
	})
	require.NoError(t, err)
	require.EqualValues(t, 10, g.Total())

	domains, newOffset, exhausted, err := g.Generate(0, 50)
	require.NoError(t, err)
	assert.Len(t, domains, 10)
	assert.EqualValues(t, 10, newOffset)
	assert.True(t, exhausted)
}

func TestEmptySpaces(t *testing.T) {
	for name, cfg := range map[string]Config{
		"empty charset": {PatternType: PatternPrefix, ConstantPart: "a", VariableLength: 3, CharacterSet: "", TLD: "com"},
		"zero length":   {PatternType: PatternSuffix, ConstantPart: "a", VariableLength: 0, CharacterSet: "abc", TLD: "com"},
	} {
		t.Run(name, func(t *testing.T) {
			g, err := New(cfg)
			require.NoError(t, err)
			assert.EqualValues(t, 0, g.Total())

			domains, _, exhausted, err := g.Generate(0, 5)
			require.NoError(t, err)
			assert.Empty(t, domains)
			assert.True(t, exhausted)
		})
	}
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{PatternType: "sideways", TLD: "com"})
	assert.Error(t, err)

	_, err = New(Config{PatternType: PatternPrefix, VariableLength: 1, CharacterSet: "ab", TLD: ""})
	assert.Error(t, err)

	_, err = New(Config{PatternType: PatternPrefix, VariableLength: -1, CharacterSet: "ab", TLD: "com"})
	assert.Error(t, err)
}

func TestBothPatternSplitsVariableSection(t *testing.T) {
	g, err := New(Config{
		PatternType:    PatternBoth,
		ConstantPart:   "mid",
		VariableLength: 1,
		CharacterSet:   "xy",
		TLD:            "io",
	})
	require.NoError(t, err)
	require.EqualValues(t, 4, g.Total())

	domains, _, _, err := g.Generate(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"xmidx.io", "xmidy.io", "ymidx.io", "ymidy.io"}, domains)
}

func TestHashNormalization(t *testing.T) {
	a, err := New(Config{PatternType: PatternPrefix, ConstantPart: "Go", VariableLength: 2, CharacterSet: "aab", TLD: ".COM"})
	require.NoError(t, err)
	b, err := New(Config{PatternType: PatternPrefix, ConstantPart: "go", VariableLength: 2, CharacterSet: "ab", TLD: "com"})
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), b.Hash())

	c, err := New(Config{PatternType: PatternSuffix, ConstantPart: "go", VariableLength: 2, CharacterSet: "ab", TLD: "com"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestTotalCombinationsSaturates(t *testing.T) {
	g, err := New(Config{
		PatternType:    PatternPrefix,
		ConstantPart:   "",
		VariableLength: 63,
		CharacterSet:   "abcdefghijklmnopqrstuvwxyz0123456789",
		TLD:            "com",
	})
	require.NoError(t, err)
	assert.EqualValues(t, int64(math.MaxInt64), g.Total())
}
