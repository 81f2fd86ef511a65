package keymap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupLetters(t *testing.T) {
	key, ok := Lookup('a')
	require.True(t, ok)
	assert.Equal(t, Key{Code: 4, Shift: false}, key)

	key, ok = Lookup('Z')
	require.True(t, ok)
	assert.Equal(t, Key{Code: 29, Shift: true}, key)
}

func TestCounterpartsShareCodes(t *testing.T) {
	for r := range codes {
		other, ok := Counterpart(r)
		if !ok {
			continue
		}
		a, okA := Lookup(r)
		b, okB := Lookup(other)
		require.True(t, okA, "lookup %q", r)
		require.True(t, okB, "lookup counterpart %q of %q", other, r)
		assert.Equal(t, a.Code, b.Code, "%q and %q should share a code", r, other)
		assert.NotEqual(t, a.Shift, b.Shift, "%q and %q should differ in shift", r, other)
	}
}

func TestDocumentedPairs(t *testing.T) {
	pairs := [][2]rune{{'a', 'A'}, {'1', '!'}, {'2', '@'}, {'-', '_'}, {'/', '?'}, {'`', '~'}, {'\'', '"'}}
	for _, pair := range pairs {
		a, _ := Lookup(pair[0])
		b, _ := Lookup(pair[1])
		assert.Equal(t, a.Code, b.Code, "%q vs %q", pair[0], pair[1])
	}
}

func TestShiftedSymbolsRequireShift(t *testing.T) {
	for _, r := range shiftedSymbols {
		key, ok := Lookup(r)
		require.True(t, ok, "%q missing from table", r)
		assert.True(t, key.Shift, "%q should need shift", r)
	}
	for _, r := range "az09 -=\n\t" {
		key, ok := Lookup(r)
		require.True(t, ok)
		assert.False(t, key.Shift, "%q should not need shift", r)
	}
}

func TestWhitespaceCodes(t *testing.T) {
	enter, _ := Lookup('\n')
	tab, _ := Lookup('\t')
	space, _ := Lookup(' ')
	assert.Equal(t, uint32(40), enter.Code)
	assert.Equal(t, uint32(43), tab.Code)
	assert.Equal(t, uint32(44), space.Code)
}

func TestUnsupportedCharacters(t *testing.T) {
	for _, r := range "é€😀ß" {
		_, ok := Lookup(r)
		assert.False(t, ok, "%q should be unsupported", r)
	}
}

func TestFilter(t *testing.T) {
	typed, skipped := Filter("abéc")
	assert.Equal(t, []rune{'a', 'b', 'c'}, typed)
	assert.Equal(t, []rune{'é'}, skipped)
}
