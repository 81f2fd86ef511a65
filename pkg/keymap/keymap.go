// Package keymap translates printable characters into simulated-keyboard HID
// usage codes and reports whether the shift modifier must be held.
package keymap

import (
	"strings"
	"unicode"
)

// ShiftCode is the HID usage code of the left shift key.
const ShiftCode uint32 = 225

// shiftedSymbols lists the symbols that are typed with shift held on a US layout.
const shiftedSymbols = "!@#$%^&*()_+{}|:\"<>?~"

// Key is the resolved keystroke for a character.
type Key struct {
	Code  uint32
	Shift bool
}

var base = map[rune]uint32{
	'a': 4, 'b': 5, 'c': 6, 'd': 7, 'e': 8, 'f': 9, 'g': 10, 'h': 11, 'i': 12,
	'j': 13, 'k': 14, 'l': 15, 'm': 16, 'n': 17, 'o': 18, 'p': 19, 'q': 20,
	'r': 21, 's': 22, 't': 23, 'u': 24, 'v': 25, 'w': 26, 'x': 27, 'y': 28,
	'z': 29,
	'1': 30, '2': 31, '3': 32, '4': 33, '5': 34, '6': 35, '7': 36, '8': 37,
	'9': 38, '0': 39,
	'\n': 40, '\t': 43, ' ': 44,
	'-': 45, '=': 46, '[': 47, ']': 48, '\\': 49, ';': 51, '\'': 52, '`': 53,
	',': 54, '.': 55, '/': 56,
}

// counterparts maps each shifted symbol to the unshifted key it shares a code with.
var counterparts = map[rune]rune{
	'!': '1', '@': '2', '#': '3', '$': '4', '%': '5', '^': '6', '&': '7',
	'*': '8', '(': '9', ')': '0', '_': '-', '+': '=', '{': '[', '}': ']',
	'|': '\\', ':': ';', '"': '\'', '<': ',', '>': '.', '?': '/', '~': '`',
}

var codes = buildCodes()

func buildCodes() map[rune]uint32 {
	table := make(map[rune]uint32, len(base)*2)
	for r, code := range base {
		table[r] = code
		if r >= 'a' && r <= 'z' {
			table[unicode.ToUpper(r)] = code
		}
	}
	for shifted, plain := range counterparts {
		table[shifted] = base[plain]
	}
	return table
}

// Lookup resolves a character. The second result is false for characters
// outside the table; callers skip those.
func Lookup(r rune) (Key, bool) {
	code, ok := codes[r]
	if !ok {
		return Key{}, false
	}
	return Key{Code: code, Shift: RequiresShift(r)}, true
}

// Supported reports whether r has a key code.
func Supported(r rune) bool {
	_, ok := codes[r]
	return ok
}

// RequiresShift classifies r independently of the code table.
func RequiresShift(r rune) bool {
	return unicode.IsUpper(r) || strings.ContainsRune(shiftedSymbols, r)
}

// Counterpart returns the character sharing r's key code on the other shift
// level, e.g. 'a' for 'A' and '1' for '!'.
func Counterpart(r rune) (rune, bool) {
	if plain, ok := counterparts[r]; ok {
		return plain, true
	}
	for shifted, plain := range counterparts {
		if plain == r {
			return shifted, true
		}
	}
	switch {
	case r >= 'a' && r <= 'z':
		return unicode.ToUpper(r), true
	case r >= 'A' && r <= 'Z':
		return unicode.ToLower(r), true
	}
	return 0, false
}

// Filter splits s into the runes that can be typed and those that would be skipped.
func Filter(s string) (typed []rune, skipped []rune) {
	for _, r := range s {
		if Supported(r) {
			typed = append(typed, r)
		} else {
			skipped = append(skipped, r)
		}
	}
	return typed, skipped
}
