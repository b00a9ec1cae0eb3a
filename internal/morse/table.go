package morse

import (
	"fmt"
	"strings"
)

// SymbolSystem selects which code table is active for a session.
type SymbolSystem int

const (
	American SymbolSystem = iota
	International
)

func (s SymbolSystem) String() string {
	switch s {
	case American:
		return "american"
	case International:
		return "international"
	default:
		return fmt.Sprintf("symbolsystem(%d)", int(s))
	}
}

// ParseSymbolSystem maps configuration strings onto a SymbolSystem.
func ParseSymbolSystem(raw string) (SymbolSystem, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "american", "morse":
		return American, nil
	case "international", "cw":
		return International, nil
	default:
		return American, fmt.Errorf("%w: %q", ErrUnknownSymbolSystem, raw)
	}
}

// Code tables map characters onto element strings:
//
//	.  dot (one dot unit)
//	-  dash (3 dots)
//	=  long dash (6 dots, American L)
//	#  extra-long dash (9 dots, American zero)
//	space  internal space inside spaced American characters
//
// American Morse reuses the embedded-space characters C O R Y Z & that
// International later dropped.
var americanTable = map[rune]string{
	'A': ".-", 'B': "-...", 'C': ".. .", 'D': "-..", 'E': ".",
	'F': ".-.", 'G': "--.", 'H': "....", 'I': "..", 'J': "-.-.",
	'K': "-.-", 'L': "=", 'M': "--", 'N': "-.", 'O': ". .",
	'P': ".....", 'Q': "..-.", 'R': ". ..", 'S': "...", 'T': "-",
	'U': "..-", 'V': "...-", 'W': ".--", 'X': ".-..", 'Y': ".. ..",
	'Z': "... .",
	'1': ".--.", '2': "..-..", '3': "...-.", '4': "....-", '5': "---",
	'6': "......", '7': "--..", '8': "-....", '9': "-..-", '0': "#",
	'.': "..--..", ',': ".-.-", '?': "-..-.", '!': "---.",
	'&': ". ...", '=': "-...-",
}

var internationalTable = map[rune]string{
	'A': ".-", 'B': "-...", 'C': "-.-.", 'D': "-..", 'E': ".",
	'F': "..-.", 'G': "--.", 'H': "....", 'I': "..", 'J': ".---",
	'K': "-.-", 'L': ".-..", 'M': "--", 'N': "-.", 'O': "---",
	'P': ".--.", 'Q': "--.-", 'R': ".-.", 'S': "...", 'T': "-",
	'U': "..-", 'V': "...-", 'W': ".--", 'X': "-..-", 'Y': "-.--",
	'Z': "--..",
	'1': ".----", '2': "..---", '3': "...--", '4': "....-", '5': ".....",
	'6': "-....", '7': "--...", '8': "---..", '9': "----.", '0': "-----",
	'.': ".-.-.-", ',': "--..--", '?': "..--..", '/': "-..-.",
	'=': "-...-", '\'': ".----.", '!': "-.-.--", '&': ".-...",
	':': "---...", '@': ".--.-.", '-': "-....-",
}

// Table is the bidirectional character/element mapping for one symbol
// system. Immutable after construction.
type Table struct {
	system SymbolSystem
	encode map[rune]string
	decode map[string]rune
	spaced bool // table contains embedded-space codes
}

var tables = map[SymbolSystem]*Table{
	American:      newTable(American, americanTable),
	International: newTable(International, internationalTable),
}

func newTable(system SymbolSystem, encode map[rune]string) *Table {
	t := &Table{
		system: system,
		encode: encode,
		decode: make(map[string]rune, len(encode)),
	}
	for ch, code := range encode {
		t.decode[code] = ch
		if strings.ContainsRune(code, ' ') {
			t.spaced = true
		}
	}
	return t
}

// TableFor returns the code table for a symbol system.
func TableFor(system SymbolSystem) *Table { return tables[system] }

func (t *Table) System() SymbolSystem { return t.system }

// Lookup returns the element string for a character, upper-casing on the
// way in. The second result is false for unmapped characters.
func (t *Table) Lookup(ch rune) (string, bool) {
	code, ok := t.encode[upper(ch)]
	return code, ok
}

// Reverse returns the character for an element pattern accumulated by the
// decoder. The second result is false when no character matches.
func (t *Table) Reverse(pattern string) (rune, bool) {
	ch, ok := t.decode[pattern]
	return ch, ok
}

// HasSpacedPrefix reports whether pattern is a strict prefix of any
// embedded-space code in the table. The decoder uses this to decide if an
// internal gap can continue the current character.
func (t *Table) HasSpacedPrefix(pattern string) bool {
	if !t.spaced || !strings.ContainsRune(pattern, ' ') {
		return false
	}
	for code := range t.decode {
		if len(code) > len(pattern) && strings.HasPrefix(code, pattern) {
			return true
		}
	}
	return false
}

func upper(ch rune) rune {
	if ch >= 'a' && ch <= 'z' {
		return ch - 'a' + 'A'
	}
	return ch
}
