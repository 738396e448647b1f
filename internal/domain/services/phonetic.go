package services

import "strings"

// digraphs are checked before single letters; aspirated consonants collapse
// onto their plain counterpart so transliteration variants share a code.
var phoneticDigraphs = map[string]byte{
	"bh": '1', "ph": '1',
	"kh": '2', "gh": '2', "jh": '2', "ch": '2',
	"dh": '3', "th": '3',
	"sh": '7',
}

var phoneticLetters = map[byte]byte{
	'b': '1', 'f': '1', 'p': '1', 'v': '1',
	'c': '2', 'g': '2', 'j': '2', 'k': '2', 'q': '2', 'x': '2',
	'd': '3', 't': '3',
	'l': '4',
	'm': '5', 'n': '5',
	'r': '6',
	's': '7', 'z': '7',
}

// PhoneticCode returns a Soundex-style code for every word of s, joined by spaces.
// The first letter of each word is kept; vowels and h/w/y are dropped and
// adjacent duplicate codes collapse.
func PhoneticCode(s string) string {
	words := strings.Fields(strings.ToLower(s))
	codes := make([]string, 0, len(words))
	for _, w := range words {
		if c := phoneticWord(w); c != "" {
			codes = append(codes, c)
		}
	}
	return strings.Join(codes, " ")
}

func phoneticWord(w string) string {
	letters := make([]byte, 0, len(w))
	for i := 0; i < len(w); i++ {
		if w[i] >= 'a' && w[i] <= 'z' {
			letters = append(letters, w[i])
		}
	}
	if len(letters) == 0 {
		return ""
	}

	// Indian transliterations swap w/v freely
	first := letters[0]
	if first == 'w' {
		first = 'v'
	}

	var b strings.Builder
	b.WriteByte(first)
	var last byte
	for i := 0; i < len(letters); {
		var code byte
		step := 1
		if i+1 < len(letters) {
			if c, ok := phoneticDigraphs[string(letters[i:i+2])]; ok {
				code, step = c, 2
			}
		}
		if code == 0 {
			code = phoneticLetters[letters[i]]
		}
		if i > 0 && code != 0 && code != last {
			b.WriteByte(code)
		}
		if code != 0 || !isSoftLetter(letters[i]) {
			last = code
		}
		i += step
	}
	return b.String()
}

// isSoftLetter reports letters that neither code nor separate duplicates
func isSoftLetter(c byte) bool {
	return c == 'h' || c == 'w' || c == 'y'
}
