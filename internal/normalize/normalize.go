// Package normalize cleans raw lot description text before attribute extraction.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	// Gram abbreviations directly after a number. The trailing group keeps the
	// match from eating into a longer word such as "градус".
	gramRe = regexp.MustCompile(`(\d)\s*(?:граммов|грамма|грамм|гр)\.?([^\p{L}]|$)`)
	// Troy ounce spellings after a number.
	ounceRe = regexp.MustCompile(`(\d)\s*(?:унций|унции|унция|унц|oz)\.?([^\p{L}]|$)`)
)

// latinToCyrillic maps Latin letters to their Cyrillic look-alikes.
var latinToCyrillic = map[rune]rune{
	'A': 'А', 'B': 'В', 'E': 'Е', 'K': 'К', 'M': 'М', 'H': 'Н', 'O': 'О',
	'P': 'Р', 'C': 'С', 'T': 'Т', 'X': 'Х', 'Y': 'У',
	'a': 'а', 'e': 'е', 'o': 'о', 'p': 'р', 'c': 'с', 'x': 'х', 'y': 'у',
}

var cyrillicToLatin = func() map[rune]rune {
	m := make(map[rune]rune, len(latinToCyrillic))
	for l, c := range latinToCyrillic {
		m[c] = l
	}
	return m
}()

// latinVocabulary holds the Latin tokens extraction depends on: metal codes
// and grade prefixes. A tied mixed-script token that spells one of them is
// rewritten to Latin.
var latinVocabulary = map[string]bool{
	"Ag": true, "Au": true, "Cu": true, "Br": true, "Ni": true, "Fe": true,
	"Pb": true, "Sn": true, "Zn": true, "Pt": true, "Pd": true,
	"MS": true, "PF": true, "PR": true, "AU": true, "XF": true, "VF": true,
	"UNC": true, "PL": true, "RB": true, "BN": true, "RD": true, "DPL": true,
	"DCAM": true, "CAMEO": true, "Proof": true, "Gem": true,
}

// Normalize collapses whitespace, unifies unit abbreviations and repairs
// words that mix Cyrillic and Latin look-alike letters. Letter case is kept.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	s = fixConfusables(s)
	s = gramRe.ReplaceAllString(s, "${1} г${2}")
	s = ounceRe.ReplaceAllString(s, "${1} oz${2}")
	return strings.TrimSpace(s)
}

// fixConfusables rewrites each alphanumeric token that mixes scripts into the
// dominant script. Ties are resolved toward Latin for tokens carrying a digit
// (grade tokens like "МS64") or spelling a metal code or grade ("Аg", "ХF");
// other ties are left alone because mintmaster marks such as "НI"
// legitimately mix scripts.
func fixConfusables(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runes := []rune(s)
	for i := 0; i < len(runes); {
		if !isWordRune(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && isWordRune(runes[j]) {
			j++
		}
		b.WriteString(string(fixToken(runes[i:j])))
		i = j
	}
	return b.String()
}

func fixToken(tok []rune) []rune {
	var cyr, lat int
	var digit bool
	for _, r := range tok {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyr++
		case unicode.Is(unicode.Latin, r):
			lat++
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if cyr == 0 || lat == 0 {
		return tok
	}

	switch {
	case cyr > lat:
		return convert(tok, latinToCyrillic, unicode.Latin)
	case lat > cyr, digit:
		return convert(tok, cyrillicToLatin, unicode.Cyrillic)
	}
	if out := convert(tok, cyrillicToLatin, unicode.Cyrillic); latinVocabulary[string(out)] {
		return out
	}
	return tok
}

// convert maps every letter of script from through table. A letter without a
// look-alike means the mix is real and tok is returned unchanged.
func convert(tok []rune, table map[rune]rune, from *unicode.RangeTable) []rune {
	out := make([]rune, len(tok))
	for i, r := range tok {
		if !unicode.Is(from, r) {
			out[i] = r
			continue
		}
		mapped, ok := table[r]
		if !ok {
			return tok
		}
		out[i] = mapped
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
