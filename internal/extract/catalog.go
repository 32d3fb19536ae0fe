package extract

import (
	"regexp"
	"strings"
)

type catalog int

const (
	catalogBitkin catalog = iota
	catalogUzdenikov
	catalogIlyin
	catalogPetrov
	catalogSeverin
	catalogDyakov
	catalogKazakov
)

// catalogRe matches any catalog author name as a standalone word. The
// Uzdenikov pattern also accepts the common "Узденiков" misspelling.
var catalogRe = regexp.MustCompile(`(Биткин|Узден[иіi]ков|Ильин|Петров|Северин|Дьяков|Казаков)(?:[^\p{L}]|$)`)

func catalogFor(name string) catalog {
	switch {
	case strings.HasPrefix(name, "Биткин"):
		return catalogBitkin
	case strings.HasPrefix(name, "Узден"):
		return catalogUzdenikov
	case strings.HasPrefix(name, "Ильин"):
		return catalogIlyin
	case strings.HasPrefix(name, "Петров"):
		return catalogPetrov
	case strings.HasPrefix(name, "Северин"):
		return catalogSeverin
	case strings.HasPrefix(name, "Дьяков"):
		return catalogDyakov
	default:
		return catalogKazakov
	}
}

// applyCatalogs stores the reference that follows each catalog name, up to
// the next comma or the next catalog name.
func applyCatalogs(text string, b *Builder) {
	locs := catalogRe.FindAllStringSubmatchIndex(text, -1)
	for i, m := range locs {
		valueStart := m[3]
		valueEnd := len(text)
		if i+1 < len(locs) {
			valueEnd = locs[i+1][2]
		}
		if c := strings.IndexByte(text[valueStart:valueEnd], ','); c >= 0 {
			valueEnd = valueStart + c
		}
		value := strings.Trim(text[valueStart:valueEnd], " .:;-–—|#№")
		if b.SetCatalog(catalogFor(text[m[2]:m[3]]), value) {
			b.Claim("catalog", m[2], valueEnd)
		}
	}
}
