package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/numisdata/lotvalue/internal/model"
)

// Rule populates zero or more fields from normalized text. Rules run in a
// fixed order and never overwrite a field set by an earlier rule.
type Rule struct {
	Name  string
	Apply func(text string, b *Builder)
}

// DefaultRules returns the extraction cascade, highest priority first.
//
// Denomination and mintage must precede year so a leading "1000" or a
// "тираж 1800" is never read as a year, and the weight rules run from most to
// least specific vocabulary so that "чистого серебра 20 г" is not consumed by
// the bare grams rule. Category reads the metal and letters and runs last.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "denomination", Apply: applyDenomination},
		{Name: "metal", Apply: applyMetal},
		{Name: "mintage", Apply: applyMintage},
		{Name: "year", Apply: applyYear},
		{Name: "mint", Apply: applyMint},
		{Name: "letters", Apply: applyLetters},
		{Name: "mint_from_letters", Apply: applyMintFromLetters},
		{Name: "coin_name", Apply: applyCoinName},
		{Name: "condition", Apply: applyCondition},
		{Name: "rarity", Apply: applyRarity},
		{Name: "fineness", Apply: applyFineness},
		{Name: "pure_weight", Apply: applyPureWeight},
		{Name: "coin_weight", Apply: applyCoinWeight},
		{Name: "metal_weight", Apply: applyMetalWeight},
		{Name: "gram_weight", Apply: applyGramWeight},
		{Name: "ounce_weight", Apply: applyOunceWeight},
		{Name: "catalogs", Apply: applyCatalogs},
		{Name: "country_explicit", Apply: applyCountryExplicit},
		{Name: "country_currency", Apply: applyCountryCurrency},
		{Name: "category", Apply: applyCategory},
	}
}

var (
	denominationRe = regexp.MustCompile(`^(\d+/\d+|\d+(?:[.,]\d+)?)(?:[^\d\p{L}]|$)`)
	ounceAfterRe   = regexp.MustCompile(`^\s?oz(?:[^\p{L}]|$)`)
	yearMarkerRe   = regexp.MustCompile(`^\s?(?:г(?:[^\p{L}]|$)|гг|год)`)
	numberRe       = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	metalRe        = regexp.MustCompile(`(?:^|[^\p{L}])(Ag|Au|Cu|Br|Ni|Fe|Pb|Sn|Zn|Pt|Pd)(?:[^\p{L}]|$)`)
	mintPhraseRe   = regexp.MustCompile(`(?i)([\p{L}-]+\s+монетн\p{L}*\s+двор\p{L}*)`)
	wordRe         = regexp.MustCompile(`\p{L}+`)
	mintageRe      = regexp.MustCompile(`(?i)тираж\p{L}*\s*[-–—:]?\s*(\d{1,3}(?:[\s.,]\d{3})+|\d+)(?:[^\d]|$)`)
	numberLabelRe  = regexp.MustCompile(`(?i)(?:тираж\p{L}*|Биткин|Узден[иіi]ков|Ильин|Петров|Северин|Дьяков|Казаков)[\s:.#№-]*$`)
	conditionRe    = regexp.MustCompile(`(?:^|[^\p{L}\d])((?:MS|PF|PR|AU|XF|VF|UNC|PL|Proof|Gem|F)(?:\s?\d{1,2})?[+-]?(?:/(?:MS|AU|XF|VF|UNC|F)(?:\s?\d{1,2})?[+-]?)?(?:\s?(?:ULTRA\s+CAMEO|DCAM|CAMEO|DPL|PL|RB|BN|RD))?)(?:[^\p{L}\d]|$)`)
	rarityRe       = regexp.MustCompile(`(?:^|[^\p{L}])(R{1,3})(?:[^\p{L}\d]|$)`)
	finenessPreRe  = regexp.MustCompile(`(?i)(?:^|[^\d.,])(\d{3,4})(?:-?\p{L}{1,2})?\s*проб\p{L}*`)
	finenessPostRe = regexp.MustCompile(`(?i)проб\p{L}*\s*[-–—:]?\s*(0[.,]\d{2,4}|\d{3,4})(?:[^\d]|$)`)
	pureWeightRe   = regexp.MustCompile(`(?i)(?:чист\p{L}*|содержани\p{L}*)(?:\s+\p{L}+)?\s*[-–—:]?\s*(\d+(?:[.,]\d+)?)\s?г(?:[^\p{L}]|$)`)
	coinWeightRe   = regexp.MustCompile(`(?i)вес\p{L}*\s*[-–—:]?\s*(?:около\s+|~\s*)?(\d+(?:[.,]\d+)?)\s?г(?:[^\p{L}]|$)`)
	metalWeightRe  = regexp.MustCompile(`(?:^|[^\p{L}])(?:Ag|Au|Cu|Br|Ni|Fe|Pb|Sn|Zn|Pt|Pd)\.?\s+(\d+[.,]\d+)(?:\s?г)?(?:[^\d]|$)`)
	gramWeightRe   = regexp.MustCompile(`(?:^|[^\d.,])(\d+(?:[.,]\d+)?)\s?г(?:[^\p{L}]|$)`)
	ounceWeightRe  = regexp.MustCompile(`(?:^|[^\d.,/])(\d+/\d+|\d+(?:[.,]\d+)?)\s?oz(?:[^\p{L}]|$)`)
	currencyRe     = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:рубл|копе|руб(?:[^\p{L}]|$)|коп(?:[^\p{L}]|$))`)
)

// Coin weights outside this range are treated as misreads.
const (
	minCoinWeight = 0.1
	maxCoinWeight = 1000.0
)

func applyDenomination(text string, b *Builder) {
	m := denominationRe.FindStringSubmatchIndex(text)
	if m == nil {
		return
	}
	// A description that opens with "1897 г." starts with a year.
	if yearMarkerRe.MatchString(text[m[3]:]) {
		return
	}
	// "1/2 oz" is a bullion weight, not a face value.
	if strings.Contains(text[m[2]:m[3]], "/") && ounceAfterRe.MatchString(text[m[3]:]) {
		return
	}
	if b.SetDenomination(strings.ReplaceAll(text[m[2]:m[3]], ",", ".")) {
		b.Claim("denomination", m[2], m[3])
	}
}

func applyMetal(text string, b *Builder) {
	m := metalRe.FindStringSubmatchIndex(text)
	if m == nil {
		return
	}
	if b.SetMetal(model.Metal(text[m[2]:m[3]])) {
		b.Claim("metal", m[2], m[3])
	}
}

// applyYear prefers a 4-digit token followed by a year marker ("г.", "года")
// and falls back to any free-standing 4-digit token. Dating ranges such as
// "1866-1877 гг." describe a period, not a year, and are skipped, as are
// numbers labelled as a mintage or a catalog reference.
func applyYear(text string, b *Builder) {
	var marked, bare []span
	for _, loc := range numberRe.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if end-start != 4 || b.Claimed(start, end) || isRange(text, start, end) {
			continue
		}
		if numberLabelRe.MatchString(text[:start]) {
			continue
		}
		if yearMarkerRe.MatchString(text[end:]) {
			marked = append(marked, span{start, end})
		} else {
			bare = append(bare, span{start, end})
		}
	}
	for _, s := range append(marked, bare...) {
		year, err := strconv.Atoi(text[s.start:s.end])
		if err != nil {
			continue
		}
		if b.SetYear(year) {
			b.Claim("year", s.start, s.end)
			return
		}
	}
}

func isRange(text string, start, end int) bool {
	before := strings.TrimRight(text[:start], " ")
	if strings.HasSuffix(before, "-") || strings.HasSuffix(before, "–") {
		return true
	}
	after := strings.TrimLeft(text[end:], " ")
	for _, dash := range []string{"-", "–"} {
		if rest, ok := strings.CutPrefix(after, dash); ok {
			rest = strings.TrimLeft(rest, " ")
			if r, _ := utf8.DecodeRuneInString(rest); unicode.IsDigit(r) {
				return true
			}
		}
	}
	return false
}

// applyCoinName takes the text after the denomination up to the year, the
// metal code, the mint letters or the first sentence break. The name is a
// residual description, so it claims no text.
func applyCoinName(text string, b *Builder) {
	start := 0
	if _, end, ok := b.Span("denomination"); ok {
		start = end
	}
	end := len(text)
	for _, field := range []string{"year", "metal", "letters"} {
		if s, _, ok := b.Span(field); ok && s >= start && s < end {
			end = s
		}
	}
	if i := strings.IndexAny(text[start:end], ".,|("); i >= 0 {
		end = start + i
	}
	b.SetCoinName(strings.Trim(text[start:end], " -–—:;"))
}

func applyMint(text string, b *Builder) {
	m := mintPhraseRe.FindStringSubmatchIndex(text)
	if m == nil {
		return
	}
	if b.SetMint(strings.TrimSpace(text[m[2]:m[3]])) {
		b.Claim("mint", m[2], m[3])
	}
}

// letterStopwords are all-caps Cyrillic tokens that are not mint marks.
var letterStopwords = map[string]bool{
	"СССР": true, "РСФСР": true, "США": true, "ГДР": true, "ФРГ": true,
	"ЮАР": true, "ОАЭ": true, "КНР": true, "РФ": true, "ЦБ": true, "ЧСР": true,
}

// applyLetters finds the first run of mintmaster initials: standalone
// uppercase Cyrillic tokens of 2-4 letters after the year (or after the
// denomination when there is no year). Adjacent tokens are kept together,
// e.g. "СПБ НI".
func applyLetters(text string, b *Builder) {
	from := 0
	if _, end, ok := b.Span("denomination"); ok {
		from = end
	}
	if _, end, ok := b.Span("year"); ok {
		from = end
	}

	runStart, runEnd := -1, -1
	for _, loc := range wordRe.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start < from || b.Claimed(start, end) {
			continue
		}
		if !isMintMark(text[start:end]) {
			if runStart >= 0 {
				break
			}
			continue
		}
		if runStart >= 0 && strings.Trim(text[runEnd:start], " -") != "" {
			break
		}
		if runStart < 0 {
			runStart = start
		}
		runEnd = end
	}
	if runStart < 0 {
		return
	}
	if b.SetLetters(text[runStart:runEnd]) {
		b.Claim("letters", runStart, runEnd)
	}
}

func isMintMark(tok string) bool {
	n := utf8.RuneCountInString(tok)
	if n < 2 || n > 4 || letterStopwords[tok] {
		return false
	}
	for i, r := range tok {
		cyr := unicode.Is(unicode.Cyrillic, r) && unicode.IsUpper(r)
		if i == 0 && !cyr {
			return false
		}
		// Old mint marks use the dotted I, typed as Latin or Ukrainian.
		if !cyr && r != 'I' && r != 'І' {
			return false
		}
	}
	return true
}

// mintMarks maps mint-identifying letters to the mint name.
var mintMarks = map[string]string{
	"ЛМД":  "Ленинградский монетный двор",
	"ММД":  "Московский монетный двор",
	"СПМД": "Санкт-Петербургский монетный двор",
	"СПМ":  "Санкт-Петербургский монетный двор",
	"ЕМ":   "Екатеринбургский монетный двор",
	"КМ":   "Колыванский монетный двор",
	"ВМ":   "Варшавский монетный двор",
}

func applyMintFromLetters(_ string, b *Builder) {
	letters := b.Attributes().Letters
	if letters == "" {
		return
	}
	for _, tok := range strings.FieldsFunc(letters, func(r rune) bool { return r == ' ' || r == '-' }) {
		if name, ok := mintMarks[tok]; ok {
			b.SetMint(name)
			return
		}
	}
}

func applyMintage(text string, b *Builder) {
	m := mintageRe.FindStringSubmatchIndex(text)
	if m == nil || b.Claimed(m[2], m[3]) {
		return
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, text[m[2]:m[3]])
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return
	}
	if b.SetMintage(v) {
		b.Claim("mintage", m[2], m[3])
	}
}

// applyCondition recognises grade tokens such as "MS 64 RB", "PF70 ULTRA
// CAMEO" or "XF+/AU" and stores them with all whitespace removed.
func applyCondition(text string, b *Builder) {
	for _, m := range conditionRe.FindAllStringSubmatchIndex(text, -1) {
		if b.Claimed(m[2], m[3]) {
			continue
		}
		grade := strings.Join(strings.Fields(text[m[2]:m[3]]), "")
		if b.SetCondition(grade) {
			b.Claim("condition", m[2], m[3])
		}
		return
	}
}

func applyRarity(text string, b *Builder) {
	for _, m := range rarityRe.FindAllStringSubmatchIndex(text, -1) {
		if b.Claimed(m[2], m[3]) {
			continue
		}
		if b.SetRarity(text[m[2]:m[3]]) {
			b.Claim("rarity", m[2], m[3])
		}
		return
	}
}

// applyFineness reads "925 пробы", "проба 900" or "проба 0.900".
func applyFineness(text string, b *Builder) {
	for _, re := range []*regexp.Regexp{finenessPreRe, finenessPostRe} {
		m := re.FindStringSubmatchIndex(text)
		if m == nil || b.Claimed(m[2], m[3]) {
			continue
		}
		v, ok := parseFineness(text[m[2]:m[3]])
		if !ok {
			continue
		}
		if b.SetFineness(v) {
			b.Claim("fineness", m[2], m[3])
			return
		}
	}
}

func parseFineness(s string) (float64, bool) {
	if strings.HasPrefix(s, "0") && len(s) > 1 && (s[1] == '.' || s[1] == ',') {
		v, err := parseDecimal(s)
		return v, err == nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	switch len(s) {
	case 3:
		return float64(n) / 1000, true
	case 4:
		return float64(n) / 10000, true
	}
	return 0, false
}

func applyPureWeight(text string, b *Builder) {
	applyWeight(text, b, pureWeightRe, "pure_weight", b.SetPureMetalWeight)
}

func applyCoinWeight(text string, b *Builder) {
	applyWeight(text, b, coinWeightRe, "coin_weight", b.SetCoinWeight)
}

// applyMetalWeight reads the "Au 7,74" convention where the gross weight
// follows the metal code.
func applyMetalWeight(text string, b *Builder) {
	applyWeight(text, b, metalWeightRe, "coin_weight", b.SetCoinWeight)
}

func applyGramWeight(text string, b *Builder) {
	applyWeight(text, b, gramWeightRe, "coin_weight", b.SetCoinWeight)
}

func applyWeight(text string, b *Builder, re *regexp.Regexp, field string, set func(float64) bool) {
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		if b.Claimed(m[2], m[3]) {
			continue
		}
		v, err := parseDecimal(text[m[2]:m[3]])
		if err != nil || v < minCoinWeight || v > maxCoinWeight {
			continue
		}
		if set(v) {
			b.Claim(field, m[2], m[3])
		}
		return
	}
}

func applyOunceWeight(text string, b *Builder) {
	for _, m := range ounceWeightRe.FindAllStringSubmatchIndex(text, -1) {
		if b.Claimed(m[2], m[3]) {
			continue
		}
		v, err := parseOunces(text[m[2]:m[3]])
		if err != nil || v <= 0 {
			continue
		}
		if b.SetWeightOz(v) {
			b.Claim("weight_oz", m[2], m[3])
		}
		return
	}
}

func parseOunces(s string) (float64, error) {
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, err
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil || d == 0 {
			return 0, strconv.ErrSyntax
		}
		return n / d, nil
	}
	return parseDecimal(s)
}

func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

// applyCountryExplicit picks the earliest country name stated in the text.
func applyCountryExplicit(text string, b *Builder) {
	bestStart, bestEnd := -1, -1
	best := ""
	for _, c := range countries {
		for _, loc := range c.re.FindAllStringSubmatchIndex(text, -1) {
			if b.Claimed(loc[2], loc[3]) {
				continue
			}
			if bestStart < 0 || loc[2] < bestStart {
				bestStart, bestEnd, best = loc[2], loc[3], c.name
			}
			break
		}
	}
	if best != "" && b.SetCountry(best, false) {
		b.Claim("country", bestStart, bestEnd)
	}
}

// applyCountryCurrency is a low-confidence heuristic: rouble or kopeck
// vocabulary suggests Russia. Other issuers have used the same unit names,
// so the result is flagged as inferred and never replaces a stated country.
func applyCountryCurrency(text string, b *Builder) {
	if b.Attributes().Country != "" {
		return
	}
	if currencyRe.MatchString(text) {
		b.SetCountry(countryRussia, true)
	}
}
