package extract

import (
	"regexp"
	"strings"

	"github.com/numisdata/lotvalue/internal/model"
)

// categoryVocabulary holds lowercase word stems that vote for a category
// and stems that vote against it. Each stem counts once per text.
type categoryVocabulary struct {
	keywords []string
	negative []string
}

var categoryVocabularies = map[model.Category]categoryVocabulary{
	model.CategoryCoin: {
		keywords: []string{
			"монета", "монет", "монеты", "монету", "монетой",
			"рубль", "рублей", "рубля", "рублем", "рубле", "рубл",
			"копейка", "копеек", "копейки", "копейкой",
			"доллар", "долларов", "доллара", "долларом",
			"евро", "франк", "марка", "лира", "песо", "центов", "цент",
			"аверс", "реверс", "гурт", "чеканка", "тираж",
			"серебро", "золото", "медь", "бронза", "платина",
			"император", "царь", "царская", "царские",
			"советский", "советская", "советские",
			"российский", "российская", "российские",
			"монетный двор", "спмд", "лмд", "ммд", "екатеринбург",
			"полтина", "полтинник", "гривенник", "алтын", "деньга",
		},
		negative: []string{"банкнот", "купюр", "жетон", "медаль", "орден", "знак", "бумага"},
	},
	model.CategoryBanknote: {
		keywords: []string{
			"банкнот", "банкнота", "банкноты", "банкноту", "банкнотой",
			"купюр", "купюра", "купюры", "купюру", "купюрой",
			"денежн", "деньги", "денег", "деньгами",
			"рублев", "долларов", "евро", "франков",
			"государственн", "казначейск", "эмиссионн",
		},
		negative: []string{"монет", "жетон", "медаль", "орден"},
	},
	model.CategoryToken: {
		keywords: []string{
			"жетон", "жетона", "жетоны", "жетону", "жетоном", "жетонов", "жетонами",
			"марка", "марки", "марку", "маркой",
			"пластинка", "пластинки", "пластинку", "пластинкой",
			"металлическ", "кругл", "квадратн",
		},
		negative: []string{"монет", "банкнот", "медаль", "орден"},
	},
	model.CategoryMedal: {
		keywords: []string{
			"медаль", "медали", "медалью", "медалями",
			"медальон", "медальона", "медальоны", "медальоном",
			"памятн", "юбилейн", "наградн",
			"чеканк", "отливк", "штамповк",
		},
		negative: []string{"монет", "банкнот", "жетон", "орден"},
	},
	model.CategoryBadge: {
		keywords: []string{
			"орден", "ордена", "орденом", "орденами",
			"знак", "знака", "знаки", "знаком", "знаками",
			"наград", "награда", "награды", "наградой", "наградами",
			"значок", "значка", "значки", "значком", "значками",
			"эмаль", "эмали", "эмалью", "эмалями",
			"финифт", "финифти", "финифтью",
		},
		negative: []string{"монет", "банкнот", "жетон", "медаль"},
	},
	model.CategoryJewelry: {
		keywords: []string{
			"кольцо", "кольца", "кольцом", "кольцами",
			"серьги", "серьгами", "серьгой",
			"браслет", "браслета", "браслеты", "браслетом", "браслетами",
			"цепочка", "цепочки", "цепочку", "цепочкой", "цепочками",
			"кулон", "кулона", "кулоны", "кулоном", "кулонами",
			"подвеска", "подвески", "подвеску", "подвеской", "подвесками",
			"ювелирн", "драгоценн", "украшен",
		},
		negative: []string{"монет", "банкнот", "жетон", "медаль", "орден"},
	},
}

// Field weights: the description carries the most signal, the extracted
// letters and metal code less.
const (
	descriptionWeight = 1.0
	lettersWeight     = 0.8
	metalWeight       = 0.4

	negativePenalty = 2.0
	// minCategoryScore is the score the best category needs to be assigned.
	minCategoryScore = 1.0
)

var (
	denominationWordRe = regexp.MustCompile(`\d+\s*(?:рубл|копе|доллар|евро|франк|марк|лир|песо|цент)`)
	coinMintMarks      = []string{"спмд", "лмд", "ммд", "екатеринбург", "московский"}
	jewelryTerms       = []string{"кольцо", "серьги", "браслет", "цепочка", "кулон", "подвеска"}
)

// applyCategory scores every category by keyword votes over the text and
// the letters, adds the fixed signals below and keeps the best category
// scoring at least minCategoryScore. It reads the metal and letters, so it
// runs after those rules.
func applyCategory(text string, b *Builder) {
	lower := strings.ToLower(text)
	a := b.Attributes()
	letters := strings.ToLower(a.Letters)

	scores := make(map[model.Category]float64, len(model.Categories))
	for _, c := range model.Categories {
		scores[c] = keywordScore(lower, categoryVocabularies[c]) * descriptionWeight
		if letters != "" {
			scores[c] += keywordScore(letters, categoryVocabularies[c]) * lettersWeight
		}
	}
	if a.Metal != "" {
		scores[model.CategoryCoin] += metalWeight
	}

	if a.Metal != "" && denominationWordRe.MatchString(lower) {
		scores[model.CategoryCoin] += 2
	}
	if containsAny(letters, coinMintMarks) || containsAny(strings.ToLower(a.Mint), coinMintMarks) {
		scores[model.CategoryCoin] += 1.5
	}
	if strings.Contains(lower, "бумага") || strings.Contains(lower, "бумажн") {
		scores[model.CategoryBanknote] += 2
		scores[model.CategoryCoin]--
	}
	if strings.Contains(lower, "жетон") {
		scores[model.CategoryToken] += 3
	}
	if strings.Contains(lower, "медаль") {
		scores[model.CategoryMedal] += 3
	}
	if strings.Contains(lower, "орден") || strings.Contains(lower, "знак") {
		scores[model.CategoryBadge] += 2
	}
	if containsAny(lower, jewelryTerms) {
		scores[model.CategoryJewelry] += 2
	}

	var best model.Category
	bestScore := 0.0
	for _, c := range model.Categories {
		if scores[c] > bestScore {
			best, bestScore = c, scores[c]
		}
	}
	if bestScore >= minCategoryScore {
		b.SetCategory(best)
	}
}

func keywordScore(text string, v categoryVocabulary) float64 {
	score := 0.0
	for _, k := range v.keywords {
		if strings.Contains(text, k) {
			score++
		}
	}
	for _, k := range v.negative {
		if strings.Contains(text, k) {
			score -= negativePenalty
		}
	}
	return score
}

func containsAny(s string, subs []string) bool {
	if s == "" {
		return false
	}
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
