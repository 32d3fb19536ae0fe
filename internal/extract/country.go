package extract

import "regexp"

const countryRussia = "Россия"

type countryPattern struct {
	name string
	re   *regexp.Regexp
}

func country(name string, spellings ...string) countryPattern {
	alt := name
	for _, s := range spellings {
		alt += "|" + s
	}
	return countryPattern{
		name: name,
		re:   regexp.MustCompile(`(?:^|[^\p{L}])(` + alt + `)(?:[^\p{L}]|$)`),
	}
}

// countries is the explicit country vocabulary seen in lot titles.
var countries = []countryPattern{
	country(countryRussia, "Российская империя", "Российская Империя"),
	country("СССР"),
	country("РСФСР"),
	country("Украина"),
	country("Беларусь", "Белоруссия"),
	country("Казахстан"),
	country("Латвия"),
	country("Литва"),
	country("Эстония"),
	country("Грузия"),
	country("Армения"),
	country("Азербайджан"),
	country("Финляндия"),
	country("Польша"),
	country("Германия"),
	country("Австрия"),
	country("Австро-Венгрия"),
	country("Венгрия"),
	country("Чехословакия"),
	country("Румыния"),
	country("Болгария"),
	country("Греция"),
	country("Италия"),
	country("Франция"),
	country("Испания"),
	country("Португалия"),
	country("Великобритания", "Англия"),
	country("Ирландия"),
	country("Нидерланды", "Голландия"),
	country("Бельгия"),
	country("Швейцария"),
	country("Швеция"),
	country("Норвегия"),
	country("Дания"),
	country("Турция", "Османская империя"),
	country("Египет"),
	country("Израиль"),
	country("Иран", "Персия"),
	country("Индия"),
	country("Китай"),
	country("Япония"),
	country("Корея"),
	country("Монголия"),
	country("Вьетнам"),
	country("Таиланд"),
	country("Йемен"),
	country("США"),
	country("Канада"),
	country("Мексика"),
	country("Бразилия"),
	country("Аргентина"),
	country("Австралия"),
	country("ЮАР"),
}
