package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_Empty(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize("   \t\n "))
}

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	got := Normalize("  15 рублей\t\t1897 г.  АГ \n MS61  ")
	assert.Equal(t, "15 рублей 1897 г. АГ MS61", got)
}

func TestNormalize_GramUnits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Вес - 32 гр., высота", "Вес - 32 г, высота"},
		{"Нормативный вес 0.68 гр..", "Нормативный вес 0.68 г."},
		{"вес 7,74гр", "вес 7,74 г"},
		{"вес 12 граммов.", "вес 12 г"},
		{"20 градусов", "20 градусов"},
		{"1897 г.", "1897 г."},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_OunceUnits(t *testing.T) {
	assert.Equal(t, "Ag 1 oz 999", Normalize("Ag 1 унция 999"))
	assert.Equal(t, "Au 0.5 oz", Normalize("Au 0.5oz"))
}

func TestNormalize_KeepsCase(t *testing.T) {
	assert.Equal(t, "PF70 ULTRA CAMEO", Normalize("PF70 ULTRA CAMEO"))
	assert.Equal(t, "Proof", Normalize("Proof"))
}

func TestNormalize_Confusables(t *testing.T) {
	// Latin "o" and "e" inside a Russian word.
	assert.Equal(t, "рублей", Normalize("рублeй"))
	assert.Equal(t, "копеек", Normalize("кoпеек"))
	// Cyrillic "М" inside a grade token.
	assert.Equal(t, "MS64", Normalize("МS64"))
	// Tied tokens spelling a metal code or grade become Latin.
	assert.Equal(t, "Ag", Normalize("Аg"))
	assert.Equal(t, "Au", Normalize("Аu"))
	assert.Equal(t, "XF", Normalize("ХF"))
	assert.Equal(t, "АГ. Ag, XF", Normalize("АГ. Аg, XF"))
	// Real mixed mintmaster mark is left alone.
	assert.Equal(t, "СПБ НI", Normalize("СПБ НI"))
	// Pure tokens are untouched.
	assert.Equal(t, "Ag СПБ", Normalize("Ag СПБ"))
}
