package predict

import "github.com/numisdata/lotvalue/internal/comparable"

// Confidence scale, 0-100.
const (
	MaxConfidence        = 95.0
	MetalOnlyConfidence  = 30.0
	perSampleConfidence  = 1.75
	sampleConfidenceSpan = 20
)

var levelBase = map[comparable.Level]float64{
	comparable.LevelExact:          60,
	comparable.LevelRelaxCondition: 50,
	comparable.LevelRelaxLetters:   40,
	comparable.LevelRelaxYear:      25,
}

// ComparableConfidence grows with sample size up to 20 samples and is
// higher for stricter match levels at any given size.
func ComparableConfidence(level comparable.Level, n int) float64 {
	if n > sampleConfidenceSpan {
		n = sampleConfidenceSpan
	}
	if n < 0 {
		n = 0
	}
	c := levelBase[level] + float64(n)*perSampleConfidence
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}
