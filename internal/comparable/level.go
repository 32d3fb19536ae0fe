package comparable

// Level is a rung of the relaxation ladder. Lower values are stricter.
type Level int

const (
	// LevelExact matches denomination, metal, year, letters and condition.
	LevelExact Level = iota
	// LevelRelaxCondition drops condition.
	LevelRelaxCondition
	// LevelRelaxLetters drops condition and letters.
	LevelRelaxLetters
	// LevelRelaxYear matches denomination and metal only.
	LevelRelaxYear
)

// Levels lists the ladder from strictest to loosest.
var Levels = []Level{LevelExact, LevelRelaxCondition, LevelRelaxLetters, LevelRelaxYear}

func (l Level) String() string {
	switch l {
	case LevelExact:
		return "exact"
	case LevelRelaxCondition:
		return "relax_condition"
	case LevelRelaxLetters:
		return "relax_letters"
	case LevelRelaxYear:
		return "relax_year"
	default:
		return "unknown"
	}
}

// ParseLevel is the inverse of String.
func ParseLevel(s string) (Level, bool) {
	for _, l := range Levels {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}

// next returns the following rung, or false at the bottom of the ladder.
func (l Level) next() (Level, bool) {
	if l >= LevelRelaxYear {
		return l, false
	}
	return l + 1, true
}

// matchesYear, matchesLetters and matchesCondition report which key fields
// a level constrains.
func (l Level) matchesYear() bool      { return l < LevelRelaxYear }
func (l Level) matchesLetters() bool   { return l < LevelRelaxLetters }
func (l Level) matchesCondition() bool { return l < LevelRelaxCondition }

// MarshalText renders the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}
