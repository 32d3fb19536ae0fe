// Package ingest loads historical sales and metals prices from files and
// from the CBR feed into the store.
package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var dateLayouts = []string{
	time.DateOnly,
	"02.01.2006",
	"02/01/2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// excelEpoch is day zero of Excel's 1900 date system, accounting for its
// fictitious 1900-02-29.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseDate accepts ISO and Russian date layouts and Excel serial numbers.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("ingest: empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial < 2958466 {
		days := math.Floor(serial)
		return excelEpoch.AddDate(0, 0, int(days)), nil
	}
	return time.Time{}, eris.Errorf("ingest: unrecognised date %q", s)
}

// ParseAmount parses a price that may use a comma decimal separator, space
// thousands separators or a trailing currency sign. Empty input yields nil.
func ParseAmount(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "₽")
	s = strings.TrimSuffix(strings.TrimSpace(s), "руб.")
	s = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse amount %q", s)
	}
	return &v, nil
}
