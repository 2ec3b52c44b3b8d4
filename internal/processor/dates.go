package processor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// spreadsheetEpoch is day zero of the 1900 date system as spreadsheets count it
// (the 1900 leap-year bug shifts it from 1899-12-31 to 1899-12-30).
var spreadsheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// maxSerial is 9999-12-31, the last day spreadsheets can represent.
const maxSerial = 2958465

// calendarLayouts are tried in order; the first that parses wins.
// Day-first and month-first slashed dates are ambiguous, so month-first
// (the convention of the exporting tools) is tried before dotted day-first.
var calendarLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006/01/02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04:05",
	"02.01.2006",
	"2.1.2006",
	"02.01.2006 15:04",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"Mon, 02 Jan 2006",
	time.RFC1123,
	time.RFC1123Z,
}

// ParseEventDate interprets a cell as a timestamp in UTC.
// Positive numbers are spreadsheet serial days (fractions are time of day,
// rounded to the second); anything else must match a calendar layout.
func ParseEventDate(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(serial) && !math.IsInf(serial, 0) {
		switch {
		case serial <= 0:
			return time.Time{}, fmt.Errorf("serial date %s is not positive", s)
		case serial > maxSerial:
			return time.Time{}, fmt.Errorf("serial date %s is out of range", s)
		}
		return fromSerial(serial), nil
	}

	for _, layout := range calendarLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}

func fromSerial(serial float64) time.Time {
	seconds := math.Round(serial * 86400)
	return spreadsheetEpoch.Add(time.Duration(seconds) * time.Second)
}
