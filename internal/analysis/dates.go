// Package analysis implements the patent analyzers: filing trends with
// predictions, applicant competition metrics, technology classification and
// geographic distribution. Analyzers are pure computations over
// types.PatentRecord slices; orchestration and quality control live
// elsewhere.
package analysis

import (
	"strconv"
	"strings"
	"time"
)

// filingDate is a parsed application date. Month and Day are zero when the
// raw string did not carry them.
type filingDate struct {
	Year  int
	Month int
	Day   int
}

// parseFilingDate parses "YYYY-MM-DD", "YYYY-MM" or "YYYY". It rejects years
// outside [1800, 2200] and out-of-range months and days.
func parseFilingDate(s string) (filingDate, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return filingDate{}, false
	}
	parts := strings.SplitN(s, "-", 3)

	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 1800 || year > 2200 {
		return filingDate{}, false
	}
	fd := filingDate{Year: year}

	if len(parts) > 1 {
		month, err := strconv.Atoi(parts[1])
		if err != nil || month < 1 || month > 12 {
			return filingDate{}, false
		}
		fd.Month = month
	}
	if len(parts) > 2 {
		day, err := strconv.Atoi(parts[2])
		if err != nil || day < 1 || day > 31 {
			return filingDate{}, false
		}
		fd.Day = day
	}
	return fd, true
}

// Quarter maps the month onto 1..4, or 0 when the month is unknown.
func (d filingDate) Quarter() int {
	if d.Month == 0 {
		return 0
	}
	return (d.Month-1)/3 + 1
}

// Time converts to a time.Time, substituting January and the 1st for missing
// parts so span arithmetic stays defined.
func (d filingDate) Time() time.Time {
	month := d.Month
	if month == 0 {
		month = 1
	}
	day := d.Day
	if day == 0 {
		day = 1
	}
	return time.Date(d.Year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
