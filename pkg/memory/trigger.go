package memory

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/evermind-ai/companion/pkg/model"
)

// Trigger-time extraction for proactive recall. Dates are parsed out of the
// memory's full text; birthdays (and any date written without a year) recur
// annually, so the next occurrence relative to now is used.

var (
	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}))?\b`)
	monthDayRe  = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
)

var monthsByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// triggerTime extracts the soonest upcoming trigger for a memory. The
// second return is false when no usable date is present.
func triggerTime(m *model.Memory, now time.Time) (time.Time, bool) {
	recurring := m.MemoryType == model.MemoryBirthday
	dayStart := now.Truncate(24 * time.Hour)
	var best time.Time
	found := false

	consider := func(t time.Time, yearless bool) {
		if yearless || (recurring && t.Before(now)) {
			t = nextOccurrence(t.Month(), t.Day(), now)
		}
		// dates parse to midnight, so today still counts as upcoming
		if t.Before(dayStart) {
			return
		}
		if !found || t.Before(best) {
			best, found = t, true
		}
	}

	text := m.FullText
	lower := strings.ToLower(text)

	if strings.Contains(lower, "today") {
		consider(now, false)
	}
	if strings.Contains(lower, "tomorrow") {
		consider(now.AddDate(0, 0, 1), false)
	}

	for _, g := range isoDateRe.FindAllStringSubmatch(text, -1) {
		year, _ := strconv.Atoi(g[1])
		month, _ := strconv.Atoi(g[2])
		day, _ := strconv.Atoi(g[3])
		if t, ok := makeDate(year, month, day, now.Location()); ok {
			consider(t, false)
		}
	}
	for _, g := range slashDateRe.FindAllStringSubmatch(text, -1) {
		month, _ := strconv.Atoi(g[1])
		day, _ := strconv.Atoi(g[2])
		if g[3] == "" {
			if t, ok := makeDate(now.Year(), month, day, now.Location()); ok {
				consider(t, true)
			}
			continue
		}
		year, _ := strconv.Atoi(g[3])
		if t, ok := makeDate(year, month, day, now.Location()); ok {
			consider(t, false)
		}
	}
	for _, g := range monthDayRe.FindAllStringSubmatch(text, -1) {
		month, ok := monthsByPrefix[strings.ToLower(g[1])[:3]]
		if !ok {
			continue
		}
		day, _ := strconv.Atoi(g[2])
		if g[3] == "" {
			if t, ok := makeDate(now.Year(), int(month), day, now.Location()); ok {
				consider(t, true)
			}
			continue
		}
		year, _ := strconv.Atoi(g[3])
		if t, ok := makeDate(year, int(month), day, now.Location()); ok {
			consider(t, false)
		}
	}
	return best, found
}

// makeDate validates the calendar day; time.Date would silently normalize
// Feb 30 into March.
func makeDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func nextOccurrence(month time.Month, day int, now time.Time) time.Time {
	t := time.Date(now.Year(), month, day, 0, 0, 0, 0, now.Location())
	if t.Before(now.Truncate(24 * time.Hour)) {
		t = t.AddDate(1, 0, 0)
	}
	return t
}
