package conversation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
)

var (
	errUnparseable = errors.New("conversation: unparseable input")
	errPastDate    = errors.New("conversation: date is in the past")
)

var (
	datePattern     = regexp.MustCompile(`(\d{1,2})[/\-](\d{1,2})[/\-](\d{4})`)
	keypadDate      = regexp.MustCompile(`^\d{8}$`)
	clockPattern    = regexp.MustCompile(`^(\d{1,2})(?:[:.](\d{2}))?\s*([ap])?\.?\s*(?:m\.?)?$`)
	keypadClock     = regexp.MustCompile(`^\d{3,4}$`)
	nonDigitPattern = regexp.MustCompile(`\D`)
)

// parseDate accepts D/M/YYYY or D-M-YYYY anywhere in the input, or eight
// keypad digits DDMMYYYY. The result is YYYY-MM-DD. Impossible calendar
// dates and dates before today are rejected.
func parseDate(input string, today time.Time) (string, error) {
	input = strings.TrimSpace(input)
	var day, month, year int
	switch {
	case keypadDate.MatchString(input):
		day, _ = strconv.Atoi(input[0:2])
		month, _ = strconv.Atoi(input[2:4])
		year, _ = strconv.Atoi(input[4:8])
	default:
		m := datePattern.FindStringSubmatch(input)
		if m == nil {
			return "", errUnparseable
		}
		day, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
		year, _ = strconv.Atoi(m[3])
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || int(d.Month()) != month || d.Year() != year {
		return "", fmt.Errorf("%w: %02d-%02d-%04d is not a calendar date", errUnparseable, day, month, year)
	}
	startOfToday := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if d.Before(startOfToday) {
		return "", errPastDate
	}
	return d.Format(availability.DateLayout), nil
}

// parseClock normalizes "10:00", "10:00 AM", "10 am", "2.30pm", "14:30" or
// keypad "1030" to 24h HH:MM.
func parseClock(input string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if keypadClock.MatchString(s) {
		s = s[:len(s)-2] + ":" + s[len(s)-2:]
	}
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return "", errUnparseable
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "a":
		if hour < 1 || hour > 12 {
			return "", errUnparseable
		}
		if hour == 12 {
			hour = 0
		}
	case "p":
		if hour < 1 || hour > 12 {
			return "", errUnparseable
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if m[2] == "" {
			// A bare number like "10" is ambiguous without a meridiem.
			return "", errUnparseable
		}
	}
	if hour > 23 || minute > 59 {
		return "", errUnparseable
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

var affirmatives = map[session.Language][]string{
	session.LanguageEnglish: {"yes", "y", "yeah", "yep", "confirm", "ok", "okay", "sure"},
	session.LanguageKannada: {"ಹೌದು", "ದೃಢೀಕರಿಸಿ", "ಸರಿ", "haudu", "houdu", "sari"},
}

// isAffirmative matches the session language's keywords plus English ones,
// case-insensitively, as whole words.
func isAffirmative(text string, lang session.Language) bool {
	return matchesKeyword(text, lang, affirmatives)
}

func matchesKeyword(text string, lang session.Language, table map[session.Language][]string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	})
	if len(words) == 0 {
		return false
	}
	candidates := table[session.LanguageEnglish]
	if lang == session.LanguageKannada {
		candidates = append(append([]string(nil), table[session.LanguageKannada]...), candidates...)
	}
	for _, w := range words {
		for _, c := range candidates {
			if w == c {
				return true
			}
		}
	}
	return false
}

// normalizePhone returns +<digits>. Ten-digit local numbers get countryCode prefixed.
func normalizePhone(raw, countryCode string) string {
	digits := nonDigitPattern.ReplaceAllString(raw, "")
	if digits == "" {
		return ""
	}
	if len(digits) == 10 && countryCode != "" {
		digits = countryCode + digits
	}
	return "+" + digits
}

// NormalizePhone is normalizePhone for channel adapters.
func NormalizePhone(raw, countryCode string) string {
	return normalizePhone(raw, countryCode)
}
