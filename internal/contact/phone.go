// Package contact extracts the phone number and preferred consultation time from the
// free-text contact message.
package contact

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrNoPhone is returned when no valid Russian phone number is found.
var ErrNoPhone = errors.New("no valid phone number found")

// Accepted shapes after stripping everything except digits and '+'.
var phoneShapes = []*regexp.Regexp{
	regexp.MustCompile(`^\+7\d{10}$`),
	regexp.MustCompile(`^8\d{10}$`),
	regexp.MustCompile(`^7\d{10}$`),
	regexp.MustCompile(`^\d{10}$`),
}

// Candidate windows scanned in free text, tried in order: 3-3-2-2 and 4-2-2-2 with an
// optional country prefix, then bare 3-3-2-2.
var phoneWindows = []*regexp.Regexp{
	regexp.MustCompile(`(\+7|8|7)?[\s\-(]?(\d{3})[\s\-)]?(\d{3})[\s\-]?(\d{2})[\s\-]?(\d{2})`),
	regexp.MustCompile(`(\+7|8|7)?[\s\-(]?(\d{4})[\s\-)]?(\d{2})[\s\-]?(\d{2})[\s\-]?(\d{2})`),
	regexp.MustCompile(`(\d{3})[\s\-]?(\d{3})[\s\-]?(\d{2})[\s\-]?(\d{2})`),
}

// NormalizePhone converts a Russian number to +7XXXXXXXXXX.
func NormalizePhone(raw string) (string, error) {
	clean := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '+' {
			return r
		}
		return -1
	}, raw)

	for _, shape := range phoneShapes {
		if !shape.MatchString(clean) {
			continue
		}
		var normalized string
		switch {
		case strings.HasPrefix(clean, "+7"):
			normalized = clean
		case strings.HasPrefix(clean, "8") && len(clean) == 11:
			normalized = "+7" + clean[1:]
		case strings.HasPrefix(clean, "7") && len(clean) == 11:
			normalized = "+" + clean
		case len(clean) == 10:
			normalized = "+7" + clean
		}
		if strings.HasPrefix(normalized, "+7") && len(normalized) == 12 {
			return normalized, nil
		}
	}
	return "", ErrNoPhone
}

// ExtractPhone returns the first valid phone number found in text. Candidates glued to a
// neighbouring digit are skipped and the scan resumes one rune later, so a separator in
// front of a full number cannot swallow its leading digit.
func ExtractPhone(text string) (string, error) {
	for _, window := range phoneWindows {
		for start := 0; start < len(text); {
			loc := window.FindStringIndex(text[start:])
			if loc == nil {
				break
			}
			from, to := start+loc[0], start+loc[1]
			if !digitBefore(text, from) && !digitAt(text, to) {
				if phone, err := NormalizePhone(text[from:to]); err == nil {
					return phone, nil
				}
			}
			_, size := utf8.DecodeRuneInString(text[from:])
			start = from + size
		}
	}
	return "", ErrNoPhone
}

func digitAt(text string, i int) bool {
	return i >= 0 && i < len(text) && text[i] >= '0' && text[i] <= '9'
}

func digitBefore(text string, i int) bool {
	return digitAt(text, i-1)
}
