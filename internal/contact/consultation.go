package contact

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

var timeKeywords = []string{
	"утром", "днем", "вечером", "ночью",
	"завтра", "сегодня", "послезавтра",
	"понедельник", "вторник", "среда", "четверг", "пятница", "суббота", "воскресенье",
}

var clockPattern = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)

// ExtractConsultationTime returns the trimmed message when it mentions a time of day, a
// relative day, a weekday or a clock time, and the unspecified sentinel otherwise. The text
// is kept verbatim for the operator to read.
func ExtractConsultationTime(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range timeKeywords {
		if strings.Contains(lower, kw) {
			return strings.TrimSpace(text)
		}
	}
	if clockPattern.MatchString(text) {
		return strings.TrimSpace(text)
	}
	return models.ConsultationTimeUnspecified
}
