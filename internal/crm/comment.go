package crm

import (
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// FormatComment renders the multi-line COMMENTS block of a lead. Answers are paired
// positionally with labels; answers beyond the label list are left out.
func FormatComment(lead models.Lead, labels []string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID пользователя: %s", lead.UserID)
	if lead.Username != "" {
		fmt.Fprintf(&b, "\nUsername: @%s", lead.Username)
	}

	if len(lead.Answers) > 0 {
		b.WriteString("\n\n📋 Ответы на вопросы:")
		for i, label := range labels {
			if i >= len(lead.Answers) {
				break
			}
			fmt.Fprintf(&b, "\n%d. %s: %s", i+1, label, lead.Answers[i])
		}
	}

	if lead.Phone != "" {
		fmt.Fprintf(&b, "\n\n📞 Телефон: %s", lead.Phone)
	}
	if lead.ConsultationTime != "" {
		fmt.Fprintf(&b, "\n🕐 Время консультации: %s", lead.ConsultationTime)
	}
	fmt.Fprintf(&b, "\n\n📅 Дата создания: %s", at.Format("02.01.2006 15:04"))
	return b.String()
}
