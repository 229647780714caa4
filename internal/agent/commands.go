package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/adminlock"
	"github.com/BTreeMap/LeadPipe/internal/crm"
	"github.com/BTreeMap/LeadPipe/internal/gate"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

const (
	textAccessDenied   = "❌ Доступ запрещен. Вы не являетесь администратором системы."
	textLockAcquired   = "🔓 Админ панель активирована! Основной бот заблокирован только для вас."
	textLockReleased   = "🔒 Админ панель деактивирована! Основной бот разблокирован и состояния очищены."
	textNotHolder      = "❌ Только пользователь, который активировал админ панель, может её деактивировать."
	textCleared        = "🧹 Состояния пользователей принудительно очищены!"
	textPanelInactive  = "🔒 Админ панель неактивна. Используйте /admin для активации."
	textUnknownCommand = "❌ Неизвестная команда. Используйте /help для списка команд."
	textTest           = "🧪 Тест! Основной бот работает!"
	textNoApplications = "📭 Нет данных о заявках"
	textCRMMissing     = "❌ Интеграция с Bitrix24 не настроена"
	textNoLeads        = "📭 Лиды не найдены"
	textNoNewLeads     = "📭 Новых лидов не найдено"
)

const textHelp = `🤖 Панель администратора

Основные команды:
/admin - Активировать админ панель (блокирует основной бот только для вас)
/stop - Деактивировать админ панель (разблокирует основной бот)
/status - Показать статус админ панели
/clear - Принудительно очистить состояния пользователей
/admins - Показать список администраторов
/test - Проверить, что бот работает

Команды в режиме админ панели:
/help - Показать эту справку
/applications - Показать данные заявок (ID, телефон, дата)
/activation - Показать статус активации пользователей

Команды для работы с лидами (если настроена интеграция с Bitrix24):
/leads - Показать все лиды
/new - Показать новые лиды
/stats - Показать статистику лидов
/export - Экспорт лидов в JSON

📝 Примечание:
- При активации админ панели основной бот блокируется только для вас
- Другие пользователи могут продолжать общаться с ботом
- При деактивации админ панели состояния пользователей автоматически очищаются`

const (
	applicationsShown = 20
	leadsShown        = 10
	dateLayout        = "02.01.2006 15:04"
)

func (a *Agent) handleCommand(ctx context.Context, msg models.InboundMessage, text string) {
	command := strings.ToLower(strings.Fields(text)[0])
	slog.Info("Agent admin command", "user_id", msg.UserID, "command", command)

	switch command {
	case "/admin":
		a.lock.Acquire(msg.UserID)
		a.reply(ctx, msg.Chat, textLockAcquired)
		return
	case "/stop":
		if err := a.lock.Release(msg.UserID); err != nil {
			if errors.Is(err, adminlock.ErrNotHolder) {
				a.reply(ctx, msg.Chat, textNotHolder)
				return
			}
			slog.Error("Agent admin lock release failed", "user_id", msg.UserID, "error", err)
			return
		}
		a.ResetAll(ctx, "admin_release")
		a.reply(ctx, msg.Chat, textLockReleased)
		return
	case "/status":
		a.reply(ctx, msg.Chat, a.statusText(msg))
		return
	case "/clear":
		a.ResetAll(ctx, "admin_clear")
		a.reply(ctx, msg.Chat, textCleared)
		return
	case "/admins":
		a.reply(ctx, msg.Chat, a.adminsText())
		return
	case "/test":
		a.reply(ctx, msg.Chat, textTest)
		return
	}

	if !a.lock.Active() {
		a.reply(ctx, msg.Chat, textPanelInactive)
		return
	}

	switch command {
	case "/help":
		a.reply(ctx, msg.Chat, textHelp)
	case "/applications":
		a.reply(ctx, msg.Chat, a.applicationsText(ctx))
	case "/activation":
		a.reply(ctx, msg.Chat, a.activationText())
	case "/leads", "/new", "/stats", "/export":
		a.crmCommand(msg.Chat, command)
	default:
		a.reply(ctx, msg.Chat, textUnknownCommand)
	}
}

func (a *Agent) statusText(msg models.InboundMessage) string {
	var b strings.Builder
	b.WriteString("📊 Статус админ панели\n")
	b.WriteString(strings.Repeat("=", 30) + "\n\n")

	holder, active := a.lock.Holder()
	if active {
		b.WriteString("🟢 Админ панель: АКТИВНА\n")
		fmt.Fprintf(&b, "👤 Активный администратор: %s\n", holder)
		if holder == msg.UserID {
			b.WriteString("✅ Вы являетесь активным администратором\n")
			b.WriteString("🔒 Основной бот заблокирован для вас\n")
		} else {
			b.WriteString("❌ Вы не являетесь активным администратором\n")
			b.WriteString("🔓 Основной бот работает для вас\n")
		}
	} else {
		b.WriteString("🔴 Админ панель: НЕАКТИВНА\n")
		b.WriteString("🔓 Основной бот работает для всех\n")
	}

	username := msg.Username
	if username == "" {
		username = "Не указан"
	}
	fmt.Fprintf(&b, "\n👤 Ваш ID: %s\n", msg.UserID)
	fmt.Fprintf(&b, "📱 Username: @%s\n", username)
	b.WriteString("🔑 Администратор: Да\n")

	stats := a.repo.Stats()
	fmt.Fprintf(&b, "\n💬 Активных бесед: %d (ожидают телефон: %d)\n", stats.Conversations, stats.AwaitingContact)
	fmt.Fprintf(&b, "⏰ Запланированных напоминаний: %d", a.reminders.Pending())
	return b.String()
}

func (a *Agent) adminsText() string {
	names := make([]string, 0, len(a.admins))
	for u := range a.admins {
		names = append(names, u)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("👥 Список администраторов:\n")
	b.WriteString(strings.Repeat("=", 30) + "\n\n")
	for _, u := range names {
		fmt.Fprintf(&b, "• @%s\n", u)
	}
	fmt.Fprintf(&b, "\n📊 Всего администраторов: %d", len(names))
	b.WriteString("\n\n💡 Только эти пользователи могут использовать админ панель")
	return b.String()
}

func (a *Agent) applicationsText(ctx context.Context) string {
	apps, err := a.apps.ListApplications(ctx)
	if err != nil {
		slog.Error("Agent list applications failed", "error", err)
		return fmt.Sprintf("❌ Ошибка при показе данных заявок: %v", err)
	}
	if len(apps) == 0 {
		return textNoApplications
	}

	var b strings.Builder
	b.WriteString("📋 Данные заявок:\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	for i, app := range apps {
		if i == applicationsShown {
			break
		}
		fmt.Fprintf(&b, "%d. ID: %s | 📱 %s | 📅 %s\n", i+1, app.UserID, app.PhoneNumber, app.CreatedAt.Format(dateLayout))
	}
	if len(apps) > applicationsShown {
		fmt.Fprintf(&b, "\n... и еще %d заявок", len(apps)-applicationsShown)
	}
	fmt.Fprintf(&b, "\n\n📊 Всего заявок: %d", len(apps))
	return b.String()
}

func (a *Agent) activationText() string {
	var b strings.Builder
	b.WriteString("🔑 Статус активации пользователей:\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")

	groups := map[models.ActivationStatus][]string{}
	for _, id := range a.repo.TrackedUsers() {
		rec := a.repo.Activation(id)
		groups[rec.Status] = append(groups[rec.Status], fmt.Sprintf("• ID: %s (сообщений: %d)", id, rec.MessageCount))
	}
	for _, id := range a.repo.DeactivatedUsers() {
		groups[models.ActivationDeactivated] = append(groups[models.ActivationDeactivated], fmt.Sprintf("• ID: %s", id))
	}

	sections := []struct {
		status models.ActivationStatus
		title  string
	}{
		{models.ActivationActivated, "✅ Активированные пользователи:"},
		{models.ActivationPending, fmt.Sprintf("⏳ Ожидающие активации (лимит %d):", gate.DefaultQuota)},
		{models.ActivationExpired, "❌ Истекшие (превысили лимит):"},
		{models.ActivationDeactivated, "🔇 Деактивированные (заполнили заявку):"},
	}
	total := 0
	for _, s := range sections {
		lines := groups[s.status]
		total += len(lines)
		if len(lines) == 0 {
			continue
		}
		b.WriteString(s.title + "\n")
		b.WriteString(strings.Join(lines, "\n") + "\n\n")
	}
	if total == 0 {
		b.WriteString("📭 Нет активных пользователей\n\n")
	}

	b.WriteString("📊 Общая статистика:\n")
	fmt.Fprintf(&b, "• Всего пользователей: %d\n", total)
	fmt.Fprintf(&b, "• Активировано: %d\n", len(groups[models.ActivationActivated]))
	fmt.Fprintf(&b, "• Ожидают активации: %d\n", len(groups[models.ActivationPending]))
	fmt.Fprintf(&b, "• Истекли: %d\n", len(groups[models.ActivationExpired]))
	fmt.Fprintf(&b, "• Деактивированы: %d\n", len(groups[models.ActivationDeactivated]))
	b.WriteString("\n🔑 Ключевые слова для активации:\n")
	b.WriteString("• Обязательно: 'хочу'\n")
	b.WriteString("• И одно из: 'консультацию' или 'консультация'")
	return b.String()
}

// crmCommand runs a CRM lookup off the event loop and replies from the background.
func (a *Agent) crmCommand(chat models.ChatRef, command string) {
	if a.crm == nil || !a.crm.Configured() {
		a.reply(context.Background(), chat, textCRMMissing)
		return
	}
	a.background(command, func(ctx context.Context) {
		var text string
		switch command {
		case "/leads":
			text = a.leadsText(ctx)
		case "/new":
			text = a.newLeadsText(ctx)
		case "/stats":
			text = a.statsText(ctx)
		case "/export":
			text = a.exportText(ctx)
		}
		a.reply(ctx, chat, text)
	})
}

func (a *Agent) leadsText(ctx context.Context) string {
	leads, err := a.crm.BotLeads(ctx)
	if err != nil {
		slog.Error("Agent /leads failed", "error", err)
		return fmt.Sprintf("❌ Ошибка при загрузке лидов: %v", err)
	}
	if len(leads) == 0 {
		return textNoLeads
	}
	var b strings.Builder
	b.WriteString("📋 Последние лиды:\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	for i, l := range leads {
		if i == leadsShown {
			break
		}
		fmt.Fprintf(&b, "%d. ID: %s | %s %s\n", i+1, l.ID, l.Name, l.LastName)
		fmt.Fprintf(&b, "   📝 %s\n", l.Title)
		fmt.Fprintf(&b, "   📊 Статус: %s | 📅 %s\n\n", l.StatusID, formatCRMDate(l.DateCreate))
	}
	if len(leads) > leadsShown {
		fmt.Fprintf(&b, "... и еще %d лидов\n", len(leads)-leadsShown)
	}
	fmt.Fprintf(&b, "📊 Всего лидов: %d", len(leads))
	return b.String()
}

func (a *Agent) newLeadsText(ctx context.Context) string {
	leads, err := a.crm.NewLeads(ctx)
	if err != nil {
		slog.Error("Agent /new failed", "error", err)
		return fmt.Sprintf("❌ Ошибка при загрузке новых лидов: %v", err)
	}
	if len(leads) == 0 {
		return textNoNewLeads
	}
	var b strings.Builder
	b.WriteString("🆕 Новые лиды:\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	for i, l := range leads {
		fmt.Fprintf(&b, "%d. ID: %s | %s %s\n", i+1, l.ID, l.Name, l.LastName)
		fmt.Fprintf(&b, "   📝 %s\n", l.Title)
		fmt.Fprintf(&b, "   📱 %s | 📅 %s\n\n", l.FirstPhone(), formatCRMDate(l.DateCreate))
	}
	fmt.Fprintf(&b, "📊 Всего новых лидов: %d", len(leads))
	return b.String()
}

func (a *Agent) statsText(ctx context.Context) string {
	stats, err := a.crm.Statistics(ctx)
	if err != nil {
		slog.Error("Agent /stats failed", "error", err)
		return fmt.Sprintf("❌ Ошибка при загрузке статистики: %v", err)
	}
	var b strings.Builder
	b.WriteString("📈 Статистика лидов:\n")
	b.WriteString(strings.Repeat("=", 30) + "\n\n")
	fmt.Fprintf(&b, "📊 Всего лидов: %d\n", stats.Total)
	fmt.Fprintf(&b, "🆕 Новых: %d\n", stats.New)
	fmt.Fprintf(&b, "⚙️ В обработке: %d\n", stats.Processed)
	fmt.Fprintf(&b, "✅ Конвертированных: %d\n", stats.Converted)
	fmt.Fprintf(&b, "❌ Потерянных: %d", stats.Lost)
	if stats.Total > 0 {
		fmt.Fprintf(&b, "\n\n📈 Процент конверсии: %.1f%%", stats.ConversionRate())
	}
	return b.String()
}

func (a *Agent) exportText(ctx context.Context) string {
	n, err := a.crm.Export(ctx, a.exportPath)
	if err != nil {
		slog.Error("Agent /export failed", "error", err)
		return fmt.Sprintf("❌ Ошибка при экспорте лидов: %v", err)
	}
	if n == 0 {
		return textNoLeads
	}
	return fmt.Sprintf("📤 Экспорт завершен!\n\n📁 Файл: %s\n📊 Количество лидов: %d\n📅 Дата экспорта: %s",
		a.exportPath, n, a.now().Format(dateLayout))
}

// formatCRMDate renders a Bitrix24 ISO timestamp as dd.mm.yyyy HH:MM, falling back to the raw value.
func formatCRMDate(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.Format(dateLayout)
}

var _ CRM = (*crm.Client)(nil)
