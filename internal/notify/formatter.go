package notify

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/execution"
)

// Lang представляет язык
type Lang string

const (
	LangEN Lang = "en"
	LangRU Lang = "ru"
)

// Formatter форматирует уведомления для оператора
type Formatter struct {
	lang Lang
}

// NewFormatter создает новый форматтер
func NewFormatter(lang Lang) *Formatter {
	if lang != LangRU && lang != LangEN {
		lang = LangEN
	}
	return &Formatter{lang: lang}
}

// SetLang устанавливает язык
func (f *Formatter) SetLang(lang Lang) {
	f.lang = lang
}

// GetLang возвращает текущий язык
func (f *Formatter) GetLang() Lang {
	return f.lang
}

var translations = map[string]map[Lang]string{
	"trade_executed":  {LangEN: "Trade executed", LangRU: "Сделка исполнена"},
	"trade_rejected":  {LangEN: "Signal rejected", LangRU: "Сигнал отклонен"},
	"trade_failed":    {LangEN: "Execution failed", LangRU: "Ошибка исполнения"},
	"size":            {LangEN: "Size", LangRU: "Размер"},
	"requested":       {LangEN: "requested", LangRU: "запрошено"},
	"entry":           {LangEN: "Entry", LangRU: "Вход"},
	"stop_loss":       {LangEN: "Stop Loss", LangRU: "Стоп-лосс"},
	"take_profit":     {LangEN: "Take Profit", LangRU: "Тейк-профит"},
	"regime":          {LangEN: "Regime", LangRU: "Режим"},
	"slippage":        {LangEN: "Slippage", LangRU: "Проскальзывание"},
	"deal":            {LangEN: "Deal", LangRU: "Сделка"},
	"reason":          {LangEN: "Reason", LangRU: "Причина"},
	"attempts":        {LangEN: "Attempts", LangRU: "Попытки"},
	"warnings":        {LangEN: "Warnings", LangRU: "Предупреждения"},
	"kill_switch_on":  {LangEN: "Kill switch activated", LangRU: "Аварийная остановка включена"},
	"kill_switch_off": {LangEN: "Kill switch deactivated", LangRU: "Аварийная остановка выключена"},
	"engine_started":  {LangEN: "Engine started", LangRU: "Движок запущен"},
	"engine_stopped":  {LangEN: "Engine stopped", LangRU: "Движок остановлен"},
	"uptime":          {LangEN: "Uptime", LangRU: "Время работы"},
	"error":           {LangEN: "Error", LangRU: "Ошибка"},
	"unknown":         {LangEN: "unknown", LangRU: "неизвестно"},
	"access_denied":   {LangEN: "Access denied", LangRU: "Доступ запрещен"},
	"admin_required":  {LangEN: "Admin permission required", LangRU: "Требуются права администратора"},
	"unknown_command": {LangEN: "Unknown command, see /help", LangRU: "Неизвестная команда, см. /help"},
	"positions":       {LangEN: "Open positions", LangRU: "Открытые позиции"},
	"no_positions":    {LangEN: "No open positions", LangRU: "Нет открытых позиций"},
	"status":          {LangEN: "Engine status", LangRU: "Состояние движка"},
	"kill_switch":     {LangEN: "Kill switch", LangRU: "Аварийная остановка"},
	"active":          {LangEN: "active", LangRU: "включена"},
	"inactive":        {LangEN: "inactive", LangRU: "выключена"},
	"profile":         {LangEN: "Profile", LangRU: "Профиль"},
	"profiles":        {LangEN: "Available profiles", LangRU: "Доступные профили"},
	"balance":         {LangEN: "Balance", LangRU: "Баланс"},
	"daily_risk":      {LangEN: "Daily risk", LangRU: "Дневной риск"},
	"drawdown":        {LangEN: "Drawdown", LangRU: "Просадка"},
	"working_orders":  {LangEN: "Working orders", LangRU: "Лимитные ордера"},
	"no_orders":       {LangEN: "No working orders", LangRU: "Нет лимитных ордеров"},
	"order_cancelled": {LangEN: "Order cancelled", LangRU: "Ордер отменен"},
}

// T переводит строку
func (f *Formatter) T(key string) string {
	if trans, ok := translations[key]; ok {
		if val, ok := trans[f.lang]; ok {
			return val
		}
	}
	return key
}

// FormatResult форматирует итог обработки сигнала. signal == nil, если сигнал не разобран.
func (f *Formatter) FormatResult(signal *execution.Signal, result execution.Result) string {
	var sb strings.Builder

	symbol, direction := result.Symbol, result.Direction
	if signal != nil {
		symbol, direction = signal.Symbol, signal.Direction
	}

	switch {
	case result.OK():
		emoji := "🟢"
		if direction == domain.DirectionSell {
			emoji = "🔴"
		}
		sb.WriteString(fmt.Sprintf("%s *%s*: %s %s\n\n", emoji, f.T("trade_executed"), direction, escape(symbol)))
	case result.Code == domain.CodeRiskRejected || result.Code == domain.CodeSizeTooSmall ||
		result.Code == domain.CodeKillSwitchActive || result.Code == domain.CodeInvalidSignal:
		sb.WriteString(fmt.Sprintf("🚫 *%s*: %s %s\n\n", f.T("trade_rejected"), direction, escape(symbol)))
	default:
		sb.WriteString(fmt.Sprintf("❌ *%s*: %s %s\n\n", f.T("trade_failed"), direction, escape(symbol)))
	}

	if result.OK() {
		if result.RequestedSize > 0 && result.RequestedSize != result.Size {
			sb.WriteString(fmt.Sprintf("%s: %s (%s %s)\n", f.T("size"), formatFloat(result.Size), f.T("requested"), formatFloat(result.RequestedSize)))
		} else {
			sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("size"), formatFloat(result.Size)))
		}
		if result.Level > 0 {
			sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("entry"), formatFloat(result.Level)))
		}
		if result.StopLevel != nil {
			sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("stop_loss"), formatFloat(*result.StopLevel)))
		}
		if result.ProfitLevel != nil {
			sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("take_profit"), formatFloat(*result.ProfitLevel)))
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("regime"), f.formatRegime(result)))
		if result.Slippage != 0 {
			sb.WriteString(fmt.Sprintf("%s: %.3f%%\n", f.T("slippage"), result.Slippage))
		}
		if result.DealID != "" {
			sb.WriteString(fmt.Sprintf("%s: `%s`\n", f.T("deal"), result.DealID))
		} else if result.DealReference != "" {
			sb.WriteString(fmt.Sprintf("%s: `%s`\n", f.T("deal"), result.DealReference))
		}
	} else {
		sb.WriteString(fmt.Sprintf("%s: `%s`\n", f.T("reason"), result.Code))
		if result.Message != "" {
			sb.WriteString(escape(result.Message))
			sb.WriteString("\n")
		}
	}

	if result.Attempts > 1 {
		sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("attempts"), result.Attempts))
	}
	if len(result.Warnings) > 0 {
		sb.WriteString(fmt.Sprintf("\n⚠️ %s:\n", f.T("warnings")))
		for _, w := range result.Warnings {
			sb.WriteString(fmt.Sprintf("- %s\n", escape(w)))
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) formatRegime(result execution.Result) string {
	if result.RegimeID == nil || *result.RegimeID == domain.RegimeUnknown {
		return f.T("unknown")
	}
	return fmt.Sprintf("%d (%s)", *result.RegimeID, result.Volatility)
}

// FormatKillSwitch форматирует смену состояния аварийной остановки
func (f *Formatter) FormatKillSwitch(active bool, reason string) string {
	if !active {
		return fmt.Sprintf("✅ *%s*", f.T("kill_switch_off"))
	}
	return fmt.Sprintf("🚨 *%s*\n%s: %s", f.T("kill_switch_on"), f.T("reason"), escape(reason))
}

// FormatStarted форматирует сообщение о запуске
func (f *Formatter) FormatStarted(profile string, symbols []string) string {
	return fmt.Sprintf("🚀 *%s*\nProfile: %s\nSymbols: %s", f.T("engine_started"), escape(profile), escape(strings.Join(symbols, ", ")))
}

// FormatStopped форматирует сообщение об остановке
func (f *Formatter) FormatStopped(uptime time.Duration) string {
	return fmt.Sprintf("🛑 *%s*\n%s: %s", f.T("engine_stopped"), f.T("uptime"), FormatDuration(uptime))
}

// FormatError форматирует сообщение об ошибке
func (f *Formatter) FormatError(err error) string {
	return fmt.Sprintf("❌ %s: %s", f.T("error"), escape(err.Error()))
}

// FormatDuration форматирует длительность
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.5f", v), "0"), ".")
}

// escape экранирует пользовательский текст для Markdown
func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
