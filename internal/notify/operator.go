package notify

import (
	"fmt"
	"strings"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/exchange"
	"github.com/kirillm/jamso-engine/internal/execution"
	"github.com/kirillm/jamso-engine/internal/strategy"
)

// FormatStatus форматирует ответ на /status
func (f *Formatter) FormatStatus(ks execution.KillSwitchStatus, profile string, risk *strategy.RiskSummary) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("📊 *%s*\n\n", f.T("status")))

	if ks.Active {
		sb.WriteString(fmt.Sprintf("%s: 🚨 %s (%s)\n", f.T("kill_switch"), f.T("active"), escape(ks.Reason)))
	} else {
		sb.WriteString(fmt.Sprintf("%s: ✅ %s\n", f.T("kill_switch"), f.T("inactive")))
	}

	if profile != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n", f.T("profile"), escape(profile)))
	}

	if risk != nil {
		sb.WriteString(fmt.Sprintf("%s: %.2f (peak %.2f)\n", f.T("balance"), risk.Balance, risk.PeakBalance))
		sb.WriteString(fmt.Sprintf("%s: %.2f%% / %.2f%%\n", f.T("daily_risk"), risk.DailyRisk.RiskPercent, risk.DailyRisk.Limit))
		sb.WriteString(fmt.Sprintf("%s: %.2f%% (%s)\n", f.T("drawdown"), risk.Drawdown.DrawdownPercent, risk.Drawdown.Status))
		sb.WriteString(fmt.Sprintf("%s: %d\n", f.T("positions"), risk.OpenPositions))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// FormatPositions форматирует список открытых позиций
func (f *Formatter) FormatPositions(positions []domain.Position) string {
	if len(positions) == 0 {
		return f.T("no_positions")
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📈 *%s* (%d)\n\n", f.T("positions"), len(positions)))

	for _, p := range positions {
		emoji := "🟢"
		if p.Direction == domain.DirectionSell {
			emoji = "🔴"
		}
		sb.WriteString(fmt.Sprintf("%s %s %s %s @ %s, P&L %.2f\n",
			emoji, p.Direction, escape(p.Epic), formatFloat(p.Size), formatFloat(p.Level), p.UPL))
		sb.WriteString(fmt.Sprintf("   `%s`\n", p.DealID))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// FormatWorkingOrders форматирует список лимитных ордеров
func (f *Formatter) FormatWorkingOrders(orders []exchange.WorkingOrder) string {
	if len(orders) == 0 {
		return f.T("no_orders")
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⏳ *%s* (%d)\n\n", f.T("working_orders"), len(orders)))

	for _, o := range orders {
		sb.WriteString(fmt.Sprintf("%s %s %s @ %s\n", o.Direction, escape(o.Epic), formatFloat(o.Size), formatFloat(o.Level)))
		sb.WriteString(fmt.Sprintf("   `%s`\n", o.DealID))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// FormatProfiles форматирует активный и доступные профили риска
func (f *Formatter) FormatProfiles(active string, available []string) string {
	return fmt.Sprintf("%s: *%s*\n%s: %s",
		f.T("profile"), escape(active), f.T("profiles"), escape(strings.Join(available, ", ")))
}
