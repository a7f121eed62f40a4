package notify

import (
	"context"

	"github.com/kirillm/jamso-engine/internal/execution"
)

// ResultNotifier отправляет итоги обработки сигналов через Notifier
type ResultNotifier struct {
	notifier  Notifier
	formatter *Formatter
	// onlyFailures отключает уведомления об успешных сделках
	onlyFailures bool
}

func NewResultNotifier(notifier Notifier, formatter *Formatter, onlyFailures bool) *ResultNotifier {
	if formatter == nil {
		formatter = NewFormatter(LangEN)
	}
	return &ResultNotifier{notifier: notifier, formatter: formatter, onlyFailures: onlyFailures}
}

// NotifyResult реализует execution.ResultNotifier
func (n *ResultNotifier) NotifyResult(ctx context.Context, signal *execution.Signal, result execution.Result) error {
	if n.onlyFailures && result.OK() {
		return nil
	}
	return n.notifier.Notify(ctx, n.formatter.FormatResult(signal, result))
}
