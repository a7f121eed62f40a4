package telegram

import (
	"fmt"
	"strings"
)

// CommandArgs представляет распарсенную команду
type CommandArgs struct {
	Command string
	Raw     []string
}

// Arg возвращает i-й аргумент или пустую строку
func (a *CommandArgs) Arg(i int) string {
	if i < 0 || i >= len(a.Raw) {
		return ""
	}
	return a.Raw[i]
}

// Text возвращает все аргументы одной строкой
func (a *CommandArgs) Text() string {
	return strings.Join(a.Raw, " ")
}

const (
	CmdStart     = "start"
	CmdHelp      = "help"
	CmdStatus    = "status"
	CmdPositions = "positions"
	CmdClose     = "close"
	CmdKill      = "kill"
	CmdResume    = "resume"
	CmdProfile   = "profile"
	CmdOrders    = "orders"
	CmdCancel    = "cancel"
)

// ParseCommand парсит команду и аргументы. Суффикс @botname отбрасывается.
func ParseCommand(text string) (*CommandArgs, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil, fmt.Errorf("not a command")
	}

	parts := strings.Fields(text)
	cmd := strings.TrimPrefix(parts[0], "/")
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return nil, fmt.Errorf("empty command")
	}

	args := &CommandArgs{
		Command: normalizeCommand(cmd),
		Raw:     parts[1:],
	}

	switch args.Command {
	case CmdClose:
		// /close <DEAL_ID>
		if len(args.Raw) < 1 {
			return nil, fmt.Errorf("usage: /close <DEAL_ID>")
		}
	case CmdCancel:
		// /cancel <DEAL_ID>
		if len(args.Raw) < 1 {
			return nil, fmt.Errorf("usage: /cancel <DEAL_ID>")
		}
	case CmdProfile:
		// /profile [NAME]
		if len(args.Raw) > 1 {
			return nil, fmt.Errorf("usage: /profile [NAME]")
		}
	}

	return args, nil
}

// normalizeCommand нормализует команду (поддержка русского языка)
func normalizeCommand(cmd string) string {
	cmd = strings.ToLower(strings.TrimSpace(cmd))

	ruToEn := map[string]string{
		"помощь":      CmdHelp,
		"статус":      CmdStatus,
		"позиции":     CmdPositions,
		"закрыть":     CmdClose,
		"стоп":        CmdKill,
		"продолжить":  CmdResume,
		"профиль":     CmdProfile,
		"ордера":      CmdOrders,
		"отменить":    CmdCancel,
		"kill_switch": CmdKill,
		"killswitch":  CmdKill,
	}

	if enCmd, ok := ruToEn[cmd]; ok {
		return enCmd
	}
	return cmd
}
