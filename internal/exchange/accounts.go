package exchange

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// GetAccounts возвращает счета пользователя
func (c *Client) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	resp, err := c.doAuthenticated(ctx, &Request{Method: http.MethodGet, Path: "/accounts"})
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}

	var out struct {
		Accounts []struct {
			AccountID   string `json:"accountId"`
			AccountName string `json:"accountName"`
			Preferred   bool   `json:"preferred"`
			Currency    string `json:"currency"`
			Balance     struct {
				Balance    float64 `json:"balance"`
				Deposit    float64 `json:"deposit"`
				ProfitLoss float64 `json:"profitLoss"`
				Available  float64 `json:"available"`
			} `json:"balance"`
		} `json:"accounts"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}

	accounts := make([]domain.Account, 0, len(out.Accounts))
	for _, a := range out.Accounts {
		accounts = append(accounts, domain.Account{
			AccountID:   a.AccountID,
			AccountName: a.AccountName,
			Preferred:   a.Preferred,
			Currency:    a.Currency,
			Balance:     a.Balance.Balance,
			Deposit:     a.Balance.Deposit,
			ProfitLoss:  a.Balance.ProfitLoss,
			Available:   a.Balance.Available,
		})
	}
	return accounts, nil
}

// GetAccountBalance баланс счета; пустой accountID означает предпочтительный счет
func (c *Client) GetAccountBalance(ctx context.Context, accountID string) (float64, error) {
	accounts, err := c.GetAccounts(ctx)
	if err != nil {
		return 0, err
	}

	for _, a := range accounts {
		if (accountID == "" && a.Preferred) || a.AccountID == accountID {
			return a.Balance, nil
		}
	}
	return 0, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
}
