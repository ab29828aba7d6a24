package api

import (
	"context"
	"net/http"
)

type CreateVaultRequest struct {
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	PredicateAddress string   `json:"predicateAddress"`
	MinSigners       int      `json:"minSigners"`
	Addresses        []string `json:"addresses"`
	Configurable     string   `json:"configurable,omitempty"`
}

type Vault struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	PredicateAddress string   `json:"predicateAddress"`
	MinSigners       int      `json:"minSigners"`
	Addresses        []string `json:"addresses"`
	Owner            string   `json:"owner,omitempty"`
}

func (c *Client) CreateVault(ctx context.Context, req CreateVaultRequest) (*Vault, error) {
	var res Vault
	if err := c.do(ctx, http.MethodPost, "/predicate", nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// VaultBalance returns the spendable amount per asset of a vault, coins
// reserved by pending transactions excluded.
func (c *Client) VaultBalance(ctx context.Context, predicateID string) (map[string]string, error) {
	var res struct {
		CurrentBalance []struct {
			AssetID string `json:"assetId"`
			Amount  string `json:"amount"`
		} `json:"currentBalance"`
	}
	if err := c.do(ctx, http.MethodGet, "/predicate/reserved-coins/"+escape(predicateID), nil, nil, &res); err != nil {
		return nil, err
	}
	balances := make(map[string]string, len(res.CurrentBalance))
	for _, b := range res.CurrentBalance {
		balances[b.AssetID] = b.Amount
	}
	return balances, nil
}
