package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/GwanWingYan/vaultsign/pkg/transaction"
	"github.com/GwanWingYan/vaultsign/pkg/wallet"
)

var _ transaction.Backend = (*Client)(nil)

// TransactionFilter narrows GET /transaction.
type TransactionFilter struct {
	PredicateID []string
	Status      []transaction.Status
	OrderBy     string
	Sort        string
	Limit       int
	Page        int
	AllOfUser   bool
}

func (f TransactionFilter) values() url.Values {
	q := url.Values{}
	for _, id := range f.PredicateID {
		q.Add("predicateId", id)
	}
	for _, s := range f.Status {
		q.Add("status", string(s))
	}
	if f.OrderBy != "" {
		q.Set("orderBy", f.OrderBy)
	}
	if f.Sort != "" {
		q.Set("sort", f.Sort)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.AllOfUser {
		q.Set("allOfUser", "true")
	}
	return q
}

func (c *Client) ListTransactions(ctx context.Context, f TransactionFilter) ([]*transaction.Transaction, error) {
	var res []*transaction.Transaction
	if err := c.do(ctx, http.MethodGet, "/transaction", f.values(), nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) Transaction(ctx context.Context, id string) (*transaction.Transaction, error) {
	var res transaction.Transaction
	if err := c.do(ctx, http.MethodGet, "/transaction/"+escape(id), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type CreateTransactionRequest struct {
	Name             string         `json:"name"`
	PredicateAddress string         `json:"predicateAddress"`
	Hash             string         `json:"hash,omitempty"`
	Assets           []wallet.Asset `json:"assets"`
}

func (c *Client) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*transaction.Transaction, error) {
	var res transaction.Transaction
	if err := c.do(ctx, http.MethodPost, "/transaction", nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) DeleteTransaction(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/transaction/"+escape(id), nil, nil, nil)
}

type signerDecision struct {
	Account   string `json:"account"`
	Signature string `json:"signer,omitempty"`
	Confirm   bool   `json:"confirm"`
}

func (c *Client) SignTransaction(ctx context.Context, id, account, signature string) error {
	body := signerDecision{Account: account, Signature: signature, Confirm: true}
	return c.do(ctx, http.MethodPut, "/transaction/signer/"+escape(id), nil, body, nil)
}

func (c *Client) DeclineTransaction(ctx context.Context, id, account string) error {
	body := signerDecision{Account: account, Confirm: false}
	return c.do(ctx, http.MethodPut, "/transaction/signer/"+escape(id), nil, body, nil)
}

func (c *Client) CancelTransaction(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/transaction/cancel/"+escape(id), nil, nil, nil)
}

type TransactionCost struct {
	Fee    string         `json:"fee"`
	Assets []wallet.Asset `json:"assets"`
}

func (c *Client) TransactionCost(ctx context.Context, id string) (*TransactionCost, error) {
	var res TransactionCost
	if err := c.do(ctx, http.MethodGet, "/transaction/"+escape(id)+"/cost", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

var _ wallet.Sender = (*Client)(nil)

// Send asks the backend to submit a fully signed transaction and returns its
// chain hash.
func (c *Client) Send(ctx context.Context, id string) (string, error) {
	var res struct {
		Hash string `json:"hash"`
	}
	if err := c.do(ctx, http.MethodPost, "/transaction/send/"+escape(id), nil, nil, &res); err != nil {
		return "", err
	}
	return res.Hash, nil
}
