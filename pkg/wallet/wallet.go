// Package wallet declares the capabilities this module borrows from the chain
// SDK and the browser wallet extension. Nothing here signs or builds a
// transaction; implementations live outside the repository.
package wallet

import (
	"context"
)

// TransactionRequest is the unsigned transaction produced by the SDK. Its
// shape belongs to the SDK, so it is carried around opaquely.
type TransactionRequest map[string]interface{}

// Asset is an amount of one asset moving to a recipient.
type Asset struct {
	AssetID string `json:"assetId" mapstructure:"assetId"`
	Amount  string `json:"amount" mapstructure:"amount"`
	To      string `json:"to,omitempty" mapstructure:"to"`
}

// Operation is one human readable step of a transaction summary.
type Operation struct {
	Name   string  `json:"name" mapstructure:"name"`
	From   string  `json:"from,omitempty" mapstructure:"from"`
	To     string  `json:"to,omitempty" mapstructure:"to"`
	Assets []Asset `json:"assets,omitempty" mapstructure:"assets"`
}

// Summary is what the user sees before approving a dApp request.
type Summary struct {
	Operations []Operation `json:"operations" mapstructure:"operations"`
	Fee        string      `json:"fee" mapstructure:"fee"`
}

// SummaryRequest carries everything the SDK needs to simulate a transaction
// against a vault.
type SummaryRequest struct {
	TransactionLike TransactionRequest
	ProviderURL     string
	Configurable    string
	Version         string
}

// Summarizer computes transaction summaries.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (*Summary, error)
}

// Signer produces a witness signature for a transaction hash on behalf of the
// connected account.
type Signer interface {
	Sign(ctx context.Context, account, txHash string) (string, error)
}

// Sender submits a fully signed vault transaction to the chain. The returned
// hash identifies the submitted transaction.
type Sender interface {
	Send(ctx context.Context, transactionID string) (string, error)
}

// MessageSigner signs an arbitrary challenge with the connected account,
// used for sign-in.
type MessageSigner interface {
	SignMessage(ctx context.Context, account, message string) (string, error)
}
