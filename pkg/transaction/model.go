package transaction

import (
	"strings"
	"time"

	"github.com/GwanWingYan/vaultsign/pkg/wallet"
)

// Status is the backend's coarse status of a vault transaction.
type Status string

const (
	StatusAwait   Status = "AWAIT"
	StatusPending Status = "PENDING"
	StatusDone    Status = "DONE"
)

// Witness is one designated signer's slot on a transaction. The number of
// slots is fixed when the transaction is created.
type Witness struct {
	Account   string `json:"account"`
	Signature string `json:"signature,omitempty"`
	Signed    bool   `json:"signed"`
}

type Resume struct {
	Inputs  []wallet.Asset `json:"inputs"`
	Outputs []wallet.Asset `json:"outputs"`
	Fee     string         `json:"fee"`
}

// Predicate references the vault that owns a transaction.
type Predicate struct {
	ID      string `json:"id"`
	Address string `json:"predicateAddress"`
	Name    string `json:"name"`
}

// Transaction is the client's cached copy of a backend transaction.
type Transaction struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Hash            string    `json:"hash"`
	Status          Status    `json:"status"`
	RequiredSigners int       `json:"requiredSigners"`
	Witnesses       []Witness `json:"witnesses"`
	Resume          Resume    `json:"resume"`
	Predicate       Predicate `json:"predicate"`
	History         History   `json:"history"`
	CreatedAt       time.Time `json:"createdAt"`
	SendTime        time.Time `json:"sendTime,omitempty"`
}

// SignedCount is the number of witness slots already signed.
func (t *Transaction) SignedCount() int {
	n := 0
	for _, w := range t.Witnesses {
		if w.Signed {
			n++
		}
	}
	return n
}

// MeetsThreshold reports whether enough witnesses signed to send.
func (t *Transaction) MeetsThreshold() bool {
	return t.SignedCount() >= t.RequiredSigners
}

func (t *Transaction) witnessIndex(account string) (int, bool) {
	for i, w := range t.Witnesses {
		if sameAccount(w.Account, account) {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy so callers never share slices with the cache.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.Witnesses = append([]Witness(nil), t.Witnesses...)
	c.History = append(History(nil), t.History...)
	c.Resume.Inputs = append([]wallet.Asset(nil), t.Resume.Inputs...)
	c.Resume.Outputs = append([]wallet.Asset(nil), t.Resume.Outputs...)
	return &c
}

func sameAccount(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
