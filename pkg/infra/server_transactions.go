package infra

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/GwanWingYan/vaultsign/pkg/api"
	"github.com/GwanWingYan/vaultsign/pkg/cache"
	"github.com/GwanWingYan/vaultsign/pkg/dapp"
	"github.com/GwanWingYan/vaultsign/pkg/transaction"
	"github.com/GwanWingYan/vaultsign/pkg/wallet"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// Cache fragments dropped by any write to transactions.
var transactionQueries = []string{"transaction", "home", "assets"}

type transactionView struct {
	*transaction.Transaction
	State         transaction.State         `json:"state"`
	DisplayStatus transaction.DisplayStatus `json:"displayStatus"`
}

// track hands backend copies to the lifecycle and returns the copies it
// keeps, which carry local outcomes the backend does not know about.
func (s *Server) track(txs ...*transaction.Transaction) []*transaction.Transaction {
	res := make([]*transaction.Transaction, 0, len(txs))
	for _, tx := range txs {
		s.Lifecycle.Track(tx)
		local, err := s.Lifecycle.Transaction(tx.ID)
		if err != nil {
			local = tx
		}
		res = append(res, local)
	}
	return res
}

func (s *Server) view(tx *transaction.Transaction, account string) transactionView {
	state, _ := s.Lifecycle.State(tx.ID)
	return transactionView{
		Transaction:   tx,
		State:         state,
		DisplayStatus: transaction.Classify(tx, account),
	}
}

func (s *Server) fetchTransaction(ctx context.Context, id string) (*transaction.Transaction, error) {
	v, err := s.cached(cache.Key("transaction", id), func() (interface{}, error) {
		return s.Backend.Transaction(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return s.track(v.(*transaction.Transaction))[0], nil
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := api.TransactionFilter{
		PredicateID: q["predicateId"],
		OrderBy:     q.Get("orderBy"),
		Sort:        q.Get("sort"),
	}
	query := r.URL.Query()
	query.Del("status")
	key := cache.Key("transaction", "list", sess.WorkspaceID, sess.Account, query.Encode())

	v, err := s.cached(key, func() (interface{}, error) {
		return s.Backend.ListTransactions(r.Context(), filter)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	txs := s.track(v.([]*transaction.Transaction)...)
	counts := transaction.Counts(txs, sess.Account)

	var want []transaction.DisplayStatus
	for _, st := range q["status"] {
		want = append(want, transaction.DisplayStatus(strings.ToUpper(st)))
	}
	txs = transaction.Filter(txs, sess.Account, want...)

	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, s.view(tx, sess.Account))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": views,
		"counts":       counts,
	})
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w)
	if !ok {
		return
	}
	tx, err := s.fetchTransaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(tx, sess.Account))
}

type createTransactionRequest struct {
	transaction.Draft
	PredicateID      string `json:"predicateId"`
	PredicateAddress string `json:"predicateAddress"`
	Hash             string `json:"hash"`
}

// createTransaction validates the draft against the vault's spendable
// balance and proposes it. Form errors are reported before any backend call.
func (s *Server) createTransaction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w)
	if !ok {
		return
	}
	var req createTransactionRequest
	if err := readJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if err := req.CheckForm(); err != nil {
		s.fail(w, err)
		return
	}
	if req.PredicateID == "" || req.PredicateAddress == "" {
		s.fail(w, &transaction.ValidationError{Fields: []transaction.FieldError{
			{Index: -1, Field: "vault", Message: "Vault is required."},
		}})
		return
	}

	raw, err := s.cached(cache.Key("assets", req.PredicateID), func() (interface{}, error) {
		return s.Backend.VaultBalance(r.Context(), req.PredicateID)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := req.Validate(transaction.ParseBalances(raw.(map[string]string))); err != nil {
		s.fail(w, err)
		return
	}

	created, err := s.Backend.CreateTransaction(r.Context(), api.CreateTransactionRequest{
		Name:             req.Name,
		PredicateAddress: req.PredicateAddress,
		Hash:             req.Hash,
		Assets:           req.Assets(),
	})
	if err != nil {
		s.fail(w, errors.Wrap(err, "error creating transaction"))
		return
	}
	s.invalidate(transactionQueries...)
	s.Logger.WithField("tx", created.ID).Info("transaction created")
	writeJSON(w, http.StatusCreated, s.view(s.track(created)[0], sess.Account))
}

func (s *Server) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w); !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if s.Lifecycle.IsExecuting(id) {
		s.fail(w, errors.Wrapf(transaction.ErrAlreadyExecuting, "%s", id))
		return
	}
	if err := s.Backend.DeleteTransaction(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.Lifecycle.Forget(id); err != nil {
		s.fail(w, err)
		return
	}
	s.invalidate(transactionQueries...)
	w.WriteHeader(http.StatusNoContent)
}

type historyView struct {
	Type  transaction.HistoryType `json:"type"`
	Owner string                  `json:"owner"`
	Date  time.Time               `json:"date"`
	Label string                  `json:"label"`
}

// transactionHistory labels each step, naming other signers by their
// address book nickname when there is one.
func (s *Server) transactionHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w)
	if !ok {
		return
	}
	tx, err := s.fetchTransaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}

	var nicknames map[string]string
	if contacts, err := s.contacts(r.Context(), sess.WorkspaceID); err != nil {
		s.Logger.Warnf("history of %s without nicknames: %v", tx.ID, err)
	} else {
		nicknames = api.Nicknames(contacts)
	}

	steps := make([]historyView, 0, len(tx.History))
	for _, step := range tx.History {
		steps = append(steps, historyView{
			Type:  step.Type,
			Owner: step.Owner,
			Date:  step.Date,
			Label: transaction.Describe(step, sess.Account, nicknames),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": tx.ID, "history": steps})
}

func (s *Server) transactionCost(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w); !ok {
		return
	}
	id := mux.Vars(r)["id"]
	v, err := s.cached(cache.Key("transaction", id, "cost"), func() (interface{}, error) {
		return s.Backend.TransactionCost(r.Context(), id)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type actionFunc func(ctx context.Context, id, account string) error

// action makes sure the lifecycle follows the transaction, runs fn and
// answers with the resulting state.
func (s *Server) action(fn actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(w)
		if !ok {
			return
		}
		id := mux.Vars(r)["id"]
		if _, err := s.Lifecycle.State(id); errors.Is(err, transaction.ErrUnknownTransaction) {
			tx, err := s.Backend.Transaction(r.Context(), id)
			if err != nil {
				s.fail(w, err)
				return
			}
			s.Lifecycle.Track(tx)
		}

		err := fn(r.Context(), id, sess.Account)
		s.invalidate(transactionQueries...)
		state, _ := s.Lifecycle.State(id)
		if err != nil && state == transaction.StateFailed && statusOf(err) == http.StatusInternalServerError {
			// The send itself failed; the transaction can be retried.
			s.Logger.Warnf("send of %s failed: %v", id, err)
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{"id": id, "state": state, "error": err.Error()})
			return
		}
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "state": state})
	}
}

func (s *Server) sign(ctx context.Context, id, account string) error {
	return s.Lifecycle.Sign(ctx, id, account)
}

func (s *Server) decline(ctx context.Context, id, account string) error {
	return s.Lifecycle.Decline(ctx, id, account)
}

func (s *Server) cancel(ctx context.Context, id, account string) error {
	return s.Lifecycle.Cancel(ctx, id, account)
}

func (s *Server) execute(ctx context.Context, id, _ string) error {
	return s.Lifecycle.Execute(ctx, id)
}

func (s *Server) retry(ctx context.Context, id, _ string) error {
	return s.Lifecycle.Retry(ctx, id)
}

func (s *Server) createVault(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w); !ok {
		return
	}
	var req api.CreateVaultRequest
	if err := readJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if err := transaction.ValidateSigners(req.Addresses, req.MinSigners); err != nil {
		s.fail(w, err)
		return
	}
	vault, err := s.Backend.CreateVault(r.Context(), req)
	if err != nil {
		s.fail(w, errors.Wrap(err, "error creating vault"))
		return
	}
	s.invalidate("predicate", "home")
	s.Logger.WithField("vault", vault.ID).Info("vault created")
	writeJSON(w, http.StatusCreated, vault)
}

// vaultBalance reports spendable amounts unless the user hid balances.
func (s *Server) vaultBalance(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w); !ok {
		return
	}
	if s.Settings != nil && !s.Settings.BalanceVisible() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"visible": false})
		return
	}
	id := mux.Vars(r)["id"]
	v, err := s.cached(cache.Key("assets", id), func() (interface{}, error) {
		return s.Backend.VaultBalance(r.Context(), id)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"visible": true, "balances": v})
}

type proposalView struct {
	VaultAddress string                    `json:"vaultAddress"`
	VaultName    string                    `json:"vaultName"`
	Pending      bool                      `json:"pendingTx"`
	ValidUntil   string                    `json:"validUntil,omitempty"`
	ReceivedAt   time.Time                 `json:"receivedAt"`
	Tx           wallet.TransactionRequest `json:"tx"`
	Summary      *wallet.Summary           `json:"summary,omitempty"`
	SummaryError string                    `json:"summaryError,omitempty"`
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	p, ok := s.Proposals.Proposal()
	if !ok {
		s.fail(w, dapp.ErrNoProposal)
		return
	}
	v := proposalView{
		VaultAddress: p.VaultAddress,
		VaultName:    p.VaultName,
		Pending:      p.Pending,
		ValidUntil:   p.ValidUntil,
		ReceivedAt:   p.ReceivedAt,
		Tx:           p.Tx,
		Summary:      p.Summary,
	}
	if p.SummaryErr != nil {
		v.SummaryError = p.SummaryErr.Error()
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	id, err := s.Proposals.Approve(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.invalidate(transactionQueries...)
	writeJSON(w, http.StatusOK, map[string]string{"transactionId": id})
}

func (s *Server) cancelProposal(w http.ResponseWriter, r *http.Request) {
	s.Proposals.Cancel(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
