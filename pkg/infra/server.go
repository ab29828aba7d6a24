package infra

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/GwanWingYan/vaultsign/pkg/api"
	"github.com/GwanWingYan/vaultsign/pkg/cache"
	"github.com/GwanWingYan/vaultsign/pkg/dapp"
	"github.com/GwanWingYan/vaultsign/pkg/session"
	"github.com/GwanWingYan/vaultsign/pkg/transaction"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	errBadRequest     = errors.New("malformed request")
	errUnknownNetwork = errors.New("unknown network")
	errNotFound       = errors.New("not found")
)

// Backend is the part of the vault API the control server reaches.
type Backend interface {
	ListTransactions(ctx context.Context, f api.TransactionFilter) ([]*transaction.Transaction, error)
	Transaction(ctx context.Context, id string) (*transaction.Transaction, error)
	CreateTransaction(ctx context.Context, req api.CreateTransactionRequest) (*transaction.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	TransactionCost(ctx context.Context, id string) (*api.TransactionCost, error)

	CreateVault(ctx context.Context, req api.CreateVaultRequest) (*api.Vault, error)
	VaultBalance(ctx context.Context, predicateID string) (map[string]string, error)

	Contacts(ctx context.Context, includePersonal bool) ([]api.Contact, error)
	Notifications(ctx context.Context, page, perPage int) ([]api.Notification, error)
	UnreadNotifications(ctx context.Context) (int, error)
	MarkNotificationsRead(ctx context.Context) error

	UserInfo(ctx context.Context) (*api.UserInfo, error)
	UsersByHardware(ctx context.Context, hardwareID string) ([]api.User, error)
	Nickname(ctx context.Context, nickname string) (*api.User, error)
	SelectNetwork(ctx context.Context, networkURL string) (bool, error)
}

var _ Backend = (*api.Client)(nil)

// Proposals is the popup's pending dApp request.
type Proposals interface {
	Proposal() (dapp.Proposal, bool)
	Approve(ctx context.Context) (string, error)
	Cancel(ctx context.Context)
}

// Sessions resolves who is acting.
type Sessions interface {
	Current() (*session.Session, error)
	SwitchWorkspace(workspaceID string, perms session.Permissions) error
	Logout() error
}

// Settings is the durable local state of this client.
type Settings interface {
	HardwareID() (string, error)
	BalanceVisible() bool
	SetBalanceVisible(v bool) error
	Networks() ([]session.Network, error)
	CreateNetwork(n session.Network) (bool, error)
	DeleteNetwork(url string) error
}

// Server is the local control surface: transactions and vaults, the dApp
// proposal, account and settings, and metrics. Backend reads go through
// Cache, which the lifecycle and every write invalidate.
type Server struct {
	Lifecycle *transaction.Lifecycle
	Backend   Backend
	Proposals Proposals
	Sessions  Sessions
	Settings  Settings
	Cache     *cache.Cache
	CacheTTL  time.Duration // zero keeps entries until invalidated
	Metrics   *Metrics
	Journal   *Journal
	Logger    *log.Logger
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/stats", s.stats).Methods(http.MethodGet)

	r.HandleFunc("/transactions", s.listTransactions).Methods(http.MethodGet)
	r.HandleFunc("/transactions", s.createTransaction).Methods(http.MethodPost)
	tx := r.PathPrefix("/transactions/{id}").Subrouter()
	tx.HandleFunc("", s.getTransaction).Methods(http.MethodGet)
	tx.HandleFunc("", s.deleteTransaction).Methods(http.MethodDelete)
	tx.HandleFunc("/history", s.transactionHistory).Methods(http.MethodGet)
	tx.HandleFunc("/cost", s.transactionCost).Methods(http.MethodGet)
	tx.HandleFunc("/sign", s.action(s.sign)).Methods(http.MethodPost)
	tx.HandleFunc("/decline", s.action(s.decline)).Methods(http.MethodPost)
	tx.HandleFunc("/cancel", s.action(s.cancel)).Methods(http.MethodPost)
	tx.HandleFunc("/execute", s.action(s.execute)).Methods(http.MethodPost)
	tx.HandleFunc("/retry", s.action(s.retry)).Methods(http.MethodPost)

	r.HandleFunc("/vaults", s.createVault).Methods(http.MethodPost)
	r.HandleFunc("/vaults/{id}/balance", s.vaultBalance).Methods(http.MethodGet)

	if s.Proposals != nil {
		r.HandleFunc("/proposal", s.getProposal).Methods(http.MethodGet)
		r.HandleFunc("/proposal/approve", s.approve).Methods(http.MethodPost)
		r.HandleFunc("/proposal/cancel", s.cancelProposal).Methods(http.MethodPost)
	}

	r.HandleFunc("/session", s.currentSession).Methods(http.MethodGet)
	r.HandleFunc("/session/workspace", s.switchWorkspace).Methods(http.MethodPost)
	r.HandleFunc("/session/logout", s.logout).Methods(http.MethodPost)
	r.HandleFunc("/user", s.userInfo).Methods(http.MethodGet)
	r.HandleFunc("/users/nickname/{nickname}", s.nickname).Methods(http.MethodGet)
	r.HandleFunc("/address-book", s.addressBook).Methods(http.MethodGet)

	r.HandleFunc("/notifications", s.notifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/read", s.readNotifications).Methods(http.MethodPost)

	if s.Settings != nil {
		r.HandleFunc("/user/accounts", s.hardwareAccounts).Methods(http.MethodGet)
		r.HandleFunc("/settings", s.settings).Methods(http.MethodGet)
		r.HandleFunc("/settings/balance-visible", s.setBalanceVisible).Methods(http.MethodPut)
		r.HandleFunc("/networks", s.networks).Methods(http.MethodGet)
		r.HandleFunc("/networks", s.createNetwork).Methods(http.MethodPost)
		r.HandleFunc("/networks", s.deleteNetwork).Methods(http.MethodDelete)
		r.HandleFunc("/networks/select", s.selectNetwork).Methods(http.MethodPost)
	}
	return r
}

// Serve runs the control server until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Infof("control server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "control server on %s", addr)
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

// cached answers from the query cache, loading and storing on a miss.
func (s *Server) cached(key string, load func() (interface{}, error)) (interface{}, error) {
	if s.Cache != nil {
		var v interface{}
		var ok bool
		if s.CacheTTL > 0 {
			v, ok = s.Cache.Fresh(key, s.CacheTTL)
		} else {
			v, ok = s.Cache.Get(key)
		}
		if ok {
			return v, nil
		}
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		s.Cache.Set(key, v)
	}
	return v, nil
}

func (s *Server) invalidate(fragments ...string) {
	if s.Cache != nil {
		s.Cache.InvalidatePrefix(fragments...)
	}
}

func (s *Server) session(w http.ResponseWriter) (*session.Session, bool) {
	sess, err := s.Sessions.Current()
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"average": s.Journal.AverageLatency().String(),
		"p50":     s.Journal.LatencyOfPercentile(50).String(),
		"p90":     s.Journal.LatencyOfPercentile(90).String(),
		"p99":     s.Journal.LatencyOfPercentile(99).String(),
	})
}

func statusOf(err error) int {
	var verr *transaction.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, transaction.ErrUnknownTransaction),
		errors.Is(err, dapp.ErrNoProposal),
		errors.Is(err, errUnknownNetwork),
		errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, transaction.ErrNotSigner):
		return http.StatusForbidden
	case errors.Is(err, transaction.ErrInvalidTransition),
		errors.Is(err, transaction.ErrAlreadyExecuting),
		errors.Is(err, transaction.ErrAlreadySigned),
		errors.Is(err, dapp.ErrSummaryUnavailable),
		errors.Is(err, dapp.ErrVaultPending),
		errors.Is(err, dapp.ErrApproving):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrExpired):
		return http.StatusUnauthorized
	}
	if code := api.StatusCode(err); code == http.StatusNotFound {
		return code
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.Logger.Errorf("control request failed: %v", err)
	} else {
		s.Logger.Debugf("control request rejected: %v", err)
	}
	body := map[string]interface{}{"error": err.Error()}
	var verr *transaction.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	writeJSON(w, code, body)
}

func readJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(errBadRequest, "%v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
