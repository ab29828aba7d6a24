package infra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/GwanWingYan/vaultsign/pkg/api"
	"github.com/GwanWingYan/vaultsign/pkg/cache"
	"github.com/GwanWingYan/vaultsign/pkg/dapp"
	"github.com/GwanWingYan/vaultsign/pkg/relay"
	"github.com/GwanWingYan/vaultsign/pkg/session"
	"github.com/GwanWingYan/vaultsign/pkg/transaction"
	"github.com/GwanWingYan/vaultsign/pkg/wallet"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Runtime is every component of a signing client wired together.
type Runtime struct {
	Config    Config
	Storage   *session.FileStorage
	Store     *session.Store
	API       *api.Client
	Cache     *cache.Cache
	Metrics   *Metrics
	Journal   *Journal
	Wallet    *wallet.Bridge
	Lifecycle *transaction.Lifecycle

	// Relay and Synchronizer are set only for a dApp popup session.
	Relay        *relay.Client
	Synchronizer *dapp.Synchronizer

	logger *log.Logger
}

// NewRuntime builds the components described by c. Nothing touches the
// network until Run.
func NewRuntime(c Config, logger *log.Logger) (*Runtime, error) {
	rt := &Runtime{Config: c, logger: logger}

	var err error
	if rt.Storage, err = session.OpenFileStorage(c.StatePath, c.Networks); err != nil {
		return nil, err
	}
	jar, err := session.NewJar(c.CookieTTL(), rt.Storage)
	if err != nil {
		return nil, err
	}
	rt.Store = session.NewStore(jar, c.SessionID, c.Origin, logger)

	if rt.API, err = api.NewClient(c.APIURL, api.Options{Session: rt.Store, Logger: logger}); err != nil {
		return nil, err
	}
	if rt.Cache, err = cache.New(c.CacheSize); err != nil {
		return nil, err
	}
	rt.Metrics = NewMetrics()
	if rt.Journal, err = NewJournal(c.LogPath, transaction.LogNotifier{Logger: logger}); err != nil {
		return nil, err
	}
	rt.Wallet = wallet.NewBridge(c.WalletURL)

	rt.Lifecycle = transaction.NewLifecycle(transaction.Options{
		Signer:   rt.Wallet,
		Sender:   rt.API,
		Backend:  rt.API,
		Cache:    rt.Cache,
		Notifier: rt.Journal,
		Recorder: rt.Metrics,
		Logger:   logger,
	})

	if c.SessionID != "" {
		rt.Relay = relay.NewClient(relay.NewWebsocketDialer(c.RelayURL), relay.Options{
			Origin:     c.Origin,
			RequestID:  c.RequestID,
			AckTimeout: c.AckTimeout,
			Reconnect: relay.ReconnectPolicy{
				InitialInterval: c.Reconnect.InitialInterval,
				MaxInterval:     c.Reconnect.MaxInterval,
				MaxAttempts:     uint(c.Reconnect.MaxAttempts),
				MaxElapsed:      c.Reconnect.MaxElapsed,
			},
			Logger:   logger,
			Recorder: rt.Metrics,
		})
		rt.Synchronizer = dapp.NewSynchronizer(rt.Relay, rt.Wallet, dapp.Options{
			SessionID: c.SessionID,
			RequestID: c.RequestID,
			Logger:    logger,
		})
	}

	// Logging out tears down everything tied to the identity.
	rt.Store.OnLogout(rt.Cache.Purge)
	rt.Store.OnLogout(rt.Lifecycle.ClearAll)
	if rt.Relay != nil {
		rt.Store.OnLogout(func() {
			if err := rt.Relay.Close(); err != nil {
				logger.Warnf("error closing relay on logout: %v", err)
			}
		})
	}
	return rt, nil
}

// registering signs unknown accounts up: when the backend has no sign-in
// code for an address, the account is created and its first code used.
type registering struct {
	*api.Client
	provider string
}

func (r registering) GenerateSignInCode(ctx context.Context, address string) (*session.SignInCode, error) {
	code, err := r.Client.GenerateSignInCode(ctx, address)
	switch api.StatusCode(err) {
	case http.StatusNotFound, http.StatusBadRequest:
	default:
		return code, err
	}
	return r.Client.CreateUser(ctx, api.CreateUserRequest{
		Address:  address,
		Provider: r.provider,
		Type:     session.AccountFuel,
	})
}

// EnsureSession signs the configured account in when no valid session is
// stored, registering it first if the backend does not know it.
func (rt *Runtime) EnsureSession(ctx context.Context) (*session.Session, error) {
	sess, err := rt.Store.Current()
	if err == nil {
		return sess, nil
	}
	if rt.Config.Account == "" {
		return nil, err
	}
	rt.logger.Infof("signing in %s", rt.Config.Account)
	var provider string
	if networks, err := rt.Storage.Networks(); err == nil && len(networks) > 0 {
		provider = networks[0].URL
	}
	auth := &session.Authenticator{
		Service: registering{Client: rt.API, provider: provider},
		Signer:  rt.Wallet,
		Store:   rt.Store,
	}
	return auth.SignIn(ctx, rt.Config.Account, session.EncoderFuel)
}

// Run serves the control surface and, in a popup session, keeps the relay
// connected, until ctx is done or a component fails.
func (rt *Runtime) Run(ctx context.Context) error {
	defer rt.Journal.Close()

	sess, err := rt.EnsureSession(ctx)
	if err != nil {
		return errors.Wrap(err, "no usable session")
	}
	rt.logger.Infof("acting for %s", sess.Account)
	if id, err := rt.Storage.HardwareID(); err == nil {
		if users, err := rt.API.UsersByHardware(ctx, id); err != nil {
			rt.logger.Warnf("error listing accounts of hardware %s: %v", id, err)
		} else {
			rt.logger.Debugf("hardware %s has %d accounts", id, len(users))
		}
	}

	server := &Server{
		Lifecycle: rt.Lifecycle,
		Backend:   rt.API,
		Sessions:  rt.Store,
		Settings:  rt.Storage,
		Cache:     rt.Cache,
		CacheTTL:  rt.Config.CacheTTL,
		Metrics:   rt.Metrics,
		Journal:   rt.Journal,
		Logger:    rt.logger,
	}
	if rt.Synchronizer != nil {
		server.Proposals = rt.Synchronizer
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(ctx, rt.Config.ListenAddress)
	})

	if rt.Relay != nil {
		rt.Synchronizer.Start()
		defer rt.Synchronizer.Stop()

		g.Go(func() error {
			if err := rt.Relay.Connect(ctx, rt.Config.SessionID); err != nil {
				return errors.Wrap(err, "error connecting to relay")
			}
			select {
			case <-ctx.Done():
				return rt.Relay.Close()
			case <-rt.Relay.Done():
				if err := rt.Relay.Err(); err != nil {
					return err
				}
				return nil
			}
		})
	}

	return g.Wait()
}

// Process runs the signing client until interrupted.
func Process(c Config, logger *log.Logger) error {
	rt, err := NewRuntime(c, logger)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = rt.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// PrintTransactions fetches the account's vault transactions once and writes
// them as a table, keeping those whose display status is in statuses.
func PrintTransactions(c Config, logger *log.Logger, w io.Writer, statuses []string) error {
	rt, err := NewRuntime(c, logger)
	if err != nil {
		return err
	}
	defer rt.Journal.Close()

	ctx := context.Background()
	sess, err := rt.EnsureSession(ctx)
	if err != nil {
		return errors.Wrap(err, "no usable session")
	}
	txs, err := rt.API.ListTransactions(ctx, api.TransactionFilter{OrderBy: "createdAt", Sort: "DESC"})
	if err != nil {
		return err
	}

	var want []transaction.DisplayStatus
	for _, s := range statuses {
		want = append(want, transaction.DisplayStatus(s))
	}
	txs = transaction.Filter(txs, sess.Account, want...)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIGNED\tSTATUS\tSTATE")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			tx.ID, tx.Name, tx.SignedCount(), tx.RequiredSigners,
			transaction.Classify(tx, sess.Account), rt.Lifecycle.Track(tx))
	}
	return tw.Flush()
}
