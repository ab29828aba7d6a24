package dapp

import (
	"context"
	"sync"
	"time"

	"github.com/GwanWingYan/vaultsign/pkg/relay"
	"github.com/GwanWingYan/vaultsign/pkg/wallet"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNoProposal         = errors.New("no transaction proposal")
	ErrSummaryUnavailable = errors.New("transaction summary unavailable")
	ErrVaultPending       = errors.New("vault has a transaction pending signatures")
	ErrApproving          = errors.New("proposal approval already in progress")
)

// Channel is the part of the relay client the synchronizer needs.
type Channel interface {
	On(t relay.EventType, h relay.Handler) relay.SubscriptionID
	Off(t relay.EventType, id relay.SubscriptionID)
	Emit(ctx context.Context, env relay.Envelope) error
	Request(ctx context.Context, env relay.Envelope) (relay.Envelope, error)
}

// Proposal is an unsigned transaction a dApp asked the user to approve.
type Proposal struct {
	VaultAddress string
	VaultName    string
	ProviderURL  string
	Configurable string
	VaultVersion string
	Pending      bool
	Tx           wallet.TransactionRequest
	ValidUntil   string
	ReceivedAt   time.Time

	// Summary is nil until the SDK answers. SummaryErr is set when it
	// could not.
	Summary    *wallet.Summary
	SummaryErr error
}

// SummaryReady reports whether the proposal can be shown and approved.
func (p *Proposal) SummaryReady() bool {
	return p.Summary != nil && p.SummaryErr == nil
}

type Options struct {
	SessionID string
	RequestID string
	Logger    *log.Logger
	Now       func() time.Time
}

// Synchronizer keeps the one proposal of a popup session in step with the
// relay. A newer TX_REQUEST replaces the held proposal together with any
// summary still being computed for it.
type Synchronizer struct {
	channel    Channel
	summarizer wallet.Summarizer
	opts       Options
	logger     *log.Entry

	mu        sync.Mutex
	proposal  *Proposal
	gen       uint64
	abort     context.CancelFunc
	approving bool
	subs      map[relay.EventType]relay.SubscriptionID
	wg        sync.WaitGroup
}

func NewSynchronizer(channel Channel, summarizer wallet.Summarizer, opts Options) *Synchronizer {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Synchronizer{
		channel:    channel,
		summarizer: summarizer,
		opts:       opts,
		logger: opts.Logger.WithFields(log.Fields{
			"session":    opts.SessionID,
			"request_id": opts.RequestID,
		}),
		subs: make(map[relay.EventType]relay.SubscriptionID),
	}
}

// Start subscribes to the relay. Every (re)connect announces the UI to the
// connector, and TX_REQUEST envelopes become proposals.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) > 0 {
		return
	}
	s.subs[relay.EventTransportConnect] = s.channel.On(relay.EventTransportConnect, func(relay.Envelope) {
		s.announce()
	})
	s.subs[relay.EventTxRequest] = s.channel.On(relay.EventTxRequest, s.HandleIncoming)
}

func (s *Synchronizer) announce() {
	err := s.channel.Emit(context.Background(), relay.Envelope{
		Room:      s.opts.SessionID,
		To:        relay.RoleConnector,
		Type:      relay.EventConnected,
		RequestID: s.opts.RequestID,
		Data:      relay.ConnectedPayload{SessionID: s.opts.SessionID, RequestID: s.opts.RequestID},
	})
	if err != nil {
		s.logger.Warnf("error announcing to connector: %v", err)
		return
	}
	s.logger.Info("announced to connector")
}

// HandleIncoming turns a TX_REQUEST addressed to the UI into the current
// proposal. Anything else is ignored.
func (s *Synchronizer) HandleIncoming(env relay.Envelope) {
	if env.To != relay.RoleUI || env.Type != relay.EventTxRequest {
		return
	}
	payload, ok := env.Data.(relay.TxRequestPayload)
	if !ok {
		s.logger.Warnf("dropping %s without a transaction payload", env.Type)
		return
	}

	p := &Proposal{
		VaultAddress: payload.Vault.Address,
		VaultName:    payload.Vault.Name,
		ProviderURL:  payload.Vault.Provider,
		Configurable: payload.Vault.Configurable,
		VaultVersion: payload.Vault.Version,
		Pending:      payload.Vault.PendingTx,
		Tx:           payload.Tx,
		ValidUntil:   payload.ValidAt,
		ReceivedAt:   s.opts.Now(),
	}
	req := wallet.SummaryRequest{
		TransactionLike: payload.Tx,
		ProviderURL:     payload.Vault.Provider,
		Configurable:    payload.Vault.Configurable,
		Version:         payload.Vault.Version,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.abort != nil {
		s.abort()
	}
	s.gen++
	gen := s.gen
	s.proposal = p
	s.abort = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.WithField("vault", p.VaultAddress).Info("transaction proposal received")
	go s.summarize(ctx, gen, req)
}

func (s *Synchronizer) summarize(ctx context.Context, gen uint64, req wallet.SummaryRequest) {
	defer s.wg.Done()
	summary, err := s.summarizer.Summarize(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.proposal == nil {
		return
	}
	if err != nil {
		s.proposal.SummaryErr = errors.Wrapf(err, "error summarizing transaction for %s", req.ProviderURL)
		s.logger.Warn(s.proposal.SummaryErr)
		return
	}
	if summary == nil {
		summary = &wallet.Summary{}
	}
	s.proposal.Summary = summary
}

// Proposal returns a copy of the current proposal.
func (s *Synchronizer) Proposal() (Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proposal == nil {
		return Proposal{}, false
	}
	return *s.proposal, true
}

// Approve confirms the current proposal to the API and returns the id of the
// transaction it created. The proposal is discarded once the API answers.
func (s *Synchronizer) Approve(ctx context.Context) (string, error) {
	s.mu.Lock()
	p := s.proposal
	switch {
	case p == nil:
		s.mu.Unlock()
		return "", ErrNoProposal
	case s.approving:
		s.mu.Unlock()
		return "", ErrApproving
	case p.Pending:
		s.mu.Unlock()
		return "", errors.Wrapf(ErrVaultPending, "%s", p.VaultAddress)
	case !p.SummaryReady():
		s.mu.Unlock()
		if p.SummaryErr != nil {
			return "", errors.Wrap(ErrSummaryUnavailable, p.SummaryErr.Error())
		}
		return "", ErrSummaryUnavailable
	}
	s.approving = true
	gen := s.gen
	payload := relay.TxConfirmPayload{Operations: p.Summary, Tx: p.Tx}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.approving = false
		s.mu.Unlock()
	}()

	reply, err := s.channel.Request(ctx, relay.Envelope{
		Room: s.opts.SessionID,
		To:   relay.RoleAPI,
		Type: relay.EventTxConfirm,
		Data: payload,
	})
	if err != nil {
		return "", errors.Wrapf(err, "error confirming proposal for %s", p.VaultAddress)
	}

	var id string
	if confirm, ok := reply.Data.(relay.TxConfirmPayload); ok {
		id = confirm.TransactionID
	}
	s.discard(gen)
	s.logger.WithField("tx", id).Info("proposal approved")
	return id, nil
}

// Cancel tells the connector the user walked away and drops the proposal.
// The notice is best-effort.
func (s *Synchronizer) Cancel(ctx context.Context) {
	err := s.channel.Emit(ctx, relay.Envelope{
		Room:      s.opts.SessionID,
		To:        relay.RoleConnector,
		Type:      relay.EventDisconnected,
		RequestID: s.opts.RequestID,
		Data:      relay.DisconnectedPayload{Reason: "cancelled"},
	})
	if err != nil {
		s.logger.Warnf("error notifying connector of cancellation: %v", err)
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.discard(gen)
}

func (s *Synchronizer) discard(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	if s.abort != nil {
		s.abort()
		s.abort = nil
	}
	s.proposal = nil
}

// Stop unsubscribes and waits for summaries in progress to give up.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	for t, id := range s.subs {
		s.channel.Off(t, id)
	}
	s.subs = make(map[relay.EventType]relay.SubscriptionID)
	if s.abort != nil {
		s.abort()
		s.abort = nil
	}
	s.proposal = nil
	s.gen++
	s.mu.Unlock()
	s.wg.Wait()
}
