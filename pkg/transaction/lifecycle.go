package transaction

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/GwanWingYan/vaultsign/pkg/wallet"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// State is the lifecycle position of one transaction on this client.
type State string

const (
	StateAwaitSignatures State = "AWAIT_SIGNATURES"
	StateReadyToSend     State = "READY_TO_SEND"
	StateSending         State = "SENDING"
	StateSent            State = "SENT"
	StateFailed          State = "FAILED"
	StateDeclined        State = "DECLINED"
	StateCancelled       State = "CANCELLED"
)

// StaleBalanceMessage is what the SDK reports when its cached vault balance
// lags behind the chain. A send failing with it while the threshold is met
// actually went through.
const StaleBalanceMessage = "not enough coins to fit the target"

const (
	OutcomeSent         = "sent"
	OutcomeReclassified = "reclassified"
	OutcomeFailed       = "failed"
)

// Query cache key fragments refreshed after every execution.
var executionQueries = []string{"home", "transaction", "assets"}

var (
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrInvalidTransition  = errors.New("invalid transaction state transition")
	ErrAlreadyExecuting   = errors.New("transaction is already being sent")
	ErrNotSigner          = errors.New("account is not a signer of this transaction")
	ErrAlreadySigned      = errors.New("account already signed this transaction")
)

// Backend records signer decisions with the authoritative API.
type Backend interface {
	SignTransaction(ctx context.Context, id, account, signature string) error
	DeclineTransaction(ctx context.Context, id, account string) error
	CancelTransaction(ctx context.Context, id string) error
}

// Invalidator drops cached queries whose key contains any of the fragments.
type Invalidator interface {
	InvalidatePrefix(fragments ...string) int
}

// Notifier surfaces progress to the user.
type Notifier interface {
	Loading(tx *Transaction)
	Success(tx *Transaction)
	Failure(tx *Transaction, err error)
}

// Recorder counts executions.
type Recorder interface {
	Execution(outcome string)
	InFlight(n int)
}

type Options struct {
	Signer   wallet.Signer
	Sender   wallet.Sender
	Backend  Backend
	Cache    Invalidator
	Notifier Notifier
	Recorder Recorder
	Logger   *log.Logger
	Now      func() time.Time
}

type entry struct {
	tx    *Transaction
	state State
}

// Lifecycle drives transactions from collecting signatures to being sent.
// It is the only owner of the in-flight set.
type Lifecycle struct {
	signer   wallet.Signer
	sender   wallet.Sender
	backend  Backend
	cache    Invalidator
	notifier Notifier
	recorder Recorder
	logger   *log.Entry
	now      func() time.Time

	mu        sync.Mutex
	entries   map[string]*entry
	executing map[string]struct{}
}

func NewLifecycle(opts Options) *Lifecycle {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Lifecycle{
		signer:    opts.Signer,
		sender:    opts.Sender,
		backend:   opts.Backend,
		cache:     opts.Cache,
		notifier:  opts.Notifier,
		recorder:  opts.Recorder,
		logger:    opts.Logger.WithField("component", "lifecycle"),
		now:       opts.Now,
		entries:   make(map[string]*entry),
		executing: make(map[string]struct{}),
	}
	if l.cache == nil {
		l.cache = nopInvalidator{}
	}
	if l.notifier == nil {
		l.notifier = LogNotifier{Logger: opts.Logger}
	}
	if l.recorder == nil {
		l.recorder = nopRecorder{}
	}
	return l
}

// Track starts following tx and returns the state derived from it. A
// transaction currently being sent keeps its SENDING state. A local outcome
// the backend does not record (a failed send, a reclassified send) survives
// refreshes until the backend copy is done or carries a newer step.
func (l *Lifecycle) Track(tx *Transaction) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[tx.ID]; ok && settled(e.state) && !supersedes(tx, e.tx) {
		return e.state
	}

	state := deriveState(tx)
	if _, busy := l.executing[tx.ID]; busy {
		state = StateSending
	}
	l.entries[tx.ID] = &entry{tx: tx.Clone(), state: state}
	return state
}

func settled(s State) bool {
	switch s {
	case StateFailed, StateSent, StateDeclined, StateCancelled:
		return true
	}
	return false
}

// supersedes reports whether the backend copy remote knows more than local.
func supersedes(remote, local *Transaction) bool {
	if remote.Status == StatusDone {
		return true
	}
	r, ok := remote.History.Latest()
	if !ok {
		return false
	}
	last, ok := local.History.Latest()
	return !ok || r.Date.After(last.Date)
}

func deriveState(tx *Transaction) State {
	if tx.Status == StatusDone {
		return StateSent
	}
	if last, ok := tx.History.Latest(); ok {
		switch last.Type {
		case HistoryFailed:
			return StateFailed
		case HistoryCancel:
			return StateCancelled
		case HistoryDecline:
			return StateDeclined
		}
	}
	if tx.MeetsThreshold() {
		return StateReadyToSend
	}
	return StateAwaitSignatures
}

// State returns the current state of a tracked transaction.
func (l *Lifecycle) State(id string) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.entry(id)
	if err != nil {
		return "", err
	}
	return e.state, nil
}

// Transaction returns a copy of the tracked transaction.
func (l *Lifecycle) Transaction(id string) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, err := l.entry(id)
	if err != nil {
		return nil, err
	}
	return e.tx.Clone(), nil
}

// IsExecuting reports whether a send for id has not settled yet.
func (l *Lifecycle) IsExecuting(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.executing[id]
	return ok
}

func (l *Lifecycle) entry(id string) (*entry, error) {
	e, ok := l.entries[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTransaction, "%s", id)
	}
	return e, nil
}

func invalid(op string, id string, from State) error {
	return errors.Wrapf(ErrInvalidTransition, "%s transaction %s from %s", op, id, from)
}

// Sign fills account's witness slot. Reaching the threshold makes the
// transaction ready to send.
func (l *Lifecycle) Sign(ctx context.Context, id, account string) error {
	l.mu.Lock()
	e, err := l.entry(id)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if e.state != StateAwaitSignatures {
		l.mu.Unlock()
		return invalid("sign", id, e.state)
	}
	idx, ok := e.tx.witnessIndex(account)
	if !ok {
		l.mu.Unlock()
		return errors.Wrapf(ErrNotSigner, "%s on %s", account, id)
	}
	if e.tx.Witnesses[idx].Signed {
		l.mu.Unlock()
		return errors.Wrapf(ErrAlreadySigned, "%s on %s", account, id)
	}
	hash := e.tx.Hash
	l.mu.Unlock()

	signature, err := l.signer.Sign(ctx, account, hash)
	if err != nil {
		return errors.Wrapf(err, "error signing transaction %s", id)
	}
	if err := l.backend.SignTransaction(ctx, id, account, signature); err != nil {
		return errors.Wrapf(err, "error recording signature on %s", id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	e, err = l.entry(id)
	if err != nil {
		return err
	}
	if e.state != StateAwaitSignatures {
		return invalid("sign", id, e.state)
	}
	if idx, ok = e.tx.witnessIndex(account); !ok {
		return errors.Wrapf(ErrNotSigner, "%s on %s", account, id)
	}
	if e.tx.Witnesses[idx].Signed {
		return errors.Wrapf(ErrAlreadySigned, "%s on %s", account, id)
	}

	e.tx.Witnesses[idx].Signed = true
	e.tx.Witnesses[idx].Signature = signature
	l.record(e, HistorySign, account)
	if e.tx.MeetsThreshold() {
		e.state = StateReadyToSend
		e.tx.Status = StatusPending
	}
	l.logger.WithFields(log.Fields{"tx": id, "signed": e.tx.SignedCount(), "required": e.tx.RequiredSigners}).Info("witness signed")
	return nil
}

// Decline rejects a transaction that is still collecting signatures.
func (l *Lifecycle) Decline(ctx context.Context, id, account string) error {
	l.mu.Lock()
	e, err := l.entry(id)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if e.state != StateAwaitSignatures {
		l.mu.Unlock()
		return invalid("decline", id, e.state)
	}
	if _, ok := e.tx.witnessIndex(account); !ok {
		l.mu.Unlock()
		return errors.Wrapf(ErrNotSigner, "%s on %s", account, id)
	}
	l.mu.Unlock()

	if err := l.backend.DeclineTransaction(ctx, id, account); err != nil {
		return errors.Wrapf(err, "error declining transaction %s", id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	e, err = l.entry(id)
	if err != nil {
		return err
	}
	if e.state != StateAwaitSignatures {
		return invalid("decline", id, e.state)
	}
	e.state = StateDeclined
	l.record(e, HistoryDecline, account)
	return nil
}

// Cancel withdraws a transaction that is ready to send but not sending.
func (l *Lifecycle) Cancel(ctx context.Context, id, account string) error {
	l.mu.Lock()
	e, err := l.entry(id)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if e.state != StateReadyToSend {
		l.mu.Unlock()
		return invalid("cancel", id, e.state)
	}
	l.mu.Unlock()

	if err := l.backend.CancelTransaction(ctx, id); err != nil {
		return errors.Wrapf(err, "error cancelling transaction %s", id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	e, err = l.entry(id)
	if err != nil {
		return err
	}
	if e.state != StateReadyToSend {
		return invalid("cancel", id, e.state)
	}
	e.state = StateCancelled
	l.record(e, HistoryCancel, account)
	return nil
}

// Execute sends a transaction that is ready. A second call for the same id
// while the first has not settled is refused without sending.
func (l *Lifecycle) Execute(ctx context.Context, id string) error {
	return l.execute(ctx, id, StateReadyToSend)
}

// Retry sends a failed transaction again.
func (l *Lifecycle) Retry(ctx context.Context, id string) error {
	return l.execute(ctx, id, StateFailed)
}

func (l *Lifecycle) execute(ctx context.Context, id string, from State) error {
	l.mu.Lock()
	e, err := l.entry(id)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if _, busy := l.executing[id]; busy {
		l.mu.Unlock()
		return errors.Wrapf(ErrAlreadyExecuting, "%s", id)
	}
	if e.state != from {
		l.mu.Unlock()
		return invalid("execute", id, e.state)
	}
	l.executing[id] = struct{}{}
	e.state = StateSending
	snapshot := e.tx.Clone()
	l.recorder.InFlight(len(l.executing))
	l.mu.Unlock()

	l.notifier.Loading(snapshot)
	hash, sendErr := l.sender.Send(ctx, id)

	// The in-flight entry goes away on every path, otherwise a failed send
	// would lock the id out forever.
	l.mu.Lock()
	delete(l.executing, id)
	l.recorder.InFlight(len(l.executing))
	outcome := OutcomeFailed
	e, ok := l.entries[id]
	if ok {
		outcome = l.settle(e, hash, sendErr)
		snapshot = e.tx.Clone()
	}
	l.mu.Unlock()

	l.cache.InvalidatePrefix(executionQueries...)
	l.recorder.Execution(outcome)

	fields := log.Fields{"tx": id, "outcome": outcome}
	switch outcome {
	case OutcomeSent:
		l.logger.WithFields(fields).Info("transaction sent")
		l.notifier.Success(snapshot)
		return nil
	case OutcomeReclassified:
		l.logger.WithFields(fields).Warnf("send reported %q with threshold met, treating as sent", sendErr)
		l.notifier.Success(snapshot)
		return nil
	}
	if sendErr == nil {
		sendErr = errors.Errorf("transaction %s is no longer tracked", id)
	}
	sendErr = errors.Wrapf(sendErr, "error sending transaction %s", id)
	l.logger.WithFields(fields).Error(sendErr)
	l.notifier.Failure(snapshot, sendErr)
	return sendErr
}

func (l *Lifecycle) settle(e *entry, hash string, sendErr error) string {
	outcome := OutcomeSent
	if sendErr != nil {
		if !IsStaleBalance(sendErr) || !e.tx.MeetsThreshold() {
			e.state = StateFailed
			l.record(e, HistoryFailed, "")
			return OutcomeFailed
		}
		outcome = OutcomeReclassified
	}

	e.state = StateSent
	e.tx.Status = StatusDone
	if hash != "" {
		e.tx.Hash = hash
	}
	e.tx.SendTime = l.now()
	l.record(e, HistorySend, "")
	return outcome
}

// IsStaleBalance reports whether err is the SDK's stale balance complaint.
func IsStaleBalance(err error) bool {
	if err == nil {
		return false
	}
	if strings.Contains(err.Error(), StaleBalanceMessage) {
		return true
	}
	return strings.Contains(errors.Cause(err).Error(), StaleBalanceMessage)
}

func (l *Lifecycle) record(e *entry, t HistoryType, owner string) {
	// Backend steps may be stamped ahead of the local clock.
	date := l.now()
	if last, ok := e.tx.History.Latest(); ok && date.Before(last.Date) {
		date = last.Date
	}
	history, err := e.tx.History.Append(HistoryStep{Type: t, Owner: owner, Date: date})
	if err != nil {
		l.logger.WithField("tx", e.tx.ID).Warnf("history not updated: %v", err)
		return
	}
	e.tx.History = history
}

// Forget stops following id, e.g. after it was deleted. A transaction being
// sent cannot be forgotten.
func (l *Lifecycle) Forget(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.executing[id]; busy {
		return errors.Wrapf(ErrAlreadyExecuting, "%s", id)
	}
	delete(l.entries, id)
	return nil
}

// ClearAll forgets every tracked transaction. A send still running keeps its
// in-flight entry until it settles.
func (l *Lifecycle) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*entry)
}

type nopInvalidator struct{}

func (nopInvalidator) InvalidatePrefix(...string) int { return 0 }

type nopRecorder struct{}

func (nopRecorder) Execution(string) {}
func (nopRecorder) InFlight(int)     {}

// LogNotifier reports progress through the logger.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Loading(tx *Transaction) {
	n.Logger.WithField("tx", tx.ID).Infof("sending %q", tx.Name)
}

func (n LogNotifier) Success(tx *Transaction) {
	n.Logger.WithField("tx", tx.ID).Infof("%q sent", tx.Name)
}

func (n LogNotifier) Failure(tx *Transaction, err error) {
	n.Logger.WithField("tx", tx.ID).Errorf("%q failed: %v", tx.Name, err)
}
