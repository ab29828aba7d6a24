package transaction_test

import (
	"context"
	"io/ioutil"
	"sync"
	"time"

	"github.com/GwanWingYan/vaultsign/pkg/transaction"
	log "github.com/sirupsen/logrus"
)

const (
	alice = "0xa11ce00000000000000000000000000000000000000000000000000000000001"
	bob   = "0xb0b0000000000000000000000000000000000000000000000000000000000002"
	carol = "0xca00000000000000000000000000000000000000000000000000000000000003"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(ioutil.Discard)
	return logger
}

// newTx builds a transaction awaiting required signatures out of the given
// signer slots.
func newTx(id string, required int, signers ...string) *transaction.Transaction {
	tx := &transaction.Transaction{
		ID:              id,
		Name:            "payout " + id,
		Hash:            "hash-" + id,
		Status:          transaction.StatusAwait,
		RequiredSigners: required,
		CreatedAt:       t0,
		History: transaction.History{
			{Type: transaction.HistoryCreated, Owner: signers[0], Date: t0},
		},
	}
	for _, s := range signers {
		tx.Witnesses = append(tx.Witnesses, transaction.Witness{Account: s})
	}
	return tx
}

type fakeSigner struct{ err error }

func (s *fakeSigner) Sign(_ context.Context, account, hash string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "sig:" + account + ":" + hash, nil
}

// fakeSender blocks each send until release receives a result, unless
// results are queued up front.
type fakeSender struct {
	mu      sync.Mutex
	calls   int
	results []error
	started chan string
	release chan error
}

func newFakeSender(results ...error) *fakeSender {
	return &fakeSender{results: results, started: make(chan string, 8)}
}

func (s *fakeSender) Send(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	s.calls++
	var err error
	blocking := s.release != nil
	if !blocking && len(s.results) > 0 {
		err, s.results = s.results[0], s.results[1:]
	}
	s.mu.Unlock()

	s.started <- id
	if blocking {
		select {
		case err = <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "0xsent-" + id, nil
}

func (s *fakeSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeBackend struct {
	mu        sync.Mutex
	signed    []string
	declined  []string
	cancelled []string
	err       error
}

func (b *fakeBackend) SignTransaction(_ context.Context, id, account, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.signed = append(b.signed, id+"/"+account)
	return nil
}

func (b *fakeBackend) DeclineTransaction(_ context.Context, id, account string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.declined = append(b.declined, id+"/"+account)
	return nil
}

func (b *fakeBackend) CancelTransaction(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.cancelled = append(b.cancelled, id)
	return nil
}

type fakeCache struct {
	mu        sync.Mutex
	fragments [][]string
}

func (c *fakeCache) InvalidatePrefix(fragments ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fragments = append(c.fragments, fragments)
	return len(fragments)
}

func (c *fakeCache) Calls() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.fragments...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	loading  int
	success  int
	failures []error
}

func (n *fakeNotifier) Loading(*transaction.Transaction) {
	n.mu.Lock()
	n.loading++
	n.mu.Unlock()
}

func (n *fakeNotifier) Success(*transaction.Transaction) {
	n.mu.Lock()
	n.success++
	n.mu.Unlock()
}

func (n *fakeNotifier) Failure(_ *transaction.Transaction, err error) {
	n.mu.Lock()
	n.failures = append(n.failures, err)
	n.mu.Unlock()
}

func (n *fakeNotifier) Successes() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.success
}

func (n *fakeNotifier) Failures() []error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]error(nil), n.failures...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
	inflight []int
}

func (r *fakeRecorder) Execution(outcome string) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

func (r *fakeRecorder) InFlight(n int) {
	r.mu.Lock()
	r.inflight = append(r.inflight, n)
	r.mu.Unlock()
}

func (r *fakeRecorder) Outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

// clock hands out strictly increasing instants.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}
