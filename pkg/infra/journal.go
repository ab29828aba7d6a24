package infra

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/GwanWingYan/vaultsign/pkg/transaction"
	"github.com/pkg/errors"
)

const journalCapacity = 1024

// Journal records every send to the log file and keeps its latency, from
// the moment the send starts until it settles. It wraps the notifier handed
// to the lifecycle.
type Journal struct {
	next transaction.Notifier
	now  func() time.Time

	lines     chan string
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu        sync.Mutex
	started   map[string]time.Time
	latencies []time.Duration
	sorted    []time.Duration
}

// NewJournal writes to logPath, or only keeps latencies when logPath is
// empty.
func NewJournal(logPath string, next transaction.Notifier) (*Journal, error) {
	j := &Journal{
		next:    next,
		now:     time.Now,
		done:    make(chan struct{}),
		started: make(map[string]time.Time),
	}
	if logPath == "" {
		return j, nil
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create log file %s", logPath)
	}
	j.lines = make(chan string, journalCapacity)
	j.wg.Add(1)
	go j.print(f)
	return j, nil
}

func (j *Journal) print(f *os.File) {
	defer j.wg.Done()
	defer f.Close()
	for {
		select {
		case line := <-j.lines:
			f.WriteString(line + "\n")
		case <-j.done:
			for len(j.lines) > 0 {
				f.WriteString(<-j.lines + "\n")
			}
			return
		}
	}
}

func (j *Journal) log(format string, args ...interface{}) {
	if j.lines == nil {
		return
	}
	select {
	case j.lines <- fmt.Sprintf(format, args...):
	case <-j.done:
	}
}

func (j *Journal) Loading(tx *transaction.Transaction) {
	t := j.now()
	j.mu.Lock()
	j.started[tx.ID] = t
	j.mu.Unlock()
	j.log("%-10s %d %s %q", "Sending", t.UnixNano(), tx.ID, tx.Name)
	if j.next != nil {
		j.next.Loading(tx)
	}
}

func (j *Journal) Success(tx *transaction.Transaction) {
	t := j.now()
	j.keep(tx.ID, t)
	j.log("%-10s %d %s %s", "Sent", t.UnixNano(), tx.ID, tx.Hash)
	if j.next != nil {
		j.next.Success(tx)
	}
}

func (j *Journal) Failure(tx *transaction.Transaction, err error) {
	t := j.now()
	j.keep(tx.ID, t)
	j.log("%-10s %d %s %v", "Failed", t.UnixNano(), tx.ID, err)
	if j.next != nil {
		j.next.Failure(tx, err)
	}
}

func (j *Journal) keep(id string, settled time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	start, ok := j.started[id]
	if !ok {
		return
	}
	delete(j.started, id)
	j.latencies = append(j.latencies, settled.Sub(start))
	j.sorted = nil
}

// AverageLatency of settled sends, zero when none settled.
func (j *Journal) AverageLatency() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range j.latencies {
		total += l
	}
	return total / time.Duration(len(j.latencies))
}

// LatencyOfPercentile returns the p-th percentile send latency.
func (j *Journal) LatencyOfPercentile(p int) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := len(j.latencies)
	if n == 0 {
		return 0
	}
	if j.sorted == nil {
		j.sorted = append([]time.Duration(nil), j.latencies...)
		sort.Slice(j.sorted, func(a, b int) bool { return j.sorted[a] < j.sorted[b] })
	}

	index := int(float64(p) / 100.0 * float64(n))
	if index < 0 {
		index = 0
	} else if index >= n {
		index = n - 1
	}
	return j.sorted[index]
}

// Close flushes pending lines and closes the file.
func (j *Journal) Close() {
	j.closeOnce.Do(func() { close(j.done) })
	j.wg.Wait()
}
