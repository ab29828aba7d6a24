package transaction

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type HistoryType string

const (
	HistoryCreated HistoryType = "CREATED"
	HistorySign    HistoryType = "SIGN"
	HistoryDecline HistoryType = "DECLINE"
	HistoryCancel  HistoryType = "CANCEL"
	HistorySend    HistoryType = "SEND"
	HistoryFailed  HistoryType = "FAILED"
)

var (
	ErrHistoryClosed = errors.New("history already terminated")
	ErrHistoryOrder  = errors.New("history step older than the latest step")
)

type HistoryStep struct {
	Type  HistoryType `json:"type"`
	Owner string      `json:"owner"`
	Date  time.Time   `json:"date"`
}

// History is the append-only log of a transaction.
type History []HistoryStep

// Latest returns the most recent step.
func (h History) Latest() (HistoryStep, bool) {
	if len(h) == 0 {
		return HistoryStep{}, false
	}
	return h[len(h)-1], true
}

// Append returns h with step added. Steps must not go back in time. Once a
// SEND or CANCEL is recorded only a DECLINE may follow, and nothing follows
// that DECLINE. A FAILED step stays open so a retry can append its outcome.
func (h History) Append(step HistoryStep) (History, error) {
	if last, ok := h.Latest(); ok && step.Date.Before(last.Date) {
		return h, errors.Wrapf(ErrHistoryOrder, "%s at %s", step.Type, step.Date.Format(time.RFC3339Nano))
	}

	closedAt := -1
	for i, s := range h {
		if s.Type == HistorySend || s.Type == HistoryCancel {
			closedAt = i
			break
		}
	}
	if closedAt >= 0 {
		if step.Type != HistoryDecline {
			return h, errors.Wrapf(ErrHistoryClosed, "cannot append %s", step.Type)
		}
		for _, s := range h[closedAt+1:] {
			if s.Type == HistoryDecline {
				return h, errors.Wrapf(ErrHistoryClosed, "cannot append %s", step.Type)
			}
		}
	}

	return append(h, step), nil
}

// Describe renders a step the way the history stepper labels it. Nicknames
// come from the workspace address book.
func Describe(step HistoryStep, account string, nicknames map[string]string) string {
	mine := sameAccount(step.Owner, account)
	var label string
	switch step.Type {
	case HistoryCreated:
		label = pick(mine, "You created", "Created")
	case HistorySend:
		label = "Execution"
	case HistorySign:
		label = pick(mine, "You signed", "Signed")
	case HistoryDecline:
		label = pick(mine, "You declined", "Declined")
	case HistoryCancel:
		label = "Canceled"
	case HistoryFailed:
		label = "Failed"
	default:
		label = string(step.Type)
	}

	if nick, ok := nicknames[step.Owner]; ok && nick != "" && !mine {
		return fmt.Sprintf("%s %s", nick, label)
	}
	return label
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
