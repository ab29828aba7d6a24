package transaction

// DisplayStatus is how a transaction is presented in lists and filters.
type DisplayStatus string

const (
	DisplayCompleted        DisplayStatus = "COMPLETED"
	DisplayDeclined         DisplayStatus = "DECLINED"
	DisplayPendingForMe     DisplayStatus = "PENDING_FOR_ME"
	DisplayPendingForOthers DisplayStatus = "PENDING_FOR_OTHERS"
	DisplayFailed           DisplayStatus = "FAILED"
	DisplayCancelled        DisplayStatus = "CANCELLED"
)

// Classify derives the display status of tx as seen by account. The first
// matching rule wins. It never modifies tx.
func Classify(tx *Transaction, account string) DisplayStatus {
	if tx.Status == StatusDone {
		return DisplayCompleted
	}

	if last, ok := tx.History.Latest(); ok {
		switch last.Type {
		case HistoryFailed:
			return DisplayFailed
		case HistoryCancel:
			return DisplayCancelled
		case HistoryDecline:
			return DisplayDeclined
		}
	}

	for _, w := range tx.Witnesses {
		if !w.Signed && sameAccount(w.Account, account) {
			return DisplayPendingForMe
		}
	}
	return DisplayPendingForOthers
}

// Filter keeps the transactions whose display status is one of want, in the
// original order. No statuses means no filtering.
func Filter(txs []*Transaction, account string, want ...DisplayStatus) []*Transaction {
	if len(want) == 0 {
		return append([]*Transaction(nil), txs...)
	}
	keep := make(map[DisplayStatus]bool, len(want))
	for _, s := range want {
		keep[s] = true
	}

	var res []*Transaction
	for _, tx := range txs {
		if keep[Classify(tx, account)] {
			res = append(res, tx)
		}
	}
	return res
}

// Counts tallies display statuses, e.g. for the pending badge.
func Counts(txs []*Transaction, account string) map[DisplayStatus]int {
	res := make(map[DisplayStatus]int)
	for _, tx := range txs {
		res[Classify(tx, account)]++
	}
	return res
}
