// Package dedup separates new statement transactions from ones already
// imported for the same account.
package dedup

import (
	"time"

	"github.com/cleared-dev/concilia/internal/model"
)

// Key identifies a transaction across imports.
type Key struct {
	AccountID  string
	ExternalID string
}

// WindowStart returns the earliest posted date in txs minus lookbackDays.
// Already-imported ids older than this are not considered. It returns the
// zero time when txs is empty.
func WindowStart(txs []model.NormalizedTransaction, lookbackDays int) time.Time {
	var earliest time.Time
	for i, tx := range txs {
		if i == 0 || tx.PostedDate.Before(earliest) {
			earliest = tx.PostedDate
		}
	}
	if earliest.IsZero() {
		return earliest
	}
	return earliest.AddDate(0, 0, -lookbackDays)
}

// Partition splits txs into fresh and duplicate transactions for accountID.
// seen holds the external ids already imported within the lookback window.
// Within the batch the first occurrence of an id wins. Transactions without
// an external id are always fresh, and when ignoreDuplicates is false every
// transaction is. Input order is kept in both outputs.
func Partition(accountID string, txs []model.NormalizedTransaction, seen map[string]struct{}, ignoreDuplicates bool) (fresh, dups []model.NormalizedTransaction) {
	if !ignoreDuplicates {
		return append([]model.NormalizedTransaction(nil), txs...), nil
	}

	batch := make(map[Key]struct{}, len(txs))
	for _, tx := range txs {
		if tx.ExternalID == "" {
			fresh = append(fresh, tx)
			continue
		}
		k := Key{AccountID: accountID, ExternalID: tx.ExternalID}
		if _, ok := seen[tx.ExternalID]; ok {
			dups = append(dups, tx)
			continue
		}
		if _, ok := batch[k]; ok {
			dups = append(dups, tx)
			continue
		}
		batch[k] = struct{}{}
		fresh = append(fresh, tx)
	}
	return fresh, dups
}
