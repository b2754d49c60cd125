package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cleared-dev/concilia/internal/model"
)

func tx(id string, day int) model.NormalizedTransaction {
	return model.NormalizedTransaction{
		ExternalID: id,
		PostedDate: time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC),
	}
}

func ids(txs []model.NormalizedTransaction) []string {
	out := make([]string, len(txs))
	for i, x := range txs {
		out[i] = x.ExternalID
	}
	return out
}

func TestWindowStart(t *testing.T) {
	txs := []model.NormalizedTransaction{tx("a", 10), tx("b", 3), tx("c", 7)}
	got := WindowStart(txs, 90)
	assert.True(t, time.Date(2024, 10, 5, 0, 0, 0, 0, time.UTC).Equal(got), "got %s", got)

	assert.True(t, WindowStart(nil, 90).IsZero())
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name      string
		txs       []model.NormalizedTransaction
		seen      map[string]struct{}
		ignore    bool
		wantFresh []string
		wantDups  []string
	}{
		{
			name:      "seen ids are duplicates",
			txs:       []model.NormalizedTransaction{tx("a", 1), tx("b", 2), tx("c", 3)},
			seen:      map[string]struct{}{"b": {}},
			ignore:    true,
			wantFresh: []string{"a", "c"},
			wantDups:  []string{"b"},
		},
		{
			name:      "first occurrence in batch wins",
			txs:       []model.NormalizedTransaction{tx("a", 1), tx("a", 2), tx("b", 3), tx("a", 4)},
			ignore:    true,
			wantFresh: []string{"a", "b"},
			wantDups:  []string{"a", "a"},
		},
		{
			name:      "missing ids always fresh",
			txs:       []model.NormalizedTransaction{tx("", 1), tx("", 2)},
			seen:      map[string]struct{}{"": {}},
			ignore:    true,
			wantFresh: []string{"", ""},
			wantDups:  []string{},
		},
		{
			name:      "dedup disabled passes everything",
			txs:       []model.NormalizedTransaction{tx("a", 1), tx("a", 2)},
			seen:      map[string]struct{}{"a": {}},
			ignore:    false,
			wantFresh: []string{"a", "a"},
			wantDups:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fresh, dups := Partition("acct-1", tt.txs, tt.seen, tt.ignore)
			assert.Equal(t, tt.wantFresh, ids(fresh))
			assert.Equal(t, tt.wantDups, ids(dups))
		})
	}
}

func TestPartition_SecondPassAllDuplicates(t *testing.T) {
	txs := []model.NormalizedTransaction{tx("a", 1), tx("b", 2)}

	fresh, _ := Partition("acct-1", txs, nil, true)
	seen := make(map[string]struct{})
	for _, f := range fresh {
		seen[f.ExternalID] = struct{}{}
	}

	fresh, dups := Partition("acct-1", txs, seen, true)
	assert.Empty(t, fresh)
	assert.Len(t, dups, 2)
}
