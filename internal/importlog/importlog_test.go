package importlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/concilia/internal/model"
)

var testTime = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

func testEntry() Entry {
	return Entry{
		Timestamp:      testTime,
		BatchID:        "5f0c7c1e-0000-4000-8000-000000000001",
		AccountID:      "itau-cc",
		File:           "import/extrato-jan.ofx",
		Parsed:         6,
		Duplicates:     1,
		AutoClassified: 2,
		Suggested:      1,
		Unmatched:      1,
		Rejected:       1,
	}
}

func TestAppend_CreatesFileAndDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "imports.csv")
	require.NoError(t, Append(path, []Entry{testEntry()}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), Header+"\n"))

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testEntry(), entries[0])
}

func TestAppend_ExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imports.csv")
	require.NoError(t, Append(path, []Entry{testEntry()}))

	e2 := testEntry()
	e2.AccountID = "itau-pp"
	require.NoError(t, Append(path, []Entry{e2}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "timestamp,"))

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "itau-cc", entries[0].AccountID)
	assert.Equal(t, "itau-pp", entries[1].AccountID)
}

func TestRead_Missing(t *testing.T) {
	entries, err := Read(filepath.Join(t.TempDir(), "none.csv"))
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestUnmarshalEntry_Errors(t *testing.T) {
	_, err := UnmarshalEntry([]string{"a"})
	assert.ErrorContains(t, err, "expected 10 fields")

	row := MarshalEntry(testEntry())
	row[colTimestamp] = "yesterday"
	_, err = UnmarshalEntry(row)
	assert.ErrorContains(t, err, "parsing timestamp")

	row = MarshalEntry(testEntry())
	row[colSuggested] = "two"
	_, err = UnmarshalEntry(row)
	assert.ErrorContains(t, err, "parsing count")
}

func TestFromOutcome(t *testing.T) {
	o := &model.ImportBatchOutcome{
		BatchID: "b1", AccountID: "itau-cc", StartedAt: testTime,
		Parsed: 4, Duplicates: 1, AutoClassified: 1, Suggested: 1, Unmatched: 1,
	}
	e := FromOutcome(o, "extrato.ofx")
	assert.Equal(t, "b1", e.BatchID)
	assert.Equal(t, "extrato.ofx", e.File)
	assert.Equal(t, 4, e.Parsed)
	assert.Equal(t, 1, e.Duplicates)
	assert.Equal(t, 0, e.Rejected)
}
