package relay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal(t *testing.T) {
	ctx := context.Background()
	j, err := OpenJournal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	seq, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	for i, name := range []string{"doc:create", "doc:update", "doc:delete"} {
		entry, err := j.Append(ctx, name, []byte(`{"id":"page-1"}`), "user-1")
		require.NoError(t, err)
		assert.EqualValues(t, i+1, entry.Seq)
	}

	entries, err := j.Since(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "doc:update", entries[0].Name)
	assert.Equal(t, "doc:delete", entries[1].Name)
	assert.JSONEq(t, `{"id":"page-1"}`, string(entries[0].Payload))

	limited, err := j.Since(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.EqualValues(t, 1, limited[0].Seq)

	seq, err = j.LastSeq(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, seq)
}

func TestJournalPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := OpenJournal(path)
	require.NoError(t, err)
	_, err = j.Append(ctx, "doc:create", []byte(`{}`), "user-1")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = OpenJournal(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	seq, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, seq)
}
