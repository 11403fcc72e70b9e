package adapters

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Napageneral/memsync/internal/testutil"
)

func writeChatDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE handle (ROWID INTEGER PRIMARY KEY, id TEXT, service TEXT);
		CREATE TABLE message (
			ROWID INTEGER PRIMARY KEY,
			text TEXT,
			date INTEGER,
			is_from_me INTEGER,
			associated_message_type INTEGER,
			handle_id INTEGER
		);
		INSERT INTO handle (ROWID, id, service) VALUES (1, '+15550001', 'iMessage');
		INSERT INTO message (ROWID, text, date, is_from_me, associated_message_type, handle_id) VALUES
			(7, 'lost date', NULL, 0, 0, 1),
			(1, 'hello', 700000000000000000, 0, 0, 1),
			(2, 'Loved "hello"', 700000001000000000, 1, 2000, 1),
			(3, 'hi back', 700000002000000000, 1, NULL, 1),
			(4, '', 700000003000000000, 0, 0, 1),
			(5, NULL, 700000004000000000, 0, 0, 1),
			(6, 'who is this', 700000005, 0, 0, 99);
	`)
	require.NoError(t, err)
	return path
}

func TestIMessageImport(t *testing.T) {
	st := testutil.OpenTestStore(t)
	ctx := context.Background()
	path := writeChatDB(t)
	a := NewIMessageAdapter(quiet)

	res, err := a.Import(ctx, st, path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 2, res.Skipped, "reaction and the row without a date")
	assert.Equal(t, 5, res.Total)

	msgs := oldestFirst(messagesFor(t, st, "imessage"))
	require.Len(t, msgs, 3)

	epoch := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "+15550001", msgs[0].Sender)
	assert.Equal(t, "me", msgs[0].Recipient)
	assert.Equal(t, "iMessage", msgs[0].Metadata["service"])
	assert.EqualValues(t, 1, msgs[0].Metadata["rowid"])
	assert.True(t, epoch.Add(700000000*time.Second).Equal(msgs[0].Timestamp))

	assert.Equal(t, "hi back", msgs[1].Content)
	assert.Equal(t, "me", msgs[1].Sender)
	assert.Equal(t, "+15550001", msgs[1].Recipient)

	// Seconds-scale date and a handle that no longer exists.
	assert.Equal(t, "who is this", msgs[2].Content)
	assert.Equal(t, "unknown", msgs[2].Sender)
	assert.Equal(t, "me", msgs[2].Recipient)
	assert.True(t, epoch.Add(700000005*time.Second).Equal(msgs[2].Timestamp))

	again, err := a.Import(ctx, st, path)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)
	assert.Equal(t, 3, again.Duplicates)
	assert.Equal(t, 2, again.Skipped)
	assert.Equal(t, 5, again.Total)
}

func TestIMessageNullDateDoesNotAbortImport(t *testing.T) {
	st := testutil.OpenTestStore(t)
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE handle (ROWID INTEGER PRIMARY KEY, id TEXT, service TEXT);
		CREATE TABLE message (ROWID INTEGER PRIMARY KEY, text TEXT, date INTEGER,
			is_from_me INTEGER, associated_message_type INTEGER, handle_id INTEGER);
		INSERT INTO message (ROWID, text, date, is_from_me, associated_message_type, handle_id) VALUES
			(1, 'a', 700000000, 0, 0, NULL),
			(2, 'b', NULL, NULL, 0, NULL),
			(3, 'c', 700000002, NULL, 0, NULL);
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	res, err := NewIMessageAdapter(quiet).Import(context.Background(), st, path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 3, res.Total)

	msgs := oldestFirst(messagesFor(t, st, "imessage"))
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, "c", msgs[1].Content)
	assert.Equal(t, "unknown", msgs[1].Sender)
}

func TestIMessageMissingFile(t *testing.T) {
	st := testutil.OpenTestStore(t)
	_, err := NewIMessageAdapter(quiet).Import(context.Background(), st, filepath.Join(t.TempDir(), "nope.db"))
	assert.Error(t, err)
}
