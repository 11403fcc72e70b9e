package adapters

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Napageneral/memsync/internal/testutil"
)

const whatsappExport = "[1/15/26, 3:45:12 PM] John Doe: Hello there\n" +
	"second line\n" +
	"\n" +
	"[1/15/26, 3:46:00 PM] Jane: <Media omitted>\n" +
	"a stray line after media\n" +
	"1/15/26, 3:48 PM - Jane: dash style\n" +
	"15/01/2026, 15:49 - Jane: day first\n" +
	"[1/15/26, 3:50:00 PM] Jane: Messages and calls are end-to-end encrypted. No one outside of this chat can read them.\n" +
	"\u200e[1/15/26, 3:51:30\u202fPM] John Doe: narrow space\n"

func TestWhatsAppImport(t *testing.T) {
	st := testutil.OpenTestStore(t)
	ctx := context.Background()
	a := NewWhatsAppAdapter("Family", quiet)

	res, err := a.ImportReader(ctx, st, strings.NewReader(whatsappExport))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Inserted)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 10, res.Lines)

	msgs := oldestFirst(messagesFor(t, st, "whatsapp"))
	require.Len(t, msgs, 4)

	assert.Equal(t, "John Doe", msgs[0].Sender)
	assert.Equal(t, "Family", msgs[0].Recipient)
	assert.Equal(t, "Hello there\nsecond line", msgs[0].Content)
	assert.True(t, time.Date(2026, 1, 15, 15, 45, 12, 0, time.UTC).Equal(msgs[0].Timestamp))
	assert.Equal(t, "Family", msgs[0].Metadata["chat"])

	assert.Equal(t, "dash style", msgs[1].Content)
	assert.True(t, time.Date(2026, 1, 15, 15, 48, 0, 0, time.UTC).Equal(msgs[1].Timestamp))

	assert.Equal(t, "day first", msgs[2].Content)
	assert.True(t, time.Date(2026, 1, 15, 15, 49, 0, 0, time.UTC).Equal(msgs[2].Timestamp))

	assert.Equal(t, "narrow space", msgs[3].Content)
	assert.True(t, time.Date(2026, 1, 15, 15, 51, 30, 0, time.UTC).Equal(msgs[3].Timestamp))

	for _, m := range msgs {
		assert.NotContains(t, m.Content, "Media omitted")
		assert.NotContains(t, m.Content, "stray line")
	}

	again, err := a.ImportReader(ctx, st, strings.NewReader(whatsappExport))
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)
	assert.Equal(t, 4, again.Duplicates)
	assert.Equal(t, res.Total, again.Total)
	assert.Equal(t, res.Skipped, again.Skipped)
}

func TestWhatsAppLastMessageIsFlushed(t *testing.T) {
	st := testutil.OpenTestStore(t)
	a := NewWhatsAppAdapter("", quiet)

	res, err := a.ImportReader(context.Background(), st, strings.NewReader("[1/15/26, 3:45:12 PM] John Doe: only one\nand its tail"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Lines)

	msgs := messagesFor(t, st, "whatsapp")
	require.Len(t, msgs, 1)
	assert.Equal(t, "only one\nand its tail", msgs[0].Content)
	assert.Equal(t, "unknown", msgs[0].Recipient)
	assert.Empty(t, msgs[0].Metadata)
}

func TestWhatsAppImportFile(t *testing.T) {
	st := testutil.OpenTestStore(t)
	path := writeFile(t, "chat.txt", "[1/15/26, 3:45:12 PM] John Doe: Hello there\r\n[1/15/26, 3:46:12 PM] Jane: hi\r\n")

	res, err := NewWhatsAppAdapter("Chat", quiet).Import(context.Background(), st, path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	msgs := oldestFirst(messagesFor(t, st, "whatsapp"))
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello there", msgs[0].Content)
}

func TestParseWhatsAppDate(t *testing.T) {
	tests := []struct {
		in       string
		dayFirst bool
		want     time.Time
		ok       bool
	}{
		{"1/15/26, 3:45:12 PM", false, time.Date(2026, 1, 15, 15, 45, 12, 0, time.UTC), true},
		{"12/31/99, 12:00 AM", false, time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC), true},
		{"3/4/2024, 12:30 PM", false, time.Date(2024, 3, 4, 12, 30, 0, 0, time.UTC), true},
		{"3/4/2024, 09:05", true, time.Date(2024, 4, 3, 9, 5, 0, 0, time.UTC), true},
		{"25/12/24, 18:00", true, time.Date(2024, 12, 25, 18, 0, 0, 0, time.UTC), true},
		{"12/25/24, 18:00", true, time.Date(2024, 12, 25, 18, 0, 0, 0, time.UTC), true},
		{"31/31/24, 18:00", true, time.Time{}, false},
		{"2/30/24, 1:00 PM", false, time.Time{}, false},
		{"1/15/26, 25:00", true, time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := parseWhatsAppDate(tt.in, tt.dayFirst, time.UTC)
		if ok != tt.ok {
			t.Fatalf("%q: ok=%v want %v", tt.in, ok, tt.ok)
		}
		if ok && !got.Equal(tt.want) {
			t.Fatalf("%q: got %s want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseWhatsAppDateLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	got, ok := parseWhatsAppDate("1/15/26, 3:45:12 PM", false, loc)
	require.True(t, ok)
	assert.True(t, time.Date(2026, 1, 15, 13, 45, 12, 0, time.UTC).Equal(got))
}
