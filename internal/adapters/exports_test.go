package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Napageneral/memsync/internal/testutil"
)

func TestGenericImport(t *testing.T) {
	st := testutil.OpenTestStore(t)
	ctx := context.Background()
	path := writeFile(t, "messages.json", `[{"content":"hi","sender":"a","recipient":"b","timestamp":"2024-01-01T00:00:00Z"}]`)
	a := NewGenericAdapter(quiet)

	res, err := a.Import(ctx, st, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	res, err = a.Import(ctx, st, path)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)

	msgs := messagesFor(t, st, "import")
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Sender)
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Equal(msgs[0].Timestamp))
}

func TestGenericAlternateFieldsAndDefaults(t *testing.T) {
	st := testutil.OpenTestStore(t)
	path := writeFile(t, "messages.json", `[
		{"message":"from message","from":"x","to":"y","date":1704067200,"metadata":{"thread":"t1"}},
		{"text":"only text"},
		{},
		"not an object"
	]`)

	res, err := NewGenericAdapter(quiet).Import(context.Background(), st, path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 4, res.Total)

	byContent := map[string]bool{}
	for _, m := range messagesFor(t, st, "import") {
		byContent[m.Content] = true
		switch m.Content {
		case "from message":
			assert.Equal(t, "x", m.Sender)
			assert.Equal(t, "y", m.Recipient)
			assert.Equal(t, "t1", m.Metadata["thread"])
			assert.True(t, time.Unix(1704067200, 0).Equal(m.Timestamp))
		case "only text", "":
			assert.Equal(t, "unknown", m.Sender)
			assert.Equal(t, "unknown", m.Recipient)
		}
	}
	assert.True(t, byContent[""])
}

func TestGenericRejectsInvalidJSON(t *testing.T) {
	st := testutil.OpenTestStore(t)
	_, err := NewGenericAdapter(quiet).Import(context.Background(), st, writeFile(t, "bad.json", `{not json`))
	assert.Error(t, err)

	res, err := NewGenericAdapter(quiet).Import(context.Background(), st, writeFile(t, "obj.json", `{"content":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
}

const openAIExport = `[{
	"id": "conv-1",
	"title": "Trip planning",
	"create_time": 1704067200.5,
	"mapping": {
		"root": {"id": "root", "message": null, "children": ["n2"]},
		"n3": {"id": "n3", "message": {"id": "m3", "author": {"role": "assistant"}, "create_time": 1704067260, "content": {"content_type": "text", "parts": ["Try Lisbon.", {"asset": "img"}]}, "metadata": {"model_slug": "gpt-4o"}}},
		"n2": {"id": "n2", "message": {"id": "m2", "author": {"role": "user"}, "create_time": 1704067230, "content": {"content_type": "text", "parts": ["Where should I go?"]}}},
		"n4": {"id": "n4", "message": {"id": "m4", "author": {"role": "system"}, "create_time": 1704067201, "content": {"content_type": "text", "parts": [""]}}}
	}
}]`

func TestOpenAIExportImport(t *testing.T) {
	st := testutil.OpenTestStore(t)
	ctx := context.Background()
	path := writeFile(t, "conversations.json", openAIExport)
	a := NewOpenAIExportAdapter(quiet)

	res, err := a.Import(ctx, st, path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Conversations)
	assert.Equal(t, 1, res.Skipped)

	msgs := oldestFirst(messagesFor(t, st, "openai"))
	require.Len(t, msgs, 2)
	assert.Equal(t, "Where should I go?", msgs[0].Content)
	assert.Equal(t, "user", msgs[0].Sender)
	assert.Equal(t, "assistant", msgs[0].Recipient)
	assert.Equal(t, "Try Lisbon.", msgs[1].Content)
	assert.Equal(t, "assistant", msgs[1].Sender)
	assert.Equal(t, "user", msgs[1].Recipient)
	assert.Equal(t, "gpt-4o", msgs[1].Metadata["model"])
	assert.Equal(t, "Trip planning", msgs[1].Metadata["conversationTitle"])
	assert.Equal(t, "conv-1", msgs[1].Metadata["conversationId"])

	res, err = a.Import(ctx, st, path)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
}

func TestOpenAIExportSingleConversationObject(t *testing.T) {
	st := testutil.OpenTestStore(t)
	path := writeFile(t, "one.json", `{"id":"c","mapping":{"a":{"message":{"author":{"role":"user"},"content":{"parts":["solo"]}}}}}`)

	res, err := NewOpenAIExportAdapter(quiet).Import(context.Background(), st, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Conversations)
}

const anthropicExport = `[{
	"uuid": "c-1",
	"name": "Recipes",
	"chat_messages": [
		{"uuid": "m1", "sender": "human", "text": "How do I make bread?", "created_at": "2024-05-01T10:00:00Z"},
		{"uuid": "m2", "sender": "assistant", "content": [{"type": "text", "text": "Flour,"}, {"type": "text", "text": "water."}], "created_at": "2024-05-01T10:00:05Z"},
		{"uuid": "m3", "sender": "assistant", "content": [], "text": ""}
	]
}, {
	"id": "c-2",
	"messages": [
		{"role": "user", "content": "plain string", "timestamp": "2024-05-02T00:00:00Z"}
	]
}]`

func TestAnthropicExportImport(t *testing.T) {
	st := testutil.OpenTestStore(t)
	path := writeFile(t, "conversations.json", anthropicExport)

	res, err := NewAnthropicExportAdapter(quiet).Import(context.Background(), st, path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 2, res.Conversations)
	assert.Equal(t, 1, res.Skipped)

	msgs := oldestFirst(messagesFor(t, st, "anthropic"))
	require.Len(t, msgs, 3)
	assert.Equal(t, "How do I make bread?", msgs[0].Content)
	assert.Equal(t, "user", msgs[0].Sender)
	assert.Equal(t, "assistant", msgs[0].Recipient)
	assert.Equal(t, "Recipes", msgs[0].Metadata["conversationTitle"])
	assert.Equal(t, "c-1", msgs[0].Metadata["conversationId"])

	assert.Equal(t, "Flour,\nwater.", msgs[1].Content)
	assert.Equal(t, "assistant", msgs[1].Sender)

	assert.Equal(t, "plain string", msgs[2].Content)
	assert.Equal(t, "user", msgs[2].Sender)
	assert.Equal(t, "c-2", msgs[2].Metadata["conversationId"])
}
