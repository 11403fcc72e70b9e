package adapters

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Napageneral/memsync/internal/store"
)

func quiet(string, ...any) {}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func messagesFor(t *testing.T, st *store.Store, source string) []store.StoredMessage {
	t.Helper()
	msgs, err := st.SearchMessages(context.Background(), store.MessageFilter{Source: source, Limit: 1000})
	require.NoError(t, err)
	return msgs
}

// oldestFirst reverses SearchMessages' newest-first order.
func oldestFirst(msgs []store.StoredMessage) []store.StoredMessage {
	out := make([]store.StoredMessage, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
