package adapters

import (
	"context"
	"time"

	"github.com/Napageneral/memsync/internal/ingest"
	"github.com/Napageneral/memsync/internal/normalize"
	"github.com/Napageneral/memsync/internal/store"
)

// AnthropicExportAdapter imports conversations from a Claude data export.
type AnthropicExportAdapter struct {
	Logf Logf
}

func NewAnthropicExportAdapter(logf Logf) *AnthropicExportAdapter {
	return &AnthropicExportAdapter{Logf: orDefault(logf)}
}

func (a *AnthropicExportAdapter) Name() string {
	return "anthropic-export"
}

func (a *AnthropicExportAdapter) Import(ctx context.Context, st *store.Store, path string) (Result, error) {
	data, err := readJSONFile(path)
	if err != nil {
		return Result{}, err
	}
	return a.ImportValue(ctx, st, data)
}

func (a *AnthropicExportAdapter) ImportValue(ctx context.Context, st *store.Store, data any) (Result, error) {
	start := time.Now()
	result := Result{}
	logf := orDefault(a.Logf)
	sink := ingest.NewSink(st, "anthropic", logf)

	for _, convo := range conversationList(data) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Conversations++

		messages := asSlice(convo["messages"])
		if messages == nil {
			messages = asSlice(convo["chat_messages"])
		}
		convoID := normalize.FirstString(convo, "id", "uuid")
		title := normalize.FirstString(convo, "name", "title")

		for _, raw := range messages {
			msg := asMap(raw)
			if msg == nil {
				result.Skipped++
				skip("anthropic", "malformed")
				continue
			}
			content := exportMessageText(msg)
			if content == "" {
				result.Skipped++
				skip("anthropic", "empty")
				continue
			}
			result.Total++

			sender, recipient := pairFor(isHumanRole(msg), "assistant")
			sink.Put(ctx, ingest.Candidate{
				Content:   content,
				Sender:    sender,
				Recipient: recipient,
				Timestamp: normalize.TimeOrNow(msg["created_at"], msg["timestamp"]),
				Metadata: compact(map[string]any{
					"conversationId":    convoID,
					"conversationTitle": title,
					"model":             msg["model"],
				}),
			})
		}
	}

	finish(&result, sink, start)
	logf("[anthropic] Done: %d messages from %d conversations", result.Inserted, result.Conversations)
	return result, nil
}

// exportMessageText reads content as a string or block array, falling back
// to the flat text field.
func exportMessageText(msg map[string]any) string {
	switch c := msg["content"].(type) {
	case string:
		if c != "" {
			return c
		}
	case []any:
		if s := normalize.ExtractText(c); s != "" {
			return s
		}
	}
	s, _ := msg["text"].(string)
	return s
}

// isHumanRole accepts API-style "role" and export-style "sender".
func isHumanRole(msg map[string]any) bool {
	role := normalize.FirstString(msg, "role", "sender")
	return role == "user" || role == "human"
}
