package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/Napageneral/memsync/internal/config"
	"github.com/Napageneral/memsync/internal/ingest"
	"github.com/Napageneral/memsync/internal/normalize"
	"github.com/Napageneral/memsync/internal/restclient"
	"github.com/Napageneral/memsync/internal/store"
)

const (
	anthropicPageSize    = 100
	anthropicMessageList = 1000
)

// AnthropicAdapter pulls Claude conversation history.
type AnthropicAdapter struct {
	client *restclient.Client
	Logf   Logf
}

func NewAnthropicAdapter(cfg config.AnthropicConfig, rps float64, logf Logf) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: ANTHROPIC_API_KEY not set: %w", ErrMissingCredential)
	}
	client := restclient.New("anthropic", cfg.BaseURL, rps).
		WithHeader("x-api-key", cfg.APIKey).
		WithHeader("anthropic-version", cfg.Version)
	return &AnthropicAdapter{client: client, Logf: orDefault(logf)}, nil
}

func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

type anthropicConversationPage struct {
	Data          []map[string]any `json:"data"`
	Conversations []map[string]any `json:"conversations"`
	HasMore       bool             `json:"has_more"`
}

type anthropicMessagePage struct {
	Data     []map[string]any `json:"data"`
	Messages []map[string]any `json:"messages"`
}

func (a *AnthropicAdapter) Sync(ctx context.Context, st *store.Store) (Result, error) {
	start := time.Now()
	result := Result{}
	logf := orDefault(a.Logf)
	sink := ingest.NewSink(st, "anthropic", logf)
	logf("[anthropic] Starting sync...")

	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		params := url.Values{"limit": {fmt.Sprint(anthropicPageSize)}}
		if afterID != "" {
			params.Set("after_id", afterID)
		}
		var page anthropicConversationPage
		if err := a.client.GetJSON(ctx, "/conversations", params, &page); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logf("[anthropic] Conversations API not available: %v", err)
			break
		}

		conversations := page.Data
		if len(conversations) == 0 {
			conversations = page.Conversations
		}
		if len(conversations) == 0 {
			break
		}
		for _, convo := range conversations {
			result.Conversations++
			if err := a.syncConversation(ctx, sink, convo, &result); err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.FailedItems++
				logf("[anthropic] Error fetching convo %s: %v", normalize.FirstString(convo, "id", "uuid"), err)
			}
		}

		if !page.HasMore {
			break
		}
		afterID = normalize.FirstString(conversations[len(conversations)-1], "id", "uuid")
		if afterID == "" {
			break
		}
	}

	finish(&result, sink, start)
	logf("[anthropic] Done: %d messages from %d conversations", result.Inserted, result.Conversations)
	return result, nil
}

func (a *AnthropicAdapter) syncConversation(ctx context.Context, sink *ingest.Sink, convo map[string]any, result *Result) error {
	id := normalize.FirstString(convo, "id", "uuid")
	if id == "" {
		return fmt.Errorf("conversation without id")
	}
	var page anthropicMessagePage
	params := url.Values{"limit": {fmt.Sprint(anthropicMessageList)}}
	if err := a.client.GetJSON(ctx, "/conversations/"+url.PathEscape(id)+"/messages", params, &page); err != nil {
		return err
	}
	messages := page.Data
	if len(messages) == 0 {
		messages = page.Messages
	}

	title := normalize.FirstString(convo, "name", "title")
	for _, msg := range messages {
		content := liveAnthropicText(msg["content"])
		if content == "" {
			result.Skipped++
			skip("anthropic", "empty")
			continue
		}
		result.Total++

		role, _ := msg["role"].(string)
		sender, recipient := pairFor(role == "user", "claude")
		sink.Put(ctx, ingest.Candidate{
			Content:   content,
			Sender:    sender,
			Recipient: recipient,
			Timestamp: normalize.TimeOrNow(msg["created_at"], msg["timestamp"]),
			Metadata: compact(map[string]any{
				"conversationId":    id,
				"conversationTitle": title,
				"model":             msg["model"],
				"role":              msg["role"],
				"messageId":         msg["id"],
			}),
		})
	}
	return nil
}

// liveAnthropicText flattens API message content. Shapes other than a
// string or block array are kept as their JSON encoding.
func liveAnthropicText(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		return normalize.ExtractText(c)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
