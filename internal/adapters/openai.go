package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Napageneral/memsync/internal/config"
	"github.com/Napageneral/memsync/internal/ingest"
	"github.com/Napageneral/memsync/internal/normalize"
	"github.com/Napageneral/memsync/internal/restclient"
	"github.com/Napageneral/memsync/internal/store"
)

const openAIPageSize = 100

// OpenAIAdapter pulls ChatGPT conversation history. It lists through the
// public API and falls back to the ChatGPT backend when the API refuses.
type OpenAIAdapter struct {
	api     *restclient.Client
	backend *restclient.Client
	Logf    Logf
}

func NewOpenAIAdapter(cfg config.OpenAIConfig, rps float64, logf Logf) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" && cfg.SessionToken == "" {
		return nil, fmt.Errorf("openai: OPENAI_API_KEY not set: %w", ErrMissingCredential)
	}
	a := &OpenAIAdapter{Logf: orDefault(logf)}
	if cfg.APIKey != "" {
		a.api = restclient.New("openai", cfg.BaseURL, rps).
			WithHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	backendToken := cfg.SessionToken
	if backendToken == "" {
		backendToken = cfg.APIKey
	}
	a.backend = restclient.New("chatgpt", cfg.BackendURL, rps).
		WithHeader("Authorization", "Bearer "+backendToken)
	return a, nil
}

func (a *OpenAIAdapter) Name() string {
	return "openai"
}

type openAIConversationPage struct {
	Items []map[string]any `json:"items"`
	Data  []map[string]any `json:"data"`
}

func (p openAIConversationPage) conversations() []map[string]any {
	if len(p.Items) > 0 {
		return p.Items
	}
	return p.Data
}

func (a *OpenAIAdapter) Sync(ctx context.Context, st *store.Store) (Result, error) {
	start := time.Now()
	result := Result{}
	logf := orDefault(a.Logf)
	sink := ingest.NewSink(st, "openai", logf)
	logf("[openai] Starting sync...")

	client := a.api
	if client == nil {
		client = a.backend
	}

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		params := url.Values{
			"offset": {strconv.Itoa(offset)},
			"limit":  {strconv.Itoa(openAIPageSize)},
		}
		var page openAIConversationPage
		err := client.GetJSON(ctx, "/conversations", params, &page)
		if err != nil && client == a.api {
			logf("[openai] Conversations API not available, trying the ChatGPT backend: %v", err)
			client = a.backend
			page = openAIConversationPage{}
			err = client.GetJSON(ctx, "/conversations", params, &page)
		}
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logf("[openai] Conversation listing unavailable: %v", err)
			break
		}

		conversations := page.conversations()
		if len(conversations) == 0 {
			break
		}
		for _, convo := range conversations {
			result.Conversations++
			if err := a.syncConversation(ctx, client, sink, convo, &result); err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.FailedItems++
				logf("[openai] Error fetching convo %v: %v", convo["id"], err)
			}
		}

		offset += len(conversations)
		if len(conversations) < openAIPageSize {
			break
		}
	}

	finish(&result, sink, start)
	logf("[openai] Done: %d messages from %d conversations", result.Inserted, result.Conversations)
	return result, nil
}

func (a *OpenAIAdapter) syncConversation(ctx context.Context, client *restclient.Client, sink *ingest.Sink, convo map[string]any, result *Result) error {
	id := normalize.FirstString(convo, "id")
	if id == "" {
		return fmt.Errorf("conversation without id")
	}
	var detail struct {
		Mapping map[string]any `json:"mapping"`
	}
	if err := client.GetJSON(ctx, "/conversations/"+url.PathEscape(id), nil, &detail); err != nil {
		return err
	}

	for _, msg := range mappingMessages(detail.Mapping) {
		content := normalize.StringParts(asSlice(asMap(msg["content"])["parts"]))
		if content == "" {
			result.Skipped++
			skip("openai", "empty")
			continue
		}
		result.Total++

		role := normalize.FirstString(asMap(msg["author"]), "role")
		if role == "" {
			role = "unknown"
		}
		sender, recipient := pairFor(role == "user", "chatgpt")
		sink.Put(ctx, ingest.Candidate{
			Content:   content,
			Sender:    sender,
			Recipient: recipient,
			Timestamp: normalize.TimeOrNow(msg["create_time"], convo["create_time"]),
			Metadata: compact(map[string]any{
				"conversationId":    id,
				"conversationTitle": convo["title"],
				"model":             asMap(msg["metadata"])["model_slug"],
				"role":              role,
				"messageId":         msg["id"],
			}),
		})
	}
	return nil
}
